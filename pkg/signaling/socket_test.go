package signaling

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harunnryd/vocalink/pkg/errorsx"
	"github.com/harunnryd/vocalink/pkg/logging"
	"github.com/pion/webrtc/v4"
)

// fakeSignalingServer upgrades one connection and hands it to script.
type fakeSignalingServer struct {
	srv      *httptest.Server
	mu       sync.Mutex
	received []Message
	query    string
}

func newFakeSignalingServer(t *testing.T, script func(t *testing.T, conn *websocket.Conn, s *fakeSignalingServer)) *fakeSignalingServer {
	t.Helper()
	f := &fakeSignalingServer{}
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.query = r.URL.RawQuery
		f.mu.Unlock()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		script(t, conn, f)
	}))
	return f
}

func (f *fakeSignalingServer) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/v1/realtime/ws?client_secret=ek_test"
}

// expect reads the next client message and checks its type.
func (f *fakeSignalingServer) expect(t *testing.T, conn *websocket.Conn, typ string) Message {
	t.Helper()
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Errorf("read %s: %v", typ, err)
		return msg
	}
	f.mu.Lock()
	f.received = append(f.received, msg)
	f.mu.Unlock()
	if msg.Type != typ {
		t.Errorf("expected %s, got %s", typ, msg.Type)
	}
	return msg
}

func (f *fakeSignalingServer) messages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.received...)
}

func strPtr(s string) *string { return &s }

func uint16Ptr(v uint16) *uint16 { return &v }

func TestSocketSignalerHandshake(t *testing.T) {
	holdOpen := make(chan struct{})
	f := newFakeSignalingServer(t, func(t *testing.T, conn *websocket.Conn, s *fakeSignalingServer) {
		s.expect(t, conn, TypePing)
		_ = conn.WriteJSON(Message{Type: TypePong})
		offer := s.expect(t, conn, TypeOffer)
		if offer.SDP != "v=0 offer" {
			t.Errorf("unexpected offer sdp %q", offer.SDP)
		}
		_ = conn.WriteJSON(Message{Type: TypeAnswer, SDP: "X"})
		s.expect(t, conn, TypeCandidate)
		<-holdOpen
	})
	defer f.srv.Close()
	defer close(holdOpen)

	sig := NewSocketSignaler(SocketConfig{URL: f.url(), Logger: logging.Discard()})
	defer sig.Close()
	sink := &recordingSink{}
	if err := sig.Negotiate(context.Background(), "v=0 offer", sink); err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	if sig.Stage() != StageAnswerApplied {
		t.Fatalf("expected answer_applied stage, got %s", sig.Stage())
	}
	sink.mu.Lock()
	answer := sink.answers[0]
	sink.mu.Unlock()
	if answer != "X" {
		t.Fatalf("unexpected answer %q", answer)
	}
	cand := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host", SDPMid: strPtr("0"), SDPMLineIndex: uint16Ptr(0)}
	if err := sig.SendCandidate(context.Background(), cand); err != nil {
		t.Fatalf("send candidate: %v", err)
	}
	waitFor(t, func() bool { return len(f.messages()) == 3 })
	got := f.messages()[2]
	if got.Candidate != cand.Candidate || got.SDPMid == nil || *got.SDPMid != "0" || got.SDPMLineIndex == nil || *got.SDPMLineIndex != 0 {
		t.Fatalf("unexpected candidate message %+v", got)
	}
	f.mu.Lock()
	query := f.query
	f.mu.Unlock()
	if !strings.Contains(query, "client_secret=ek_test") {
		t.Fatalf("expected credential query parameter, got %q", query)
	}
}

func TestSocketSignalerCandidatesBeforeAnswer(t *testing.T) {
	holdOpen := make(chan struct{})
	f := newFakeSignalingServer(t, func(t *testing.T, conn *websocket.Conn, s *fakeSignalingServer) {
		s.expect(t, conn, TypePing)
		_ = conn.WriteJSON(Message{Type: TypePong})
		s.expect(t, conn, TypeOffer)
		_ = conn.WriteJSON(Message{Type: TypeCandidate, Candidate: "c1", SDPMid: strPtr("0")})
		_ = conn.WriteJSON(Message{Type: TypeCandidate, Candidate: "c2", SDPMid: strPtr("0")})
		_ = conn.WriteJSON(Message{Type: TypeAnswer, SDP: "X"})
		<-holdOpen
	})
	defer f.srv.Close()
	defer close(holdOpen)

	sig := NewSocketSignaler(SocketConfig{URL: f.url(), Logger: logging.Discard()})
	defer sig.Close()
	sink := &recordingSink{}
	if err := sig.Negotiate(context.Background(), "v=0 offer", sink); err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	want := []string{"ready", "candidate:c1", "candidate:c2", "answer"}
	got := sink.snapshot()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected candidates handed over in arrival order %v, got %v", want, got)
	}
}

func TestSocketSignalerToleratesNoise(t *testing.T) {
	holdOpen := make(chan struct{})
	f := newFakeSignalingServer(t, func(t *testing.T, conn *websocket.Conn, s *fakeSignalingServer) {
		s.expect(t, conn, TypePing)
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{not json`))
		_ = conn.WriteJSON(Message{Type: "session.stats"})
		_ = conn.WriteJSON(Message{Type: TypeCandidate, Candidate: "early"})
		_ = conn.WriteJSON(Message{Type: TypePong})
		_ = conn.WriteJSON(Message{Type: TypePong})
		s.expect(t, conn, TypeOffer)
		_ = conn.WriteJSON(Message{Type: TypeCandidate, Candidate: "bad"})
		_ = conn.WriteJSON(Message{Type: TypeAnswer, SDP: "X"})
		<-holdOpen
	})
	defer f.srv.Close()
	defer close(holdOpen)

	sig := NewSocketSignaler(SocketConfig{URL: f.url(), Logger: logging.Discard()})
	defer sig.Close()
	sink := &recordingSink{}
	if err := sig.Negotiate(context.Background(), "v=0 offer", sink); err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	got := strings.Join(sink.snapshot(), ",")
	if got != "ready,candidate:early,candidate:bad,answer" {
		t.Fatalf("unexpected sink calls %s", got)
	}
	offers := 0
	for _, m := range f.messages() {
		if m.Type == TypeOffer {
			offers++
		}
	}
	if offers != 1 {
		t.Fatalf("expected a single offer despite duplicate pong, got %d", offers)
	}
}

func TestSocketSignalerServerError(t *testing.T) {
	f := newFakeSignalingServer(t, func(t *testing.T, conn *websocket.Conn, s *fakeSignalingServer) {
		s.expect(t, conn, TypePing)
		_ = conn.WriteJSON(Message{Type: TypePong})
		s.expect(t, conn, TypeOffer)
		_ = conn.WriteJSON(Message{Type: TypeError, Message: "model overloaded"})
		_, _, _ = conn.ReadMessage()
	})
	defer f.srv.Close()

	sig := NewSocketSignaler(SocketConfig{URL: f.url(), Logger: logging.Discard()})
	defer sig.Close()
	err := sig.Negotiate(context.Background(), "v=0 offer", &recordingSink{})
	if !errorsx.HasReason(err, errorsx.ReasonSignalingServer) {
		t.Fatalf("expected server error reason, got %v", err)
	}
	if !strings.Contains(err.Error(), "model overloaded") {
		t.Fatalf("expected server message in error, got %q", err.Error())
	}
}

func TestSocketSignalerAnswerBeforeOffer(t *testing.T) {
	f := newFakeSignalingServer(t, func(t *testing.T, conn *websocket.Conn, s *fakeSignalingServer) {
		s.expect(t, conn, TypePing)
		_ = conn.WriteJSON(Message{Type: TypeAnswer, SDP: "X"})
		_, _, _ = conn.ReadMessage()
	})
	defer f.srv.Close()

	sig := NewSocketSignaler(SocketConfig{URL: f.url(), Logger: logging.Discard()})
	defer sig.Close()
	sink := &recordingSink{}
	err := sig.Negotiate(context.Background(), "v=0 offer", sink)
	if !errorsx.HasReason(err, errorsx.ReasonSignalingProtocol) {
		t.Fatalf("expected protocol error, got %v", err)
	}
	if len(sink.snapshot()) != 1 {
		t.Fatalf("answer must not be applied before the offer was sent")
	}
}

func TestSocketSignalerReadFailure(t *testing.T) {
	f := newFakeSignalingServer(t, func(t *testing.T, conn *websocket.Conn, s *fakeSignalingServer) {
		s.expect(t, conn, TypePing)
	})
	defer f.srv.Close()

	sig := NewSocketSignaler(SocketConfig{URL: f.url(), Logger: logging.Discard()})
	defer sig.Close()
	err := sig.Negotiate(context.Background(), "v=0 offer", &recordingSink{})
	if !errorsx.HasReason(err, errorsx.ReasonSignalingSocket) {
		t.Fatalf("expected socket error, got %v", err)
	}
}

func TestSocketSignalerCloseDuringHandshake(t *testing.T) {
	release := make(chan struct{})
	f := newFakeSignalingServer(t, func(t *testing.T, conn *websocket.Conn, s *fakeSignalingServer) {
		s.expect(t, conn, TypePing)
		<-release
	})
	defer f.srv.Close()
	defer close(release)

	sig := NewSocketSignaler(SocketConfig{URL: f.url(), Logger: logging.Discard()})
	done := make(chan error, 1)
	go func() { done <- sig.Negotiate(context.Background(), "v=0 offer", &recordingSink{}) }()
	waitFor(t, func() bool { return sig.Stage() == StagePingSent })
	if err := sig.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	_ = sig.Close()
	err := <-done
	if !errorsx.HasReason(err, errorsx.ReasonNegotiationCancelled) {
		t.Fatalf("expected cancelled reason after close, got %v", err)
	}
	if err := sig.SendCandidate(context.Background(), webrtc.ICECandidateInit{Candidate: "late"}); !errorsx.HasReason(err, errorsx.ReasonCandidateSend) {
		t.Fatalf("expected candidate send failure after close, got %v", err)
	}
}

func TestSocketSignalerDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	sig := NewSocketSignaler(SocketConfig{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), Logger: logging.Discard()})
	err := sig.Negotiate(context.Background(), "v=0 offer", &recordingSink{})
	if !errorsx.HasReason(err, errorsx.ReasonSignalingSocket) {
		t.Fatalf("expected socket reason, got %v", err)
	}
	if !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected status in error, got %q", err.Error())
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}
