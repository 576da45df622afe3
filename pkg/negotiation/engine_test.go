package negotiation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/harunnryd/vocalink/pkg/errorsx"
	"github.com/harunnryd/vocalink/pkg/logging"
	"github.com/harunnryd/vocalink/pkg/metrics"
	"github.com/harunnryd/vocalink/pkg/peer/mock"
	"github.com/harunnryd/vocalink/pkg/signaling"
	"github.com/pion/webrtc/v4"
)

// scriptSignaler runs script inside Negotiate and records sent candidates.
type scriptSignaler struct {
	trickle bool
	script  func(ctx context.Context, offer string, sink signaling.Sink) error

	mu     sync.Mutex
	offers []string
	sent   []string
}

func (s *scriptSignaler) Name() string  { return "script" }
func (s *scriptSignaler) Trickle() bool { return s.trickle }
func (s *scriptSignaler) Close() error  { return nil }

func (s *scriptSignaler) Negotiate(ctx context.Context, offer string, sink signaling.Sink) error {
	s.mu.Lock()
	s.offers = append(s.offers, offer)
	s.mu.Unlock()
	if s.script == nil {
		sink.TransportReady()
		return sink.ApplyAnswer("v=0 answer")
	}
	return s.script(ctx, offer, sink)
}

func (s *scriptSignaler) SendCandidate(_ context.Context, c webrtc.ICECandidateInit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, c.Candidate)
	return nil
}

func (s *scriptSignaler) sentCandidates() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func (s *scriptSignaler) offerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.offers)
}

func TestEngineDuplexOrdering(t *testing.T) {
	conn := mock.New()
	var connectedCalls []string
	sig := &scriptSignaler{trickle: true}
	sig.script = func(_ context.Context, _ string, sink signaling.Sink) error {
		sink.TransportReady()
		conn.EmitCandidate(cand("local-1"))
		if err := sink.ApplyCandidate(cand("c1")); err != nil {
			return err
		}
		if err := sink.ApplyCandidate(cand("c2")); err != nil {
			return err
		}
		if got := fmt.Sprint(sig.sentCandidates()); got != "[]" {
			t.Errorf("local candidates must wait for the answer, sent %s", got)
		}
		return sink.ApplyAnswer("X")
	}
	engine := New(Config{
		Conn:     conn,
		Signaler: sig,
		Logger:   logging.Discard(),
		OnConnected: func() {
			connectedCalls = append(connectedCalls, fmt.Sprint(conn.Calls()))
		},
	})
	if err := engine.Negotiate(context.Background()); err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	conn.EmitCandidate(cand("local-2"))

	want := "[create_offer set_local set_remote:X add_candidate:c1 add_candidate:c2]"
	if got := fmt.Sprint(conn.Calls()); got != want {
		t.Fatalf("peer calls %s, want %s", got, want)
	}
	if len(connectedCalls) != 1 || connectedCalls[0] != want {
		t.Fatalf("OnConnected must fire once after the answer and held candidates, got %v", connectedCalls)
	}
	if got := fmt.Sprint(sig.sentCandidates()); got != "[local-1 local-2]" {
		t.Fatalf("unexpected local candidate order %s", got)
	}

	if err := engine.ApplyCandidate(cand("c3")); err != nil {
		t.Fatalf("late candidate: %v", err)
	}
	calls := conn.Calls()
	if calls[len(calls)-1] != "add_candidate:c3" {
		t.Fatalf("late candidate must be applied directly, got %v", calls)
	}
}

func TestEngineNonTrickleWaitsForGathering(t *testing.T) {
	conn := mock.New()
	conn.HoldGathering()
	sig := &scriptSignaler{}
	engine := New(Config{Conn: conn, Signaler: sig, Logger: logging.Discard()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.Negotiate(ctx) }()
	cancel()
	err := <-done
	if !errorsx.HasReason(err, errorsx.ReasonNegotiationCancelled) {
		t.Fatalf("expected cancelled while gathering, got %v", err)
	}
	if sig.offerCount() != 0 {
		t.Fatalf("offer must not be posted before gathering completes")
	}
}

func TestEngineNonTrickleSendsCompleteOffer(t *testing.T) {
	conn := mock.New()
	conn.OfferSDP = "v=0 gathered"
	sig := &scriptSignaler{}
	obs := metrics.NewMemoryObserver()
	engine := New(Config{Conn: conn, Signaler: sig, Logger: logging.Discard(), Observer: obs})

	if err := engine.Negotiate(context.Background()); err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	conn.EmitCandidate(cand("embedded"))
	if len(sig.sentCandidates()) != 0 {
		t.Fatalf("non-trickle signaler must not receive candidates")
	}
	if sig.offers[0] != "v=0 gathered" {
		t.Fatalf("unexpected offer %q", sig.offers[0])
	}
	if len(obs.Named(metrics.EventNegotiationLatency)) != 1 {
		t.Fatalf("expected a negotiation latency event")
	}
}

func TestEngineFailures(t *testing.T) {
	boom := errors.New("boom")
	cases := []struct {
		name       string
		setup      func(*mock.Connection, *scriptSignaler)
		reason     errorsx.ReasonCode
		signalerOK bool
	}{
		{
			name:   "create offer",
			setup:  func(c *mock.Connection, _ *scriptSignaler) { c.CreateOfferErr = boom },
			reason: errorsx.ReasonNegotiationOffer,
		},
		{
			name:   "set local",
			setup:  func(c *mock.Connection, _ *scriptSignaler) { c.SetLocalErr = boom },
			reason: errorsx.ReasonNegotiationLocalDescription,
		},
		{
			name:       "set remote",
			setup:      func(c *mock.Connection, _ *scriptSignaler) { c.SetRemoteErr = boom },
			reason:     errorsx.ReasonNegotiationRemoteDescription,
			signalerOK: true,
		},
		{
			name: "signaler status",
			setup: func(_ *mock.Connection, s *scriptSignaler) {
				s.script = func(context.Context, string, signaling.Sink) error {
					return &signaling.StatusError{StatusCode: 401}
				}
			},
			reason:     errorsx.ReasonSignalingHTTPStatus,
			signalerOK: true,
		},
		{
			name: "signaler unreasoned",
			setup: func(_ *mock.Connection, s *scriptSignaler) {
				s.script = func(context.Context, string, signaling.Sink) error { return boom }
			},
			reason:     errorsx.ReasonSignalingProtocol,
			signalerOK: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn := mock.New()
			sig := &scriptSignaler{}
			tc.setup(conn, sig)
			connected := false
			engine := New(Config{Conn: conn, Signaler: sig, Logger: logging.Discard(), OnConnected: func() { connected = true }})
			err := engine.Negotiate(context.Background())
			if !errorsx.HasReason(err, tc.reason) {
				t.Fatalf("expected reason %s, got %v (%s)", tc.reason, err, errorsx.Reason(err))
			}
			if connected {
				t.Fatalf("OnConnected must not fire on failure")
			}
			if (sig.offerCount() > 0) != tc.signalerOK {
				t.Fatalf("signaler reached=%v, want %v", sig.offerCount() > 0, tc.signalerOK)
			}
		})
	}
}

func TestEngineNegotiatesOnce(t *testing.T) {
	engine := New(Config{Conn: mock.New(), Signaler: &scriptSignaler{}, Logger: logging.Discard()})
	if err := engine.Negotiate(context.Background()); err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	if err := engine.Negotiate(context.Background()); !errors.Is(err, ErrAlreadyNegotiated) {
		t.Fatalf("expected ErrAlreadyNegotiated, got %v", err)
	}
}

func TestEngineRemoteCandidateFailureIsReported(t *testing.T) {
	conn := mock.New()
	engine := New(Config{Conn: conn, Signaler: &scriptSignaler{}, Logger: logging.Discard()})
	if err := engine.Negotiate(context.Background()); err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	conn.AddCandidateErr = errors.New("bad candidate")
	err := engine.ApplyCandidate(cand("x"))
	if !errorsx.HasReason(err, errorsx.ReasonNegotiationPeer) {
		t.Fatalf("expected peer reason, got %v", err)
	}
}
