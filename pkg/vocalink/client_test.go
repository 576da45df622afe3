package vocalink

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/vocalink/pkg/errorsx"
	"github.com/harunnryd/vocalink/pkg/logging"
	"github.com/harunnryd/vocalink/pkg/metrics"
	"github.com/harunnryd/vocalink/pkg/peer/mock"
	"github.com/harunnryd/vocalink/pkg/provider"
	"github.com/harunnryd/vocalink/pkg/session"
)

func TestClientRunsSessionAgainstProvider(t *testing.T) {
	var (
		mu      sync.Mutex
		gotAuth string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotAuth = r.Header.Get("Authorization")
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("v=0 answer"))
	}))
	defer srv.Close()

	timelines := t.TempDir()
	mem := metrics.NewMemoryObserver()
	conn := mock.New()
	client, err := NewClient(Config{
		Provider:         "openai",
		APIKey:           "sk-test",
		ProviderSettings: map[string]any{"origin": srv.URL, "voice": "verse"},
		Signaling:        SignalingConfig{HTTPTimeoutMS: 2000},
		Metrics:          MetricsConfig{SampleRate: 1, TimelineDir: timelines},
	}, WithLogger(logging.Discard()), WithObserver(mem), WithPeerFactory(mock.Factory(conn)))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if client.Provider().Kind() != provider.KindOpenAI || client.Params().Voice != "verse" {
		t.Fatalf("unexpected provider wiring")
	}

	s, err := client.NewSession(session.Callbacks{})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for s.Status() != session.StatusConnected {
		if time.Now().After(deadline) {
			t.Fatalf("session never connected, status %s err %v", s.Status(), s.Err())
		}
		time.Sleep(5 * time.Millisecond)
	}
	_ = s.Stop()
	<-s.Done()
	if err := client.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	mu.Lock()
	auth := gotAuth
	mu.Unlock()
	if auth != "Bearer sk-test" {
		t.Fatalf("unexpected authorization header %q", auth)
	}
	changes := mem.Named(metrics.EventStatusChange)
	if len(changes) != 4 {
		t.Fatalf("expected four status changes, got %d", len(changes))
	}
	if changes[0].Tags["session_id"] != s.ID() {
		t.Fatalf("metrics must carry the session id, got %v", changes[0].Tags)
	}
	if len(mem.Named(metrics.EventNegotiationLatency)) != 1 {
		t.Fatalf("expected a negotiation latency sample")
	}
	rr := httptest.NewRecorder()
	client.MetricsHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rr.Body.String(), `vocalink_status_changes_total{status="connected"} 1`) {
		t.Fatalf("prometheus exposition missing the connected transition:\n%s", rr.Body.String())
	}
	b, err := os.ReadFile(filepath.Join(timelines, s.ID()+".jsonl"))
	if err != nil {
		t.Fatalf("read timeline: %v", err)
	}
	if !strings.Contains(string(b), "status_connected") {
		t.Fatalf("timeline missing status_connected: %s", b)
	}
}

func TestClientRejectsUnknownProvider(t *testing.T) {
	_, err := NewClient(Config{Provider: "nope"}, WithLogger(logging.Discard()))
	if !errorsx.HasReason(err, errorsx.ReasonConfigUnknownProvider) {
		t.Fatalf("expected unknown provider, got %v", err)
	}
}

func TestClientMissingKeySurfacesOnStart(t *testing.T) {
	client, err := NewClient(Config{Provider: "outspeed", Metrics: MetricsConfig{SampleRate: 1}},
		WithLogger(logging.Discard()), WithPeerFactory(mock.Factory(mock.New())))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer client.Close()
	s, err := client.NewSession(session.Callbacks{})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := s.Start(context.Background()); !errorsx.HasReason(err, errorsx.ReasonConfigMissingCredential) {
		t.Fatalf("expected missing credential, got %v", err)
	}
}

func TestClientTransportDeps(t *testing.T) {
	client := &Client{cfg: Config{Signaling: SignalingConfig{HTTPTimeoutMS: 250, HandshakeTimeoutMS: 400}}, logger: logging.Discard()}
	deps := client.deps()
	if deps.HTTPClient == nil || deps.HTTPClient.Timeout != 250*time.Millisecond {
		t.Fatalf("unexpected http client %+v", deps.HTTPClient)
	}
	if deps.Dialer == nil || deps.Dialer.HandshakeTimeout != 400*time.Millisecond {
		t.Fatalf("unexpected dialer %+v", deps.Dialer)
	}
	none := (&Client{logger: logging.Discard()}).deps()
	if none.HTTPClient != nil || none.Dialer != nil {
		t.Fatalf("zero timeouts must keep the transport defaults")
	}
}
