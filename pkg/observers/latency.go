package observers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/vocalink/pkg/conversation"
	"github.com/harunnryd/vocalink/pkg/metrics"
)

// LatencyObserver logs, per session, how long connecting took and how long
// the first assistant transcript took after the connection came up.
type LatencyObserver struct {
	mu     sync.Mutex
	traces map[string]*trace
	log    *slog.Logger
}

type trace struct {
	connecting    time.Time
	connected     time.Time
	firstResponse time.Time
}

func NewLatencyObserver(log *slog.Logger) *LatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LatencyObserver{
		traces: make(map[string]*trace),
		log:    log,
	}
}

// RecordEvent starts a trace on a session's connecting status and ignores
// events for sessions it is not tracing.
func (o *LatencyObserver) RecordEvent(ev metrics.MetricsEvent) {
	sessionID := ev.Tags["session_id"]
	if sessionID == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	t := o.traces[sessionID]
	if t == nil {
		if ev.Name != metrics.EventStatusChange || ev.Tags["status"] != "connecting" {
			return
		}
		t = &trace{}
		o.traces[sessionID] = t
	}
	switch ev.Name {
	case metrics.EventStatusChange:
		switch ev.Tags["status"] {
		case "connecting":
			t.connecting = ev.Time
		case "connected":
			t.connected = ev.Time
			o.log.Info("session_connect_latency",
				"session_id", sessionID,
				"connect_ms", durationMs(t.connecting, t.connected))
		case "disconnected":
			o.log.Info("session_latency_summary",
				"session_id", sessionID,
				"connect_ms", durationMs(t.connecting, t.connected),
				"first_response_ms", durationMs(t.connected, t.firstResponse))
			delete(o.traces, sessionID)
		}
	case metrics.EventDispatched:
		if ev.Tags["type"] == conversation.EventTranscriptDone && t.firstResponse.IsZero() && !t.connected.IsZero() {
			t.firstResponse = ev.Time
		}
	}
}

// Pending reports how many sessions are still being traced.
func (o *LatencyObserver) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.traces)
}

func durationMs(a, b time.Time) int64 {
	if a.IsZero() || b.IsZero() {
		return -1
	}
	return b.Sub(a).Milliseconds()
}
