package observers

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/vocalink/pkg/conversation"
	"github.com/harunnryd/vocalink/pkg/metrics"
)

func TestTaggedObserverMergesTags(t *testing.T) {
	mem := metrics.NewMemoryObserver()
	obs := NewTaggedObserver(mem, map[string]string{"session_id": "s1", "status": "base"})
	metrics.Record(obs, metrics.EventStatusChange, 1, map[string]string{"status": "connected"})
	metrics.Record(obs, metrics.EventCandidateSent, 1, nil)

	events := mem.Named(metrics.EventStatusChange)
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	if events[0].Tags["session_id"] != "s1" || events[0].Tags["status"] != "connected" {
		t.Fatalf("unexpected tags %v", events[0].Tags)
	}
	if got := mem.Named(metrics.EventCandidateSent); len(got) != 1 || got[0].Tags["session_id"] != "s1" {
		t.Fatalf("nil tags must still be tagged, got %+v", got)
	}
}

func TestMultiObserverFansOut(t *testing.T) {
	a, b := metrics.NewMemoryObserver(), metrics.NewMemoryObserver()
	multi := NewMultiObserver(a, nil, b)
	metrics.Record(multi, metrics.EventDispatched, 1, nil)
	if len(a.Named(metrics.EventDispatched)) != 1 || len(b.Named(metrics.EventDispatched)) != 1 {
		t.Fatalf("expected both observers to receive the event")
	}
}

func TestLatencyObserverTracksSession(t *testing.T) {
	var buf bytes.Buffer
	obs := NewLatencyObserver(slog.New(slog.NewTextHandler(&buf, nil)))
	base := time.Now()
	tags := func(kv ...string) map[string]string {
		m := map[string]string{"session_id": "s1"}
		for i := 0; i+1 < len(kv); i += 2 {
			m[kv[i]] = kv[i+1]
		}
		return m
	}
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventStatusChange, Time: base, Tags: tags("status", "connecting")})
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventStatusChange, Time: base.Add(120 * time.Millisecond), Tags: tags("status", "connected")})
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventDispatched, Time: base.Add(500 * time.Millisecond), Tags: tags("type", conversation.EventTranscriptDone)})
	if obs.Pending() != 1 {
		t.Fatalf("expected one pending trace")
	}
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventStatusChange, Time: base.Add(time.Second), Tags: tags("status", "disconnected")})
	if obs.Pending() != 0 {
		t.Fatalf("trace must be released on disconnect")
	}
	out := buf.String()
	if !strings.Contains(out, "connect_ms=120") || !strings.Contains(out, "first_response_ms=380") {
		t.Fatalf("unexpected log output %q", out)
	}
}

func TestLatencyObserverIgnoresUntracedSessions(t *testing.T) {
	var buf bytes.Buffer
	obs := NewLatencyObserver(slog.New(slog.NewTextHandler(&buf, nil)))
	now := time.Now()
	record := func(id, name string, kv ...string) {
		tags := map[string]string{"session_id": id}
		for i := 0; i+1 < len(kv); i += 2 {
			tags[kv[i]] = kv[i+1]
		}
		obs.RecordEvent(metrics.MetricsEvent{Name: name, Time: now, Tags: tags})
	}

	record("late", metrics.EventDispatched, "type", conversation.EventTranscriptDone)
	record("late", metrics.EventCandidateSent)
	record("late", metrics.EventStatusChange, "status", "connected")
	record("late", metrics.EventStatusChange, "status", "disconnected")
	record("config_error", metrics.EventStatusChange, "status", "disconnected")
	if obs.Pending() != 0 {
		t.Fatalf("events without a connecting status must not open traces, %d pending", obs.Pending())
	}
	if buf.Len() != 0 {
		t.Fatalf("untraced sessions must not log, got %q", buf.String())
	}

	record("s2", metrics.EventStatusChange, "status", "connecting")
	record("s2", metrics.EventStatusChange, "status", "disconnecting")
	record("s2", metrics.EventStatusChange, "status", "disconnected")
	record("s2", metrics.EventDispatched, "type", conversation.EventTranscriptDone)
	if obs.Pending() != 0 {
		t.Fatalf("events after disconnect must not reopen the trace, %d pending", obs.Pending())
	}
}

func TestLoggerObserverLevels(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	obs := NewLoggerObserver(log)
	metrics.Record(obs, metrics.EventCandidateSent, 1, map[string]string{"session_id": "s1"})
	metrics.Record(obs, metrics.EventCandidateDropped, 1, map[string]string{"session_id": "s1", "error": "closed"})
	out := buf.String()
	if strings.Contains(out, "metric_candidate_sent") {
		t.Fatalf("debug events must respect the level, got %q", out)
	}
	if !strings.Contains(out, "msg=metric_candidate_dropped") || !strings.Contains(out, "error=closed session_id=s1") {
		t.Fatalf("unexpected log output %q", out)
	}
}

func TestPurgeTimelines(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	files := map[string]time.Time{
		"sess_old.jsonl":   now.Add(-48 * time.Hour),
		"sess_older.jsonl": now.Add(-72 * time.Hour),
		"sess_new.jsonl":   now.Add(-time.Hour),
		"notes.txt":        now.Add(-72 * time.Hour),
	}
	for name, mtime := range files {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte("{}\n"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		if err := os.Chtimes(p, mtime, mtime); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}
	removed, err := PurgeTimelines(dir, 24*time.Hour, now)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if len(removed) != 2 || removed[0] != "sess_old" || removed[1] != "sess_older" {
		t.Fatalf("unexpected removals %v", removed)
	}
	for _, keep := range []string{"sess_new.jsonl", "notes.txt"} {
		if _, err := os.Stat(filepath.Join(dir, keep)); err != nil {
			t.Fatalf("%s must survive: %v", keep, err)
		}
	}
	if got, err := PurgeTimelines(filepath.Join(dir, "missing"), time.Hour, now); got != nil || err != nil {
		t.Fatalf("missing dir is a no-op, got %v %v", got, err)
	}
	if got, err := PurgeTimelines("", time.Hour, now); got != nil || err != nil {
		t.Fatalf("empty dir is a no-op")
	}
}
