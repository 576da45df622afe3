package observers

import (
	"encoding/json"
	"errors"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/vocalink/pkg/metrics"
	"github.com/harunnryd/vocalink/pkg/redact"
)

// TimelineObserver writes one JSONL timeline per session into dir. Each line
// carries the offset from the session's first event. A session's file is
// closed once it reports status disconnected.
type TimelineObserver struct {
	dir string

	mu       sync.Mutex
	sessions map[string]*timelineFile
}

type timelineFile struct {
	f     *os.File
	start time.Time
}

type timelineEvent struct {
	Time      time.Time         `json:"time"`
	ElapsedMS int64             `json:"elapsed_ms"`
	Event     string            `json:"event"`
	SessionID string            `json:"session_id"`
	Value     float64           `json:"value,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
	Fields    map[string]any    `json:"fields,omitempty"`
}

func NewTimelineObserver(dir string) *TimelineObserver {
	return &TimelineObserver{dir: dir, sessions: make(map[string]*timelineFile)}
}

func (o *TimelineObserver) RecordEvent(ev metrics.MetricsEvent) {
	sessionID := sanitizeID(ev.Tags["session_id"])
	if sessionID == "" || strings.TrimSpace(o.dir) == "" {
		return
	}
	// Volume samples arrive per audio frame and would drown the timeline.
	if ev.Name == metrics.EventInputVolume {
		return
	}
	tags := copyTags(ev.Tags)
	delete(tags, "session_id")
	if len(tags) == 0 {
		tags = nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	tf := o.open(sessionID, ev.Time)
	if tf == nil {
		return
	}
	line, err := json.Marshal(timelineEvent{
		Time:      ev.Time.UTC(),
		ElapsedMS: ev.Time.Sub(tf.start).Milliseconds(),
		Event:     mapEventName(ev),
		SessionID: sessionID,
		Value:     ev.Value,
		Tags:      tags,
		Fields:    sanitizeFields(ev.Fields),
	})
	if err == nil {
		_, _ = tf.f.Write(append(line, '\n'))
	}
	if ev.Name == metrics.EventStatusChange && ev.Tags["status"] == "disconnected" {
		_ = tf.f.Close()
		delete(o.sessions, sessionID)
	}
}

// Open reports how many session timelines are still being written.
func (o *TimelineObserver) Open() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sessions)
}

// Close closes the timelines of sessions that never disconnected.
func (o *TimelineObserver) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	var err error
	for id, tf := range o.sessions {
		err = errors.Join(err, tf.f.Close())
		delete(o.sessions, id)
	}
	return err
}

// open must be called with o.mu held.
func (o *TimelineObserver) open(id string, at time.Time) *timelineFile {
	if tf := o.sessions[id]; tf != nil {
		return tf
	}
	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		return nil
	}
	f, err := os.OpenFile(filepath.Join(o.dir, id+timelineExt), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil
	}
	tf := &timelineFile{f: f, start: at}
	o.sessions[id] = tf
	return tf
}

func mapEventName(ev metrics.MetricsEvent) string {
	switch {
	case ev.Name == metrics.EventStatusChange && ev.Tags["status"] != "":
		return "status_" + ev.Tags["status"]
	case ev.Name == metrics.EventDispatched && ev.Tags["type"] != "":
		return "event:" + ev.Tags["type"]
	default:
		return ev.Name
	}
}

// sanitizeID keeps session ids usable as file names.
func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, strings.TrimSpace(id))
}

func copyTags(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	return maps.Clone(in)
}

func sanitizeFields(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		if s, ok := v.(string); ok {
			out[k] = redact.Text(s)
			continue
		}
		out[k] = v
	}
	return out
}

var _ metrics.Observer = (*TimelineObserver)(nil)
