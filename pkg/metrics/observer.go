package metrics

import "time"

// Event names recorded by a session.
const (
	EventNegotiationLatency = "negotiation_latency_ms"
	EventCandidateQueued    = "candidate_queued"
	EventCandidateSent      = "candidate_sent"
	EventCandidateDropped   = "candidate_dropped"
	EventDispatched         = "event_dispatched"
	EventInputVolume        = "input_volume"
	EventStatusChange       = "status_change"
)

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type Flusher interface {
	Flush() error
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

// Record is shorthand for building an event stamped with the current time.
func Record(obs Observer, name string, value float64, tags map[string]string) {
	if obs == nil {
		return
	}
	obs.RecordEvent(MetricsEvent{Name: name, Time: time.Now(), Value: value, Tags: tags})
}
