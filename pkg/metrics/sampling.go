package metrics

import (
	"math"
	"sync/atomic"
)

// lifecycleEvents are rare and drive latency and timeline summaries, so they
// bypass sampling.
var lifecycleEvents = map[string]bool{
	EventStatusChange:       true,
	EventNegotiationLatency: true,
	EventCandidateDropped:   true,
}

// SamplingObserver forwards one in every N high-volume events, where N is
// derived from rate. Lifecycle events always pass.
type SamplingObserver struct {
	inner Observer
	every uint64
	seen  atomic.Uint64
}

// NewSamplingObserver keeps roughly rate of the sampled events. A rate of
// zero drops all of them and a rate of one keeps all of them.
func NewSamplingObserver(inner Observer, rate float64) *SamplingObserver {
	s := &SamplingObserver{inner: inner}
	switch {
	case rate <= 0:
		s.every = 0
	case rate >= 1:
		s.every = 1
	default:
		s.every = max(uint64(math.Round(1/rate)), 1)
	}
	return s
}

func (s *SamplingObserver) RecordEvent(ev MetricsEvent) {
	if lifecycleEvents[ev.Name] || s.every == 1 {
		s.inner.RecordEvent(ev)
		return
	}
	if s.every == 0 {
		return
	}
	if s.seen.Add(1)%s.every == 0 {
		s.inner.RecordEvent(ev)
	}
}
