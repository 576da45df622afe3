package metrics

import (
	"sync"
	"sync/atomic"
)

const defaultAsyncBuffer = 256

// AsyncObserver moves event delivery off the caller's goroutine. When the
// buffer is full, high-volume events are dropped and counted while lifecycle
// events wait for room.
type AsyncObserver struct {
	inner   Observer
	events  chan MetricsEvent
	dropped atomic.Int64
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewAsyncObserver(inner Observer, buffer int) *AsyncObserver {
	if buffer <= 0 {
		buffer = defaultAsyncBuffer
	}
	a := &AsyncObserver{
		inner:  inner,
		events: make(chan MetricsEvent, buffer),
		done:   make(chan struct{}),
	}
	go a.deliver()
	return a
}

func (a *AsyncObserver) RecordEvent(ev MetricsEvent) {
	if a == nil {
		return
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	if lifecycleEvents[ev.Name] {
		a.events <- ev
		return
	}
	select {
	case a.events <- ev:
	default:
		a.dropped.Add(1)
	}
}

func (a *AsyncObserver) Dropped() int64 { return a.dropped.Load() }

// Close stops intake and returns once every buffered event reached inner.
// Later events are ignored.
func (a *AsyncObserver) Close() {
	if a == nil {
		return
	}
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.events)
	}
	a.mu.Unlock()
	<-a.done
}

func (a *AsyncObserver) deliver() {
	defer close(a.done)
	for ev := range a.events {
		a.inner.RecordEvent(ev)
	}
}
