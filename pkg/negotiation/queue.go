package negotiation

import (
	"log/slog"
	"sync"

	"github.com/harunnryd/vocalink/pkg/logging"
	"github.com/harunnryd/vocalink/pkg/metrics"
	"github.com/pion/webrtc/v4"
)

// SendFunc forwards one local candidate to the remote side.
type SendFunc func(webrtc.ICECandidateInit) error

// CandidateQueue holds local candidates until the signaling transport is
// connected and the remote answer has been applied. Both gates open at most
// once; the backlog is drained in arrival order and every later candidate
// goes out immediately. Send failures are logged, never returned.
type CandidateQueue struct {
	send     SendFunc
	logger   *slog.Logger
	observer metrics.Observer

	mu             sync.Mutex
	transportReady bool
	answered       bool
	pending        []webrtc.ICECandidateInit
}

func NewCandidateQueue(send SendFunc, logger *slog.Logger, observer metrics.Observer) *CandidateQueue {
	if observer == nil {
		observer = metrics.NoopObserver{}
	}
	return &CandidateQueue{
		send:     send,
		logger:   logging.NewComponentLogger(logger, "candidate_queue"),
		observer: observer,
	}
}

// Add sends c now if both gates are open, otherwise queues it.
func (q *CandidateQueue) Add(c webrtc.ICECandidateInit) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.readyLocked() {
		q.pending = append(q.pending, c)
		metrics.Record(q.observer, metrics.EventCandidateQueued, float64(len(q.pending)), nil)
		q.logger.Debug("candidate_queued", slog.Int("pending", len(q.pending)))
		return
	}
	q.sendLocked(c)
}

// MarkTransportReady opens the transport gate.
func (q *CandidateQueue) MarkTransportReady() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.transportReady {
		return
	}
	q.transportReady = true
	q.drainLocked()
}

// MarkAnswered opens the answer gate.
func (q *CandidateQueue) MarkAnswered() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.answered {
		return
	}
	q.answered = true
	q.drainLocked()
}

func (q *CandidateQueue) Ready() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.readyLocked()
}

// Pending returns the number of queued candidates.
func (q *CandidateQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *CandidateQueue) readyLocked() bool {
	return q.transportReady && q.answered
}

func (q *CandidateQueue) drainLocked() {
	if !q.readyLocked() || len(q.pending) == 0 {
		return
	}
	backlog := q.pending
	q.pending = nil
	q.logger.Info("candidate_queue_drain", slog.Int("count", len(backlog)))
	for _, c := range backlog {
		q.sendLocked(c)
	}
}

func (q *CandidateQueue) sendLocked(c webrtc.ICECandidateInit) {
	if err := q.send(c); err != nil {
		metrics.Record(q.observer, metrics.EventCandidateDropped, 1, nil)
		q.logger.Warn("candidate_send_failed", slog.String("error", err.Error()))
		return
	}
	metrics.Record(q.observer, metrics.EventCandidateSent, 1, nil)
}
