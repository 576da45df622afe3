// Package negotiation drives the offer/answer exchange between a local peer
// connection and a provider reached through a signaling transport.
package negotiation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/vocalink/pkg/errorsx"
	"github.com/harunnryd/vocalink/pkg/logging"
	"github.com/harunnryd/vocalink/pkg/metrics"
	"github.com/harunnryd/vocalink/pkg/peer"
	"github.com/harunnryd/vocalink/pkg/signaling"
	"github.com/pion/webrtc/v4"
)

// ErrAlreadyNegotiated is returned by a second Negotiate call.
var ErrAlreadyNegotiated = errors.New("negotiation: already started")

type Config struct {
	Conn     peer.Connection
	Signaler signaling.Signaler
	Logger   *slog.Logger
	Observer metrics.Observer
	// OnConnected runs once, right after the remote answer was applied.
	OnConnected func()
}

// Engine implements signaling.Sink for one peer connection. Remote
// candidates arriving before the answer are held and applied, in order,
// once the remote description is set.
type Engine struct {
	conn        peer.Connection
	signaler    signaling.Signaler
	logger      *slog.Logger
	observer    metrics.Observer
	onConnected func()

	queue *CandidateQueue

	mu            sync.Mutex
	started       bool
	remoteApplied bool
	remotePending []webrtc.ICECandidateInit
}

func New(cfg Config) *Engine {
	observer := cfg.Observer
	if observer == nil {
		observer = metrics.NoopObserver{}
	}
	return &Engine{
		conn:        cfg.Conn,
		signaler:    cfg.Signaler,
		logger:      logging.NewComponentLogger(cfg.Logger, "negotiation"),
		observer:    observer,
		onConnected: cfg.OnConnected,
	}
}

// Negotiate builds the local offer, hands it to the signaler and returns
// once the answer was applied or the attempt failed. It never retries.
func (e *Engine) Negotiate(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return ErrAlreadyNegotiated
	}
	e.started = true
	e.queue = NewCandidateQueue(func(c webrtc.ICECandidateInit) error {
		return e.signaler.SendCandidate(ctx, c)
	}, e.logger, e.observer)
	e.mu.Unlock()

	start := time.Now()
	trickle := e.signaler.Trickle()

	e.conn.OnICECandidate(func(c webrtc.ICECandidateInit) {
		if !trickle {
			return
		}
		e.Queue().Add(c)
	})

	offer, err := e.conn.CreateOffer()
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("create offer: %w", err), errorsx.ReasonNegotiationOffer)
	}
	if err := e.conn.SetLocalDescription(offer); err != nil {
		return errorsx.Wrap(fmt.Errorf("set local description: %w", err), errorsx.ReasonNegotiationLocalDescription)
	}
	e.logger.Info("negotiation_offer_created", slog.String("signaler", e.signaler.Name()), slog.Bool("trickle", trickle))

	if !trickle {
		select {
		case <-e.conn.GatheringComplete():
		case <-ctx.Done():
			return errorsx.Wrap(ctx.Err(), errorsx.ReasonNegotiationCancelled)
		}
	}

	sdp := offer.SDP
	if local := e.conn.LocalDescription(); local != nil && local.SDP != "" {
		sdp = local.SDP
	}

	if err := e.signaler.Negotiate(ctx, sdp, e); err != nil {
		if ctx.Err() != nil && errorsx.Reason(err) == errorsx.ReasonUnknown {
			return errorsx.Wrap(err, errorsx.ReasonNegotiationCancelled)
		}
		return errorsx.Wrap(err, errorsx.ReasonSignalingProtocol)
	}

	latency := time.Since(start)
	metrics.Record(e.observer, metrics.EventNegotiationLatency, float64(latency.Milliseconds()),
		map[string]string{"signaler": e.signaler.Name()})
	e.logger.Info("negotiation_complete", slog.Duration("latency", latency))
	return nil
}

// TransportReady opens the transport gate of the local candidate queue.
func (e *Engine) TransportReady() {
	if q := e.Queue(); q != nil {
		q.MarkTransportReady()
	}
}

// ApplyAnswer commits the remote description, applies held remote
// candidates, fires OnConnected and opens the answer gate.
func (e *Engine) ApplyAnswer(sdp string) error {
	err := e.conn.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("set remote description: %w", err), errorsx.ReasonNegotiationRemoteDescription)
	}

	e.mu.Lock()
	e.remoteApplied = true
	held := e.remotePending
	e.remotePending = nil
	for _, c := range held {
		e.addRemoteLocked(c)
	}
	e.mu.Unlock()

	e.logger.Info("negotiation_answer_applied", slog.Int("held_candidates", len(held)))
	if e.onConnected != nil {
		e.onConnected()
	}
	if q := e.Queue(); q != nil {
		q.MarkAnswered()
	}
	return nil
}

// ApplyCandidate adds a remote candidate, holding it until the answer is set.
func (e *Engine) ApplyCandidate(c webrtc.ICECandidateInit) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.remoteApplied {
		e.remotePending = append(e.remotePending, c)
		return nil
	}
	return e.addRemoteLocked(c)
}

func (e *Engine) addRemoteLocked(c webrtc.ICECandidateInit) error {
	if err := e.conn.AddICECandidate(c); err != nil {
		e.logger.Warn("negotiation_remote_candidate_failed", slog.String("error", err.Error()))
		return errorsx.Wrap(fmt.Errorf("add remote candidate: %w", err), errorsx.ReasonNegotiationPeer)
	}
	return nil
}

// Queue exposes the local candidate queue. It is nil before Negotiate.
func (e *Engine) Queue() *CandidateQueue {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue
}
