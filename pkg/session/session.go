// Package session is the public face of a realtime voice conversation. A
// Session negotiates the peer connection with the configured provider,
// pushes the provider's session configuration once the event channel opens
// and folds inbound events into the conversation.
//
// All state lives on a single event-loop goroutine. Network callbacks only
// post closures to it, and every user callback is invoked from it.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/harunnryd/vocalink/pkg/audio"
	"github.com/harunnryd/vocalink/pkg/conversation"
	"github.com/harunnryd/vocalink/pkg/errorsx"
	"github.com/harunnryd/vocalink/pkg/logging"
	"github.com/harunnryd/vocalink/pkg/metrics"
	"github.com/harunnryd/vocalink/pkg/negotiation"
	"github.com/harunnryd/vocalink/pkg/observers"
	"github.com/harunnryd/vocalink/pkg/peer"
	"github.com/harunnryd/vocalink/pkg/signaling"
	"github.com/pion/webrtc/v4"
)

var (
	ErrAlreadyStarted = errors.New("session: already started")
	ErrStopped        = errors.New("session: stopped")
)

// Snapshot is a read-only view of the session state.
type Snapshot struct {
	Status Status
	Mode   Mode
	Volume float64
	Items  []conversation.Item
	Err    error
}

type Session struct {
	id       string
	opts     Options
	cb       Callbacks
	logger   *slog.Logger
	observer metrics.Observer

	loop       *eventLoop
	snapshot   atomic.Pointer[Snapshot]
	store      *conversation.Store
	dispatcher *conversation.Dispatcher
	detector   *audio.ModeDetector

	// Owned by the event loop.
	status         Status
	mode           Mode
	volume         float64
	err            error
	connectedFired bool

	started  atomic.Bool
	stopOnce sync.Once

	mu       sync.Mutex
	stopped  bool
	cancel   context.CancelFunc
	signaler signaling.Signaler
	conn     peer.Connection
	negDone  chan struct{}

	sendMu sync.Mutex
}

func New(opts Options) (*Session, error) {
	if opts.Provider == nil {
		return nil, errorsx.Newf(errorsx.ReasonConfigUnknownProvider, "session: provider is required")
	}
	opts = opts.withDefaults()
	id := uuid.NewString()
	s := &Session{
		id:       id,
		opts:     opts,
		cb:       opts.Callbacks,
		logger:   logging.NewComponentLogger(opts.Logger, "session").With(slog.String("session_id", id)),
		observer: observers.NewTaggedObserver(opts.Observer, map[string]string{"session_id": id}),
		loop:     newEventLoop(),
		store:    conversation.NewStore(),
		detector: audio.NewModeDetector(opts.ModeHoldPackets),
	}
	s.dispatcher = conversation.NewDispatcher(s.store, conversation.Handlers{
		OnItem:             func(conversation.Item) { s.publish() },
		OnAssistantMessage: s.onMessage,
		OnUserMessage:      s.onMessage,
		OnServerError:      s.onServerError,
		OnAudioActivity:    s.onAudioActivity,
	}, s.logger, opts.Observer)
	s.publish()
	return s, nil
}

func (s *Session) ID() string { return s.id }

// Start validates the configuration and begins connecting in the
// background. Configuration errors are returned directly and leave the
// session disconnected; later failures are reported through OnError.
// Cancelling ctx stops the session.
func (s *Session) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	go s.loop.run()

	signaler, err := s.prepare(ctx)
	if err != nil {
		s.logger.Error("session_config_invalid",
			slog.String("error", err.Error()),
			slog.String("reason_code", string(errorsx.Reason(err))))
		s.loop.closeAfter(func() {
			s.err = err
			s.transition(StatusDisconnected)
		})
		<-s.loop.done
		return err
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	negDone := make(chan struct{})
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		cancel()
		_ = signaler.Close()
		return ErrStopped
	}
	s.cancel = cancel
	s.signaler = signaler
	s.negDone = negDone
	// Posted under mu so a concurrent Stop queues its transitions after it.
	s.loop.post(func() {
		s.store.Reset()
		s.transition(StatusConnecting)
	})
	s.mu.Unlock()

	s.logger.Info("session_starting",
		slog.String("provider", string(s.opts.Provider.Kind())),
		slog.String("signaler", signaler.Name()))

	go s.watch(sessionCtx)
	go s.negotiate(sessionCtx, signaler, negDone)
	return nil
}

func (s *Session) prepare(ctx context.Context) (signaling.Signaler, error) {
	if err := s.opts.Provider.ValidateCredentials(s.opts.Credentials); err != nil {
		return nil, err
	}
	return s.opts.Provider.NewSignaler(ctx, s.opts.Params, s.opts.Credentials, s.opts.Deps)
}

func (s *Session) watch(ctx context.Context) {
	<-ctx.Done()
	_ = s.Stop()
}

func (s *Session) negotiate(ctx context.Context, signaler signaling.Signaler, done chan struct{}) {
	defer close(done)

	conn, err := s.opts.Peer.NewConnection(ctx)
	if err != nil {
		s.fail(errorsx.Wrap(fmt.Errorf("create peer connection: %w", err), errorsx.ReasonNegotiationPeer))
		return
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conn = conn
	s.mu.Unlock()
	s.wirePeer(conn)

	engine := negotiation.New(negotiation.Config{
		Conn:     conn,
		Signaler: signaler,
		Logger:   s.logger,
		Observer: s.observer,
		OnConnected: func() {
			s.loop.post(s.onConnected)
		},
	})
	if err := engine.Negotiate(ctx); err != nil {
		if ctx.Err() != nil {
			s.logger.Info("session_negotiation_cancelled")
			return
		}
		s.fail(err)
		return
	}

	if err := s.opts.Capture.Start(ctx, func(f audio.Frame) { s.onFrame(conn, f) }); err != nil {
		s.logger.Warn("session_capture_failed", slog.String("error", err.Error()))
	}
}

func (s *Session) wirePeer(conn peer.Connection) {
	conn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.loop.post(func() { s.onPeerState(state) })
	})
	conn.OnRemoteAudio(func(payload []byte) {
		if err := s.opts.Playback.Play(payload); err != nil {
			s.logger.Debug("session_playback_failed", slog.String("error", err.Error()))
		}
		if _, changed := s.detector.ObservePayload(payload); changed {
			s.loop.post(func() { s.setMode(s.detector.Speaking()) })
		}
	})

	ch := conn.DataChannel()
	ch.OnOpen(func() {
		s.loop.post(func() { s.onChannelOpen(ch) })
	})
	ch.OnMessage(func(data []byte) {
		s.loop.post(func() { s.onChannelMessage(data) })
	})
	ch.OnClose(func() {
		s.loop.post(func() { s.logger.Info("session_channel_closed", slog.String("label", ch.Label())) })
	})
}

func (s *Session) onConnected() {
	if !s.transition(StatusConnected) {
		return
	}
	if !s.connectedFired {
		s.connectedFired = true
		if s.cb.OnConnect != nil {
			s.cb.OnConnect()
		}
	}
}

func (s *Session) onChannelOpen(ch peer.DataChannel) {
	s.logger.Info("session_channel_open", slog.String("label", ch.Label()))
	cfg := s.opts.Provider.BuildSessionConfig(s.opts.Params)
	s.sendMu.Lock()
	err := s.sendLocked(ch, cfg)
	s.sendMu.Unlock()
	if err != nil {
		s.logger.Warn("session_config_send_failed", slog.String("error", err.Error()))
	}
}

func (s *Session) onChannelMessage(data []byte) {
	if err := s.dispatcher.Dispatch(data); err != nil {
		return
	}
	s.publish()
}

func (s *Session) onPeerState(state webrtc.PeerConnectionState) {
	s.logger.Info("session_peer_state", slog.String("state", state.String()))
	if state == webrtc.PeerConnectionStateFailed {
		s.fail(errorsx.Newf(errorsx.ReasonPeerFailed, "peer connection failed"))
	}
}

func (s *Session) onFrame(conn peer.Connection, f audio.Frame) {
	if err := conn.WriteAudio(f.Payload, f.Duration); err != nil {
		s.logger.Debug("session_audio_write_failed", slog.String("error", err.Error()))
	}
	s.loop.post(func() {
		s.volume = f.Level
		s.publish()
		metrics.Record(s.observer, metrics.EventInputVolume, f.Level, nil)
		if s.cb.OnVolume != nil {
			s.cb.OnVolume(f.Level)
		}
	})
}

func (s *Session) onMessage(item conversation.Item) {
	s.publish()
	if s.cb.OnMessage != nil {
		s.cb.OnMessage(item)
	}
}

func (s *Session) onServerError(message string) {
	s.logger.Error("session_server_event_error", slog.String("message", message))
}

func (s *Session) onAudioActivity(speaking bool) {
	if s.detector.Force(speaking) {
		s.setMode(speaking)
	}
}

func (s *Session) setMode(speaking bool) {
	mode := ModeListening
	if speaking {
		mode = ModeSpeaking
	}
	if mode == s.mode {
		return
	}
	s.mode = mode
	s.publish()
	if s.cb.OnModeChange != nil {
		s.cb.OnModeChange(mode)
	}
}

// fail records the first fatal error, reports it and tears the session down.
func (s *Session) fail(err error) {
	s.loop.post(func() {
		if s.err != nil || s.status >= StatusDisconnecting {
			s.logger.Debug("session_late_error", slog.String("error", err.Error()))
			return
		}
		reason := errorsx.Reason(err)
		s.err = err
		s.logger.Error("session_failed",
			slog.String("error", err.Error()),
			slog.String("reason_code", string(reason)),
			slog.String("category", string(errorsx.Classify(err))))
		s.publish()
		if s.cb.OnError != nil {
			s.cb.OnError(err)
		}
		go s.Stop()
	})
}

// finish is the event loop's final closure. It passes through disconnecting
// when the session got past idle.
func (s *Session) finish() {
	if s.status == StatusConnecting || s.status == StatusConnected {
		s.transition(StatusDisconnecting)
	}
	s.transition(StatusDisconnected)
}

// transition must run on the event loop.
func (s *Session) transition(to Status) bool {
	from := s.status
	if !transitionValid(from, to) {
		s.logger.Debug("session_transition_rejected", slog.String("error", (&InvalidTransitionError{From: from, To: to}).Error()))
		return false
	}
	s.status = to
	s.publish()
	metrics.Record(s.observer, metrics.EventStatusChange, 1, map[string]string{"status": to.String()})
	s.logger.Info("session_status", slog.String("from", from.String()), slog.String("to", to.String()))
	if s.cb.OnStatusChange != nil {
		s.cb.OnStatusChange(to)
	}
	if to == StatusDisconnected && s.cb.OnDisconnect != nil {
		s.cb.OnDisconnect()
	}
	return true
}

func (s *Session) publish() {
	s.snapshot.Store(&Snapshot{
		Status: s.status,
		Mode:   s.mode,
		Volume: s.volume,
		Items:  s.store.Items(),
		Err:    s.err,
	})
}

// SendText sends a user message and asks for a response. Blank text and a
// channel that is not open are silently ignored.
func (s *Session) SendText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	ch := conn.DataChannel()

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if !ch.Open() {
		return nil
	}
	if err := s.sendLocked(ch, conversation.NewUserText(text)); err != nil {
		return err
	}
	return s.sendLocked(ch, conversation.NewResponseCreate())
}

func (s *Session) sendLocked(ch peer.DataChannel, ev conversation.Outbound) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("encode %s: %w", ev.Type, err), errorsx.ReasonPeerChannelSend)
	}
	if err := ch.SendText(string(raw)); err != nil {
		return errorsx.Wrap(fmt.Errorf("send %s: %w", ev.Type, err), errorsx.ReasonPeerChannelSend)
	}
	return nil
}

// Stop ends the session. It is safe to call at any time and more than once.
func (s *Session) Stop() error {
	s.stopOnce.Do(func() {
		if s.started.CompareAndSwap(false, true) {
			go s.loop.run()
			s.loop.closeAfter(s.finish)
			return
		}

		s.mu.Lock()
		s.stopped = true
		cancel, signaler, negDone := s.cancel, s.signaler, s.negDone
		s.loop.post(func() { s.transition(StatusDisconnecting) })
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if signaler != nil {
			if err := signaler.Close(); err != nil {
				s.logger.Warn("session_signaler_close_failed", slog.String("error", err.Error()))
			}
		}
		if negDone != nil {
			<-negDone
		}

		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if err := s.opts.Capture.Stop(); err != nil {
			s.logger.Warn("session_capture_stop_failed", slog.String("error", err.Error()))
		}
		if err := s.opts.Playback.Stop(); err != nil {
			s.logger.Warn("session_playback_stop_failed", slog.String("error", err.Error()))
		}
		if conn != nil {
			if err := conn.Close(); err != nil {
				s.logger.Warn("session_peer_close_failed", slog.String("error", err.Error()))
			}
		}
		s.loop.closeAfter(s.finish)
		s.logger.Info("session_stopped")
	})
	return nil
}

// Done is closed once the session reached disconnected and its event loop
// exited.
func (s *Session) Done() <-chan struct{} { return s.loop.done }

func (s *Session) Snapshot() Snapshot { return *s.snapshot.Load() }

func (s *Session) Status() Status { return s.snapshot.Load().Status }

func (s *Session) Mode() Mode { return s.snapshot.Load().Mode }

func (s *Session) Volume() float64 { return s.snapshot.Load().Volume }

func (s *Session) Items() []conversation.Item {
	return append([]conversation.Item(nil), s.snapshot.Load().Items...)
}

func (s *Session) Err() error { return s.snapshot.Load().Err }
