package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harunnryd/vocalink/pkg/errorsx"
	"github.com/harunnryd/vocalink/pkg/logging"
	"github.com/harunnryd/vocalink/pkg/redact"
	"github.com/pion/webrtc/v4"
)

// ErrClosed is returned when the signaler was closed locally.
var ErrClosed = errors.New("signaling: closed")

// Stage is the handshake progress of a SocketSignaler.
type Stage int32

const (
	StageIdle Stage = iota
	StagePingSent
	StagePongReceived
	StageOfferSent
	StageAwaitingAnswer
	StageAnswerApplied
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StagePingSent:
		return "ping_sent"
	case StagePongReceived:
		return "pong_received"
	case StageOfferSent:
		return "offer_sent"
	case StageAwaitingAnswer:
		return "awaiting_answer"
	case StageAnswerApplied:
		return "answer_applied"
	default:
		return "unknown"
	}
}

// SocketConfig configures the duplex path.
type SocketConfig struct {
	// URL is the ws(s) URL, credential query parameter included.
	URL    string
	Header http.Header
	Dialer *websocket.Dialer
	Logger *slog.Logger
}

// SocketSignaler runs the ping/pong/offer/answer handshake over a websocket
// and trickles candidates in both directions. The reader keeps running after
// the answer so late remote candidates still arrive.
type SocketSignaler struct {
	cfg    SocketConfig
	dialer *websocket.Dialer
	logger *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	stage         atomic.Int32
	closed        atomic.Bool
	closeOnce     sync.Once
	readerStarted atomic.Bool
	readDone      chan struct{}
}

func NewSocketSignaler(cfg SocketConfig) *SocketSignaler {
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{Proxy: http.ProxyFromEnvironment}
	}
	return &SocketSignaler{
		cfg:      cfg,
		dialer:   dialer,
		logger:   logging.NewComponentLogger(cfg.Logger, "signaling_socket"),
		readDone: make(chan struct{}),
	}
}

func (s *SocketSignaler) Name() string { return "websocket" }

func (s *SocketSignaler) Trickle() bool { return true }

// Stage returns the current handshake stage.
func (s *SocketSignaler) Stage() Stage {
	return Stage(s.stage.Load())
}

func (s *SocketSignaler) Negotiate(ctx context.Context, offerSDP string, sink Sink) error {
	s.logger.Info("signaling_socket_dial", slog.String("url", redact.URL(s.cfg.URL)))
	conn, resp, err := s.dialer.DialContext(ctx, s.cfg.URL, s.cfg.Header)
	if err != nil {
		if ctx.Err() != nil {
			return errorsx.Wrap(ctx.Err(), errorsx.ReasonNegotiationCancelled)
		}
		if resp != nil {
			return errorsx.Wrap(fmt.Errorf("dial signaling socket: status %d: %w", resp.StatusCode, err), errorsx.ReasonSignalingSocket)
		}
		return errorsx.Wrap(fmt.Errorf("dial signaling socket: %w", err), errorsx.ReasonSignalingSocket)
	}
	if !s.attach(conn) {
		_ = conn.Close()
		return errorsx.Wrap(ErrClosed, errorsx.ReasonNegotiationCancelled)
	}
	s.logger.Info("signaling_socket_connected")
	sink.TransportReady()

	result := NewOnce[struct{}]()
	if err := s.write(Message{Type: TypePing}); err != nil {
		return errorsx.Wrap(fmt.Errorf("send ping: %w", err), errorsx.ReasonSignalingSocket)
	}
	s.stage.Store(int32(StagePingSent))
	s.readerStarted.Store(true)
	go s.readLoop(conn, offerSDP, sink, result)

	if _, err := result.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return errorsx.Wrap(ctx.Err(), errorsx.ReasonNegotiationCancelled)
		}
		return err
	}
	return nil
}

func (s *SocketSignaler) attach(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return false
	}
	s.conn = conn
	return true
}

func (s *SocketSignaler) readLoop(conn *websocket.Conn, offerSDP string, sink Sink, result *Once[struct{}]) {
	defer close(s.readDone)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.finishRead(err, result)
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("signaling_malformed_message",
				slog.String("error", err.Error()),
				slog.String("reason_code", string(errorsx.ReasonSignalingMalformed)))
			continue
		}
		if stop := s.handle(msg, offerSDP, sink, result); stop {
			return
		}
	}
}

// handle processes one inbound message. It returns true when the loop must end.
func (s *SocketSignaler) handle(msg Message, offerSDP string, sink Sink, result *Once[struct{}]) bool {
	switch msg.Type {
	case TypePong:
		if s.Stage() != StagePingSent {
			s.logger.Debug("signaling_duplicate_pong", slog.String("stage", s.Stage().String()))
			return false
		}
		s.stage.Store(int32(StagePongReceived))
		if err := s.write(Message{Type: TypeOffer, SDP: offerSDP}); err != nil {
			s.complete(result, errorsx.Wrap(fmt.Errorf("send offer: %w", err), errorsx.ReasonSignalingSocket))
			return true
		}
		s.stage.Store(int32(StageOfferSent))
		s.stage.Store(int32(StageAwaitingAnswer))
		s.logger.Info("signaling_offer_sent", slog.Int("offer_bytes", len(offerSDP)))
	case TypeAnswer:
		switch s.Stage() {
		case StageAwaitingAnswer:
		case StageAnswerApplied:
			s.logger.Warn("signaling_duplicate_answer")
			return false
		default:
			s.complete(result, errorsx.Newf(errorsx.ReasonSignalingProtocol, "answer received before offer was sent (stage %s)", s.Stage()))
			return true
		}
		if msg.SDP == "" {
			s.complete(result, errorsx.Newf(errorsx.ReasonSignalingProtocol, "answer missing sdp"))
			return true
		}
		if err := sink.ApplyAnswer(msg.SDP); err != nil {
			s.complete(result, err)
			return true
		}
		s.stage.Store(int32(StageAnswerApplied))
		s.logger.Info("signaling_answer_applied")
		s.complete(result, nil)
	case TypeCandidate:
		if msg.Candidate == "" {
			s.logger.Debug("signaling_empty_candidate")
			return false
		}
		if err := sink.ApplyCandidate(msg.candidateInit()); err != nil {
			s.logger.Warn("signaling_remote_candidate_failed", slog.String("error", err.Error()))
		}
	case TypeError:
		err := errorsx.Newf(errorsx.ReasonSignalingServer, "signaling server error: %s", msg.Message)
		if result.Completed() {
			s.logger.Error("signaling_server_error", slog.String("message", msg.Message))
			return false
		}
		s.complete(result, err)
		return true
	default:
		s.logger.Debug("signaling_unknown_message", slog.String("type", msg.Type))
	}
	return false
}

func (s *SocketSignaler) finishRead(err error, result *Once[struct{}]) {
	if s.closed.Load() {
		s.complete(result, errorsx.Wrap(ErrClosed, errorsx.ReasonNegotiationCancelled))
		s.logger.Debug("signaling_socket_reader_stopped")
		return
	}
	if result.Completed() {
		s.logger.Info("signaling_socket_closed", slog.String("error", err.Error()))
		return
	}
	s.complete(result, errorsx.Wrap(fmt.Errorf("read signaling socket: %w", err), errorsx.ReasonSignalingSocket))
}

// complete fires the continuation, logging any attempt to fire it twice.
func (s *SocketSignaler) complete(result *Once[struct{}], err error) {
	var cerr error
	if err != nil {
		cerr = result.Reject(err)
	} else {
		cerr = result.Resolve(struct{}{})
	}
	if errors.Is(cerr, ErrAlreadyCompleted) && err != nil && !s.closed.Load() {
		s.logger.Error("signaling_completion_ignored", slog.String("error", err.Error()))
	}
}

func (s *SocketSignaler) SendCandidate(_ context.Context, c webrtc.ICECandidateInit) error {
	if err := s.write(candidateMessage(c)); err != nil {
		return errorsx.Wrap(fmt.Errorf("send candidate: %w", err), errorsx.ReasonCandidateSend)
	}
	return nil
}

func (s *SocketSignaler) write(msg Message) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil || s.closed.Load() {
		return ErrClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteJSON(msg)
}

// Close shuts the socket down, which also stops the reader.
func (s *SocketSignaler) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed.Store(true)
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
		if s.readerStarted.Load() {
			<-s.readDone
		}
		s.logger.Info("signaling_socket_closed_locally")
	})
	return nil
}
