package signaling

import (
	"context"
	"log/slog"
	"sync"

	"github.com/harunnryd/vocalink/pkg/errorsx"
	"github.com/harunnryd/vocalink/pkg/logging"
	"github.com/pion/webrtc/v4"
)

// SocketURLFunc builds the socket URL from an ephemeral credential.
type SocketURLFunc func(credential string) (string, error)

// EphemeralSocketConfig configures a socket signaler that first trades the
// API key for a session credential.
type EphemeralSocketConfig struct {
	Credentials *EphemeralKeyClient
	Params      map[string]any
	SocketURL   SocketURLFunc
	Socket      SocketConfig
	Logger      *slog.Logger
}

// EphemeralSocketSignaler runs the credential exchange and then the duplex
// handshake, both inside Negotiate so that the caller's context covers them.
type EphemeralSocketSignaler struct {
	cfg    EphemeralSocketConfig
	logger *slog.Logger

	mu     sync.Mutex
	socket *SocketSignaler
	closed bool
}

func NewEphemeralSocketSignaler(cfg EphemeralSocketConfig) *EphemeralSocketSignaler {
	return &EphemeralSocketSignaler{
		cfg:    cfg,
		logger: logging.NewComponentLogger(cfg.Logger, "signaling_ephemeral_socket"),
	}
}

func (e *EphemeralSocketSignaler) Name() string { return "ephemeral_websocket" }

func (e *EphemeralSocketSignaler) Trickle() bool { return true }

func (e *EphemeralSocketSignaler) Negotiate(ctx context.Context, offerSDP string, sink Sink) error {
	credential, err := e.cfg.Credentials.Exchange(ctx, e.cfg.Params)
	if err != nil {
		return err
	}
	rawURL, err := e.cfg.SocketURL(credential)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonConfigInvalidURL)
	}

	socketCfg := e.cfg.Socket
	socketCfg.URL = rawURL
	if socketCfg.Logger == nil {
		socketCfg.Logger = e.cfg.Logger
	}
	socket := NewSocketSignaler(socketCfg)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return errorsx.Wrap(ErrClosed, errorsx.ReasonNegotiationCancelled)
	}
	e.socket = socket
	e.mu.Unlock()

	return socket.Negotiate(ctx, offerSDP, sink)
}

func (e *EphemeralSocketSignaler) SendCandidate(ctx context.Context, c webrtc.ICECandidateInit) error {
	e.mu.Lock()
	socket := e.socket
	e.mu.Unlock()
	if socket == nil {
		return errorsx.Wrap(ErrClosed, errorsx.ReasonCandidateSend)
	}
	return socket.SendCandidate(ctx, c)
}

func (e *EphemeralSocketSignaler) Close() error {
	e.mu.Lock()
	e.closed = true
	socket := e.socket
	e.mu.Unlock()
	if socket == nil {
		return nil
	}
	return socket.Close()
}
