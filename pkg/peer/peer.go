// Package peer abstracts the WebRTC peer connection a session negotiates.
// The pion implementation is used in production; package mock provides a
// scriptable fake for tests.
package peer

import (
	"context"
	"time"

	"github.com/pion/webrtc/v4"
)

// DefaultDataChannelLabel is the label of the event channel opened with the
// offer.
const DefaultDataChannelLabel = "oai-events"

// DataChannel carries the JSON event stream.
type DataChannel interface {
	Label() string
	Open() bool
	SendText(text string) error
	OnOpen(fn func())
	OnClose(fn func())
	OnMessage(fn func(data []byte))
	Close() error
}

// Connection is the subset of a peer connection the negotiation engine and
// the session rely on.
type Connection interface {
	CreateOffer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	LocalDescription() *webrtc.SessionDescription
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(c webrtc.ICECandidateInit) error

	// GatheringComplete is closed once local candidate gathering finished.
	GatheringComplete() <-chan struct{}

	// OnICECandidate fires for every gathered local candidate. The
	// end-of-gathering marker is not delivered.
	OnICECandidate(fn func(webrtc.ICECandidateInit))
	OnConnectionStateChange(fn func(webrtc.PeerConnectionState))

	// OnRemoteAudio receives encoded payloads of the remote audio track.
	OnRemoteAudio(fn func(payload []byte))
	// WriteAudio sends one encoded frame on the local audio track.
	WriteAudio(payload []byte, duration time.Duration) error

	DataChannel() DataChannel
	Close() error
}

// Factory creates one connection per session attempt.
type Factory interface {
	NewConnection(ctx context.Context) (Connection, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context) (Connection, error)

func (f FactoryFunc) NewConnection(ctx context.Context) (Connection, error) {
	return f(ctx)
}
