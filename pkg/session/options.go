package session

import (
	"log/slog"

	"github.com/harunnryd/vocalink/pkg/audio"
	"github.com/harunnryd/vocalink/pkg/conversation"
	"github.com/harunnryd/vocalink/pkg/metrics"
	"github.com/harunnryd/vocalink/pkg/peer"
	"github.com/harunnryd/vocalink/pkg/provider"
)

// Callbacks are invoked from the session's event loop, one at a time.
// Any of them may be nil.
type Callbacks struct {
	OnStatusChange func(Status)
	OnModeChange   func(Mode)
	// OnMessage receives finalized user and assistant transcripts.
	OnMessage func(conversation.Item)
	OnVolume  func(level float64)
	// OnError receives the error that ended the session, once.
	OnError      func(error)
	OnConnect    func()
	OnDisconnect func()
}

type Options struct {
	Provider    provider.Provider
	Credentials provider.Credentials
	Params      provider.Params
	Deps        provider.Deps

	// Peer defaults to a pion factory with host candidates only.
	Peer     peer.Factory
	Capture  audio.Capture
	Playback audio.Playback

	Callbacks Callbacks
	Logger    *slog.Logger
	Observer  metrics.Observer

	// ModeHoldPackets is how many silent remote packets end a speaking
	// stretch.
	ModeHoldPackets int
}

func (o Options) withDefaults() Options {
	if o.Peer == nil {
		o.Peer = peer.NewPionFactory(peer.Config{Logger: o.Logger})
	}
	if o.Capture == nil {
		o.Capture = &audio.SilentCapture{}
	}
	if o.Playback == nil {
		o.Playback = &audio.DiscardPlayback{}
	}
	if o.Observer == nil {
		o.Observer = metrics.NoopObserver{}
	}
	if o.Deps.Logger == nil {
		o.Deps.Logger = o.Logger
	}
	return o
}
