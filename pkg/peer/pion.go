package peer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/vocalink/pkg/errorsx"
	"github.com/harunnryd/vocalink/pkg/logging"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// Config controls how pion peer connections are built.
type Config struct {
	ICE              ICEConfig
	DataChannelLabel string
	// IncludeLoopback adds loopback candidates, needed when both ends run
	// on the same host.
	IncludeLoopback bool
	// DisableAudio skips the local audio track. Remote audio is still
	// received.
	DisableAudio bool
	Logger       *slog.Logger
}

// PionFactory builds pion-backed connections.
type PionFactory struct {
	cfg Config
}

func NewPionFactory(cfg Config) *PionFactory {
	if cfg.DataChannelLabel == "" {
		cfg.DataChannelLabel = DefaultDataChannelLabel
	}
	return &PionFactory{cfg: cfg}
}

func (f *PionFactory) NewConnection(_ context.Context) (Connection, error) {
	return NewPionConnection(f.cfg)
}

// PionConnection implements Connection on a pion PeerConnection with one
// Opus track and one data channel, both created before the offer.
type PionConnection struct {
	pc     *webrtc.PeerConnection
	dc     *pionDataChannel
	track  *webrtc.TrackLocalStaticSample
	logger *slog.Logger

	mu          sync.Mutex
	remoteAudio func([]byte)
}

func NewPionConnection(cfg Config) (*PionConnection, error) {
	logger := logging.NewComponentLogger(cfg.Logger, "peer")
	label := cfg.DataChannelLabel
	if label == "" {
		label = DefaultDataChannelLabel
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("register codecs: %w", err), errorsx.ReasonNegotiationPeer)
	}
	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(cfg.IncludeLoopback)

	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithSettingEngine(settingEngine))
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICE.Servers})
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("create peer connection: %w", err), errorsx.ReasonNegotiationPeer)
	}

	c := &PionConnection{pc: pc, logger: logger}

	if cfg.DisableAudio {
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			_ = pc.Close()
			return nil, errorsx.Wrap(fmt.Errorf("add audio transceiver: %w", err), errorsx.ReasonNegotiationPeer)
		}
	} else {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			"audio", "vocalink")
		if err != nil {
			_ = pc.Close()
			return nil, errorsx.Wrap(fmt.Errorf("create audio track: %w", err), errorsx.ReasonNegotiationPeer)
		}
		sender, err := pc.AddTrack(track)
		if err != nil {
			_ = pc.Close()
			return nil, errorsx.Wrap(fmt.Errorf("add audio track: %w", err), errorsx.ReasonNegotiationPeer)
		}
		go drainRTCP(sender)
		c.track = track
	}

	dc, err := pc.CreateDataChannel(label, nil)
	if err != nil {
		_ = pc.Close()
		return nil, errorsx.Wrap(fmt.Errorf("create data channel %s: %w", label, err), errorsx.ReasonNegotiationPeer)
	}
	c.dc = &pionDataChannel{dc: dc}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		logger.Info("peer_remote_track", slog.String("codec", track.Codec().MimeType))
		go c.readRemoteAudio(track)
	})
	return c, nil
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (c *PionConnection) readRemoteAudio(track *webrtc.TrackRemote) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			c.logger.Debug("peer_remote_track_ended", slog.String("error", err.Error()))
			return
		}
		c.mu.Lock()
		fn := c.remoteAudio
		c.mu.Unlock()
		if fn != nil {
			fn(pkt.Payload)
		}
	}
}

func (c *PionConnection) CreateOffer() (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(nil)
}

func (c *PionConnection) SetLocalDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(desc)
}

func (c *PionConnection) LocalDescription() *webrtc.SessionDescription {
	return c.pc.LocalDescription()
}

func (c *PionConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(desc)
}

func (c *PionConnection) AddICECandidate(init webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(init)
}

func (c *PionConnection) GatheringComplete() <-chan struct{} {
	return webrtc.GatheringCompletePromise(c.pc)
}

func (c *PionConnection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		fn(cand.ToJSON())
	})
}

func (c *PionConnection) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	c.pc.OnConnectionStateChange(fn)
}

func (c *PionConnection) OnRemoteAudio(fn func(payload []byte)) {
	c.mu.Lock()
	c.remoteAudio = fn
	c.mu.Unlock()
}

func (c *PionConnection) WriteAudio(payload []byte, duration time.Duration) error {
	if c.track == nil {
		return nil
	}
	return c.track.WriteSample(media.Sample{Data: payload, Duration: duration})
}

func (c *PionConnection) DataChannel() DataChannel {
	return c.dc
}

func (c *PionConnection) Close() error {
	return c.pc.Close()
}

type pionDataChannel struct {
	dc *webrtc.DataChannel
}

func (d *pionDataChannel) Label() string { return d.dc.Label() }

func (d *pionDataChannel) Open() bool {
	return d.dc.ReadyState() == webrtc.DataChannelStateOpen
}

func (d *pionDataChannel) SendText(text string) error {
	return d.dc.SendText(text)
}

func (d *pionDataChannel) OnOpen(fn func()) { d.dc.OnOpen(fn) }

func (d *pionDataChannel) OnClose(fn func()) { d.dc.OnClose(fn) }

func (d *pionDataChannel) OnMessage(fn func(data []byte)) {
	d.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		fn(msg.Data)
	})
}

func (d *pionDataChannel) Close() error { return d.dc.Close() }
