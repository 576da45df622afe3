// Package mock provides an in-memory peer connection for tests. It records
// every call in order and lets the test drive candidates, state changes and
// channel traffic without any network.
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/harunnryd/vocalink/pkg/peer"
	"github.com/pion/webrtc/v4"
)

// ErrChannelClosed is returned by SendText when the channel is not open.
var ErrChannelClosed = errors.New("mock: data channel not open")

// Connection is a scriptable peer.Connection.
type Connection struct {
	mu sync.Mutex

	OfferSDP        string
	CreateOfferErr  error
	SetLocalErr     error
	SetRemoteErr    error
	AddCandidateErr error

	calls         []string
	local         *webrtc.SessionDescription
	remote        *webrtc.SessionDescription
	holdGathering bool
	gather        chan struct{}
	gatherOnce    sync.Once
	closed        bool
	audioFrames   int

	onCandidate func(webrtc.ICECandidateInit)
	onState     func(webrtc.PeerConnectionState)
	onAudio     func([]byte)

	channel *DataChannel
}

func New() *Connection {
	return &Connection{
		OfferSDP: "v=0\r\no=- 1 1 IN IP4 127.0.0.1\r\ns=mock\r\n",
		gather:   make(chan struct{}),
		channel:  &DataChannel{label: peer.DefaultDataChannelLabel},
	}
}

// Factory returns a peer.Factory that always hands out conn.
func Factory(conn *Connection) peer.Factory {
	return peer.FactoryFunc(func(context.Context) (peer.Connection, error) {
		return conn, nil
	})
}

// FailingFactory returns a peer.Factory that always fails with err.
func FailingFactory(err error) peer.Factory {
	return peer.FactoryFunc(func(context.Context) (peer.Connection, error) {
		return nil, err
	})
}

func (c *Connection) record(call string) {
	c.calls = append(c.calls, call)
}

// Calls returns the recorded calls in order.
func (c *Connection) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// HoldGathering keeps GatheringComplete open until CompleteGathering.
func (c *Connection) HoldGathering() {
	c.mu.Lock()
	c.holdGathering = true
	c.mu.Unlock()
}

func (c *Connection) CompleteGathering() {
	c.gatherOnce.Do(func() { close(c.gather) })
}

func (c *Connection) CreateOffer() (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("create_offer")
	if c.CreateOfferErr != nil {
		return webrtc.SessionDescription{}, c.CreateOfferErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: c.OfferSDP}, nil
}

func (c *Connection) SetLocalDescription(desc webrtc.SessionDescription) error {
	c.mu.Lock()
	c.record("set_local")
	if c.SetLocalErr != nil {
		err := c.SetLocalErr
		c.mu.Unlock()
		return err
	}
	c.local = &desc
	hold := c.holdGathering
	c.mu.Unlock()
	if !hold {
		c.CompleteGathering()
	}
	return nil
}

func (c *Connection) LocalDescription() *webrtc.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

func (c *Connection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("set_remote:" + desc.SDP)
	if c.SetRemoteErr != nil {
		return c.SetRemoteErr
	}
	c.remote = &desc
	return nil
}

// RemoteDescription returns the applied answer, if any.
func (c *Connection) RemoteDescription() *webrtc.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

func (c *Connection) AddICECandidate(init webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("add_candidate:" + init.Candidate)
	return c.AddCandidateErr
}

func (c *Connection) GatheringComplete() <-chan struct{} {
	return c.gather
}

func (c *Connection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onCandidate = fn
	c.mu.Unlock()
}

func (c *Connection) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *Connection) OnRemoteAudio(fn func(payload []byte)) {
	c.mu.Lock()
	c.onAudio = fn
	c.mu.Unlock()
}

func (c *Connection) WriteAudio(_ []byte, _ time.Duration) error {
	c.mu.Lock()
	c.audioFrames++
	c.mu.Unlock()
	return nil
}

// AudioFrames reports how many frames were written to the local track.
func (c *Connection) AudioFrames() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.audioFrames
}

func (c *Connection) DataChannel() peer.DataChannel {
	return c.channel
}

// Channel exposes the concrete mock channel.
func (c *Connection) Channel() *DataChannel {
	return c.channel
}

func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.record("close")
	c.mu.Unlock()
	c.channel.closeChannel()
	return nil
}

func (c *Connection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// EmitCandidate delivers a gathered local candidate to the registered handler.
func (c *Connection) EmitCandidate(init webrtc.ICECandidateInit) {
	c.mu.Lock()
	fn := c.onCandidate
	c.mu.Unlock()
	if fn != nil {
		fn(init)
	}
}

// SetState reports a connection state change.
func (c *Connection) SetState(state webrtc.PeerConnectionState) {
	c.mu.Lock()
	fn := c.onState
	c.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

// EmitAudio delivers a remote audio payload.
func (c *Connection) EmitAudio(payload []byte) {
	c.mu.Lock()
	fn := c.onAudio
	c.mu.Unlock()
	if fn != nil {
		fn(payload)
	}
}

// DataChannel is an in-memory peer.DataChannel.
type DataChannel struct {
	mu      sync.Mutex
	label   string
	open    bool
	sent    []string
	SendErr error

	onOpen    func()
	onClose   func()
	onMessage func([]byte)
}

func (d *DataChannel) Label() string { return d.label }

func (d *DataChannel) Open() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

func (d *DataChannel) SendText(text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return ErrChannelClosed
	}
	if d.SendErr != nil {
		return d.SendErr
	}
	d.sent = append(d.sent, text)
	return nil
}

// FailSends makes every following SendText fail with err. Nil clears it.
func (d *DataChannel) FailSends(err error) {
	d.mu.Lock()
	d.SendErr = err
	d.mu.Unlock()
}

// Sent returns the outbound messages in order.
func (d *DataChannel) Sent() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.sent...)
}

func (d *DataChannel) OnOpen(fn func()) {
	d.mu.Lock()
	d.onOpen = fn
	d.mu.Unlock()
}

func (d *DataChannel) OnClose(fn func()) {
	d.mu.Lock()
	d.onClose = fn
	d.mu.Unlock()
}

func (d *DataChannel) OnMessage(fn func(data []byte)) {
	d.mu.Lock()
	d.onMessage = fn
	d.mu.Unlock()
}

// SimulateOpen marks the channel open and fires the open handler.
func (d *DataChannel) SimulateOpen() {
	d.mu.Lock()
	d.open = true
	fn := d.onOpen
	d.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Deliver hands an inbound message to the message handler.
func (d *DataChannel) Deliver(data []byte) {
	d.mu.Lock()
	fn := d.onMessage
	d.mu.Unlock()
	if fn != nil {
		fn(data)
	}
}

func (d *DataChannel) Close() error {
	d.closeChannel()
	return nil
}

func (d *DataChannel) closeChannel() {
	d.mu.Lock()
	wasOpen := d.open
	d.open = false
	fn := d.onClose
	d.mu.Unlock()
	if wasOpen && fn != nil {
		fn()
	}
}
