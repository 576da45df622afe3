// Package audio defines the capture and playback collaborators of a session.
// Device handling and codecs live behind these interfaces.
package audio

import (
	"context"
	"math"
	"sync"
	"time"
)

// Frame is one encoded chunk of microphone audio.
type Frame struct {
	Payload  []byte
	Duration time.Duration
	// Level is the normalized input level in [0, 1].
	Level float64
}

// Capture delivers microphone frames until stopped.
type Capture interface {
	Start(ctx context.Context, onFrame func(Frame)) error
	Stop() error
}

// Playback renders remote audio payloads.
type Playback interface {
	Play(payload []byte) error
	Stop() error
}

// Level returns the RMS level of 16-bit PCM samples, normalized to [0, 1].
func Level(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / math.MaxInt16
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms > 1 {
		return 1
	}
	return rms
}

// SilentCapture never produces frames. It is used when no microphone is
// attached, for text-only sessions.
type SilentCapture struct {
	mu      sync.Mutex
	started bool
}

func (c *SilentCapture) Start(context.Context, func(Frame)) error {
	c.mu.Lock()
	c.started = true
	c.mu.Unlock()
	return nil
}

func (c *SilentCapture) Stop() error {
	c.mu.Lock()
	c.started = false
	c.mu.Unlock()
	return nil
}

// DiscardPlayback drops remote audio and counts payloads.
type DiscardPlayback struct {
	mu      sync.Mutex
	packets int
}

func (p *DiscardPlayback) Play([]byte) error {
	p.mu.Lock()
	p.packets++
	p.mu.Unlock()
	return nil
}

func (p *DiscardPlayback) Stop() error { return nil }

// Packets returns how many payloads were handed to Play.
func (p *DiscardPlayback) Packets() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.packets
}
