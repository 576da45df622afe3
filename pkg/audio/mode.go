package audio

import "sync"

// SilencePayloadMax is the largest Opus payload treated as silence.
// Discontinuous transmission sends packets of at most this size.
const SilencePayloadMax = 3

// DefaultHoldPackets is how many silent packets end a speaking stretch.
const DefaultHoldPackets = 25

// ModeDetector turns a stream of activity observations into a stable
// speaking/listening flag. Becoming active flips immediately; going quiet
// needs hold consecutive inactive observations.
type ModeDetector struct {
	mu       sync.Mutex
	hold     int
	quiet    int
	speaking bool
}

func NewModeDetector(hold int) *ModeDetector {
	if hold <= 0 {
		hold = DefaultHoldPackets
	}
	return &ModeDetector{hold: hold}
}

// Observe records one observation and reports the resulting state and
// whether it changed.
func (d *ModeDetector) Observe(active bool) (speaking, changed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if active {
		d.quiet = 0
		if !d.speaking {
			d.speaking = true
			return true, true
		}
		return true, false
	}
	if !d.speaking {
		return false, false
	}
	d.quiet++
	if d.quiet >= d.hold {
		d.speaking = false
		d.quiet = 0
		return false, true
	}
	return true, false
}

// ObservePayload treats any payload larger than SilencePayloadMax as active.
func (d *ModeDetector) ObservePayload(payload []byte) (speaking, changed bool) {
	return d.Observe(len(payload) > SilencePayloadMax)
}

// Force sets the state directly, as when the provider reports playback
// start or stop.
func (d *ModeDetector) Force(speaking bool) (changed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.quiet = 0
	if d.speaking == speaking {
		return false
	}
	d.speaking = speaking
	return true
}

func (d *ModeDetector) Speaking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speaking
}
