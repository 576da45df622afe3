package audio

import (
	"context"
	"math"
	"testing"
)

func TestLevel(t *testing.T) {
	if Level(nil) != 0 {
		t.Fatalf("empty input must be silent")
	}
	if got := Level([]int16{0, 0, 0}); got != 0 {
		t.Fatalf("expected 0, got %f", got)
	}
	full := Level([]int16{math.MaxInt16, math.MinInt16 + 1})
	if math.Abs(full-1) > 1e-9 {
		t.Fatalf("expected full scale, got %f", full)
	}
	half := Level([]int16{16384, -16384})
	if half < 0.49 || half > 0.51 {
		t.Fatalf("expected about 0.5, got %f", half)
	}
}

func TestModeDetectorHysteresis(t *testing.T) {
	d := NewModeDetector(3)
	if speaking, changed := d.Observe(false); speaking || changed {
		t.Fatalf("quiet start must stay listening")
	}
	if speaking, changed := d.Observe(true); !speaking || !changed {
		t.Fatalf("activity must flip to speaking at once")
	}
	d.Observe(false)
	d.Observe(false)
	if !d.Speaking() {
		t.Fatalf("two quiet packets must not end speaking with hold 3")
	}
	d.Observe(true)
	d.Observe(false)
	d.Observe(false)
	if speaking, changed := d.Observe(false); speaking || !changed {
		t.Fatalf("third consecutive quiet packet must flip to listening")
	}
}

func TestModeDetectorPayloadAndForce(t *testing.T) {
	d := NewModeDetector(0)
	if _, changed := d.ObservePayload([]byte{1, 2, 3}); changed {
		t.Fatalf("DTX-sized payload is silence")
	}
	if speaking, _ := d.ObservePayload(make([]byte, 80)); !speaking {
		t.Fatalf("voice payload must be active")
	}
	if !d.Force(false) || d.Speaking() {
		t.Fatalf("force must switch to listening")
	}
	if d.Force(false) {
		t.Fatalf("forcing the current state is not a change")
	}
}

func TestCollaboratorsAreInert(t *testing.T) {
	c := &SilentCapture{}
	if err := c.Start(context.Background(), func(Frame) { t.Fatalf("silent capture produced a frame") }); err != nil {
		t.Fatalf("start: %v", err)
	}
	_ = c.Stop()
	p := &DiscardPlayback{}
	_ = p.Play([]byte{1})
	_ = p.Play([]byte{2})
	if p.Packets() != 2 {
		t.Fatalf("expected 2 packets, got %d", p.Packets())
	}
}
