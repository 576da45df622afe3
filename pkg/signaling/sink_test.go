package signaling

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
)

// recordingSink captures what a signaler delivers, in order.
type recordingSink struct {
	mu         sync.Mutex
	calls      []string
	answers    []string
	candidates []webrtc.ICECandidateInit
	answerErr  error
}

func (r *recordingSink) TransportReady() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "ready")
}

func (r *recordingSink) ApplyAnswer(sdp string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "answer")
	r.answers = append(r.answers, sdp)
	return r.answerErr
}

func (r *recordingSink) ApplyCandidate(c webrtc.ICECandidateInit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "candidate:"+c.Candidate)
	r.candidates = append(r.candidates, c)
	if c.Candidate == "bad" {
		return errors.New("rejected candidate")
	}
	return nil
}

func (r *recordingSink) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}
