package signaling

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// Sink receives the remote half of the negotiation. The negotiation engine
// implements it.
type Sink interface {
	// TransportReady reports that the signaling channel can carry local
	// candidates.
	TransportReady()
	// ApplyAnswer sets the remote description and flushes pending local
	// candidates. An error aborts the negotiation.
	ApplyAnswer(sdp string) error
	// ApplyCandidate hands over one remote candidate.
	ApplyCandidate(candidate webrtc.ICECandidateInit) error
}

// Signaler exchanges a local offer for a remote answer over one provider path.
type Signaler interface {
	// Name identifies the path in logs.
	Name() string
	// Negotiate delivers the offer and returns once the answer has been
	// applied to sink, or with the first fatal error.
	Negotiate(ctx context.Context, offerSDP string, sink Sink) error
	// SendCandidate transmits one local candidate.
	SendCandidate(ctx context.Context, candidate webrtc.ICECandidateInit) error
	// Trickle reports whether candidates travel separately from the offer.
	// When false, the offer is sent only after candidate gathering completes.
	Trickle() bool
	// Close releases the transport. Safe to call more than once.
	Close() error
}
