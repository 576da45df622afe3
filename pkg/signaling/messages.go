package signaling

import "github.com/pion/webrtc/v4"

// Duplex handshake message types.
const (
	TypePing      = "ping"
	TypePong      = "pong"
	TypeOffer     = "offer"
	TypeAnswer    = "answer"
	TypeCandidate = "candidate"
	TypeError     = "error"
)

// Message is a single JSON frame on the duplex signaling socket.
type Message struct {
	Type          string  `json:"type"`
	SDP           string  `json:"sdp,omitempty"`
	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
	Message       string  `json:"message,omitempty"`
}

func candidateMessage(c webrtc.ICECandidateInit) Message {
	return Message{
		Type:          TypeCandidate,
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	}
}

func (m Message) candidateInit() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:     m.Candidate,
		SDPMid:        m.SDPMid,
		SDPMLineIndex: m.SDPMLineIndex,
	}
}
