package session

import "fmt"

// Status is the connection lifecycle of a session. disconnected is terminal;
// a stopped session is never reconnected in place.
type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusConnected
	StatusDisconnecting
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnecting:
		return "disconnecting"
	case StatusDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Mode reports whether the assistant is currently talking.
type Mode int

const (
	ModeListening Mode = iota
	ModeSpeaking
)

func (m Mode) String() string {
	if m == ModeSpeaking {
		return "speaking"
	}
	return "listening"
}

var validTransitions = map[Status][]Status{
	StatusIdle:          {StatusConnecting, StatusDisconnected},
	StatusConnecting:    {StatusConnected, StatusDisconnecting},
	StatusConnected:     {StatusDisconnecting},
	StatusDisconnecting: {StatusDisconnected},
}

func transitionValid(from, to Status) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// InvalidTransitionError reports a rejected status change.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition from %s to %s", e.From, e.To)
}
