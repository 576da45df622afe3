package conversation

import (
	"strings"

	"github.com/google/uuid"
)

// Inbound event types.
const (
	EventItemCreated            = "conversation.item.created"
	EventTranscriptDelta        = "response.audio_transcript.delta"
	EventTranscriptDone         = "response.audio_transcript.done"
	EventInputTranscriptionDone = "conversation.item.input_audio_transcription.completed"
	EventError                  = "error"
	EventOutputAudioBufferStart = "output_audio_buffer.started"
	EventOutputAudioBufferStop  = "output_audio_buffer.stopped"
)

// Outbound event types.
const (
	EventItemCreate     = "conversation.item.create"
	EventResponseCreate = "response.create"
	EventSessionUpdate  = "session.update"
)

// Content is one part of a wire item.
type Content struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// WireItem is the item object carried by conversation.item.* events.
type WireItem struct {
	ID      string    `json:"id,omitempty"`
	Type    string    `json:"type,omitempty"`
	Role    string    `json:"role,omitempty"`
	Content []Content `json:"content,omitempty"`
}

// FirstText returns the first non-empty text or transcript content.
func (w *WireItem) FirstText() string {
	if w == nil {
		return ""
	}
	for _, c := range w.Content {
		if c.Text != "" {
			return c.Text
		}
		if c.Transcript != "" {
			return c.Transcript
		}
	}
	return ""
}

type WireError struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Event is the union of inbound fields the dispatcher reads.
type Event struct {
	Type       string     `json:"type"`
	EventID    string     `json:"event_id,omitempty"`
	ItemID     string     `json:"item_id,omitempty"`
	Delta      string     `json:"delta,omitempty"`
	Transcript string     `json:"transcript,omitempty"`
	Item       *WireItem  `json:"item,omitempty"`
	Error      *WireError `json:"error,omitempty"`
}

// Outbound is a client event sent over the peer channel.
type Outbound struct {
	Type     string         `json:"type"`
	EventID  string         `json:"event_id"`
	Item     *WireItem      `json:"item,omitempty"`
	Session  map[string]any `json:"session,omitempty"`
	Response map[string]any `json:"response,omitempty"`
}

// NewEventID returns a fresh client event id.
func NewEventID() string {
	return "evt_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewUserText builds the conversation.item.create event for a user message.
func NewUserText(text string) Outbound {
	return Outbound{
		Type:    EventItemCreate,
		EventID: NewEventID(),
		Item: &WireItem{
			Type:    "message",
			Role:    string(RoleUser),
			Content: []Content{{Type: "input_text", Text: text}},
		},
	}
}

// NewResponseCreate builds the event asking the model to respond.
func NewResponseCreate() Outbound {
	return Outbound{Type: EventResponseCreate, EventID: NewEventID()}
}

// NewSessionUpdate wraps a provider session configuration.
func NewSessionUpdate(session map[string]any) Outbound {
	return Outbound{Type: EventSessionUpdate, EventID: NewEventID(), Session: session}
}
