package conversation

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/harunnryd/vocalink/pkg/errorsx"
	"github.com/harunnryd/vocalink/pkg/logging"
	"github.com/harunnryd/vocalink/pkg/metrics"
	"github.com/harunnryd/vocalink/pkg/redact"
)

// Handlers receive state transitions. Any of them may be nil.
type Handlers struct {
	OnItem             func(Item)
	OnAssistantMessage func(Item)
	OnUserMessage      func(Item)
	OnServerError      func(message string)
	// OnAudioActivity reports whether the provider is playing audio.
	OnAudioActivity func(speaking bool)
}

// Dispatcher classifies inbound events by type and folds them into a Store.
type Dispatcher struct {
	mu       sync.Mutex
	store    *Store
	handlers Handlers
	logger   *slog.Logger
	observer metrics.Observer
}

func NewDispatcher(store *Store, handlers Handlers, logger *slog.Logger, observer metrics.Observer) *Dispatcher {
	if store == nil {
		store = NewStore()
	}
	if observer == nil {
		observer = metrics.NoopObserver{}
	}
	return &Dispatcher{
		store:    store,
		handlers: handlers,
		logger:   logging.NewComponentLogger(logger, "dispatcher"),
		observer: observer,
	}
}

func (d *Dispatcher) Store() *Store {
	return d.store
}

// Dispatch decodes one raw message and handles it. Malformed input is
// dropped and reported as a transient error.
func (d *Dispatcher) Dispatch(raw []byte) error {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		d.logger.Warn("dispatcher_malformed_event", slog.String("error", err.Error()))
		return errorsx.Wrap(fmt.Errorf("decode peer event: %w", err), errorsx.ReasonSignalingMalformed)
	}
	d.DispatchEvent(ev)
	return nil
}

func (d *Dispatcher) DispatchEvent(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	metrics.Record(d.observer, metrics.EventDispatched, 1, map[string]string{"type": ev.Type})

	switch ev.Type {
	case EventItemCreated:
		d.itemCreated(ev)
	case EventTranscriptDelta:
		if _, ok := d.store.Append(ev.ItemID, ev.Delta); !ok {
			d.logger.Debug("dispatcher_unknown_item", slog.String("type", ev.Type), slog.String("item_id", ev.ItemID))
		}
	case EventTranscriptDone:
		item, ok := d.store.Replace(ev.ItemID, ev.Transcript)
		if !ok {
			d.logger.Debug("dispatcher_unknown_item", slog.String("type", ev.Type), slog.String("item_id", ev.ItemID))
			return
		}
		d.logger.Info("dispatcher_assistant_message", slog.String("item_id", item.ID), slog.String("text", redact.Text(item.Text)))
		if d.handlers.OnAssistantMessage != nil {
			d.handlers.OnAssistantMessage(item)
		}
	case EventInputTranscriptionDone:
		item, ok := d.store.Replace(ev.ItemID, ev.Transcript)
		if !ok {
			d.logger.Debug("dispatcher_unknown_item", slog.String("type", ev.Type), slog.String("item_id", ev.ItemID))
			return
		}
		d.logger.Info("dispatcher_user_message", slog.String("item_id", item.ID), slog.String("text", redact.Text(item.Text)))
		if d.handlers.OnUserMessage != nil {
			d.handlers.OnUserMessage(item)
		}
	case EventError:
		message := ""
		if ev.Error != nil {
			message = ev.Error.Message
		}
		d.logger.Error("dispatcher_server_error", slog.String("message", message))
		if d.handlers.OnServerError != nil {
			d.handlers.OnServerError(message)
		}
	case EventOutputAudioBufferStart, EventOutputAudioBufferStop:
		if d.handlers.OnAudioActivity != nil {
			d.handlers.OnAudioActivity(ev.Type == EventOutputAudioBufferStart)
		}
	default:
		d.logger.Debug("dispatcher_ignored_event", slog.String("type", ev.Type))
	}
}

func (d *Dispatcher) itemCreated(ev Event) {
	if ev.Item == nil {
		d.logger.Debug("dispatcher_item_missing")
		return
	}
	role, ok := ParseRole(ev.Item.Role)
	if !ok {
		d.logger.Debug("dispatcher_item_skipped", slog.String("role", ev.Item.Role))
		return
	}
	item, created := d.store.Create(ev.Item.ID, role, ev.Item.FirstText())
	if !created {
		return
	}
	if d.handlers.OnItem != nil {
		d.handlers.OnItem(item)
	}
}
