package metrics

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

type jsonlRecord struct {
	Time   time.Time         `json:"time"`
	Name   string            `json:"name"`
	Value  float64           `json:"value"`
	Tags   map[string]string `json:"tags,omitempty"`
	Fields map[string]any    `json:"fields,omitempty"`
}

// JSONLObserver appends one JSON object per event to w. The first write
// error is kept and later events are dropped.
type JSONLObserver struct {
	mu  sync.Mutex
	enc *json.Encoder
	err error
}

func NewJSONLObserver(w io.Writer) *JSONLObserver {
	if w == nil {
		w = io.Discard
	}
	return &JSONLObserver{enc: json.NewEncoder(w)}
}

func (o *JSONLObserver) RecordEvent(ev MetricsEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return
	}
	o.err = o.enc.Encode(jsonlRecord{
		Time:   ev.Time.UTC(),
		Name:   ev.Name,
		Value:  ev.Value,
		Tags:   ev.Tags,
		Fields: ev.Fields,
	})
}

func (o *JSONLObserver) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}
