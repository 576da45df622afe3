package observers

import (
	"context"
	"log/slog"
	"maps"
	"slices"

	"github.com/harunnryd/vocalink/pkg/metrics"
)

// LoggerObserver writes each metrics event as a log record named after the
// event. Dropped candidates log at warn, everything else at debug.
type LoggerObserver struct {
	log *slog.Logger
}

func NewLoggerObserver(log *slog.Logger) *LoggerObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LoggerObserver{log: log}
}

func (o *LoggerObserver) RecordEvent(ev metrics.MetricsEvent) {
	ctx := context.Background()
	level := slog.LevelDebug
	if ev.Name == metrics.EventCandidateDropped {
		level = slog.LevelWarn
	}
	if !o.log.Enabled(ctx, level) {
		return
	}
	attrs := make([]slog.Attr, 0, 1+len(ev.Tags)+len(ev.Fields))
	attrs = append(attrs, slog.Float64("value", ev.Value))
	for _, k := range slices.Sorted(maps.Keys(ev.Tags)) {
		attrs = append(attrs, slog.String(k, ev.Tags[k]))
	}
	for _, k := range slices.Sorted(maps.Keys(ev.Fields)) {
		attrs = append(attrs, slog.Any(k, ev.Fields[k]))
	}
	o.log.LogAttrs(ctx, level, "metric_"+ev.Name, attrs...)
}

type MultiObserver struct {
	list []metrics.Observer
}

func NewMultiObserver(list ...metrics.Observer) *MultiObserver {
	return &MultiObserver{list: list}
}

func (m *MultiObserver) RecordEvent(ev metrics.MetricsEvent) {
	for _, obs := range m.list {
		if obs != nil {
			obs.RecordEvent(ev)
		}
	}
}

// TaggedObserver adds fixed tags to every event. Tags already set on the
// event win.
type TaggedObserver struct {
	inner metrics.Observer
	tags  map[string]string
}

func NewTaggedObserver(inner metrics.Observer, tags map[string]string) *TaggedObserver {
	return &TaggedObserver{inner: inner, tags: copyTags(tags)}
}

func (o *TaggedObserver) RecordEvent(ev metrics.MetricsEvent) {
	if o.inner == nil {
		return
	}
	merged := make(map[string]string, len(o.tags)+len(ev.Tags))
	for k, v := range o.tags {
		merged[k] = v
	}
	for k, v := range ev.Tags {
		merged[k] = v
	}
	ev.Tags = merged
	o.inner.RecordEvent(ev)
}
