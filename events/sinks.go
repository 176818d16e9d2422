package events

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// LogSink writes events to a zerolog logger. Security events are logged at warn level.
type LogSink struct {
	logger zerolog.Logger
	types  map[EventType]bool
}

func NewLogSink(logger zerolog.Logger, types ...EventType) *LogSink {
	if len(types) == 0 {
		types = []EventType{Success, Failure, Information, Error, Security}
	}
	s := &LogSink{logger: logger, types: make(map[EventType]bool, len(types))}
	for _, t := range types {
		s.types[t] = true
	}
	return s
}

func (s *LogSink) Enabled(t EventType) bool {
	return s.types[t]
}

func (s *LogSink) Persist(_ context.Context, e *Event) error {
	var ev *zerolog.Event
	switch e.Type {
	case Security:
		ev = s.logger.Warn()
	case Error:
		ev = s.logger.Error()
	case Failure:
		ev = s.logger.Info()
	default:
		ev = s.logger.Debug()
	}
	ev = ev.Str("event", e.Name).Str("event_type", string(e.Type))
	if e.ClientID != "" {
		ev = ev.Str("client_id", e.ClientID)
	}
	if e.SubjectID != "" {
		ev = ev.Str("sub", e.SubjectID)
	}
	if e.GrantType != "" {
		ev = ev.Str("grant_type", e.GrantType)
	}
	if e.Endpoint != "" {
		ev = ev.Str("endpoint", e.Endpoint)
	}
	if len(e.Details) > 0 {
		ev = ev.Interface("details", e.Details)
	}
	ev.Msg(e.Message)
	return nil
}

// MetricsSink counts every event by name and type.
type MetricsSink struct {
	counter *prometheus.CounterVec
}

func NewMetricsSink(reg prometheus.Registerer) (*MetricsSink, error) {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oidc",
		Name:      "events_total",
		Help:      "Number of protocol events raised, by name and type.",
	}, []string{"name", "type"})
	if err := reg.Register(counter); err != nil {
		return nil, fmt.Errorf("[NewMetricsSink] register counter: %w", err)
	}
	return &MetricsSink{counter: counter}, nil
}

func (*MetricsSink) Enabled(EventType) bool { return true }

func (s *MetricsSink) Persist(_ context.Context, e *Event) error {
	s.counter.WithLabelValues(e.Name, string(e.Type)).Inc()
	return nil
}
