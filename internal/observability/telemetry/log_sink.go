package telemetry

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
)

// LogSink writes telemetry events as structured log lines.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink returns a sink writing at debug level, except log events which
// keep their own severity.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "telemetry").Logger()}
}

// Export writes one event.
func (s *LogSink) Export(_ context.Context, event Event) error {
	var e *zerolog.Event
	switch event.Kind {
	case EventKindLog:
		level, err := zerolog.ParseLevel(strings.ToLower(event.Log.Severity))
		if err != nil || level == zerolog.NoLevel {
			level = zerolog.InfoLevel
		}
		e = s.logger.WithLevel(level).Str("event", event.Log.Name)
		e = withAttributes(e, event.Log.Attributes)
		e = withCorrelation(e, event.Correlation)
		e.Msg(event.Log.Message)
	case EventKindMetric:
		e = s.logger.Debug().
			Str("metric", event.Metric.Name).
			Float64("value", event.Metric.Value).
			Str("unit", event.Metric.Unit)
		e = withAttributes(e, event.Metric.Attributes)
		e = withCorrelation(e, event.Correlation)
		e.Msg("metric")
	case EventKindSpan:
		e = s.logger.Debug().
			Str("span", event.Span.Name).
			Str("kind", event.Span.Kind).
			Int64("duration_ms", event.Span.EndMS-event.Span.StartMS)
		e = withAttributes(e, event.Span.Attributes)
		e = withCorrelation(e, event.Correlation)
		e.Msg("span")
	}
	return nil
}

func withAttributes(e *zerolog.Event, attrs map[string]string) *zerolog.Event {
	if len(attrs) == 0 {
		return e
	}
	d := zerolog.Dict()
	for k, v := range attrs {
		d = d.Str(k, v)
	}
	return e.Dict("attributes", d)
}

func withCorrelation(e *zerolog.Event, c Correlation) *zerolog.Event {
	if c.EpisodeID != "" {
		e = e.Str("episode_id", c.EpisodeID)
	}
	if c.Stage != "" {
		e = e.Str("stage", c.Stage)
	}
	if c.ProviderID != "" {
		e = e.Str("provider_id", c.ProviderID)
	}
	return e
}
