package telemetry

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	// MetricStageLatencyMS captures per-stage provider latency.
	MetricStageLatencyMS = "stage_latency_ms"
	// MetricStageFailures counts failed stage invocations.
	MetricStageFailures = "stage_failures_total"
	// MetricEpisodeDurationMS captures listening episode length.
	MetricEpisodeDurationMS = "episode_duration_ms"
	// MetricDisplayQueueDepth samples the foreground dispatcher backlog.
	MetricDisplayQueueDepth = "display_queue_depth"
	// MetricDroppedFrames counts captured frames a recognition stream shed.
	MetricDroppedFrames = "recognition_dropped_frames_total"

	// LogDroppedFinal names the log emitted when a late final is discarded.
	LogDroppedFinal = "dropped_final"
)

// EventKind defines telemetry payload kind.
type EventKind string

const (
	EventKindMetric EventKind = "metric"
	EventKindSpan   EventKind = "span"
	EventKindLog    EventKind = "log"
)

// Correlation ties an event to a listening episode and pipeline stage.
type Correlation struct {
	EpisodeID   string `json:"episode_id,omitempty"`
	Stage       string `json:"stage,omitempty"`
	ProviderID  string `json:"provider_id,omitempty"`
	EmittedBy   string `json:"emitted_by,omitempty"`
	TimestampMS int64  `json:"timestamp_ms,omitempty"`
}

// MetricEvent captures a metric sample payload.
type MetricEvent struct {
	Name       string            `json:"name"`
	Value      float64           `json:"value"`
	Unit       string            `json:"unit,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// SpanEvent captures a timed stage execution.
type SpanEvent struct {
	Name       string            `json:"name"`
	Kind       string            `json:"kind"`
	StartMS    int64             `json:"start_ms"`
	EndMS      int64             `json:"end_ms"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// LogEvent captures a telemetry log payload.
type LogEvent struct {
	Name       string            `json:"name"`
	Severity   string            `json:"severity"`
	Message    string            `json:"message"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Event is the normalized telemetry emission envelope.
type Event struct {
	Kind        EventKind    `json:"kind"`
	TimestampMS int64        `json:"timestamp_ms"`
	Correlation Correlation  `json:"correlation"`
	Metric      *MetricEvent `json:"metric,omitempty"`
	Span        *SpanEvent   `json:"span,omitempty"`
	Log         *LogEvent    `json:"log,omitempty"`
}

// Sink exports normalized telemetry events.
type Sink interface {
	Export(context.Context, Event) error
}

// Emitter defines a non-blocking telemetry emission handle.
type Emitter interface {
	EmitMetric(name string, value float64, unit string, attributes map[string]string, correlation Correlation)
	EmitSpan(name, kind string, startMS, endMS int64, attributes map[string]string, correlation Correlation)
	EmitLog(name, severity, message string, attributes map[string]string, correlation Correlation)
}

// NopEmitter discards every event.
type NopEmitter struct{}

func (NopEmitter) EmitMetric(string, float64, string, map[string]string, Correlation)      {}
func (NopEmitter) EmitSpan(string, string, int64, int64, map[string]string, Correlation) {}
func (NopEmitter) EmitLog(string, string, string, map[string]string, Correlation)        {}

// Config sizes the export queue.
type Config struct {
	QueueCapacity int
	ExportTimeout time.Duration
	// IdleDepthEvery keeps the first display_queue_depth sample reporting an
	// empty queue and every Nth one after it. Non-empty depths always pass.
	IdleDepthEvery int
	// Logger receives a warning when events are shed. Nil discards.
	Logger *zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.QueueCapacity < 1 {
		c.QueueCapacity = 256
	}
	if c.ExportTimeout <= 0 {
		c.ExportTimeout = 200 * time.Millisecond
	}
	if c.IdleDepthEvery < 1 {
		c.IdleDepthEvery = 1
	}
	if c.Logger == nil {
		nop := zerolog.Nop()
		c.Logger = &nop
	}
	return c
}

// shedWarnEvery spaces out shed warnings under sustained pressure.
const shedWarnEvery = 100

// Stats is a snapshot of pipeline counters.
type Stats struct {
	Accepted       uint64
	Shed           uint64
	Displaced      uint64
	Thinned        uint64
	Exported       uint64
	ExportFailures uint64
	Backlog        int
}

// Pipeline exports events from a bounded queue on one goroutine. Emit calls
// never wait on the sink. A full queue sheds ordinary events, while stage
// failures and warn or error logs displace the oldest queued event instead.
type Pipeline struct {
	sink Sink
	cfg  Config
	log  zerolog.Logger

	queue chan Event
	stop  chan struct{}
	done  chan struct{}

	closeOnce sync.Once

	accepted       atomic.Uint64
	shed           atomic.Uint64
	displaced      atomic.Uint64
	thinned        atomic.Uint64
	exported       atomic.Uint64
	exportFailures atomic.Uint64
	idleDepths     atomic.Uint64
}

type discardSink struct{}

func (discardSink) Export(context.Context, Event) error { return nil }

// NewPipeline starts the export goroutine. A nil sink discards events.
func NewPipeline(sink Sink, cfg Config) *Pipeline {
	cfg = cfg.withDefaults()
	if sink == nil {
		sink = discardSink{}
	}
	p := &Pipeline{
		sink:  sink,
		cfg:   cfg,
		log:   *cfg.Logger,
		queue: make(chan Event, cfg.QueueCapacity),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go p.run()
	return p
}

// Close exports what is still queued and stops the export goroutine.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		close(p.stop)
		<-p.done
		if shed := p.shed.Load(); shed > 0 {
			p.log.Warn().Uint64("shed", shed).Uint64("displaced", p.displaced.Load()).Msg("telemetry events lost this session")
		}
	})
	return nil
}

func (p *Pipeline) Stats() Stats {
	return Stats{
		Accepted:       p.accepted.Load(),
		Shed:           p.shed.Load(),
		Displaced:      p.displaced.Load(),
		Thinned:        p.thinned.Load(),
		Exported:       p.exported.Load(),
		ExportFailures: p.exportFailures.Load(),
		Backlog:        len(p.queue),
	}
}

func (p *Pipeline) EmitMetric(name string, value float64, unit string, attributes map[string]string, correlation Correlation) {
	ev := newEvent(EventKindMetric, correlation)
	ev.Metric = &MetricEvent{
		Name:       strings.TrimSpace(name),
		Value:      value,
		Unit:       strings.TrimSpace(unit),
		Attributes: cloneAttributes(attributes),
	}
	if ev.Metric.Name == MetricDisplayQueueDepth && value == 0 && !p.keepIdleDepth() {
		p.thinned.Add(1)
		return
	}
	p.emit(ev)
}

func (p *Pipeline) EmitSpan(name, kind string, startMS, endMS int64, attributes map[string]string, correlation Correlation) {
	ev := newEvent(EventKindSpan, correlation)
	startMS = max(startMS, 0)
	ev.Span = &SpanEvent{
		Name:       strings.TrimSpace(name),
		Kind:       strings.TrimSpace(kind),
		StartMS:    startMS,
		EndMS:      max(endMS, startMS),
		Attributes: cloneAttributes(attributes),
	}
	p.emit(ev)
}

func (p *Pipeline) EmitLog(name, severity, message string, attributes map[string]string, correlation Correlation) {
	ev := newEvent(EventKindLog, correlation)
	ev.Log = &LogEvent{
		Name:       strings.TrimSpace(name),
		Severity:   strings.ToLower(strings.TrimSpace(severity)),
		Message:    message,
		Attributes: cloneAttributes(attributes),
	}
	p.emit(ev)
}

func (p *Pipeline) keepIdleDepth() bool {
	n := p.idleDepths.Add(1)
	return (n-1)%uint64(p.cfg.IdleDepthEvery) == 0
}

func (p *Pipeline) emit(ev Event) {
	select {
	case p.queue <- ev:
		p.accepted.Add(1)
		return
	default:
	}
	if critical(ev) {
		select {
		case <-p.queue:
			p.displaced.Add(1)
		default:
		}
		select {
		case p.queue <- ev:
			p.accepted.Add(1)
			return
		default:
		}
	}
	if n := p.shed.Add(1); n == 1 || n%shedWarnEvery == 0 {
		p.log.Warn().Uint64("shed", n).Str("kind", string(ev.Kind)).
			Str("episode_id", ev.Correlation.EpisodeID).Msg("telemetry queue full, shedding events")
	}
}

// critical reports whether ev describes a failure a session report reader
// would miss.
func critical(ev Event) bool {
	switch ev.Kind {
	case EventKindMetric:
		return ev.Metric.Name == MetricStageFailures
	case EventKindLog:
		return ev.Log.Severity == "warn" || ev.Log.Severity == "error"
	}
	return false
}

func (p *Pipeline) run() {
	defer close(p.done)
	for {
		select {
		case ev := <-p.queue:
			p.export(ev)
		case <-p.stop:
			for {
				select {
				case ev := <-p.queue:
					p.export(ev)
				default:
					return
				}
			}
		}
	}
}

func (p *Pipeline) export(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ExportTimeout)
	defer cancel()
	if err := p.sink.Export(ctx, ev); err != nil {
		p.exportFailures.Add(1)
		p.log.Debug().Err(err).Str("kind", string(ev.Kind)).Msg("telemetry export failed")
		return
	}
	p.exported.Add(1)
}

func newEvent(kind EventKind, c Correlation) Event {
	c.EpisodeID = strings.TrimSpace(c.EpisodeID)
	c.Stage = strings.ToLower(strings.TrimSpace(c.Stage))
	c.ProviderID = strings.TrimSpace(c.ProviderID)
	c.EmittedBy = strings.TrimSpace(c.EmittedBy)
	if c.TimestampMS <= 0 {
		c.TimestampMS = time.Now().UnixMilli()
	}
	return Event{Kind: kind, TimestampMS: c.TimestampMS, Correlation: c}
}

func cloneAttributes(in map[string]string) map[string]string {
	var out map[string]string
	for k, v := range in {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if out == nil {
			out = make(map[string]string, len(in))
		}
		out[k] = strings.TrimSpace(v)
	}
	return out
}
