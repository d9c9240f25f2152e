package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tiger/speakloop/api/pipeline"
	"github.com/tiger/speakloop/internal/catalog"
	"github.com/tiger/speakloop/internal/observability/telemetry"
	"github.com/tiger/speakloop/internal/runtime/foreground"
	"github.com/tiger/speakloop/internal/runtime/provider/contracts"
	"github.com/tiger/speakloop/internal/runtime/recognition"
	"github.com/tiger/speakloop/internal/runtime/synthesis"
	"github.com/tiger/speakloop/internal/runtime/translation"
)

// ListeningPlaceholder replaces the translation while a new episode listens.
const ListeningPlaceholder = "..."

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("coordinator is closed")
	// ErrNothingToTranslate is returned by Retranslate before any final transcript.
	ErrNothingToTranslate = errors.New("no finalized transcript to translate")
	// ErrUnsupportedTarget is returned for languages not offered for the source language.
	ErrUnsupportedTarget = errors.New("unsupported target language")
)

// Config wires the coordinator to its providers and collaborators.
type Config struct {
	Recognizer  contracts.Recognizer
	Source      contracts.AudioSource
	Authorizer  contracts.Authorizer
	Format      contracts.AudioFormat
	MaxDuration time.Duration

	Translator  contracts.Translator
	Synthesizer contracts.Synthesizer

	Catalog            *catalog.Catalog
	SourceLanguageCode string
	TargetLanguage     string

	Display   pipeline.Display
	Player    pipeline.Player
	Telemetry telemetry.Emitter
	Logger    zerolog.Logger
}

// Coordinator owns the recognition session and chains each finalized
// transcript through translation, synthesis and playback.
type Coordinator struct {
	cfg       Config
	log       zerolog.Logger
	tel       telemetry.Emitter
	catalog   *catalog.Catalog
	session   *recognition.Session
	translate *translation.Stage
	synth     *synthesis.Stage
	fg        *foreground.Dispatcher

	baseCtx  context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup

	mu             sync.Mutex
	target         string
	lastTranscript string
	closed         bool
}

// New builds a coordinator and its session. The caller must Close it.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Catalog == nil {
		cfg.Catalog = catalog.Default()
	}
	if cfg.Display == nil {
		cfg.Display = pipeline.NopDisplay{}
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = telemetry.NopEmitter{}
	}
	cfg.SourceLanguageCode = strings.ToLower(strings.TrimSpace(cfg.SourceLanguageCode))
	if cfg.SourceLanguageCode == "" {
		cfg.SourceLanguageCode = catalog.DefaultCode
	}

	c := &Coordinator{
		cfg:     cfg,
		log:     cfg.Logger.With().Str("component", "coordinator").Logger(),
		tel:     cfg.Telemetry,
		catalog: cfg.Catalog,
	}

	target := strings.TrimSpace(cfg.TargetLanguage)
	if target == "" {
		target = cfg.Catalog.DefaultTarget(cfg.SourceLanguageCode)
	}
	resolved, err := c.resolveTarget(target)
	if err != nil {
		return nil, err
	}
	c.target = resolved

	if c.translate, err = translation.NewStage(cfg.Translator, cfg.Catalog, cfg.SourceLanguageCode, cfg.Logger); err != nil {
		return nil, err
	}
	if c.synth, err = synthesis.NewStage(cfg.Synthesizer, cfg.Catalog, cfg.Logger); err != nil {
		return nil, err
	}
	session, err := recognition.NewSession(recognition.Config{
		Recognizer:   cfg.Recognizer,
		Source:       cfg.Source,
		Authorizer:   cfg.Authorizer,
		LanguageCode: cfg.SourceLanguageCode,
		Format:       cfg.Format,
		MaxDuration:  cfg.MaxDuration,
		Handler:      c,
		Logger:       cfg.Logger,
		Telemetry:    cfg.Telemetry,
	})
	if err != nil {
		return nil, err
	}
	c.session = session
	c.fg = foreground.New()
	c.baseCtx, c.cancel = context.WithCancel(context.Background())
	return c, nil
}

// Start begins a listening episode. Failures are also shown on the display.
func (c *Coordinator) Start(ctx context.Context) (string, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return "", fmt.Errorf("%w", ErrClosed)
	}
	id, err := c.session.Start(ctx)
	if err != nil {
		c.post("", func(d pipeline.Display) { d.ShowFailure(err) })
		return "", err
	}
	return id, nil
}

// Stop ends the active episode. In-flight translation and synthesis continue.
func (c *Coordinator) Stop() {
	c.session.Stop()
}

// Toggle starts listening when idle and stops when listening.
func (c *Coordinator) Toggle(ctx context.Context) error {
	if c.session.Status() == pipeline.StatusListening {
		c.Stop()
		return nil
	}
	_, err := c.Start(ctx)
	return err
}

// Status reports the session status.
func (c *Coordinator) Status() pipeline.Status {
	return c.session.Status()
}

// SourceLanguageCode returns the configured speaker language.
func (c *Coordinator) SourceLanguageCode() string {
	return c.cfg.SourceLanguageCode
}

// Targets lists the target languages offered for the source language.
func (c *Coordinator) Targets() []catalog.Entry {
	return c.catalog.TargetsFor(c.cfg.SourceLanguageCode)
}

// TargetLanguage returns the selected target display name.
func (c *Coordinator) TargetLanguage() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

// SetTargetLanguage selects the target for the next finalized transcript.
func (c *Coordinator) SetTargetLanguage(name string) error {
	resolved, err := c.resolveTarget(name)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.target = resolved
	c.mu.Unlock()
	return nil
}

// Retranslate runs translation and synthesis again for the last finalized
// transcript using the current target language.
func (c *Coordinator) Retranslate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("%w", ErrClosed)
	}
	if c.lastTranscript == "" {
		return fmt.Errorf("%w", ErrNothingToTranslate)
	}
	c.dispatchLocked("", c.lastTranscript, c.target)
	return nil
}

// Wait blocks until every in-flight pipeline finished and its display
// updates were applied.
func (c *Coordinator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.inflight.Wait()
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
	}
	return c.fg.Sync(ctx)
}

// Close stops listening, waits for in-flight pipelines and stops the display
// dispatcher. Pipelines still running when ctx expires are cancelled.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.session.Stop()
	waitErr := c.Wait(ctx)
	if waitErr != nil {
		c.cancel()
	}
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := c.fg.Close(closeCtx); err != nil && waitErr == nil {
		waitErr = err
	}
	c.cancel()
	return waitErr
}

// OnStatus implements recognition.Handler.
func (c *Coordinator) OnStatus(status pipeline.Status) {
	c.post("", func(d pipeline.Display) { d.ShowStatus(status) })
	if status == pipeline.StatusListening {
		c.post("", func(d pipeline.Display) { d.ShowTranslation(ListeningPlaceholder) })
	}
}

// OnTranscript implements recognition.Handler.
func (c *Coordinator) OnTranscript(episodeID string, ev pipeline.TranscriptEvent) {
	c.post("transcript:"+episodeID, func(d pipeline.Display) { d.ShowTranscript(ev.Text, false) })
}

// OnFinal implements recognition.Handler. The pipeline is counted before the
// final is displayed, so a caller reacting to the displayed final can Wait
// for its translation.
func (c *Coordinator) OnFinal(final pipeline.FinalTranscript) {
	c.mu.Lock()
	defer c.mu.Unlock()
	translate := strings.TrimSpace(final.Text) != "" && !c.closed
	if translate {
		c.inflight.Add(1)
	}
	c.post("", func(d pipeline.Display) { d.ShowTranscript(final.Text, true) })
	if !translate {
		c.log.Info().Str("episode_id", final.EpisodeID).Str("reason", string(final.Reason)).Msg("final transcript not translated")
		return
	}
	c.lastTranscript = final.Text
	c.log.Debug().Str("episode_id", final.EpisodeID).Str("target", c.target).Msg("final transcript")
	c.launch(final.EpisodeID, final.Text, c.target)
}

// OnFailure implements recognition.Handler.
func (c *Coordinator) OnFailure(episodeID string, err error) {
	c.post("", func(d pipeline.Display) { d.ShowFailure(err) })
}

// dispatchLocked registers the pipeline with inflight while c.mu is held so
// Close never waits on a counter that can still grow.
func (c *Coordinator) dispatchLocked(episodeID, text, target string) {
	c.inflight.Add(1)
	c.launch(episodeID, text, target)
}

// launch runs one pipeline already counted in inflight.
func (c *Coordinator) launch(episodeID, text, target string) {
	go func() {
		defer c.inflight.Done()
		c.run(c.baseCtx, episodeID, text, target)
	}()
}

func (c *Coordinator) run(ctx context.Context, episodeID, text, target string) {
	c.post("", func(d pipeline.Display) { d.ShowBusy(true) })
	start := time.Now()
	res, err := c.translate.Translate(ctx, text, target)
	c.observe("translation", c.cfg.Translator.ProviderID(), episodeID, start, err)
	c.post("", func(d pipeline.Display) { d.ShowBusy(false) })
	if err != nil {
		c.post("", func(d pipeline.Display) { d.ShowFailure(err) })
		return
	}
	c.post("", func(d pipeline.Display) { d.ShowTranslation(res.Text) })

	start = time.Now()
	handle, err := c.synth.Synthesize(ctx, res.Text, target)
	c.observe("synthesis", c.cfg.Synthesizer.ProviderID(), episodeID, start, err)
	if err != nil {
		c.post("", func(d pipeline.Display) { d.ShowFailure(err) })
		return
	}
	if c.cfg.Player == nil {
		return
	}
	if err := c.cfg.Player.Play(ctx, handle); err != nil {
		c.log.Warn().Err(err).Str("uri", handle.URI).Msg("playback failed")
		c.post("", func(d pipeline.Display) { d.ShowFailure(fmt.Errorf("play audio: %w", err)) })
	}
}

func (c *Coordinator) observe(stage, providerID, episodeID string, start time.Time, err error) {
	end := time.Now()
	class := string(contracts.OutcomeSuccess)
	if err != nil {
		var failure *pipeline.Failure
		if errors.As(err, &failure) && failure.Class != "" {
			class = failure.Class
		} else {
			class = string(contracts.OutcomeOf(err).Class)
		}
	}
	corr := telemetry.Correlation{EpisodeID: episodeID, Stage: stage, ProviderID: providerID, EmittedBy: "coordinator"}
	attrs := map[string]string{"outcome_class": class}
	var pe *contracts.ProviderError
	if errors.As(err, &pe) {
		attrs["retryable"] = strconv.FormatBool(pe.Outcome.Retryable)
		if pe.Outcome.BackoffMS > 0 {
			attrs["backoff_ms"] = strconv.FormatInt(pe.Outcome.BackoffMS, 10)
		}
	}
	c.tel.EmitMetric(telemetry.MetricStageLatencyMS, float64(end.Sub(start).Milliseconds()), "ms", attrs, corr)
	c.tel.EmitSpan(stage, "stage", start.UnixMilli(), end.UnixMilli(), attrs, corr)
	if err != nil {
		c.tel.EmitMetric(telemetry.MetricStageFailures, 1, "count", attrs, corr)
	}
	c.tel.EmitMetric(telemetry.MetricDisplayQueueDepth, float64(c.fg.Stats().QueueDepth), "count", nil, corr)
}

func (c *Coordinator) post(key string, fn func(pipeline.Display)) {
	display := c.cfg.Display
	if err := c.fg.Post(key, func() { fn(display) }); err != nil {
		c.log.Debug().Err(err).Msg("display update dropped")
	}
}

func (c *Coordinator) resolveTarget(name string) (string, error) {
	for _, e := range c.catalog.TargetsFor(c.cfg.SourceLanguageCode) {
		if strings.EqualFold(e.DisplayName, strings.TrimSpace(name)) {
			return e.DisplayName, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedTarget, name)
}
