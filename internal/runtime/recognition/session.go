package recognition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tiger/speakloop/api/pipeline"
	"github.com/tiger/speakloop/internal/observability/telemetry"
	"github.com/tiger/speakloop/internal/runtime/provider/contracts"
)

// DefaultMaxDuration bounds one listening episode.
const DefaultMaxDuration = time.Minute

// Handler receives session events. Calls are serialized and arrive in the
// order the session produced them. Handlers may call Stop.
type Handler interface {
	OnStatus(status pipeline.Status)
	OnTranscript(episodeID string, ev pipeline.TranscriptEvent)
	OnFinal(final pipeline.FinalTranscript)
	OnFailure(episodeID string, err error)
}

// Config wires a session to its providers.
type Config struct {
	Recognizer   contracts.Recognizer
	Source       contracts.AudioSource
	Authorizer   contracts.Authorizer
	LanguageCode string
	Format       contracts.AudioFormat
	MaxDuration  time.Duration
	Handler      Handler
	Logger       zerolog.Logger
	Telemetry    telemetry.Emitter
	NewID        func() string
}

// Validate enforces required collaborators.
func (c Config) Validate() error {
	if c.Recognizer == nil || c.Source == nil {
		return fmt.Errorf("recognizer and audio source are required")
	}
	if c.Handler == nil {
		return fmt.Errorf("handler is required")
	}
	if strings.TrimSpace(c.LanguageCode) == "" {
		return fmt.Errorf("language code is required")
	}
	if c.MaxDuration < 0 {
		return fmt.Errorf("max duration must be >=0")
	}
	return c.Format.Validate()
}

// Session owns at most one listening episode at a time.
type Session struct {
	cfg Config
	log zerolog.Logger

	mu         sync.Mutex
	status     pipeline.Status
	active     *episode
	starting   bool
	outbox     []func(Handler)
	delivering bool
}

type episode struct {
	id       string
	ctx      context.Context
	cancel   context.CancelFunc
	stream   contracts.RecognitionStream
	capture  contracts.Capture
	timer    *time.Timer
	started  time.Time
	latest   string
	finished bool
	// err holds a capture failure raised before Start installed the episode.
	err error
}

// NewSession validates cfg and returns a Ready session.
func NewSession(cfg Config) (*Session, error) {
	if cfg.Format == (contracts.AudioFormat{}) {
		cfg.Format = contracts.DefaultAudioFormat
	}
	if cfg.MaxDuration == 0 {
		cfg.MaxDuration = DefaultMaxDuration
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = telemetry.NopEmitter{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Session{
		cfg:    cfg,
		log:    cfg.Logger.With().Str("component", "recognition").Logger(),
		status: pipeline.StatusReady,
	}, nil
}

// Status returns the current session status.
func (s *Session) Status() pipeline.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Active reports the current episode id, empty when not listening.
func (s *Session) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return ""
	}
	return s.active.id
}

// Start opens capture and a recognition stream for a new episode and returns
// its id. The episode outlives ctx; use Stop to end it.
func (s *Session) Start(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.active != nil || s.starting {
		s.mu.Unlock()
		return "", fmt.Errorf("%w", pipeline.ErrAlreadyListening)
	}
	s.starting = true
	s.mu.Unlock()

	ep, err := s.open(ctx)
	if err != nil {
		s.mu.Lock()
		s.starting = false
		s.mu.Unlock()
		s.flush()
		return "", err
	}

	s.mu.Lock()
	s.starting = false
	if ep.finished {
		err := ep.err
		s.mu.Unlock()
		s.log.Warn().Err(err).Str("episode_id", ep.id).Msg("recognition failed while starting")
		s.release(ep)
		s.flush()
		return "", err
	}
	s.active = ep
	s.status = pipeline.StatusListening
	ep.timer = time.AfterFunc(s.cfg.MaxDuration, func() {
		s.finalize(ep, pipeline.FinalizeTimeout, "")
	})
	s.enqueueLocked(func(h Handler) { h.OnStatus(pipeline.StatusListening) })
	s.mu.Unlock()

	s.log.Debug().Str("episode_id", ep.id).Msg("listening started")
	go s.read(ep)
	s.flush()
	return ep.id, nil
}

// Stop finalizes the active episode with the latest partial transcript. It is
// a no-op when not listening.
func (s *Session) Stop() {
	s.mu.Lock()
	ep := s.active
	s.mu.Unlock()
	if ep == nil {
		return
	}
	s.finalize(ep, pipeline.FinalizeStopped, "")
}

func (s *Session) open(ctx context.Context) (*episode, error) {
	if err := s.authorize(ctx); err != nil {
		return nil, err
	}

	epCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream, err := s.cfg.Recognizer.Start(epCtx, contracts.RecognitionConfig{
		LanguageCode: s.cfg.LanguageCode,
		Format:       s.cfg.Format,
	})
	if err != nil {
		cancel()
		return nil, recognitionFailure(err)
	}
	ep := &episode{id: s.cfg.NewID(), ctx: epCtx, cancel: cancel, stream: stream, started: time.Now()}

	capture, err := s.cfg.Source.Open(epCtx, s.cfg.Format, func(pcm []byte) {
		s.feed(ep, pcm)
	})
	if err != nil {
		_ = stream.Close()
		cancel()
		return nil, recognitionFailure(err)
	}
	ep.capture = capture
	return ep, nil
}

func (s *Session) authorize(ctx context.Context) error {
	a := s.cfg.Authorizer
	if a == nil {
		return nil
	}
	status := a.AuthorizationStatus()
	if status == contracts.AuthorizationNotDetermined {
		requested, err := a.RequestAuthorization(ctx)
		if err != nil {
			s.log.Warn().Err(err).Msg("authorization request failed")
			requested = contracts.AuthorizationDenied
		}
		status = requested
	}
	if status == contracts.AuthorizationGranted {
		return nil
	}

	s.mu.Lock()
	if s.status != pipeline.StatusUnavailable {
		s.status = pipeline.StatusUnavailable
		s.enqueueLocked(func(h Handler) { h.OnStatus(pipeline.StatusUnavailable) })
	}
	s.mu.Unlock()
	return fmt.Errorf("authorization %s: %w", status, pipeline.ErrPermissionDenied)
}

func (s *Session) feed(ep *episode, pcm []byte) {
	if ep.ctx.Err() != nil {
		return
	}
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	if err := ep.stream.Send(buf); err != nil {
		if s.holdFailure(ep, err) {
			return
		}
		// Never tear down from inside the capture callback.
		go s.fail(ep, err)
	}
}

// holdFailure reports whether ep is not installed as the active episode. An
// episode still being started records the failure for Start to return.
func (s *Session) holdFailure(ep *episode, cause error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == ep {
		return false
	}
	if !ep.finished {
		ep.finished = true
		ep.err = recognitionFailure(cause)
	}
	return true
}

func (s *Session) read(ep *episode) {
	for {
		ev, err := ep.stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || ep.ctx.Err() != nil {
				s.finalize(ep, pipeline.FinalizeStreamEnded, "")
				return
			}
			s.fail(ep, err)
			return
		}
		if ev.IsFinal {
			s.finalize(ep, pipeline.FinalizeProviderFinal, ev.Text)
			continue
		}
		s.partial(ep, ev)
	}
}

func (s *Session) partial(ep *episode, ev pipeline.TranscriptEvent) {
	s.mu.Lock()
	if ep.finished || s.active != ep {
		s.mu.Unlock()
		return
	}
	ep.latest = ev.Text
	s.enqueueLocked(func(h Handler) { h.OnTranscript(ep.id, ev) })
	s.mu.Unlock()
	s.flush()
}

// finalize is the single convergence point for provider finality, Stop and
// the duration timer. Only the first call per episode has any effect.
func (s *Session) finalize(ep *episode, reason pipeline.FinalizeReason, text string) {
	s.mu.Lock()
	if ep.finished {
		s.mu.Unlock()
		if reason == pipeline.FinalizeProviderFinal {
			s.log.Debug().Str("episode_id", ep.id).Msg("dropped late final transcript")
			s.cfg.Telemetry.EmitLog(telemetry.LogDroppedFinal, "info", "final transcript after episode end",
				map[string]string{"text_len": strconv.Itoa(len(text))},
				telemetry.Correlation{EpisodeID: ep.id, Stage: "recognition", ProviderID: s.cfg.Recognizer.ProviderID(), EmittedBy: "session"})
		}
		return
	}
	ep.finished = true
	if strings.TrimSpace(text) == "" {
		text = ep.latest
	}
	if s.active == ep {
		s.active = nil
		s.status = pipeline.StatusReady
	}
	final := pipeline.FinalTranscript{EpisodeID: ep.id, Text: text, Reason: reason}
	s.enqueueLocked(func(h Handler) { h.OnStatus(pipeline.StatusReady) })
	s.enqueueLocked(func(h Handler) { h.OnFinal(final) })
	s.mu.Unlock()

	s.log.Debug().Str("episode_id", ep.id).Str("reason", string(reason)).Msg("episode finalized")
	s.cfg.Telemetry.EmitMetric(telemetry.MetricEpisodeDurationMS, float64(time.Since(ep.started).Milliseconds()), "ms",
		map[string]string{"reason": string(reason)},
		telemetry.Correlation{EpisodeID: ep.id, Stage: "recognition", ProviderID: s.cfg.Recognizer.ProviderID(), EmittedBy: "session"})
	s.release(ep)
	s.flush()
}

func (s *Session) fail(ep *episode, cause error) {
	s.mu.Lock()
	if ep.finished {
		s.mu.Unlock()
		return
	}
	ep.finished = true
	if s.active == ep {
		s.active = nil
		s.status = pipeline.StatusReady
	}
	err := recognitionFailure(cause)
	s.enqueueLocked(func(h Handler) { h.OnFailure(ep.id, err) })
	s.enqueueLocked(func(h Handler) { h.OnStatus(pipeline.StatusReady) })
	s.mu.Unlock()

	s.log.Warn().Err(cause).Str("episode_id", ep.id).Msg("recognition failed")
	s.release(ep)
	s.flush()
}

func (s *Session) release(ep *episode) {
	if ep.timer != nil {
		ep.timer.Stop()
	}
	if ep.capture != nil {
		if err := ep.capture.Close(); err != nil {
			s.log.Debug().Err(err).Str("episode_id", ep.id).Msg("close capture")
		}
	}
	if err := ep.stream.CloseSend(); err != nil {
		s.log.Debug().Err(err).Str("episode_id", ep.id).Msg("close send")
	}
	if err := ep.stream.Close(); err != nil {
		s.log.Debug().Err(err).Str("episode_id", ep.id).Msg("close stream")
	}
	if r, ok := ep.stream.(contracts.FrameDropReporter); ok {
		if n := r.Dropped(); n > 0 {
			s.log.Warn().Uint64("dropped_frames", n).Str("episode_id", ep.id).Msg("recognition stream dropped audio")
			s.cfg.Telemetry.EmitMetric(telemetry.MetricDroppedFrames, float64(n), "count", nil,
				telemetry.Correlation{EpisodeID: ep.id, Stage: "recognition", ProviderID: s.cfg.Recognizer.ProviderID(), EmittedBy: "session"})
		}
	}
	ep.cancel()
}

func (s *Session) enqueueLocked(fn func(Handler)) {
	s.outbox = append(s.outbox, fn)
}

// flush delivers queued events. Only one goroutine delivers at a time; a
// nested call from inside a handler returns at once and the outer loop picks
// up whatever it queued.
func (s *Session) flush() {
	s.mu.Lock()
	if s.delivering {
		s.mu.Unlock()
		return
	}
	s.delivering = true
	for len(s.outbox) > 0 {
		next := s.outbox[0]
		s.outbox[0] = nil
		s.outbox = s.outbox[1:]
		s.mu.Unlock()
		next(s.cfg.Handler)
		s.mu.Lock()
	}
	s.delivering = false
	s.mu.Unlock()
}

func recognitionFailure(err error) error {
	outcome := contracts.OutcomeOf(err)
	return pipeline.NewFailure(pipeline.KindRecognitionFailure, string(outcome.Class), outcome.Reason, err)
}
