package contracts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tiger/speakloop/api/pipeline"
)

// Modality defines provider families the pipeline invokes.
type Modality string

const (
	ModalitySTT       Modality = "stt"
	ModalityTranslate Modality = "translate"
	ModalityTTS       Modality = "tts"
)

// Validate enforces supported provider modality values.
func (m Modality) Validate() error {
	switch m {
	case ModalitySTT, ModalityTranslate, ModalityTTS:
		return nil
	default:
		return fmt.Errorf("unsupported modality: %q", m)
	}
}

// OutcomeClass is the normalized invocation-outcome taxonomy.
type OutcomeClass string

const (
	OutcomeSuccess               OutcomeClass = "success"
	OutcomeTimeout               OutcomeClass = "timeout"
	OutcomeOverload              OutcomeClass = "overload"
	OutcomeBlocked               OutcomeClass = "blocked"
	OutcomeInfrastructureFailure OutcomeClass = "infrastructure_failure"
	OutcomeCancelled             OutcomeClass = "cancelled"
)

// Validate enforces supported outcome classes.
func (o OutcomeClass) Validate() error {
	switch o {
	case OutcomeSuccess, OutcomeTimeout, OutcomeOverload, OutcomeBlocked, OutcomeInfrastructureFailure, OutcomeCancelled:
		return nil
	default:
		return fmt.Errorf("unsupported outcome_class: %q", o)
	}
}

// Outcome is an adapter-normalized invocation result. Retryable and BackoffMS
// are hints reported with stage telemetry; the pipeline never retries.
type Outcome struct {
	Class     OutcomeClass
	Retryable bool
	Reason    string
	BackoffMS int64
}

// Validate enforces normalized outcome invariants.
func (o Outcome) Validate() error {
	if err := o.Class.Validate(); err != nil {
		return err
	}
	if o.Class != OutcomeSuccess && o.Reason == "" {
		return fmt.Errorf("reason is required for non-success outcomes")
	}
	if o.BackoffMS < 0 {
		return fmt.Errorf("backoff_ms must be >=0")
	}
	if o.Retryable && o.Class == OutcomeSuccess {
		return fmt.Errorf("retryable cannot be true for success")
	}
	return nil
}

// ProviderError carries a non-success outcome out of an adapter call.
type ProviderError struct {
	ProviderID string
	Modality   Modality
	Outcome    Outcome
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Modality, e.ProviderID, e.Outcome.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError builds a ProviderError. A success class is coerced to
// infrastructure_failure so callers never see an error with success outcome.
func NewProviderError(providerID string, modality Modality, outcome Outcome, err error) *ProviderError {
	if outcome.Class == OutcomeSuccess || outcome.Class == "" {
		outcome.Class = OutcomeInfrastructureFailure
	}
	if outcome.Reason == "" {
		outcome.Reason = "provider_error"
	}
	return &ProviderError{ProviderID: providerID, Modality: modality, Outcome: outcome, Err: err}
}

// OutcomeOf extracts a normalized outcome from any adapter error.
func OutcomeOf(err error) Outcome {
	if err == nil {
		return Outcome{Class: OutcomeSuccess}
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Outcome
	}
	if errors.Is(err, context.Canceled) {
		return Outcome{Class: OutcomeCancelled, Reason: "provider_cancelled"}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Outcome{Class: OutcomeTimeout, Retryable: true, Reason: "provider_timeout"}
	}
	return Outcome{Class: OutcomeInfrastructureFailure, Retryable: true, Reason: "provider_transport_error"}
}

// TranslateRequest is one translation call.
type TranslateRequest struct {
	Text               string
	SourceLanguageCode string
	TargetLanguageCode string
}

// Validate enforces required translation inputs.
func (r TranslateRequest) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return fmt.Errorf("text is required")
	}
	if r.SourceLanguageCode == "" || r.TargetLanguageCode == "" {
		return fmt.Errorf("source and target language codes are required")
	}
	return nil
}

// TranslateResult is a translation provider response.
type TranslateResult struct {
	Text string
}

// SynthesisRequest is one synthesis call.
type SynthesisRequest struct {
	Text         string
	VoiceID      string
	LanguageCode string
}

// Validate enforces required synthesis inputs.
func (r SynthesisRequest) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return fmt.Errorf("text is required")
	}
	if r.VoiceID == "" {
		return fmt.Errorf("voice_id is required")
	}
	return nil
}

// Translator converts text between languages.
type Translator interface {
	ProviderID() string
	Translate(ctx context.Context, req TranslateRequest) (TranslateResult, error)
}

// Synthesizer produces playable audio for text.
type Synthesizer interface {
	ProviderID() string
	Synthesize(ctx context.Context, req SynthesisRequest) (pipeline.AudioHandle, error)
}

// AudioFormat describes PCM frames passed from capture to recognition.
type AudioFormat struct {
	SampleRate int
	Channels   int
}

// Validate enforces a usable PCM format.
func (f AudioFormat) Validate() error {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return fmt.Errorf("sample_rate and channels must be >0")
	}
	return nil
}

// DefaultAudioFormat is 16 kHz mono signed 16-bit PCM.
var DefaultAudioFormat = AudioFormat{SampleRate: 16000, Channels: 1}

// RecognitionConfig opens one recognition stream.
type RecognitionConfig struct {
	LanguageCode string
	Format       AudioFormat
}

// RecognitionStream is a single streaming recognition request. Send and
// CloseSend are called from the capture side, Recv from one reader. Recv
// returns io.EOF after the provider finishes.
type RecognitionStream interface {
	Send(pcm []byte) error
	CloseSend() error
	Recv() (pipeline.TranscriptEvent, error)
	Close() error
}

// FrameDropReporter is implemented by streams that shed audio when the
// transport falls behind.
type FrameDropReporter interface {
	Dropped() uint64
}

// Recognizer opens streaming recognition requests.
type Recognizer interface {
	ProviderID() string
	Start(ctx context.Context, cfg RecognitionConfig) (RecognitionStream, error)
}

// AuthorizationStatus is the platform permission state for speech capture.
type AuthorizationStatus string

const (
	AuthorizationGranted       AuthorizationStatus = "granted"
	AuthorizationDenied        AuthorizationStatus = "denied"
	AuthorizationRestricted    AuthorizationStatus = "restricted"
	AuthorizationNotDetermined AuthorizationStatus = "not_determined"
)

// Authorizer reports and requests speech capture permission.
type Authorizer interface {
	AuthorizationStatus() AuthorizationStatus
	RequestAuthorization(ctx context.Context) (AuthorizationStatus, error)
}

// Capture is an open audio input. Close stops delivery of frames.
type Capture interface {
	Close() error
}

// AudioSource opens audio input. onFrame is invoked from the source's own
// goroutine and must not block for long.
type AudioSource interface {
	Open(ctx context.Context, format AudioFormat, onFrame func(pcm []byte)) (Capture, error)
}

// StaticTranslator is a small utility translator for tests and offline runs.
type StaticTranslator struct {
	ID          string
	TranslateFn func(context.Context, TranslateRequest) (TranslateResult, error)
}

func (s StaticTranslator) ProviderID() string {
	return s.ID
}

func (s StaticTranslator) Translate(ctx context.Context, req TranslateRequest) (TranslateResult, error) {
	if s.TranslateFn != nil {
		return s.TranslateFn(ctx, req)
	}
	if err := req.Validate(); err != nil {
		return TranslateResult{}, err
	}
	return TranslateResult{Text: "[" + req.TargetLanguageCode + "] " + req.Text}, nil
}

// StaticSynthesizer is a small utility synthesizer for tests and offline runs.
type StaticSynthesizer struct {
	ID           string
	SynthesizeFn func(context.Context, SynthesisRequest) (pipeline.AudioHandle, error)
}

func (s StaticSynthesizer) ProviderID() string {
	return s.ID
}

func (s StaticSynthesizer) Synthesize(ctx context.Context, req SynthesisRequest) (pipeline.AudioHandle, error) {
	if s.SynthesizeFn != nil {
		return s.SynthesizeFn(ctx, req)
	}
	if err := req.Validate(); err != nil {
		return pipeline.AudioHandle{}, err
	}
	return pipeline.AudioHandle{
		URI:          "memory://" + req.VoiceID,
		ContentType:  "audio/mpeg",
		VoiceID:      req.VoiceID,
		LanguageCode: req.LanguageCode,
	}, nil
}
