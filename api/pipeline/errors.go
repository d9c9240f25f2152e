package pipeline

import (
	"errors"
	"fmt"
)

// FailureKind is the pipeline-level error taxonomy.
type FailureKind string

const (
	KindPermissionDenied   FailureKind = "permission_denied"
	KindAlreadyListening   FailureKind = "already_listening"
	KindRecognitionFailure FailureKind = "recognition_failure"
	KindTranslationFailure FailureKind = "translation_failure"
	KindSynthesisFailure   FailureKind = "synthesis_failure"
)

var (
	// ErrPermissionDenied is returned when speech capture is not authorized.
	ErrPermissionDenied = errors.New("speech recognition permission denied")
	// ErrAlreadyListening is returned when a listening episode is already active.
	ErrAlreadyListening = errors.New("already listening")
	// ErrRecognitionFailure matches recognition failures via errors.Is.
	ErrRecognitionFailure = errors.New("recognition failed")
	// ErrTranslationFailure matches translation failures via errors.Is.
	ErrTranslationFailure = errors.New("translation failed")
	// ErrSynthesisFailure matches synthesis failures via errors.Is.
	ErrSynthesisFailure = errors.New("synthesis failed")
)

// Failure is a stage failure carrying the normalized provider outcome.
type Failure struct {
	Kind   FailureKind
	Class  string
	Reason string
	Err    error
}

// NewFailure constructs a stage failure.
func NewFailure(kind FailureKind, class, reason string, err error) *Failure {
	return &Failure{Kind: kind, Class: class, Reason: reason, Err: err}
}

func (f *Failure) Error() string {
	msg := sentinelFor(f.Kind).Error()
	if f.Reason != "" {
		msg += ": " + f.Reason
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Is matches the sentinel error for the failure kind.
func (f *Failure) Is(target error) bool {
	return target == sentinelFor(f.Kind)
}

// Validate enforces failure invariants.
func (f *Failure) Validate() error {
	if f == nil {
		return fmt.Errorf("failure is nil")
	}
	if sentinelFor(f.Kind) == errUnknownKind {
		return fmt.Errorf("unsupported failure kind: %q", f.Kind)
	}
	if f.Reason == "" {
		return fmt.Errorf("failure reason is required")
	}
	return nil
}

// KindOf classifies any pipeline error. Unclassified errors report "".
func KindOf(err error) FailureKind {
	if err == nil {
		return ""
	}
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	for _, kind := range []FailureKind{
		KindPermissionDenied, KindAlreadyListening, KindRecognitionFailure,
		KindTranslationFailure, KindSynthesisFailure,
	} {
		if errors.Is(err, sentinelFor(kind)) {
			return kind
		}
	}
	return ""
}

// Message renders a short user-visible description.
func Message(err error) string {
	switch KindOf(err) {
	case KindPermissionDenied:
		return "Speech recognition is not authorized on this device."
	case KindAlreadyListening:
		return "Already listening."
	case KindRecognitionFailure:
		return "Speech recognition failed: " + reasonOf(err)
	case KindTranslationFailure:
		return "Translation failed: " + reasonOf(err)
	case KindSynthesisFailure:
		return "Speech synthesis failed: " + reasonOf(err)
	default:
		if err == nil {
			return ""
		}
		return err.Error()
	}
}

var errUnknownKind = errors.New("unknown failure")

func sentinelFor(kind FailureKind) error {
	switch kind {
	case KindPermissionDenied:
		return ErrPermissionDenied
	case KindAlreadyListening:
		return ErrAlreadyListening
	case KindRecognitionFailure:
		return ErrRecognitionFailure
	case KindTranslationFailure:
		return ErrTranslationFailure
	case KindSynthesisFailure:
		return ErrSynthesisFailure
	default:
		return errUnknownKind
	}
}

func reasonOf(err error) string {
	var f *Failure
	if errors.As(err, &f) && f.Reason != "" {
		return f.Reason
	}
	return err.Error()
}
