package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Status is the observable state of the listening session.
type Status string

const (
	StatusReady       Status = "ready"
	StatusListening   Status = "listening"
	StatusUnavailable Status = "unavailable"
)

// Validate enforces supported status values.
func (s Status) Validate() error {
	switch s {
	case StatusReady, StatusListening, StatusUnavailable:
		return nil
	default:
		return fmt.Errorf("unsupported status: %q", s)
	}
}

// TranscriptEvent is one recognition update for a listening episode.
type TranscriptEvent struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
}

// FinalizeReason records which path ended a listening episode.
type FinalizeReason string

const (
	FinalizeProviderFinal FinalizeReason = "provider_final"
	FinalizeStopped       FinalizeReason = "stopped"
	FinalizeTimeout       FinalizeReason = "timeout"
	FinalizeStreamEnded   FinalizeReason = "stream_ended"
)

// Validate enforces supported finalize reasons.
func (r FinalizeReason) Validate() error {
	switch r {
	case FinalizeProviderFinal, FinalizeStopped, FinalizeTimeout, FinalizeStreamEnded:
		return nil
	default:
		return fmt.Errorf("unsupported finalize reason: %q", r)
	}
}

// FinalTranscript is the single finalized transcript of an episode.
// Text may be empty when nothing was recognized before finalization.
type FinalTranscript struct {
	EpisodeID string         `json:"episode_id"`
	Text      string         `json:"text"`
	Reason    FinalizeReason `json:"reason"`
}

// AudioHandle is a playable reference to synthesized speech.
type AudioHandle struct {
	URI          string `json:"uri"`
	ContentType  string `json:"content_type"`
	VoiceID      string `json:"voice_id"`
	LanguageCode string `json:"language_code"`
}

// Validate enforces a parseable, absolute URI.
func (h AudioHandle) Validate() error {
	if strings.TrimSpace(h.URI) == "" {
		return fmt.Errorf("audio handle uri is required")
	}
	u, err := url.Parse(h.URI)
	if err != nil {
		return fmt.Errorf("audio handle uri: %w", err)
	}
	if u.Scheme == "" {
		return fmt.Errorf("audio handle uri must be absolute: %q", h.URI)
	}
	if h.VoiceID == "" {
		return fmt.Errorf("audio handle voice_id is required")
	}
	return nil
}

// Display receives user-facing updates. Calls arrive on a single goroutine in
// the order they were produced.
type Display interface {
	ShowStatus(status Status)
	ShowTranscript(text string, final bool)
	ShowTranslation(text string)
	ShowBusy(busy bool)
	ShowFailure(err error)
}

// Player plays synthesized audio.
type Player interface {
	Play(ctx context.Context, handle AudioHandle) error
}

// NopDisplay discards every update.
type NopDisplay struct{}

func (NopDisplay) ShowStatus(Status)          {}
func (NopDisplay) ShowTranscript(string, bool) {}
func (NopDisplay) ShowTranslation(string)      {}
func (NopDisplay) ShowBusy(bool)               {}
func (NopDisplay) ShowFailure(error)           {}
