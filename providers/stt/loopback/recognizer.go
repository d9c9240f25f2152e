// Package loopback provides an offline recognizer that replays a fixed
// script as if it were being spoken.
package loopback

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/tiger/speakloop/api/pipeline"
	"github.com/tiger/speakloop/internal/runtime/provider/contracts"
)

const ProviderID = "stt-loopback"

// DefaultWordInterval paces partial results.
const DefaultWordInterval = 150 * time.Millisecond

var errClosed = errors.New("loopback stream closed")

type Config struct {
	// Script is recognized word by word. An empty script recognizes nothing.
	Script       string
	WordInterval time.Duration
	// HoldFinal keeps the stream open after the last word until CloseSend,
	// so the listener decides when the episode ends.
	HoldFinal bool
}

// Recognizer replays Config.Script for every stream it starts.
type Recognizer struct {
	cfg Config
}

func NewRecognizer(cfg Config) *Recognizer {
	if cfg.WordInterval <= 0 {
		cfg.WordInterval = DefaultWordInterval
	}
	return &Recognizer{cfg: cfg}
}

func (r *Recognizer) ProviderID() string {
	return ProviderID
}

func (r *Recognizer) Start(ctx context.Context, cfg contracts.RecognitionConfig) (contracts.RecognitionStream, error) {
	if err := cfg.Format.Validate(); err != nil {
		return nil, contracts.NewProviderError(ProviderID, contracts.ModalitySTT,
			contracts.Outcome{Class: contracts.OutcomeBlocked, Reason: "invalid_request"}, err)
	}
	s := &stream{
		words:     strings.Fields(r.cfg.Script),
		interval:  r.cfg.WordInterval,
		holdFinal: r.cfg.HoldFinal,
		closeSend: make(chan struct{}),
		closed:    make(chan struct{}),
	}
	return s, nil
}

type stream struct {
	words     []string
	interval  time.Duration
	holdFinal bool

	closeSend     chan struct{}
	closed        chan struct{}
	closeSendOnce sync.Once
	closeOnce     sync.Once

	mu        sync.Mutex
	bytesIn   int
	emitted   int
	finalSent bool
}

func (s *stream) Send(pcm []byte) error {
	select {
	case <-s.closed:
		return errClosed
	default:
	}
	s.mu.Lock()
	s.bytesIn += len(pcm)
	s.mu.Unlock()
	return nil
}

func (s *stream) CloseSend() error {
	s.closeSendOnce.Do(func() { close(s.closeSend) })
	return nil
}

func (s *stream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// Recv emits one partial per word, then a single final holding the whole
// script (or the words emitted so far when CloseSend came first).
func (s *stream) Recv() (pipeline.TranscriptEvent, error) {
	s.mu.Lock()
	done := s.finalSent
	remaining := s.emitted < len(s.words)
	s.mu.Unlock()
	if done {
		return pipeline.TranscriptEvent{}, io.EOF
	}

	if remaining {
		timer := time.NewTimer(s.interval)
		defer timer.Stop()
		select {
		case <-s.closed:
			return pipeline.TranscriptEvent{}, io.EOF
		case <-s.closeSend:
			return s.final(), nil
		case <-timer.C:
		}
		s.mu.Lock()
		s.emitted++
		text := strings.Join(s.words[:s.emitted], " ")
		s.mu.Unlock()
		return pipeline.TranscriptEvent{Text: text}, nil
	}

	if s.holdFinal {
		select {
		case <-s.closed:
			return pipeline.TranscriptEvent{}, io.EOF
		case <-s.closeSend:
		}
	}
	return s.final(), nil
}

func (s *stream) final() pipeline.TranscriptEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalSent = true
	return pipeline.TranscriptEvent{Text: strings.Join(s.words[:s.emitted], " "), IsFinal: true}
}
