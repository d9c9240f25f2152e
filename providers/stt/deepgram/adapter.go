package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tiger/speakloop/api/pipeline"
	"github.com/tiger/speakloop/internal/runtime/provider/contracts"
	"github.com/tiger/speakloop/providers/common/httpadapter"
)

const ProviderID = "stt-deepgram"

const (
	defaultEndpoint   = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-2"
	audioBacklog      = 256
	keepAliveInterval = 5 * time.Second
	closeFlushTimeout = 2 * time.Second
)

var errStreamClosed = errors.New("deepgram stream closed")

type Config struct {
	APIKey           string
	Endpoint         string
	Model            string
	HandshakeTimeout time.Duration
}

// Recognizer opens Deepgram live transcription websockets.
type Recognizer struct {
	cfg    Config
	dialer *websocket.Dialer
}

func NewRecognizer(cfg Config) (*Recognizer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("deepgram api key is required")
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = defaultModel
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	return &Recognizer{
		cfg:    cfg,
		dialer: &websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: cfg.HandshakeTimeout},
	}, nil
}

func (r *Recognizer) ProviderID() string {
	return ProviderID
}

// Start dials a live transcription socket for 16-bit linear PCM.
func (r *Recognizer) Start(ctx context.Context, cfg contracts.RecognitionConfig) (contracts.RecognitionStream, error) {
	if err := cfg.Format.Validate(); err != nil {
		return nil, contracts.NewProviderError(ProviderID, contracts.ModalitySTT,
			contracts.Outcome{Class: contracts.OutcomeBlocked, Reason: "invalid_request"}, err)
	}
	endpoint, err := httpadapter.WithQuery(r.cfg.Endpoint, map[string]string{
		"model":           r.cfg.Model,
		"language":        cfg.LanguageCode,
		"encoding":        "linear16",
		"sample_rate":     strconv.Itoa(cfg.Format.SampleRate),
		"channels":        strconv.Itoa(cfg.Format.Channels),
		"interim_results": "true",
		"punctuate":       "true",
	})
	if err != nil {
		return nil, contracts.NewProviderError(ProviderID, contracts.ModalitySTT,
			contracts.Outcome{Class: contracts.OutcomeBlocked, Reason: "provider_config_error"}, err)
	}

	header := http.Header{}
	header.Set("Authorization", "Token "+r.cfg.APIKey)
	conn, resp, err := r.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		outcome := httpadapter.NormalizeNetworkError(err)
		if resp != nil {
			outcome = httpadapter.NormalizeStatus(resp.StatusCode, resp.Header.Get("Retry-After"))
			_ = resp.Body.Close()
		}
		return nil, contracts.NewProviderError(ProviderID, contracts.ModalitySTT, outcome, err)
	}

	s := &stream{
		conn:      conn,
		audio:     make(chan []byte, audioBacklog),
		closeSend: make(chan struct{}),
		closed:    make(chan struct{}),
		written:   make(chan struct{}),
	}
	go s.writeLoop()
	return s, nil
}

type stream struct {
	conn *websocket.Conn

	audio     chan []byte
	closeSend chan struct{}
	closed    chan struct{}
	// written is closed when writeLoop exits.
	written chan struct{}

	closeSendOnce sync.Once
	closeOnce     sync.Once
	dropped       atomic.Uint64

	// Recv state, owned by the single reader.
	committed []string
	finalSent bool

	errMu    sync.Mutex
	writeErr error
}

// Send queues a PCM frame. It never blocks; frames past the backlog are
// dropped and counted.
func (s *stream) Send(pcm []byte) error {
	select {
	case <-s.closed:
		return errStreamClosed
	case <-s.closeSend:
		return errStreamClosed
	default:
	}
	if err := s.err(); err != nil {
		return err
	}
	select {
	case s.audio <- pcm:
	default:
		s.dropped.Add(1)
	}
	return nil
}

// CloseSend asks the server to flush pending results and end the stream.
func (s *stream) CloseSend() error {
	s.closeSendOnce.Do(func() { close(s.closeSend) })
	return nil
}

// Close tears down the socket. After CloseSend it first gives the writer up
// to closeFlushTimeout to flush queued audio and CloseStream.
func (s *stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		select {
		case <-s.closeSend:
			timer := time.NewTimer(closeFlushTimeout)
			select {
			case <-s.written:
			case <-timer.C:
			}
			timer.Stop()
		default:
		}
		close(s.closed)
		err = s.conn.Close()
	})
	return err
}

var _ contracts.FrameDropReporter = (*stream)(nil)

// Dropped reports frames discarded because the socket fell behind.
func (s *stream) Dropped() uint64 {
	return s.dropped.Load()
}

// Recv returns interim results as partial events. A final event carrying
// every committed segment is returned once when the server closes the
// socket normally; io.EOF follows.
func (s *stream) Recv() (pipeline.TranscriptEvent, error) {
	for {
		if s.finalSent {
			return pipeline.TranscriptEvent{}, io.EOF
		}
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closed:
				return pipeline.TranscriptEvent{}, io.EOF
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.finalSent = true
				return pipeline.TranscriptEvent{Text: s.text(""), IsFinal: true}, nil
			}
			return pipeline.TranscriptEvent{}, contracts.NewProviderError(ProviderID, contracts.ModalitySTT,
				httpadapter.NormalizeNetworkError(err), err)
		}

		var msg message
		if err := json.Unmarshal(raw, &msg); err != nil {
			return pipeline.TranscriptEvent{}, contracts.NewProviderError(ProviderID, contracts.ModalitySTT,
				contracts.Outcome{Class: contracts.OutcomeInfrastructureFailure, Reason: "provider_decode_error"}, err)
		}
		switch msg.Type {
		case "Results":
		case "Error":
			return pipeline.TranscriptEvent{}, contracts.NewProviderError(ProviderID, contracts.ModalitySTT,
				contracts.Outcome{Class: contracts.OutcomeInfrastructureFailure, Retryable: true, Reason: "provider_stream_error"},
				fmt.Errorf("%s", strings.TrimSpace(msg.Description)))
		default:
			continue
		}

		segment := msg.transcript()
		if msg.IsFinal {
			if segment != "" {
				s.committed = append(s.committed, segment)
			}
			return pipeline.TranscriptEvent{Text: s.text("")}, nil
		}
		if segment == "" {
			continue
		}
		return pipeline.TranscriptEvent{Text: s.text(segment)}, nil
	}
}

func (s *stream) text(interim string) string {
	parts := s.committed
	if interim != "" {
		parts = append(parts[:len(parts):len(parts)], interim)
	}
	return strings.Join(parts, " ")
}

func (s *stream) writeLoop() {
	defer close(s.written)
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closed:
			return
		case pcm := <-s.audio:
			if err := s.conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
				s.setErr(err)
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"KeepAlive"}`)); err != nil {
				s.setErr(err)
				return
			}
		case <-s.closeSend:
			if err := s.drain(); err != nil {
				s.setErr(err)
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); err != nil {
				s.setErr(err)
			}
			return
		}
	}
}

// drain writes audio still queued when CloseSend was called.
func (s *stream) drain() error {
	for {
		select {
		case pcm := <-s.audio:
			if err := s.conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (s *stream) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.writeErr == nil {
		s.writeErr = contracts.NewProviderError(ProviderID, contracts.ModalitySTT, httpadapter.NormalizeNetworkError(err), err)
	}
}

func (s *stream) err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.writeErr
}

type message struct {
	Type        string  `json:"type"`
	IsFinal     bool    `json:"is_final"`
	Channel     channel `json:"channel"`
	Description string  `json:"description"`
}

type channel struct {
	Alternatives []struct {
		Transcript string `json:"transcript"`
	} `json:"alternatives"`
}

func (m message) transcript() string {
	if len(m.Channel.Alternatives) == 0 {
		return ""
	}
	return strings.TrimSpace(m.Channel.Alternatives[0].Transcript)
}
