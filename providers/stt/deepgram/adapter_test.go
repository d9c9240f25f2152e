package deepgram

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tiger/speakloop/internal/runtime/provider/contracts"
)

const (
	interimHello     = `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"hello"}]}}`
	finalHelloWorld  = `{"type":"Results","is_final":true,"speech_final":true,"channel":{"alternatives":[{"transcript":"hello world"}]}}`
	metadataMessage  = `{"type":"Metadata","request_id":"req-1"}`
	errorMessageJSON = `{"type":"Error","description":"bad audio"}`
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newScriptedServer(t *testing.T, script func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Token deepgram-key" {
			t.Errorf("expected authorization header with token, got %q", got)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		q := r.URL.Query()
		if q.Get("model") != "nova-2" || q.Get("language") != "en" || q.Get("encoding") != "linear16" || q.Get("sample_rate") != "16000" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		script(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func startStream(t *testing.T, endpoint string) contracts.RecognitionStream {
	t.Helper()
	rec, err := NewRecognizer(Config{APIKey: "deepgram-key", Endpoint: endpoint, HandshakeTimeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("new recognizer: %v", err)
	}
	stream, err := rec.Start(context.Background(), contracts.RecognitionConfig{LanguageCode: "en", Format: contracts.DefaultAudioFormat})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = stream.Close() })
	return stream
}

func TestStreamPartialsThenFinalOnNormalClose(t *testing.T) {
	t.Parallel()

	srv := newScriptedServer(t, func(conn *websocket.Conn) {
		sentInterim := false
		for {
			kind, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind == websocket.BinaryMessage && !sentInterim {
				sentInterim = true
				_ = conn.WriteMessage(websocket.TextMessage, []byte(interimHello))
				continue
			}
			if kind == websocket.TextMessage && strings.Contains(string(raw), "CloseStream") {
				_ = conn.WriteMessage(websocket.TextMessage, []byte(finalHelloWorld))
				_ = conn.WriteMessage(websocket.TextMessage, []byte(metadataMessage))
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				_, _, _ = conn.ReadMessage()
				return
			}
		}
	})

	stream := startStream(t, wsURL(srv))
	if err := stream.Send([]byte{0x01, 0x02}); err != nil {
		t.Fatalf("send: %v", err)
	}

	ev, err := stream.Recv()
	if err != nil || ev.IsFinal || ev.Text != "hello" {
		t.Fatalf("expected partial hello, got %+v (%v)", ev, err)
	}
	if err := stream.CloseSend(); err != nil {
		t.Fatalf("close send: %v", err)
	}
	if err := stream.Send([]byte{0x03}); err == nil {
		t.Fatalf("expected send after CloseSend to fail")
	}

	ev, err = stream.Recv()
	if err != nil || ev.IsFinal || ev.Text != "hello world" {
		t.Fatalf("expected committed partial, got %+v (%v)", ev, err)
	}
	ev, err = stream.Recv()
	if err != nil || !ev.IsFinal || ev.Text != "hello world" {
		t.Fatalf("expected final hello world, got %+v (%v)", ev, err)
	}
	if _, err := stream.Recv(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after final, got %v", err)
	}
}

func TestCloseAfterCloseSendFlushesCloseStream(t *testing.T) {
	t.Parallel()

	received := make(chan []string, 1)
	srv := newScriptedServer(t, func(conn *websocket.Conn) {
		var got []string
		defer func() { received <- got }()
		for {
			kind, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind == websocket.BinaryMessage {
				got = append(got, "audio")
				continue
			}
			if strings.Contains(string(raw), "CloseStream") {
				got = append(got, "CloseStream")
			}
		}
	})

	stream := startStream(t, wsURL(srv))
	for i := 0; i < 3; i++ {
		if err := stream.Send([]byte{byte(i), 0x00}); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	if err := stream.CloseSend(); err != nil {
		t.Fatalf("close send: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	select {
	case got := <-received:
		want := []string{"audio", "audio", "audio", "CloseStream"}
		if strings.Join(got, ",") != strings.Join(want, ",") {
			t.Fatalf("expected %v before the socket closed, got %v", want, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server did not observe the socket closing")
	}
}

func TestSendDropsFramesPastBacklog(t *testing.T) {
	t.Parallel()

	s := &stream{
		audio:     make(chan []byte, 2),
		closeSend: make(chan struct{}),
		closed:    make(chan struct{}),
	}
	for i := 0; i < 5; i++ {
		if err := s.Send([]byte{byte(i)}); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	var reporter contracts.FrameDropReporter = s
	if got := reporter.Dropped(); got != 3 {
		t.Fatalf("expected 3 dropped frames, got %d", got)
	}
	if len(s.audio) != 2 {
		t.Fatalf("expected a full backlog of 2, got %d", len(s.audio))
	}
}

func TestStreamErrorMessageFailsRecv(t *testing.T) {
	t.Parallel()

	srv := newScriptedServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(errorMessageJSON))
		_, _, _ = conn.ReadMessage()
	})

	stream := startStream(t, wsURL(srv))
	_, err := stream.Recv()
	var pe *contracts.ProviderError
	if !errors.As(err, &pe) || pe.Outcome.Reason != "provider_stream_error" {
		t.Fatalf("expected provider stream error, got %v", err)
	}
	if !strings.Contains(err.Error(), "bad audio") {
		t.Fatalf("expected provider description in error, got %v", err)
	}
}

func TestRecvAfterCloseReturnsEOF(t *testing.T) {
	t.Parallel()

	srv := newScriptedServer(t, func(conn *websocket.Conn) {
		_, _, _ = conn.ReadMessage()
	})

	stream := startStream(t, wsURL(srv))
	done := make(chan error, 1)
	go func() {
		_, err := stream.Recv()
		done <- err
	}()
	if err := stream.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case err := <-done:
		if !errors.Is(err, io.EOF) {
			t.Fatalf("expected EOF after local close, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("recv did not return after close")
	}
}

func TestStartHandshakeRejection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   int
		expected contracts.OutcomeClass
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, expected: contracts.OutcomeBlocked},
		{name: "throttled", status: http.StatusTooManyRequests, expected: contracts.OutcomeOverload},
		{name: "server", status: http.StatusBadGateway, expected: contracts.OutcomeInfrastructureFailure},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			rec, err := NewRecognizer(Config{APIKey: "deepgram-key", Endpoint: wsURL(srv)})
			if err != nil {
				t.Fatalf("new recognizer: %v", err)
			}
			_, err = rec.Start(context.Background(), contracts.RecognitionConfig{LanguageCode: "en", Format: contracts.DefaultAudioFormat})
			if got := contracts.OutcomeOf(err).Class; got != tc.expected {
				t.Fatalf("expected %s, got %s (%v)", tc.expected, got, err)
			}
		})
	}
}

func TestNewRecognizerRequiresAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := NewRecognizer(Config{}); err == nil {
		t.Fatalf("expected missing api key error")
	}
	rec, err := NewRecognizer(Config{APIKey: "k"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.cfg.Endpoint != defaultEndpoint || rec.cfg.Model != defaultModel {
		t.Fatalf("unexpected defaults: %+v", rec.cfg)
	}
}

func TestTextJoinsCommittedSegments(t *testing.T) {
	t.Parallel()

	s := &stream{committed: []string{"hello", "there"}}
	if got := s.text("general"); got != "hello there general" {
		t.Fatalf("unexpected joined text %q", got)
	}
	if got := s.text(""); got != "hello there" {
		t.Fatalf("unexpected committed text %q", got)
	}
	if len(s.committed) != 2 {
		t.Fatalf("interim text must not be committed")
	}
}
