package deepgram

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"interviewcoach/internal/ports"
)

func TestNewEngineDefaults(t *testing.T) {
	t.Parallel()

	e := NewEngine(Config{}, nil)
	if e.cfg.APIBaseURL != "https://api.deepgram.com/v1" {
		t.Fatalf("unexpected base url: %q", e.cfg.APIBaseURL)
	}
	if e.cfg.Model != "nova-2" {
		t.Fatalf("unexpected model: %q", e.cfg.Model)
	}
	if e.cfg.SampleRate != 16000 || e.cfg.Channels != 1 {
		t.Fatalf("unexpected audio defaults: %+v", e.cfg)
	}
}

func TestEngineStartRequiresAPIKey(t *testing.T) {
	t.Parallel()

	e := NewEngine(Config{APIKey: ""}, nil)
	if err := e.Start(); err == nil {
		t.Fatalf("expected missing key error")
	}
}

func TestEngineStreamsResultsAndEndsOnStop(t *testing.T) {
	t.Parallel()

	server := newFakeDeepgram(t, func(conn *websocket.Conn) {
		for {
			kind, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind == websocket.BinaryMessage {
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"hello"}]}}`))
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"hello world"}]}}`))
				continue
			}
			if strings.Contains(string(payload), "CloseStream") {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		}
	})

	e := NewEngine(Config{APIKey: "key", APIBaseURL: server}, nil)
	if err := e.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	expectEvent(t, e, ports.EngineStarted)

	if err := e.Start(); !errors.Is(err, ports.ErrEngineRunning) {
		t.Fatalf("expected running error, got %v", err)
	}

	e.Feed([]byte{0, 1, 2, 3})
	partial := expectEvent(t, e, ports.EngineResult)
	if partial.Segments[0].Final || partial.Segments[0].Text != "hello" {
		t.Fatalf("unexpected interim segment: %+v", partial.Segments)
	}
	final := expectEvent(t, e, ports.EngineResult)
	if !final.Segments[0].Final || final.Segments[0].Text != "hello world" {
		t.Fatalf("unexpected final segment: %+v", final.Segments)
	}

	if err := e.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	expectEvent(t, e, ports.EngineEnded)

	if err := e.Start(); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	expectEvent(t, e, ports.EngineStarted)
	_ = e.Stop()
}

func TestEngineReportsProviderError(t *testing.T) {
	t.Parallel()

	server := newFakeDeepgram(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Error","message":"boom"}`))
		_, _, _ = conn.ReadMessage()
	})

	e := NewEngine(Config{APIKey: "key", APIBaseURL: server}, nil)
	if err := e.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	expectEvent(t, e, ports.EngineStarted)

	ev := expectEvent(t, e, ports.EngineError)
	if ev.ErrorCode != CodeNetwork || ev.Err == nil || ev.Err.Error() != "boom" {
		t.Fatalf("unexpected error event: %+v", ev)
	}
	expectEvent(t, e, ports.EngineEnded)
}

func TestFeedWithoutStreamIsDropped(t *testing.T) {
	t.Parallel()

	e := NewEngine(Config{APIKey: "key"}, nil)
	e.Feed([]byte("x"))
	if err := e.Stop(); err != nil {
		t.Fatalf("stop without stream failed: %v", err)
	}
}

func TestBuildListenURLDefaults(t *testing.T) {
	t.Parallel()

	url, err := buildListenURL(Config{APIBaseURL: "https://api.deepgram.com/v1", Model: "nova-2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, want := range []string{"wss://api.deepgram.com/v1/listen", "encoding=linear16", "sample_rate=16000", "channels=1", "interim_results=true"} {
		if !strings.Contains(url, want) {
			t.Fatalf("expected %q in url: %s", want, url)
		}
	}
}

func TestBuildListenURLWithLanguageAndSmartFormat(t *testing.T) {
	t.Parallel()

	url, err := buildListenURL(Config{APIBaseURL: "http://localhost:8080/v1", Model: "m", Language: "en-US", SmartFormat: true, SampleRate: 8000, Channels: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, want := range []string{"ws://localhost:8080/v1/listen", "language=en-US", "smart_format=true", "sample_rate=8000", "channels=2"} {
		if !strings.Contains(url, want) {
			t.Fatalf("expected %q in url: %s", want, url)
		}
	}
}

func TestBuildListenURLInvalidBase(t *testing.T) {
	t.Parallel()

	_, err := buildListenURL(Config{APIBaseURL: ":// bad"})
	if err == nil {
		t.Fatalf("expected invalid base url error")
	}
}

func TestExtractTranscript(t *testing.T) {
	t.Parallel()

	r1 := deepgramResponse{}
	r1.Channel.Alternatives = append(r1.Channel.Alternatives, struct {
		Transcript string "json:\"transcript\""
	}{Transcript: " channel "})
	if got := extractTranscript(r1); got != "channel" {
		t.Fatalf("unexpected transcript from channel: %q", got)
	}

	if got := extractTranscript(deepgramResponse{}); got != "" {
		t.Fatalf("expected empty transcript, got %q", got)
	}
}

func TestErrorCodeForCredentials(t *testing.T) {
	t.Parallel()

	if got := errorCode(&providerError{message: "Unauthorized: bad credentials"}); got != CodeServiceNotAllowed {
		t.Fatalf("expected service-not-allowed, got %q", got)
	}
	if got := errorCode(errors.New("read tcp: reset")); got != CodeNetwork {
		t.Fatalf("expected network, got %q", got)
	}
}

func TestStreamingSessionSendAudioClosed(t *testing.T) {
	t.Parallel()

	s := &streamingSession{sendClosed: true}
	if err := s.SendAudio([]byte("x")); err == nil {
		t.Fatalf("expected closed error")
	}
}

func TestStreamingSessionSetErrIgnoresCloseErrors(t *testing.T) {
	t.Parallel()

	s := &streamingSession{}
	s.setErr(&websocket.CloseError{Code: websocket.CloseNormalClosure, Text: "closed"})
	if s.waitErr() != nil {
		t.Fatalf("expected close error to be ignored")
	}

	s.setErr(errors.New("first"))
	s.setErr(errors.New("second"))
	if s.waitErr() == nil || s.waitErr().Error() != "first" {
		t.Fatalf("expected first error to win")
	}
}

func newFakeDeepgram(t *testing.T, handle func(conn *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func expectEvent(t *testing.T, e *Engine, kind ports.EngineEventKind) ports.EngineEvent {
	t.Helper()
	select {
	case ev := <-e.Events():
		if ev.Kind != kind {
			t.Fatalf("expected %s event, got %+v", kind, ev)
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s event", kind)
	}
	return ports.EngineEvent{}
}
