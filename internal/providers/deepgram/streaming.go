package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"interviewcoach/internal/ports"
)

const dialTimeout = 10 * time.Second

// Error codes reported on ports.EngineError events.
const (
	CodeNetwork           = "network"
	CodeServiceNotAllowed = "service-not-allowed"
)

var errBackpressure = errors.New("audio stream is congested")

// Config controls Deepgram websocket settings.
type Config struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	Language    string
	SmartFormat bool

	SampleRate int
	Channels   int
}

// Engine implements ports.RecognitionEngine over Deepgram live streaming.
// Audio arrives through Feed; each Start opens a fresh stream.
type Engine struct {
	cfg    Config
	dialer *websocket.Dialer
	log    logrus.FieldLogger

	events chan ports.EngineEvent

	mu      sync.Mutex
	session *streamingSession
}

func NewEngine(cfg Config, log logrus.FieldLogger) *Engine {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.deepgram.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Engine{
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
		log:    log.WithField("component", "deepgram"),
		events: make(chan ports.EngineEvent, 64),
	}
}

func (e *Engine) Events() <-chan ports.EngineEvent {
	return e.events
}

// Start opens a live stream. It returns ports.ErrEngineRunning when a
// stream is already open.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session != nil {
		return ports.ErrEngineRunning
	}
	if strings.TrimSpace(e.cfg.APIKey) == "" {
		return errors.New("DEEPGRAM_API_KEY is not configured")
	}

	wsURL, err := buildListenURL(e.cfg)
	if err != nil {
		return err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+e.cfg.APIKey)

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	conn, resp, err := e.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("deepgram rejected credentials (%s): %w", resp.Status, err)
		}
		return fmt.Errorf("failed to connect to Deepgram websocket: %w", err)
	}

	session := newStreamingSession(conn, func(segment ports.RecognitionSegment) {
		e.emit(ports.EngineEvent{Kind: ports.EngineResult, Segments: []ports.RecognitionSegment{segment}})
	})
	e.session = session
	go e.watch(session)

	e.log.Info("recognition stream opened")
	e.emit(ports.EngineEvent{Kind: ports.EngineStarted})
	return nil
}

// Stop flushes and closes the current stream. The ended event follows
// asynchronously.
func (e *Engine) Stop() error {
	e.mu.Lock()
	session := e.session
	e.mu.Unlock()

	if session == nil {
		return nil
	}
	err := session.Close()

	e.mu.Lock()
	if e.session == session {
		e.session = nil
	}
	e.mu.Unlock()
	return err
}

// Feed forwards raw PCM to the open stream, dropping it when no stream is
// open.
func (e *Engine) Feed(pcm []byte) {
	e.mu.Lock()
	session := e.session
	e.mu.Unlock()

	if session == nil {
		return
	}
	if err := session.SendAudio(pcm); err != nil && !errors.Is(err, errBackpressure) {
		e.log.WithError(err).Debug("dropping audio for closed stream")
	}
}

func (e *Engine) watch(session *streamingSession) {
	err := session.Wait()

	e.mu.Lock()
	if e.session == session {
		e.session = nil
	}
	e.mu.Unlock()

	if err != nil {
		e.log.WithError(err).Warn("recognition stream failed")
		e.emit(ports.EngineEvent{Kind: ports.EngineError, ErrorCode: errorCode(err), Err: err})
	}
	e.log.Info("recognition stream closed")
	e.emit(ports.EngineEvent{Kind: ports.EngineEnded})
}

func (e *Engine) emit(event ports.EngineEvent) {
	e.events <- event
}

func errorCode(err error) string {
	var providerErr *providerError
	if errors.As(err, &providerErr) {
		message := strings.ToLower(providerErr.message)
		if strings.Contains(message, "unauthorized") || strings.Contains(message, "credentials") {
			return CodeServiceNotAllowed
		}
	}
	return CodeNetwork
}

type providerError struct {
	message string
}

func (e *providerError) Error() string { return e.message }

type streamingSession struct {
	conn     *websocket.Conn
	onResult func(ports.RecognitionSegment)

	audio    chan []byte
	done     chan struct{}
	readDone chan struct{}

	wg sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeSendOnce sync.Once
	closeOnce     sync.Once
	sendMu        sync.RWMutex
	sendClosed    bool
}

func newStreamingSession(conn *websocket.Conn, onResult func(ports.RecognitionSegment)) *streamingSession {
	s := &streamingSession{
		conn:     conn,
		onResult: onResult,
		audio:    make(chan []byte, 32),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
	}
	s.wg.Add(2)
	go s.readLoop()
	go s.writeLoop()
	go func() {
		s.wg.Wait()
		close(s.done)
		_ = conn.Close()
	}()
	return s
}

func (s *streamingSession) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.sendClosed {
		return errors.New("audio stream is already closed")
	}

	copied := append([]byte(nil), chunk...)
	select {
	case s.audio <- copied:
		return nil
	case <-s.done:
		if err := s.waitErr(); err != nil {
			return err
		}
		return errors.New("session closed")
	default:
		return errBackpressure
	}
}

func (s *streamingSession) CloseSend() error {
	s.closeSendOnce.Do(func() {
		s.sendMu.Lock()
		s.sendClosed = true
		close(s.audio)
		s.sendMu.Unlock()
	})
	return nil
}

func (s *streamingSession) Wait() error {
	<-s.done
	return s.waitErr()
}

// Close asks Deepgram to flush pending results, then waits for the stream
// to finish, forcing the socket shut after a grace period.
func (s *streamingSession) Close() error {
	s.closeOnce.Do(func() {
		_ = s.CloseSend()
		select {
		case <-s.done:
		case <-time.After(2 * time.Second):
			_ = s.conn.Close()
		}
	})
	<-s.done
	return s.waitErr()
}

func (s *streamingSession) waitErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *streamingSession) setErr(err error) {
	if err == nil {
		return
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *streamingSession) writeLoop() {
	defer s.wg.Done()

	for chunk := range s.audio {
		if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			s.setErr(fmt.Errorf("failed to send audio: %w", err))
			return
		}
	}

	select {
	case <-s.readDone:
		return
	default:
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); err != nil {
		s.setErr(fmt.Errorf("failed to close stream: %w", err))
	}
}

func (s *streamingSession) readLoop() {
	defer s.wg.Done()
	// A finished read side must also release the writer.
	defer s.CloseSend()
	defer close(s.readDone)

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.sendMu.RLock()
			closing := s.sendClosed
			s.sendMu.RUnlock()
			if !closing || !isExpectedClose(err) {
				s.setErr(fmt.Errorf("failed to read provider event: %w", err))
			}
			return
		}

		var response deepgramResponse
		if err := json.Unmarshal(payload, &response); err != nil {
			continue
		}

		if strings.EqualFold(response.Type, "Error") {
			message := strings.TrimSpace(response.Message)
			if message == "" {
				message = "deepgram returned an unknown error"
			}
			s.setErr(&providerError{message: message})
			return
		}

		transcript := extractTranscript(response)
		if transcript == "" {
			continue
		}
		if s.onResult != nil {
			s.onResult(ports.RecognitionSegment{Text: transcript, Final: response.IsFinal || response.SpeechFinal})
		}
	}
}

func isExpectedClose(err error) bool {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || strings.Contains(err.Error(), "use of closed network connection")
}

type deepgramResponse struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`

	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`

	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func extractTranscript(response deepgramResponse) string {
	if len(response.Channel.Alternatives) > 0 {
		if text := strings.TrimSpace(response.Channel.Alternatives[0].Transcript); text != "" {
			return text
		}
	}
	if len(response.Results.Channels) > 0 && len(response.Results.Channels[0].Alternatives) > 0 {
		return strings.TrimSpace(response.Results.Channels[0].Alternatives[0].Transcript)
	}
	return ""
}

func buildListenURL(cfg Config) (string, error) {
	base := strings.TrimSpace(cfg.APIBaseURL)
	if base == "" {
		base = "https://api.deepgram.com/v1"
	}

	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	listenURL, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid Deepgram API base URL: %w", err)
	}

	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	channels := cfg.Channels
	if channels <= 0 {
		channels = 1
	}

	query := listenURL.Query()
	query.Set("model", cfg.Model)
	query.Set("encoding", "linear16")
	query.Set("sample_rate", fmt.Sprintf("%d", sampleRate))
	query.Set("channels", fmt.Sprintf("%d", channels))
	query.Set("interim_results", "true")
	query.Set("smart_format", fmt.Sprintf("%t", cfg.SmartFormat))
	if cfg.Language != "" {
		query.Set("language", cfg.Language)
	}
	listenURL.RawQuery = query.Encode()
	return listenURL.String(), nil
}
