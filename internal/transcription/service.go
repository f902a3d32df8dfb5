// Package transcription keeps a continuous speech recognizer running while
// wanted and accumulates its output into one transcript.
package transcription

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"interviewcoach/internal/ports"
)

const (
	defaultRestartDelay = 300 * time.Millisecond
	fenceTimeout        = 2 * time.Second
)

// Engine error codes.
const (
	CodeNoSpeech          = "no-speech"
	CodeAborted           = "aborted"
	CodeNotAllowed        = "not-allowed"
	CodeServiceNotAllowed = "service-not-allowed"
	CodeAudioCapture      = "audio-capture"
	CodeNetwork           = "network"
)

var ErrRecognition = errors.New("speech recognition failed")

// Handler observes transcript changes and critical failures. Callbacks run
// on the service's event goroutine.
type Handler struct {
	OnTranscript func(full string)
	OnError      func(err error)
}

type Service struct {
	engine       ports.RecognitionEngine
	restartDelay time.Duration
	log          logrus.FieldLogger
	afterFunc    func(d time.Duration, f func()) interface{ Stop() bool }

	mu        sync.Mutex
	final     string
	interim   string
	listening bool
	desired   bool
	starting  bool
	onFinal   func(chunk string)
	handler   Handler
	err       error
	restart   interface{ Stop() bool }
	gen       uint64

	fences    chan chan struct{}
	exited    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func New(engine ports.RecognitionEngine, restartDelay time.Duration, log logrus.FieldLogger) *Service {
	if restartDelay <= 0 {
		restartDelay = defaultRestartDelay
	}
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	s := &Service{
		engine:       engine,
		restartDelay: restartDelay,
		log:          log.WithField("component", "transcription"),
		afterFunc: func(d time.Duration, f func()) interface{ Stop() bool } {
			return time.AfterFunc(d, f)
		},
		fences: make(chan chan struct{}),
		exited: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.consume()
	return s
}

// SetHandler replaces the observer callbacks.
func (s *Service) SetHandler(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Start begins continuous recognition. onFinal receives each finalized
// chunk. A running engine is stopped and restarted; concurrent starts are
// collapsed.
func (s *Service) Start(onFinal func(chunk string)) {
	s.mu.Lock()
	s.onFinal = onFinal
	s.desired = true
	s.err = nil
	s.gen++
	s.cancelRestartLocked()
	if s.starting {
		s.mu.Unlock()
		return
	}
	s.starting = true
	s.mu.Unlock()

	err := s.engine.Start()
	if errors.Is(err, ports.ErrEngineRunning) {
		s.log.Debug("engine already running, restarting")
		if stopErr := s.engine.Stop(); stopErr != nil {
			s.log.WithError(stopErr).Warn("failed to stop running engine")
		}
		err = s.engine.Start()
	}

	s.mu.Lock()
	s.starting = false
	if errors.Is(err, ports.ErrEngineRunning) {
		s.listening = true
		err = nil
	}
	s.mu.Unlock()

	if err != nil {
		s.fail(CodeNetwork, err)
	}
}

// Stop ends recognition and suppresses automatic restarts. Results the
// engine flushes while stopping are discarded before Stop returns.
func (s *Service) Stop() {
	s.mu.Lock()
	s.desired = false
	s.gen++
	s.cancelRestartLocked()
	s.mu.Unlock()

	if err := s.engine.Stop(); err != nil {
		s.log.WithError(err).Warn("failed to stop recognition engine")
	}
	s.fence()

	s.mu.Lock()
	s.listening = false
	s.mu.Unlock()
}

// Reset clears the final and interim transcript.
func (s *Service) Reset() {
	s.mu.Lock()
	s.final = ""
	s.interim = ""
	s.mu.Unlock()
}

// FullTranscript is the final transcript followed by the current interim
// text, trimmed.
func (s *Service) FullTranscript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fullLocked()
}

func (s *Service) Listening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listening
}

// Err returns the last critical recognition failure.
func (s *Service) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops recognition and the event goroutine.
func (s *Service) Close() {
	s.Stop()
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Service) consume() {
	defer close(s.exited)
	events := s.engine.Events()
	for {
		select {
		case <-s.done:
			return
		case fence := <-s.fences:
			s.drain(events)
			close(fence)
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.handle(ev)
		}
	}
}

// drain handles every event already buffered by the engine.
func (s *Service) drain(events <-chan ports.EngineEvent) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.handle(ev)
		default:
			return
		}
	}
}

// fence waits until every event the engine emitted so far has been
// handled.
func (s *Service) fence() {
	fence := make(chan struct{})
	select {
	case s.fences <- fence:
	case <-s.exited:
		return
	case <-s.done:
		return
	}
	select {
	case <-fence:
	case <-s.exited:
	case <-time.After(fenceTimeout):
		s.log.Warn("timed out draining recognition events")
	}
}

func (s *Service) handle(ev ports.EngineEvent) {
	switch ev.Kind {
	case ports.EngineStarted:
		s.mu.Lock()
		s.listening = true
		s.mu.Unlock()
		s.log.Debug("recognition started")

	case ports.EngineEnded:
		s.mu.Lock()
		s.listening = false
		if s.desired && !s.starting {
			gen := s.gen
			s.cancelRestartLocked()
			s.restart = s.afterFunc(s.restartDelay, func() { s.restartIfDesired(gen) })
		}
		s.mu.Unlock()
		s.log.Debug("recognition ended")

	case ports.EngineError:
		s.handleError(ev)

	case ports.EngineResult:
		s.handleResult(ev.Segments)
	}
}

func (s *Service) restartIfDesired(gen uint64) {
	s.mu.Lock()
	if !s.desired || s.gen != gen || s.starting {
		s.mu.Unlock()
		return
	}
	s.starting = true
	s.mu.Unlock()

	err := s.engine.Start()

	s.mu.Lock()
	s.starting = false
	if errors.Is(err, ports.ErrEngineRunning) {
		s.listening = true
		err = nil
	}
	s.mu.Unlock()

	if err != nil {
		s.log.WithError(err).Warn("failed to restart recognition")
		s.fail(CodeNetwork, err)
		return
	}
	s.log.Debug("recognition restarted")
}

func (s *Service) handleError(ev ports.EngineEvent) {
	switch ev.ErrorCode {
	case CodeNoSpeech, CodeAborted:
		s.log.WithField("code", ev.ErrorCode).Debug("ignoring recognition error")
	case CodeNotAllowed, CodeServiceNotAllowed, CodeAudioCapture, CodeNetwork:
		s.fail(ev.ErrorCode, ev.Err)
	default:
		err := fmt.Errorf("%w: %s", ErrRecognition, ev.ErrorCode)
		if ev.Err != nil {
			err = fmt.Errorf("%w: %s: %v", ErrRecognition, ev.ErrorCode, ev.Err)
		}
		s.mu.Lock()
		s.err = err
		handler := s.handler
		s.mu.Unlock()
		s.log.WithError(err).Warn("recognition error")
		if handler.OnError != nil {
			handler.OnError(err)
		}
	}
}

// fail records a critical error and stops wanting to listen.
func (s *Service) fail(code string, cause error) {
	err := fmt.Errorf("%w: %s", ErrRecognition, code)
	if cause != nil {
		err = fmt.Errorf("%w: %s: %w", ErrRecognition, code, cause)
	}

	s.mu.Lock()
	s.err = err
	s.listening = false
	s.desired = false
	s.gen++
	s.cancelRestartLocked()
	handler := s.handler
	s.mu.Unlock()

	s.log.WithError(err).Error("speech recognition stopped")
	if handler.OnError != nil {
		handler.OnError(err)
	}
}

func (s *Service) handleResult(segments []ports.RecognitionSegment) {
	var finals []string

	s.mu.Lock()
	if !s.desired {
		s.mu.Unlock()
		s.log.WithField("segments", len(segments)).Debug("dropping result from stopped recognition")
		return
	}
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if seg.Final {
			if text == "" {
				continue
			}
			if s.final == "" {
				s.final = text
			} else {
				s.final += " " + text
			}
			s.interim = ""
			finals = append(finals, text)
			continue
		}
		s.interim = text
	}
	full := s.fullLocked()
	onFinal := s.onFinal
	handler := s.handler
	s.mu.Unlock()

	if onFinal != nil {
		for _, chunk := range finals {
			onFinal(chunk)
		}
	}
	if handler.OnTranscript != nil {
		handler.OnTranscript(full)
	}
}

func (s *Service) fullLocked() string {
	if s.interim == "" {
		return strings.TrimSpace(s.final)
	}
	return strings.TrimSpace(s.final + " " + s.interim)
}

func (s *Service) cancelRestartLocked() {
	if s.restart != nil {
		s.restart.Stop()
		s.restart = nil
	}
}
