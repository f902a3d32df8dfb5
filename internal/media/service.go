package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"interviewcoach/internal/domain"
	"interviewcoach/internal/ports"
)

const (
	defaultReadSize          = 3200
	defaultChunkDuration     = 3 * time.Second
	defaultPermissionAttempt = 3
	defaultPermissionBackoff = 500 * time.Millisecond
)

// Config controls device acquisition and capture.
type Config struct {
	Preferred          ports.Constraints
	Minimal            ports.Constraints
	PermissionAttempts int
	PermissionBackoff  time.Duration
	ChunkDuration      time.Duration
	ReadSize           int
}

// Service owns the session's single camera/microphone handle.
type Service struct {
	provider ports.DeviceProvider
	cfg      Config
	log      logrus.FieldLogger

	permission singleflight.Group

	mu       sync.Mutex
	handle   ports.DeviceHandle
	reading  bool
	capture  *captureRun
	taps     []func([]byte)
	onError  func(error)
	readErr  error
	sleep    func(ctx context.Context, d time.Duration) error
	nowFn    func() time.Time
	tickerFn func(d time.Duration) (<-chan time.Time, func())
}

type captureRun struct {
	onAudio    func(ports.AudioChunk)
	chunkBytes int
	pending    []byte

	cancel     context.CancelFunc
	framesDone chan struct{}
}

func NewService(provider ports.DeviceProvider, cfg Config, log logrus.FieldLogger) *Service {
	if cfg.PermissionAttempts <= 0 {
		cfg.PermissionAttempts = defaultPermissionAttempt
	}
	if cfg.PermissionBackoff < 0 {
		cfg.PermissionBackoff = defaultPermissionBackoff
	}
	if cfg.ChunkDuration <= 0 {
		cfg.ChunkDuration = defaultChunkDuration
	}
	if cfg.ReadSize <= 0 {
		cfg.ReadSize = defaultReadSize
	}
	if log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		log = discard
	}
	return &Service{
		provider: provider,
		cfg:      cfg,
		log:      log.WithField("component", "media"),
		sleep:    sleepContext,
		nowFn:    time.Now,
		tickerFn: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
	}
}

// SetErrorHandler registers the callback for mid-session capture failures.
func (s *Service) SetErrorHandler(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = fn
}

// RequestPermission acquires the device handle, reusing an existing one.
// Concurrent callers share one in-flight acquisition.
func (s *Service) RequestPermission(ctx context.Context) (ports.DeviceHandle, error) {
	if h := s.Handle(); h != nil {
		return h, nil
	}
	v, err, shared := s.permission.Do("permission", func() (any, error) {
		return s.acquire(ctx)
	})
	if shared {
		s.log.Debug("joined in-flight permission request")
	}
	if err != nil {
		return nil, err
	}
	return v.(ports.DeviceHandle), nil
}

func (s *Service) acquire(ctx context.Context) (ports.DeviceHandle, error) {
	if h := s.Handle(); h != nil {
		return h, nil
	}

	var lastErr *SetupError
	for attempt := 1; attempt <= s.cfg.PermissionAttempts; attempt++ {
		handle, err := s.open(ctx)
		if err == nil {
			s.adopt(handle)
			s.log.WithField("attempt", attempt).Info("media device acquired")
			return handle, nil
		}

		lastErr = newSetupError(err)
		s.log.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"kind":    lastErr.Kind,
		}).Warn("media device acquisition failed")
		if !lastErr.Transient() || attempt == s.cfg.PermissionAttempts {
			break
		}
		if err := s.sleep(ctx, time.Duration(attempt)*s.cfg.PermissionBackoff); err != nil {
			return nil, newSetupError(err)
		}
	}
	return nil, lastErr
}

// open tries the preferred constraints, then the minimal set. Denial is not
// retried with weaker constraints.
func (s *Service) open(ctx context.Context) (ports.DeviceHandle, error) {
	handle, err := s.provider.Open(ctx, s.cfg.Preferred)
	if err == nil {
		return handle, nil
	}
	if Classify(err) == KindDenied || ctx.Err() != nil {
		return nil, err
	}
	s.log.WithError(err).Debug("preferred constraints failed, trying minimal")
	fallback, fallbackErr := s.provider.Open(ctx, s.cfg.Minimal)
	if fallbackErr != nil {
		return nil, fallbackErr
	}
	return fallback, nil
}

func (s *Service) adopt(handle ports.DeviceHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handle = handle
	s.readErr = nil
	if reader := handle.Audio(); reader != nil && !s.reading {
		s.reading = true
		go s.readAudio(handle, reader)
	}
}

// Handle returns the current device handle or nil.
func (s *Service) Handle() ports.DeviceHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// TapAudio registers a raw PCM listener. Taps see every read, recording or
// not, with muted audio zeroed.
func (s *Service) TapAudio(fn func([]byte)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taps = append(s.taps, fn)
}

// StartCapture begins frame sampling and audio chunking. It returns false
// without side effects when no device handle is held.
func (s *Service) StartCapture(onFrame func(ports.Frame), onAudio func(ports.AudioChunk), fps int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle == nil {
		return false
	}
	if s.capture != nil {
		return true
	}
	if fps <= 0 {
		fps = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	run := &captureRun{
		onAudio:    onAudio,
		chunkBytes: chunkSize(s.handle.AudioFormat(), s.cfg.ChunkDuration),
		cancel:     cancel,
		framesDone: make(chan struct{}),
	}
	s.capture = run

	go s.sampleFrames(ctx, s.handle, onFrame, time.Second/time.Duration(fps), run.framesDone)

	s.log.WithField("fps", fps).Info("capture started")
	return true
}

// StopCapture halts frame and audio emission. Safe to call repeatedly.
func (s *Service) StopCapture() {
	s.mu.Lock()
	run := s.capture
	s.capture = nil
	s.mu.Unlock()

	if run == nil {
		return
	}
	run.cancel()
	<-run.framesDone
	s.log.Info("capture stopped")
}

func (s *Service) sampleFrames(ctx context.Context, handle ports.DeviceHandle, onFrame func(ports.Frame), interval time.Duration, done chan struct{}) {
	defer close(done)
	if onFrame == nil {
		<-ctx.Done()
		return
	}

	ticks, stop := s.tickerFn(interval)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
		}

		track := handle.VideoTrack()
		if track == nil || !track.Enabled() {
			continue
		}
		surface := handle.Surface()
		if surface == nil {
			continue
		}
		data, ok := surface.Snapshot()
		if !ok {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		onFrame(ports.Frame{Data: data, MimeType: "image/jpeg", At: s.nowFn()})
	}
}

// readAudio is the only reader of the handle's PCM stream for the life of
// the handle.
func (s *Service) readAudio(handle ports.DeviceHandle, reader io.Reader) {
	buf := make([]byte, s.cfg.ReadSize)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			s.dispatchAudio(handle, buf[:n])
		}
		if err != nil {
			s.audioStopped(handle, err)
			return
		}
	}
}

func (s *Service) dispatchAudio(handle ports.DeviceHandle, data []byte) {
	block := make([]byte, len(data))
	if track := handle.AudioTrack(); track == nil || track.Enabled() {
		copy(block, data)
	}

	s.mu.Lock()
	if s.handle != handle {
		s.mu.Unlock()
		return
	}
	taps := append([]func([]byte){}, s.taps...)
	var chunk []byte
	var onAudio func(ports.AudioChunk)
	if run := s.capture; run != nil && run.chunkBytes > 0 {
		run.pending = append(run.pending, block...)
		if len(run.pending) >= run.chunkBytes {
			chunk = run.pending[:run.chunkBytes]
			run.pending = append([]byte(nil), run.pending[run.chunkBytes:]...)
			onAudio = run.onAudio
		}
	}
	format := handle.AudioFormat()
	s.mu.Unlock()

	for _, tap := range taps {
		tap(block)
	}
	if onAudio != nil {
		onAudio(ports.AudioChunk{
			Data:     EncodeWAV(chunk, format.SampleRate, format.Channels),
			MimeType: "audio/wav",
			At:       s.nowFn(),
		})
	}
}

func (s *Service) audioStopped(handle ports.DeviceHandle, err error) {
	s.mu.Lock()
	if s.handle != handle {
		s.mu.Unlock()
		return
	}
	s.reading = false
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	s.readErr = fmt.Errorf("audio capture stopped: %w", err)
	readErr := s.readErr
	onError := s.onError
	s.mu.Unlock()

	s.log.WithError(err).Warn("audio stream ended")
	if onError != nil {
		onError(readErr)
	}
}

// SetCameraEnabled toggles the video track in place. Returns false when
// there is no video track.
func (s *Service) SetCameraEnabled(enabled bool) bool {
	handle := s.Handle()
	if handle == nil {
		return false
	}
	track := handle.VideoTrack()
	if track == nil {
		return false
	}
	track.SetEnabled(enabled)
	return true
}

// SetMicEnabled toggles the audio track in place. Returns false when there
// is no audio track.
func (s *Service) SetMicEnabled(enabled bool) bool {
	handle := s.Handle()
	if handle == nil {
		return false
	}
	track := handle.AudioTrack()
	if track == nil {
		return false
	}
	track.SetEnabled(enabled)
	return true
}

// CaptureSnapshot grabs one frame from the live surface.
func (s *Service) CaptureSnapshot() ([]byte, bool) {
	handle := s.Handle()
	if handle == nil {
		return nil, false
	}
	if track := handle.VideoTrack(); track == nil || !track.Enabled() {
		return nil, false
	}
	surface := handle.Surface()
	if surface == nil {
		return nil, false
	}
	return surface.Snapshot()
}

// State summarizes the device for the UI.
func (s *Service) State() domain.MediaState {
	s.mu.Lock()
	handle := s.handle
	recording := s.capture != nil
	s.mu.Unlock()

	state := domain.MediaState{HasPermission: handle != nil, Recording: recording}
	if handle == nil {
		return state
	}
	if track := handle.VideoTrack(); track != nil {
		state.CameraEnabled = track.Enabled()
	}
	if track := handle.AudioTrack(); track != nil {
		state.MicEnabled = track.Enabled()
	}
	return state
}

// Err returns the last mid-session capture failure.
func (s *Service) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readErr
}

// Release stops capture and closes the device handle.
func (s *Service) Release() error {
	s.StopCapture()

	s.mu.Lock()
	handle := s.handle
	s.handle = nil
	s.reading = false
	s.mu.Unlock()

	if handle == nil {
		return nil
	}
	if err := handle.Close(); err != nil {
		return fmt.Errorf("failed to release media device: %w", err)
	}
	s.log.Info("media device released")
	return nil
}

func chunkSize(format ports.AudioConstraints, d time.Duration) int {
	rate := format.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	channels := format.Channels
	if channels <= 0 {
		channels = 1
	}
	bytesPerSecond := rate * channels * 2
	return int(int64(bytesPerSecond) * int64(d) / int64(time.Second))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
