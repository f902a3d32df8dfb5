package media

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"interviewcoach/internal/ports"
)

func TestRequestPermissionRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{errs: []error{ErrDeviceBusy, ErrDeviceBusy, ErrDeviceBusy}}
	svc, sleeps := newTestService(provider, Config{PermissionAttempts: 3, PermissionBackoff: 500 * time.Millisecond})

	handle, err := svc.RequestPermission(context.Background())
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if handle == nil {
		t.Fatalf("expected device handle")
	}
	// Each attempt tries preferred then minimal; the busy errors consume
	// attempt 1 (both) and attempt 2 (preferred).
	if got := provider.openCount(); got != 4 {
		t.Fatalf("expected 4 open calls, got %d", got)
	}
	if len(*sleeps) != 1 || (*sleeps)[0] != 500*time.Millisecond {
		t.Fatalf("unexpected backoff schedule: %v", *sleeps)
	}
	if !svc.State().HasPermission {
		t.Fatalf("expected permission state")
	}
}

func TestRequestPermissionBackoffGrowsLinearly(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{errs: []error{ErrTimeout, ErrTimeout, ErrTimeout, ErrTimeout, ErrTimeout, ErrTimeout}}
	svc, sleeps := newTestService(provider, Config{PermissionAttempts: 3, PermissionBackoff: 100 * time.Millisecond})

	_, err := svc.RequestPermission(context.Background())
	var setupErr *SetupError
	if !errors.As(err, &setupErr) || setupErr.Kind != KindTimeout {
		t.Fatalf("expected timeout setup error, got %v", err)
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if len(*sleeps) != len(want) {
		t.Fatalf("unexpected backoff schedule: %v", *sleeps)
	}
	for i := range want {
		if (*sleeps)[i] != want[i] {
			t.Fatalf("unexpected backoff schedule: %v", *sleeps)
		}
	}
}

func TestRequestPermissionDeniedFailsImmediately(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{errs: []error{ErrPermissionDenied}}
	svc, sleeps := newTestService(provider, Config{PermissionAttempts: 3})

	_, err := svc.RequestPermission(context.Background())
	var setupErr *SetupError
	if !errors.As(err, &setupErr) || setupErr.Kind != KindDenied {
		t.Fatalf("expected denied setup error, got %v", err)
	}
	if setupErr.Message() != "Camera and microphone access denied. Please allow permissions and try again." {
		t.Fatalf("unexpected message: %q", setupErr.Message())
	}
	if provider.openCount() != 1 || len(*sleeps) != 0 {
		t.Fatalf("expected a single attempt, got opens=%d sleeps=%v", provider.openCount(), *sleeps)
	}
}

func TestRequestPermissionFallsBackToMinimalConstraints(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{errs: []error{ErrConstraints}}
	preferred := ports.Constraints{Video: &ports.VideoConstraints{Width: 640, Height: 480, FrameRate: 30}}
	minimal := ports.Constraints{Video: &ports.VideoConstraints{}}
	svc, _ := newTestService(provider, Config{Preferred: preferred, Minimal: minimal})

	if _, err := svc.RequestPermission(context.Background()); err != nil {
		t.Fatalf("expected fallback success, got %v", err)
	}
	calls := provider.constraintsSeen()
	if len(calls) != 2 || calls[0].Video.Width != 640 || calls[1].Video.Width != 0 {
		t.Fatalf("expected preferred then minimal, got %+v", calls)
	}
}

func TestRequestPermissionSharesInFlightRequest(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	provider := &fakeProvider{gate: gate}
	svc, _ := newTestService(provider, Config{})

	var wg sync.WaitGroup
	handles := make([]ports.DeviceHandle, 4)
	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := svc.RequestPermission(context.Background())
			if err != nil {
				t.Errorf("request failed: %v", err)
			}
			handles[i] = h
		}(i)
	}
	waitFor(t, func() bool { return provider.openCount() == 1 })
	close(gate)
	wg.Wait()

	if provider.openCount() != 1 {
		t.Fatalf("expected one acquisition, got %d", provider.openCount())
	}
	for _, h := range handles {
		if h != handles[0] {
			t.Fatalf("expected the same handle for every caller")
		}
	}
}

func TestRequestPermissionReusesExistingHandle(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{}
	svc, _ := newTestService(provider, Config{})

	first, err := svc.RequestPermission(context.Background())
	if err != nil {
		t.Fatalf("first request failed: %v", err)
	}
	second, err := svc.RequestPermission(context.Background())
	if err != nil {
		t.Fatalf("second request failed: %v", err)
	}
	if first != second || provider.openCount() != 1 {
		t.Fatalf("expected reuse of the held handle")
	}
}

func TestStartCaptureWithoutHandleReturnsFalse(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(&fakeProvider{}, Config{})
	if svc.StartCapture(func(ports.Frame) {}, func(ports.AudioChunk) {}, 2) {
		t.Fatalf("expected start capture to fail without a handle")
	}
	if svc.State().Recording {
		t.Fatalf("expected no recording state")
	}
}

func TestCameraToggleKeepsHandle(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{}
	svc, _ := newTestService(provider, Config{})
	handle, err := svc.RequestPermission(context.Background())
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	if !svc.SetCameraEnabled(false) {
		t.Fatalf("expected camera toggle to succeed")
	}
	if svc.State().CameraEnabled {
		t.Fatalf("expected camera disabled")
	}
	if !svc.SetCameraEnabled(true) {
		t.Fatalf("expected camera toggle to succeed")
	}
	if svc.Handle() != handle || provider.openCount() != 1 {
		t.Fatalf("expected the device handle to be preserved")
	}
	if _, ok := svc.CaptureSnapshot(); !ok {
		t.Fatalf("expected snapshot from live surface")
	}
}

func TestToggleWithoutTrackReturnsFalse(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{audioOnly: true}
	svc, _ := newTestService(provider, Config{})
	if svc.SetCameraEnabled(false) {
		t.Fatalf("expected false before permission")
	}
	if _, err := svc.RequestPermission(context.Background()); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if svc.SetCameraEnabled(false) {
		t.Fatalf("expected false without a video track")
	}
	if !svc.SetMicEnabled(false) {
		t.Fatalf("expected mic toggle to succeed")
	}
}

func TestFrameSamplingSkipsDisabledCamera(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{}
	svc, _ := newTestService(provider, Config{})
	ticks := make(chan time.Time)
	svc.tickerFn = func(time.Duration) (<-chan time.Time, func()) { return ticks, func() {} }

	if _, err := svc.RequestPermission(context.Background()); err != nil {
		t.Fatalf("request failed: %v", err)
	}

	frames := make(chan ports.Frame, 4)
	if !svc.StartCapture(func(f ports.Frame) { frames <- f }, nil, 2) {
		t.Fatalf("expected capture to start")
	}

	ticks <- time.Now()
	select {
	case f := <-frames:
		if string(f.Data) != "jpeg" || f.MimeType != "image/jpeg" {
			t.Fatalf("unexpected frame: %+v", f)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a frame")
	}

	svc.SetCameraEnabled(false)
	ticks <- time.Now()
	ticks <- time.Now()
	select {
	case f := <-frames:
		t.Fatalf("expected no frame while camera disabled, got %+v", f)
	case <-time.After(50 * time.Millisecond):
	}

	svc.StopCapture()
	svc.StopCapture()
	if svc.State().Recording {
		t.Fatalf("expected recording stopped")
	}
}

func TestAudioChunksAreFixedSizeAndMutedWhenMicDisabled(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{}
	svc, _ := newTestService(provider, Config{ChunkDuration: 100 * time.Millisecond, ReadSize: 1600})
	if _, err := svc.RequestPermission(context.Background()); err != nil {
		t.Fatalf("request failed: %v", err)
	}

	var tapped atomic.Int64
	svc.TapAudio(func(b []byte) { tapped.Add(int64(len(b))) })

	chunks := make(chan ports.AudioChunk, 4)
	if !svc.StartCapture(nil, func(c ports.AudioChunk) { chunks <- c }, 2) {
		t.Fatalf("expected capture to start")
	}

	dev := provider.lastDevice()
	svc.SetMicEnabled(false)
	writeFull(t, dev.audioW, filled(3200, 0x7f))

	select {
	case c := <-chunks:
		if len(c.Data) != 44+3200 || c.MimeType != "audio/wav" {
			t.Fatalf("unexpected chunk size %d (%s)", len(c.Data), c.MimeType)
		}
		if string(c.Data[:4]) != "RIFF" {
			t.Fatalf("expected wav header")
		}
		for _, b := range c.Data[44:] {
			if b != 0 {
				t.Fatalf("expected silence while mic disabled")
			}
		}
	case <-time.After(time.Second):
		t.Fatalf("expected an audio chunk")
	}
	waitFor(t, func() bool { return tapped.Load() == 3200 })

	svc.StopCapture()
}

func TestAudioReadFailureIsReported(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{}
	svc, _ := newTestService(provider, Config{})
	errs := make(chan error, 1)
	svc.SetErrorHandler(func(err error) { errs <- err })

	if _, err := svc.RequestPermission(context.Background()); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	_ = provider.lastDevice().audioW.CloseWithError(errors.New("device unplugged"))

	select {
	case err := <-errs:
		if err == nil || svc.Err() == nil {
			t.Fatalf("expected capture error")
		}
	case <-time.After(time.Second):
		t.Fatalf("expected error callback")
	}
	if !svc.State().HasPermission {
		t.Fatalf("expected handle to survive a read failure")
	}
}

func TestReleaseClosesDevice(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{}
	svc, _ := newTestService(provider, Config{})
	if _, err := svc.RequestPermission(context.Background()); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if err := svc.Release(); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if !provider.lastDevice().closed.Load() {
		t.Fatalf("expected device closed")
	}
	if svc.State().HasPermission {
		t.Fatalf("expected no handle after release")
	}
}

func TestChunkSize(t *testing.T) {
	t.Parallel()

	got := chunkSize(ports.AudioConstraints{SampleRate: 16000, Channels: 1}, 3*time.Second)
	if got != 96000 {
		t.Fatalf("expected 96000 bytes, got %d", got)
	}
}

func newTestService(provider *fakeProvider, cfg Config) (*Service, *[]time.Duration) {
	svc := NewService(provider, cfg, nil)
	var mu sync.Mutex
	sleeps := &[]time.Duration{}
	svc.sleep = func(_ context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		*sleeps = append(*sleeps, d)
		return nil
	}
	return svc, sleeps
}

type fakeProvider struct {
	mu        sync.Mutex
	errs      []error
	gate      chan struct{}
	audioOnly bool
	opens     int
	seen      []ports.Constraints
	devices   []*fakeDevice
}

func (p *fakeProvider) Open(ctx context.Context, c ports.Constraints) (ports.DeviceHandle, error) {
	p.mu.Lock()
	p.opens++
	p.seen = append(p.seen, c)
	var err error
	if len(p.errs) > 0 {
		err = p.errs[0]
		p.errs = p.errs[1:]
	}
	gate := p.gate
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	r, w := io.Pipe()
	dev := &fakeDevice{audioR: r, audioW: w, audio: &fakeTrack{kind: "audio"}}
	dev.audio.enabled.Store(true)
	if !p.audioOnly {
		dev.video = &fakeTrack{kind: "video"}
		dev.video.enabled.Store(true)
	}
	p.mu.Lock()
	p.devices = append(p.devices, dev)
	p.mu.Unlock()
	return dev, nil
}

func (p *fakeProvider) openCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opens
}

func (p *fakeProvider) constraintsSeen() []ports.Constraints {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ports.Constraints(nil), p.seen...)
}

func (p *fakeProvider) lastDevice() *fakeDevice {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.devices[len(p.devices)-1]
}

type fakeDevice struct {
	audioR *io.PipeReader
	audioW *io.PipeWriter
	audio  *fakeTrack
	video  *fakeTrack
	closed atomic.Bool
}

func (d *fakeDevice) ID() string { return "fake" }

func (d *fakeDevice) VideoTrack() ports.Track {
	if d.video == nil {
		return nil
	}
	return d.video
}

func (d *fakeDevice) AudioTrack() ports.Track { return d.audio }

func (d *fakeDevice) Surface() ports.VideoSurface {
	if d.video == nil {
		return nil
	}
	return fakeSurface{}
}

func (d *fakeDevice) Audio() io.Reader { return d.audioR }

func (d *fakeDevice) AudioFormat() ports.AudioConstraints {
	return ports.AudioConstraints{SampleRate: 16000, Channels: 1}
}

func (d *fakeDevice) Close() error {
	d.closed.Store(true)
	_ = d.audioW.Close()
	return nil
}

type fakeTrack struct {
	kind    string
	enabled atomic.Bool
}

func (t *fakeTrack) Kind() string            { return t.kind }
func (t *fakeTrack) Enabled() bool           { return t.enabled.Load() }
func (t *fakeTrack) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

type fakeSurface struct{}

func (fakeSurface) Snapshot() ([]byte, bool) { return []byte("jpeg"), true }

func filled(n int, b byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}

func writeFull(t *testing.T, w io.Writer, data []byte) {
	t.Helper()
	go func() {
		_, _ = w.Write(data)
	}()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}
