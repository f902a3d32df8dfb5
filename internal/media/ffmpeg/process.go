package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"interviewcoach/internal/media"
)

// process is one running ffmpeg capture pipeline.
type process struct {
	stdout io.ReadCloser
	stderr *lockedBuffer

	proc    *os.Process
	waitErr <-chan error

	stopOnce sync.Once
	stopErr  error
}

func startProcess(ctx context.Context, command string, args []string, grace time.Duration) (*process, error) {
	// The process outlives the acquisition context.
	cmd := exec.Command(command, args...)
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to start ffmpeg: %w: %w", media.ErrDeviceNotFound, err)
		}
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	p := &process{stdout: stdout, stderr: stderr, proc: cmd.Process, waitErr: waitErr}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case err := <-waitErr:
		detail := trimSpace(stderr.String())
		cause := classifyStderr(detail)
		if err != nil {
			return nil, fmt.Errorf("ffmpeg exited before capture started: %w: %v: %s", cause, err, detail)
		}
		return nil, fmt.Errorf("ffmpeg exited before capture started: %w", cause)
	case <-ctx.Done():
		_ = p.Stop()
		return nil, fmt.Errorf("ffmpeg startup interrupted: %w: %w", media.ErrTimeout, ctx.Err())
	case <-timer.C:
	}
	return p, nil
}

func (p *process) Read(b []byte) (int, error) {
	return p.stdout.Read(b)
}

// Stop interrupts ffmpeg, escalating to kill when it does not exit promptly.
func (p *process) Stop() error {
	p.stopOnce.Do(func() {
		if p.proc != nil {
			_ = p.proc.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-p.waitErr:
			if ok {
				p.stopErr = normalizeStopErr(err)
			}
		case <-time.After(1200 * time.Millisecond):
			if p.proc != nil {
				_ = p.proc.Kill()
			}
			err, ok := <-p.waitErr
			if ok {
				p.stopErr = normalizeStopErr(err)
			}
		}

		if closeErr := p.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			if p.stopErr == nil {
				p.stopErr = closeErr
			}
		}

		if p.stopErr != nil && p.stderr != nil && p.stderr.Len() > 0 {
			p.stopErr = fmt.Errorf("%w: %s", p.stopErr, trimSpace(p.stderr.String()))
		}
	})
	return p.stopErr
}

// classifyStderr maps ffmpeg diagnostics onto device acquisition failures.
func classifyStderr(stderr string) error {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "permission denied"), strings.Contains(lower, "operation not permitted"):
		return media.ErrPermissionDenied
	case strings.Contains(lower, "device or resource busy"):
		return media.ErrDeviceBusy
	case strings.Contains(lower, "no such file or directory"),
		strings.Contains(lower, "no such device"),
		strings.Contains(lower, "no such entity"),
		strings.Contains(lower, "connection refused"):
		return media.ErrDeviceNotFound
	case strings.Contains(lower, "invalid argument"),
		strings.Contains(lower, "not supported"),
		strings.Contains(lower, "does not support"):
		return media.ErrConstraints
	default:
		return errors.New("ffmpeg capture failed")
	}
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func trimSpace(input string) string {
	if input == "" {
		return input
	}
	return string(bytes.TrimSpace([]byte(input)))
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *lockedBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}
