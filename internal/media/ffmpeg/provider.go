// Package ffmpeg acquires camera and microphone streams by running ffmpeg
// capture pipelines.
package ffmpeg

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"interviewcoach/internal/ports"
)

const defaultStartupGrace = 250 * time.Millisecond

// Options selects the capture backends.
type Options struct {
	Command          string
	VideoInputFormat string
	AudioInputFormat string
	StartupGrace     time.Duration
}

// Provider implements ports.DeviceProvider.
type Provider struct {
	opts Options
	log  logrus.FieldLogger
}

func NewProvider(opts Options, log logrus.FieldLogger) *Provider {
	if opts.Command == "" {
		opts.Command = "ffmpeg"
	}
	if opts.VideoInputFormat == "" {
		opts.VideoInputFormat = "v4l2"
	}
	if opts.AudioInputFormat == "" {
		opts.AudioInputFormat = "pulse"
	}
	if opts.StartupGrace <= 0 {
		opts.StartupGrace = defaultStartupGrace
	}
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Provider{opts: opts, log: log.WithField("component", "ffmpeg")}
}

func (p *Provider) Open(ctx context.Context, c ports.Constraints) (ports.DeviceHandle, error) {
	dev := &device{id: uuid.NewString()}

	if c.Audio != nil {
		format := *c.Audio
		if format.SampleRate <= 0 {
			format.SampleRate = 16000
		}
		if format.Channels <= 0 {
			format.Channels = 1
		}
		if format.InputFormat == "" {
			format.InputFormat = p.opts.AudioInputFormat
		}
		if format.Device == "" {
			format.Device = "default"
		}
		proc, err := startProcess(ctx, p.opts.Command, audioArgs(format), p.opts.StartupGrace)
		if err != nil {
			return nil, fmt.Errorf("microphone: %w", err)
		}
		dev.audio = proc
		dev.format = format
		dev.audioTrack = newTrack("audio")
	}

	if c.Video != nil {
		video := *c.Video
		if video.Device == "" {
			video.Device = "/dev/video0"
		}
		proc, err := startProcess(ctx, p.opts.Command, videoArgs(p.opts.VideoInputFormat, video), p.opts.StartupGrace)
		if err != nil {
			_ = dev.Close()
			return nil, fmt.Errorf("camera: %w", err)
		}
		dev.video = proc
		dev.videoTrack = newTrack("video")
		dev.surface = newSurface(proc)
	}

	p.log.WithFields(logrus.Fields{
		"device": dev.id,
		"audio":  c.Audio != nil,
		"video":  c.Video != nil,
	}).Info("capture device opened")
	return dev, nil
}

func audioArgs(format ports.AudioConstraints) []string {
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", format.InputFormat,
		"-i", format.Device,
	}
	var filters []string
	if format.NoiseSuppression {
		filters = append(filters, "afftdn")
	}
	if format.EchoCancellation {
		filters = append(filters, "highpass=f=80")
	}
	if len(filters) > 0 {
		args = append(args, "-af", strings.Join(filters, ","))
	}
	return append(args,
		"-ac", strconv.Itoa(format.Channels),
		"-ar", strconv.Itoa(format.SampleRate),
		"-f", "s16le",
		"-",
	)
}

func videoArgs(inputFormat string, video ports.VideoConstraints) []string {
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", inputFormat,
	}
	if video.FrameRate > 0 {
		args = append(args, "-framerate", strconv.Itoa(video.FrameRate))
	}
	if video.Width > 0 && video.Height > 0 {
		args = append(args, "-video_size", strconv.Itoa(video.Width)+"x"+strconv.Itoa(video.Height))
	}
	return append(args,
		"-i", video.Device,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "5",
		"-",
	)
}

type device struct {
	id     string
	format ports.AudioConstraints

	audio      *process
	video      *process
	audioTrack *track
	videoTrack *track
	surface    *surface
}

func (d *device) ID() string { return d.id }

func (d *device) VideoTrack() ports.Track {
	if d.videoTrack == nil {
		return nil
	}
	return d.videoTrack
}

func (d *device) AudioTrack() ports.Track {
	if d.audioTrack == nil {
		return nil
	}
	return d.audioTrack
}

func (d *device) Surface() ports.VideoSurface {
	if d.surface == nil {
		return nil
	}
	return d.surface
}

func (d *device) Audio() io.Reader {
	if d.audio == nil {
		return nil
	}
	return d.audio
}

func (d *device) AudioFormat() ports.AudioConstraints { return d.format }

func (d *device) Close() error {
	var firstErr error
	if d.video != nil {
		if err := d.video.Stop(); err != nil {
			firstErr = err
		}
	}
	if d.audio != nil {
		if err := d.audio.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type track struct {
	kind    string
	enabled atomic.Bool
}

func newTrack(kind string) *track {
	t := &track{kind: kind}
	t.enabled.Store(true)
	return t
}

func (t *track) Kind() string            { return t.kind }
func (t *track) Enabled() bool           { return t.enabled.Load() }
func (t *track) SetEnabled(enabled bool) { t.enabled.Store(enabled) }
