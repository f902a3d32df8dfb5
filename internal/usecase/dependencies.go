package usecase

import (
	"context"
	"time"

	"interviewcoach/internal/channel"
	"interviewcoach/internal/domain"
	"interviewcoach/internal/ports"
	"interviewcoach/internal/transcription"
)

// MediaCapture is the subset of the media service the coordinator drives.
type MediaCapture interface {
	RequestPermission(ctx context.Context) (ports.DeviceHandle, error)
	StartCapture(onFrame func(ports.Frame), onAudio func(ports.AudioChunk), fps int) bool
	StopCapture()
	SetCameraEnabled(enabled bool) bool
	SetMicEnabled(enabled bool) bool
	CaptureSnapshot() ([]byte, bool)
	State() domain.MediaState
	SetErrorHandler(fn func(error))
	Release() error
}

// Transcriber is the continuous transcription service.
type Transcriber interface {
	Start(onFinal func(chunk string))
	Stop()
	Reset()
	FullTranscript() string
	Listening() bool
	SetHandler(h transcription.Handler)
	Close()
}

// SessionChannel is the realtime connection to the interview backend.
type SessionChannel interface {
	Connect(ctx context.Context) error
	On(messageType string, handler channel.Handler)
	OnStateChange(listener channel.StateListener)
	Status() domain.ChannelStatus
	SendVideoFrame(mimeType string, data []byte) error
	SendAudioChunk(mimeType string, data []byte, transcript string) error
	SendAnswer(question string, answer string, duration float64) error
	EndSession() error
	Close() error
}

// Timer is a cancellable pending callback.
type Timer interface {
	Stop() bool
}

// Clock schedules the coordinator's timers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

func (wallClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
