package ports

import (
	"context"
	"errors"
	"io"
	"time"

	"interviewcoach/internal/domain"
)

// ErrEngineRunning is returned by RecognitionEngine.Start when the engine
// is already listening.
var ErrEngineRunning = errors.New("recognition engine already running")

// VideoConstraints describes the requested camera mode. Zero values mean
// "device default".
type VideoConstraints struct {
	Width     int
	Height    int
	FrameRate int
	Device    string
}

// AudioConstraints describes how the microphone should be captured.
type AudioConstraints struct {
	SampleRate       int
	Channels         int
	EchoCancellation bool
	NoiseSuppression bool
	InputFormat      string
	Device           string
}

// Constraints is one device acquisition request. A nil member means the
// corresponding track is not requested.
type Constraints struct {
	Video *VideoConstraints
	Audio *AudioConstraints
}

// Track is one media track of a device handle.
type Track interface {
	Kind() string
	Enabled() bool
	SetEnabled(enabled bool)
}

// VideoSurface exposes the most recent live video frame.
type VideoSurface interface {
	// Snapshot returns an encoded image of the current frame, false when
	// no frame is available.
	Snapshot() ([]byte, bool)
}

// DeviceHandle is an acquired camera/microphone stream.
type DeviceHandle interface {
	ID() string
	VideoTrack() Track
	AudioTrack() Track
	Surface() VideoSurface
	Audio() io.Reader
	AudioFormat() AudioConstraints
	Close() error
}

// DeviceProvider acquires device handles.
type DeviceProvider interface {
	Open(ctx context.Context, constraints Constraints) (DeviceHandle, error)
}

// Frame is one encoded video snapshot.
type Frame struct {
	Data     []byte
	MimeType string
	At       time.Time
}

// AudioChunk is one fixed-duration audio segment.
type AudioChunk struct {
	Data     []byte
	MimeType string
	At       time.Time
}

// EngineEventKind identifies recognition engine events.
type EngineEventKind string

const (
	EngineStarted EngineEventKind = "started"
	EngineEnded   EngineEventKind = "ended"
	EngineError   EngineEventKind = "error"
	EngineResult  EngineEventKind = "result"
)

// RecognitionSegment is one recognized span of speech.
type RecognitionSegment struct {
	Text  string
	Final bool
}

// EngineEvent is emitted asynchronously by a recognition engine.
type EngineEvent struct {
	Kind      EngineEventKind
	ErrorCode string
	Err       error
	Segments  []RecognitionSegment
}

// RecognitionEngine is a continuous speech-to-text capability that may stop
// itself at any time.
type RecognitionEngine interface {
	Start() error
	Stop() error
	Events() <-chan EngineEvent
}

// TokenSource yields the bearer token used for channel authentication.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TextRules transforms answer text using deterministic rules.
type TextRules interface {
	Apply(text string) (string, error)
}

// EventSink emits coordinator state to the UI.
type EventSink interface {
	StatusChanged(status domain.SessionStatus, phase domain.Phase, reason domain.StatusReason)
	QuestionPresented(question domain.Question)
	DraftChanged(draft domain.AnswerDraft)
	ElapsedTick(elapsed time.Duration)
	InterventionsChanged(items []domain.Intervention)
	AnswerFeedback(feedback domain.AnswerFeedback)
	SessionCompleted(feedback domain.Feedback)
	SessionError(code domain.ErrorCode, detail string)
}
