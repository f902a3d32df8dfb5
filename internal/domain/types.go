package domain

import (
	"strings"
	"time"
)

// SessionStatus models the interview session lifecycle.
type SessionStatus string

const (
	StatusUninitialized SessionStatus = "uninitialized"
	StatusInitializing  SessionStatus = "initializing"
	StatusAwaitingStart SessionStatus = "awaiting_start"
	StatusActive        SessionStatus = "active"
	StatusCompleting    SessionStatus = "completing"
	StatusCompleted     SessionStatus = "completed"
	StatusFailed        SessionStatus = "failed"
)

// Terminal reports whether no further transitions are expected.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Phase refines StatusActive.
type Phase string

const (
	PhaseNone       Phase = ""
	PhasePresenting Phase = "presenting"
	PhaseAnswering  Phase = "answering"
)

// StatusReason provides a structured reason for state transitions.
type StatusReason string

const (
	ReasonSessionEntered     StatusReason = "session_entered"
	ReasonReady              StatusReason = "ready"
	ReasonRecordingStarted   StatusReason = "recording_started"
	ReasonQuestionPresented  StatusReason = "question_presented"
	ReasonAnswerSubmitted    StatusReason = "answer_submitted"
	ReasonAnswerSkipped      StatusReason = "answer_skipped"
	ReasonAnswerAutoSent     StatusReason = "answer_auto_submitted"
	ReasonAllQuestionsDone   StatusReason = "all_questions_complete"
	ReasonEndRequested       StatusReason = "end_requested"
	ReasonSessionComplete    StatusReason = "session_complete"
	ReasonPermissionFailed   StatusReason = "permission_failed"
	ReasonChannelFailed      StatusReason = "channel_failed"
	ReasonChannelLost        StatusReason = "channel_lost"
	ReasonChannelRestored    StatusReason = "channel_restored"
	ReasonFatal              StatusReason = "fatal"
	ReasonSessionClosed      StatusReason = "session_closed"
)

// ErrorCode identifies non-fatal and fatal session errors.
type ErrorCode string

const (
	ErrorCodeSetup         ErrorCode = "setup"
	ErrorCodeChannel       ErrorCode = "channel"
	ErrorCodeMedia         ErrorCode = "media"
	ErrorCodeTranscription ErrorCode = "transcription"
	ErrorCodeProtocol      ErrorCode = "protocol"
	ErrorCodeSubmission    ErrorCode = "submission"
)

// QuestionType classifies interview questions.
type QuestionType string

const (
	QuestionBehavioral    QuestionType = "behavioral"
	QuestionTechnical     QuestionType = "technical"
	QuestionCommunication QuestionType = "communication"
	QuestionFollowUp      QuestionType = "follow_up"
	QuestionUnspecified   QuestionType = "unspecified"
)

// ParseQuestionType maps wire values onto known types.
func ParseQuestionType(value string) QuestionType {
	switch QuestionType(strings.ToLower(strings.TrimSpace(value))) {
	case QuestionBehavioral:
		return QuestionBehavioral
	case QuestionTechnical:
		return QuestionTechnical
	case QuestionCommunication:
		return QuestionCommunication
	case QuestionFollowUp:
		return QuestionFollowUp
	default:
		return QuestionUnspecified
	}
}

// Difficulty grades a question.
type Difficulty string

const (
	DifficultyEasy        Difficulty = "easy"
	DifficultyMedium      Difficulty = "medium"
	DifficultyHard        Difficulty = "hard"
	DifficultyUnspecified Difficulty = "unspecified"
)

// ParseDifficulty maps wire values onto known difficulties.
func ParseDifficulty(value string) Difficulty {
	switch Difficulty(strings.ToLower(strings.TrimSpace(value))) {
	case DifficultyEasy:
		return DifficultyEasy
	case DifficultyMedium:
		return DifficultyMedium
	case DifficultyHard:
		return DifficultyHard
	default:
		return DifficultyUnspecified
	}
}

// Question is one interview prompt. Immutable once received.
type Question struct {
	Text       string       `json:"text"`
	Type       QuestionType `json:"type"`
	Difficulty Difficulty   `json:"difficulty"`
	Index      int          `json:"index"`
	Total      int          `json:"total"`
}

// SameAs reports whether other is a re-delivery of q.
func (q Question) SameAs(other Question) bool {
	return q.Index == other.Index && q.Text == other.Text
}

// AnswerDraft is the in-progress answer for the current question.
type AnswerDraft struct {
	Text      string    `json:"text"`
	StartedAt time.Time `json:"startedAt"`
	Submitted bool      `json:"submitted"`
}

// Severity grades an intervention.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParseSeverity maps wire values onto known severities, defaulting to low.
func ParseSeverity(value string) Severity {
	switch Severity(strings.ToLower(strings.TrimSpace(value))) {
	case SeverityMedium:
		return SeverityMedium
	case SeverityHigh:
		return SeverityHigh
	case SeverityCritical:
		return SeverityCritical
	default:
		return SeverityLow
	}
}

// Intervention is a transient advisory pushed by the backend.
type Intervention struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"createdAt"`
}

// ConnState is the network channel state.
type ConnState string

const (
	ConnClosed     ConnState = "closed"
	ConnConnecting ConnState = "connecting"
	ConnOpen       ConnState = "open"
	ConnClosing    ConnState = "closing"
)

// ChannelStatus summarizes the session channel.
type ChannelStatus struct {
	State            ConnState `json:"state"`
	Authenticated    bool      `json:"authenticated"`
	ReconnectAttempt int       `json:"reconnectAttempt"`
}

// MediaState summarizes the capture device.
type MediaState struct {
	HasPermission bool `json:"hasPermission"`
	CameraEnabled bool `json:"cameraEnabled"`
	MicEnabled    bool `json:"micEnabled"`
	Recording     bool `json:"recording"`
}

// AnswerFeedback is the backend's per-answer evaluation.
type AnswerFeedback struct {
	Feedback string   `json:"feedback"`
	Score    *float64 `json:"score,omitempty"`
}

// Feedback is the final session report. The shape is backend-defined,
// only the common headline fields are typed.
type Feedback struct {
	OverallScore    float64            `json:"overall_score"`
	ComponentScores map[string]float64 `json:"component_scores,omitempty"`
	Summary         string             `json:"detailed_feedback,omitempty"`
	Strengths       []string           `json:"strengths,omitempty"`
	Improvements    []string           `json:"improvements,omitempty"`
	Raw             map[string]any     `json:"-"`
}

// Snapshot is the UI-facing view of a coordinator.
type Snapshot struct {
	SessionID     string         `json:"sessionId"`
	Status        SessionStatus  `json:"status"`
	Phase         Phase          `json:"phase"`
	Question      *Question      `json:"question,omitempty"`
	TotalHint     int            `json:"totalQuestions"`
	Draft         AnswerDraft    `json:"draft"`
	Elapsed       time.Duration  `json:"elapsed"`
	Interventions []Intervention `json:"interventions"`
	Minimized     bool           `json:"minimized"`
	Media         MediaState     `json:"media"`
	Channel       ChannelStatus  `json:"channel"`
	Listening     bool           `json:"listening"`
	Feedback      *Feedback      `json:"feedback,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// UserProfile is the signed-in user as reported by the backend.
type UserProfile struct {
	ID                       string    `json:"id"`
	Email                    string    `json:"email"`
	FullName                 string    `json:"full_name"`
	CreatedAt                time.Time `json:"created_at"`
	SessionsCount            int       `json:"sessions_count"`
	TotalPracticeTimeMinutes float64   `json:"total_practice_time_minutes"`
}

// SessionRecord is the locally kept summary of one practice session.
type SessionRecord struct {
	SessionID     string        `json:"sessionId"`
	Position      string        `json:"position,omitempty"`
	Status        SessionStatus `json:"status"`
	StartedAt     time.Time     `json:"startedAt"`
	EndedAt       time.Time     `json:"endedAt"`
	QuestionCount int           `json:"questionCount"`
	AnswersSent   int           `json:"answersSent"`
	Feedback      *Feedback     `json:"feedback,omitempty"`
}
