package channel

import (
	"encoding/base64"
	"encoding/json"
)

// Outbound message types.
const (
	TypeAuth       = "auth"
	TypeVideoFrame = "video_frame"
	TypeAudioChunk = "audio_chunk"
	TypeAnswer     = "answer"
	TypeEndSession = "end_session"
	TypePing       = "ping"
)

// Inbound message types.
const (
	TypeAuthSuccess          = "auth_success"
	TypeSessionStarted       = "session_started"
	TypeNextQuestion         = "next_question"
	TypeAnalytics            = "analytics"
	TypeIntervention         = "intervention"
	TypeAnswerFeedback       = "answer_feedback"
	TypeAllQuestionsComplete = "all_questions_complete"
	TypeSessionComplete      = "session_complete"
	TypePong                 = "pong"
	TypeHeartbeat            = "heartbeat"

	// Wildcard handlers see every message after the type-specific handler.
	Wildcard = "*"
)

// Message is one inbound envelope. Raw holds the full JSON object.
type Message struct {
	Type string
	Raw  json.RawMessage
}

// Decode unmarshals the full envelope into v.
func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Raw, v)
}

// Handler receives inbound messages on the channel's read goroutine.
type Handler func(Message)

type envelope struct {
	Type string `json:"type"`
}

type AuthMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

type VideoFrameMessage struct {
	Type      string `json:"type"`
	Data      string `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

type AudioChunkMessage struct {
	Type       string  `json:"type"`
	Data       string  `json:"data"`
	Transcript *string `json:"transcript"`
	Timestamp  int64   `json:"timestamp"`
}

type AnswerMessage struct {
	Type            string  `json:"type"`
	Question        string  `json:"question"`
	Answer          string  `json:"answer"`
	Duration        float64 `json:"duration"`
	RequestFollowUp bool    `json:"request_followup"`
}

type EndSessionMessage struct {
	Type string `json:"type"`
}

type PingMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// WireQuestion is the question object inside next_question.
type WireQuestion struct {
	Question   string `json:"question"`
	Type       string `json:"type"`
	Difficulty string `json:"difficulty"`
}

type NextQuestionPayload struct {
	Question       WireQuestion `json:"question"`
	QuestionNumber int          `json:"question_number"`
	TotalQuestions int          `json:"total_questions"`
}

type SessionStartedPayload struct {
	Message        string `json:"message"`
	TotalQuestions int    `json:"total_questions"`
}

type AuthSuccessPayload struct {
	User string `json:"user"`
}

type WireIntervention struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
	Type     string `json:"type"`
}

// InterventionPayload accepts both the nested and the flat intervention
// shapes.
type InterventionPayload struct {
	Intervention    *WireIntervention `json:"intervention"`
	Message         string            `json:"message"`
	Severity        string            `json:"severity"`
	ShouldInterrupt bool              `json:"should_interrupt"`
}

// Normalized returns the intervention regardless of shape.
func (p InterventionPayload) Normalized() WireIntervention {
	if p.Intervention != nil {
		return *p.Intervention
	}
	return WireIntervention{Message: p.Message, Severity: p.Severity}
}

type AnswerFeedbackPayload struct {
	Feedback string   `json:"feedback"`
	Score    *float64 `json:"score"`
}

type AllQuestionsCompletePayload struct {
	Message string `json:"message"`
}

type SessionCompletePayload struct {
	Message  string          `json:"message"`
	Feedback json.RawMessage `json:"feedback"`
}

type AnalyticsPayload struct {
	Data map[string]any `json:"data"`
}

// DataURL encodes binary media the way the backend expects it.
func DataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
