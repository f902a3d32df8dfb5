package tui

import (
	"time"

	"interviewcoach/internal/domain"
)

// Session event messages. The application forwards coordinator events
// into the program as these.
type (
	StatusMsg struct {
		Status domain.SessionStatus
		Phase  domain.Phase
		Reason domain.StatusReason
	}
	QuestionMsg struct {
		Question domain.Question
	}
	DraftMsg struct {
		Draft domain.AnswerDraft
	}
	ElapsedMsg struct {
		Elapsed time.Duration
	}
	InterventionsMsg struct {
		Items []domain.Intervention
	}
	AnswerFeedbackMsg struct {
		Feedback domain.AnswerFeedback
	}
	CompletedMsg struct {
		Feedback domain.Feedback
	}
	ErrorMsg struct {
		Code   domain.ErrorCode
		Detail string
	}
)

// Results of commands started by the model.
type (
	initializedMsg struct{ err error }
	actionMsg      struct {
		action string
		err    error
	}
	screenshotMsg struct {
		path string
		err  error
	}
	mediaMsg struct {
		state domain.MediaState
		ok    bool
	}
	noticeExpiredMsg struct{ seq int }
)
