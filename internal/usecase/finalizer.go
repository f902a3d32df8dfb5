package usecase

import (
	"strings"

	"interviewcoach/internal/domain"
	"interviewcoach/internal/ports"
)

// answerFinalizer turns a draft into the text sent to the backend.
type answerFinalizer struct {
	rules  ports.TextRules
	events ports.EventSink
}

func newAnswerFinalizer(rules ports.TextRules, events ports.EventSink) answerFinalizer {
	return answerFinalizer{rules: rules, events: events}
}

// Finalize applies the answer rules to raw. A rules failure is reported and
// the raw text is used unchanged.
func (f answerFinalizer) Finalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if f.rules == nil || raw == "" {
		return raw
	}

	transformed, err := f.rules.Apply(raw)
	if err != nil {
		f.events.SessionError(domain.ErrorCodeSubmission, "answer rules failed: "+err.Error())
		return raw
	}
	transformed = strings.TrimSpace(transformed)
	if transformed == "" {
		return raw
	}
	return transformed
}
