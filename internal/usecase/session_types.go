package usecase

import (
	"time"

	"interviewcoach/internal/domain"
)

// sessionState is owned by the coordinator loop and never touched from
// another goroutine.
type sessionState struct {
	status domain.SessionStatus
	phase  domain.Phase

	permission  bool
	channelOpen bool
	ready       bool
	recording   bool
	channelLost bool

	question  *domain.Question
	totalHint int
	draft     domain.AnswerDraft
	elapsed   time.Duration

	// gen identifies the current question. Timers capture it and are
	// ignored when it has moved on.
	gen        uint64
	autoSubmit Timer
	ticker     Timer

	interventions      []domain.Intervention
	interventionTimers map[string]Timer

	minimized bool
	feedback  *domain.Feedback
	errText   string
}

func (s *sessionState) cancelQuestionTimers() {
	s.gen++
	if s.autoSubmit != nil {
		s.autoSubmit.Stop()
		s.autoSubmit = nil
	}
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
}

func (s *sessionState) cancelAllTimers() {
	s.cancelQuestionTimers()
	for id, timer := range s.interventionTimers {
		timer.Stop()
		delete(s.interventionTimers, id)
	}
}

func (s *sessionState) removeIntervention(id string) bool {
	if timer, ok := s.interventionTimers[id]; ok {
		timer.Stop()
		delete(s.interventionTimers, id)
	}
	for i, item := range s.interventions {
		if item.ID == id {
			s.interventions = append(s.interventions[:i], s.interventions[i+1:]...)
			return true
		}
	}
	return false
}

func (s *sessionState) interventionsCopy() []domain.Intervention {
	out := make([]domain.Intervention, len(s.interventions))
	copy(out, s.interventions)
	return out
}
