package main

import (
	"context"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"

	"interviewcoach/internal/domain"
	"interviewcoach/internal/tui"
)

const historyWriteTimeout = 5 * time.Second

// HistoryRecorder persists the summary of a finished session.
type HistoryRecorder interface {
	RecordSession(ctx context.Context, record domain.SessionRecord) error
}

// App is the coordinator's event sink. Events arrive on the session loop
// and must not block it, so they are queued and delivered to the terminal
// program by a separate pump goroutine.
type App struct {
	history HistoryRecorder
	log     logrus.FieldLogger
	now     func() time.Time

	mu       sync.Mutex
	pending  []any
	wake     chan struct{}
	stopped  chan struct{}
	running  bool
	stopping bool
	record   domain.SessionRecord
	started  bool
	recorded bool
}

// persistRecord is queued alongside UI messages so history writes happen
// off the session loop, in event order.
type persistRecord struct {
	record domain.SessionRecord
}

func NewApp(sessionID, position string, history HistoryRecorder, log logrus.FieldLogger) *App {
	return &App{
		history: history,
		log:     log.WithFields(logrus.Fields{"component": "app", "session": sessionID}),
		now:     time.Now,
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
		record: domain.SessionRecord{
			SessionID: sessionID,
			Position:  position,
			Status:    domain.StatusUninitialized,
		},
	}
}

// Start delivers queued events to send until Stop.
func (a *App) Start(send func(tea.Msg)) {
	a.mu.Lock()
	a.running = true
	a.mu.Unlock()
	go a.pump(send)
}

// Stop flushes the queue and waits for the pump to exit.
func (a *App) Stop() {
	a.mu.Lock()
	a.stopping = true
	running := a.running
	a.mu.Unlock()
	if !running {
		return
	}
	a.signal()
	<-a.stopped
}

func (a *App) pump(send func(tea.Msg)) {
	defer close(a.stopped)
	for {
		<-a.wake

		a.mu.Lock()
		batch := a.pending
		a.pending = nil
		stopping := a.stopping
		a.mu.Unlock()

		for _, item := range batch {
			switch v := item.(type) {
			case persistRecord:
				a.persist(v.record)
			case tea.Msg:
				send(v)
			}
		}
		if stopping {
			return
		}
	}
}

func (a *App) enqueue(item any) {
	a.mu.Lock()
	a.pending = append(a.pending, item)
	a.mu.Unlock()
	a.signal()
}

func (a *App) signal() {
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

func (a *App) persist(record domain.SessionRecord) {
	if a.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
	defer cancel()
	if err := a.history.RecordSession(ctx, record); err != nil {
		a.log.WithError(err).Warn("failed to record session history")
		return
	}
	a.log.WithField("status", record.Status).Info("session recorded")
}

// StatusChanged forwards lifecycle changes and tracks the history record.
func (a *App) StatusChanged(status domain.SessionStatus, phase domain.Phase, reason domain.StatusReason) {
	a.enqueue(tui.StatusMsg{Status: status, Phase: phase, Reason: reason})

	a.mu.Lock()
	defer a.mu.Unlock()
	if reason != domain.ReasonSessionClosed {
		a.record.Status = status
	}
	switch reason {
	case domain.ReasonRecordingStarted:
		if !a.started {
			a.started = true
			a.record.StartedAt = a.now().UTC()
		}
	case domain.ReasonAnswerSubmitted, domain.ReasonAnswerSkipped, domain.ReasonAnswerAutoSent:
		a.record.AnswersSent++
	}

	switch {
	case status == domain.StatusFailed && a.started:
		a.finishLocked()
	case reason == domain.ReasonSessionClosed && a.started:
		// Quit before the backend completed the session.
		a.finishLocked()
	}
}

func (a *App) QuestionPresented(question domain.Question) {
	a.mu.Lock()
	a.record.QuestionCount = max(a.record.QuestionCount, question.Index)
	a.mu.Unlock()
	a.enqueue(tui.QuestionMsg{Question: question})
}

func (a *App) DraftChanged(draft domain.AnswerDraft) {
	a.enqueue(tui.DraftMsg{Draft: draft})
}

func (a *App) ElapsedTick(elapsed time.Duration) {
	a.enqueue(tui.ElapsedMsg{Elapsed: elapsed})
}

func (a *App) InterventionsChanged(items []domain.Intervention) {
	a.enqueue(tui.InterventionsMsg{Items: items})
}

func (a *App) AnswerFeedback(feedback domain.AnswerFeedback) {
	a.enqueue(tui.AnswerFeedbackMsg{Feedback: feedback})
}

// SessionCompleted forwards the final feedback and records the session.
func (a *App) SessionCompleted(feedback domain.Feedback) {
	a.enqueue(tui.CompletedMsg{Feedback: feedback})

	a.mu.Lock()
	defer a.mu.Unlock()
	fb := feedback
	a.record.Feedback = &fb
	a.record.Status = domain.StatusCompleted
	a.finishLocked()
}

func (a *App) SessionError(code domain.ErrorCode, detail string) {
	a.log.WithField("code", code).Warn(detail)
	a.enqueue(tui.ErrorMsg{Code: code, Detail: detail})
}

func (a *App) finishLocked() {
	if a.recorded {
		return
	}
	a.recorded = true
	a.record.EndedAt = a.now().UTC()
	if a.record.StartedAt.IsZero() {
		a.record.StartedAt = a.record.EndedAt
	}
	a.pending = append(a.pending, persistRecord{record: a.record})
	a.signal()
}
