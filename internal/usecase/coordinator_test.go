package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"interviewcoach/internal/channel"
	"interviewcoach/internal/domain"
)

const fortyOneChars = "I would start by clarifying requirements."

func TestInitializeStartsFirstQuestion(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.start(t)

	snap := h.c.Snapshot()
	if snap.Status != domain.StatusActive || snap.Phase != domain.PhaseAnswering {
		t.Fatalf("expected active/answering, got %s/%s", snap.Status, snap.Phase)
	}
	if snap.Question == nil || snap.Question.Index != 1 || snap.Question.Total != 5 {
		t.Fatalf("unexpected question: %+v", snap.Question)
	}
	if snap.Question.Type != domain.QuestionBehavioral || snap.Question.Difficulty != domain.DifficultyMedium {
		t.Fatalf("unexpected question metadata: %+v", snap.Question)
	}
	if starts, _ := h.media.counts(); starts != 1 {
		t.Fatalf("expected one capture start, got %d", starts)
	}
	if h.media.fps != 2 {
		t.Fatalf("expected capture at 2 fps, got %d", h.media.fps)
	}
	if !snap.Listening {
		t.Fatalf("expected transcription running")
	}
	if !h.events.hasReason(domain.ReasonRecordingStarted) || !h.events.hasReason(domain.ReasonQuestionPresented) {
		t.Fatalf("missing status reasons: %+v", h.events.statuses)
	}
}

func TestAutoStartFiresExactlyOnce(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		onConnect []any
		after     func(h *harness)
	}{
		{
			name:      "readiness during connect",
			onConnect: []any{authSuccess(), sessionStarted(5), nextQuestion(1, "Q1")},
		},
		{
			name: "readiness after connect",
			after: func(h *harness) {
				h.push(sessionStarted(5))
				h.push(authSuccess())
				h.push(nextQuestion(1, "Q1"))
			},
		},
		{
			name:      "question only",
			onConnect: []any{nextQuestion(1, "Q1")},
		},
		{
			name:      "duplicate readiness across reconnect",
			onConnect: []any{authSuccess()},
			after: func(h *harness) {
				h.channel.drop()
				h.sync()
				h.channel.reopen()
				h.push(authSuccess(), sessionStarted(5), nextQuestion(1, "Q1"))
				h.channel.reopen()
				h.push(authSuccess())
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t)
			h.channel.onConnect = tc.onConnect
			if err := h.c.Initialize(context.Background()); err != nil {
				t.Fatalf("initialize: %v", err)
			}
			h.sync()
			if tc.after != nil {
				tc.after(h)
			}

			if starts, _ := h.media.counts(); starts != 1 {
				t.Fatalf("expected exactly one capture start, got %d", starts)
			}
			if n := h.events.countReason(domain.ReasonRecordingStarted); n != 1 {
				t.Fatalf("expected one recording_started, got %d", n)
			}
			if snap := h.c.Snapshot(); snap.Status != domain.StatusActive {
				t.Fatalf("expected active, got %s", snap.Status)
			}
		})
	}
}

func TestNoAutoStartWithoutReadiness(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	if err := h.c.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	h.sync()

	if snap := h.c.Snapshot(); snap.Status != domain.StatusAwaitingStart {
		t.Fatalf("expected awaiting start, got %s", snap.Status)
	}
	if starts, _ := h.media.counts(); starts != 0 {
		t.Fatalf("expected no capture before readiness")
	}
	if err := h.c.Initialize(context.Background()); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestTypedAnswerAutoSubmitsAfterSilence(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.start(t)

	if len(fortyOneChars) != 41 {
		t.Fatalf("fixture length changed: %d", len(fortyOneChars))
	}
	h.c.EditAnswer(fortyOneChars)
	h.sync()

	h.advance(4999 * time.Millisecond)
	if got := len(h.channel.sentAnswers()); got != 0 {
		t.Fatalf("expected no answer before the silence delay, got %d", got)
	}

	h.advance(time.Millisecond)
	answers := h.channel.sentAnswers()
	if len(answers) != 1 {
		t.Fatalf("expected one auto-submitted answer, got %d", len(answers))
	}
	if answers[0].Answer != fortyOneChars || answers[0].Question != "Tell me about a project you led." {
		t.Fatalf("unexpected answer: %+v", answers[0])
	}
	if answers[0].Duration != 5 {
		t.Fatalf("expected 5s duration, got %v", answers[0].Duration)
	}
	if !h.events.hasReason(domain.ReasonAnswerAutoSent) {
		t.Fatalf("expected auto-submit reason")
	}

	if err := h.c.Submit(); !errors.Is(err, ErrAlreadySubmitted) {
		t.Fatalf("expected ErrAlreadySubmitted, got %v", err)
	}
	if err := h.c.Skip(); !errors.Is(err, ErrAlreadySubmitted) {
		t.Fatalf("expected ErrAlreadySubmitted from skip, got %v", err)
	}
	if got := len(h.channel.sentAnswers()); got != 1 {
		t.Fatalf("expected exactly one answer, got %d", got)
	}
	if snap := h.c.Snapshot(); snap.Phase != domain.PhasePresenting || !snap.Draft.Submitted {
		t.Fatalf("expected presenting with submitted draft, got %+v", snap)
	}
}

func TestEditsRestartSilenceTimer(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.start(t)

	h.c.EditAnswer("I would start with the data")
	h.sync()
	h.advance(3 * time.Second)
	h.c.EditAnswer("I would start with the data model")
	h.sync()
	h.advance(3 * time.Second)
	if got := len(h.channel.sentAnswers()); got != 0 {
		t.Fatalf("expected timer to restart on edit, got %d answers", got)
	}

	h.advance(2 * time.Second)
	answers := h.channel.sentAnswers()
	if len(answers) != 1 || answers[0].Answer != "I would start with the data model" {
		t.Fatalf("unexpected answers: %+v", answers)
	}
}

func TestShortDraftDisarmsAutoSubmit(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.start(t)

	h.c.EditAnswer("A sufficiently long draft answer")
	h.sync()
	h.advance(2 * time.Second)
	h.c.EditAnswer("exactly twenty chars")
	h.sync()
	h.advance(10 * time.Second)

	if got := len(h.channel.sentAnswers()); got != 0 {
		t.Fatalf("expected no auto-submit for a short draft, got %d", got)
	}
}

func TestStaleAutoSubmitIgnoredOnNextQuestion(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.clock.setLeaky(true)
	h.start(t)

	h.c.EditAnswer("An answer to the first question")
	h.sync()
	h.advance(3 * time.Second)

	h.push(nextQuestion(2, "How do you handle conflict?"))
	h.c.EditAnswer("Second question draft, long enough")
	h.sync()

	// The first question's timer fires here but belongs to a stale question.
	h.advance(2 * time.Second)
	if got := len(h.channel.sentAnswers()); got != 0 {
		t.Fatalf("expected stale timer to be ignored, got %d answers", got)
	}

	h.advance(3 * time.Second)
	answers := h.channel.sentAnswers()
	if len(answers) != 1 {
		t.Fatalf("expected one answer for question 2, got %d", len(answers))
	}
	if answers[0].Question != "How do you handle conflict?" || answers[0].Answer != "Second question draft, long enough" {
		t.Fatalf("unexpected answer: %+v", answers[0])
	}
}

func TestSkipSendsMarkerOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.start(t)

	h.c.EditAnswer("Some thoughts that are long enough")
	h.sync()
	if err := h.c.Skip(); err != nil {
		t.Fatalf("skip: %v", err)
	}
	if err := h.c.Submit(); !errors.Is(err, ErrAlreadySubmitted) {
		t.Fatalf("expected ErrAlreadySubmitted, got %v", err)
	}
	h.advance(10 * time.Second)

	answers := h.channel.sentAnswers()
	if len(answers) != 1 {
		t.Fatalf("expected one answer, got %d", len(answers))
	}
	if answers[0].Answer != SkippedAnswer || answers[0].Duration != 0 {
		t.Fatalf("unexpected skip answer: %+v", answers[0])
	}
	_, stops, _ := h.transcriber.counts()
	if stops == 0 {
		t.Fatalf("expected transcription stopped after skip")
	}
}

func TestSubmitGuards(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	if err := h.c.Submit(); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected ErrNotActive before start, got %v", err)
	}

	h.channel.onConnect = []any{authSuccess()}
	if err := h.c.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	h.sync()
	if err := h.c.Submit(); !errors.Is(err, ErrNoQuestion) {
		t.Fatalf("expected ErrNoQuestion, got %v", err)
	}

	h.push(nextQuestion(1, "Q1"))
	h.c.EditAnswer("   ")
	h.sync()
	if err := h.c.Submit(); !errors.Is(err, ErrEmptyAnswer) {
		t.Fatalf("expected ErrEmptyAnswer, got %v", err)
	}
	if got := len(h.channel.sentAnswers()); got != 0 {
		t.Fatalf("expected no answers, got %d", got)
	}
}

func TestSubmitAppliesAnswerRules(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.rules.apply = func(text string) (string, error) {
		return strings.ReplaceAll(text, "um ", ""), nil
	}
	h.start(t)

	h.c.EditAnswer("um I led the migration")
	h.sync()
	h.advance(2 * time.Second)
	if err := h.c.Submit(); err != nil {
		t.Fatalf("submit: %v", err)
	}

	answers := h.channel.sentAnswers()
	if len(answers) != 1 || answers[0].Answer != "I led the migration" {
		t.Fatalf("unexpected answers: %+v", answers)
	}
	if answers[0].Duration != 2 {
		t.Fatalf("expected 2s duration, got %v", answers[0].Duration)
	}
}

func TestTranscriptReplacesDraftAndAutoSubmits(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.start(t)

	h.transcriber.speak("I designed the caching layer for our API")
	h.sync()
	if snap := h.c.Snapshot(); snap.Draft.Text != "I designed the caching layer for our API" {
		t.Fatalf("expected transcript in draft, got %q", snap.Draft.Text)
	}

	h.advance(5 * time.Second)
	answers := h.channel.sentAnswers()
	if len(answers) != 1 || answers[0].Answer != "I designed the caching layer for our API" {
		t.Fatalf("unexpected answers: %+v", answers)
	}
}

func TestDraftSurvivesReconnectResend(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.start(t)

	h.c.EditAnswer("I started by mapping")
	h.sync()

	h.channel.drop()
	h.sync()
	if !h.events.hasReason(domain.ReasonChannelLost) {
		t.Fatalf("expected channel lost status")
	}

	h.channel.reopen()
	h.push(authSuccess(), nextQuestion(1, "Tell me about a project you led."))

	snap := h.c.Snapshot()
	if snap.Draft.Text != "I started by mapping" || snap.Draft.Submitted {
		t.Fatalf("expected draft preserved, got %+v", snap.Draft)
	}
	if snap.Phase != domain.PhaseAnswering {
		t.Fatalf("expected answering, got %s", snap.Phase)
	}
	if _, _, resets := h.transcriber.counts(); resets != 1 {
		t.Fatalf("expected transcript reset once, got %d", resets)
	}
	if !h.events.hasReason(domain.ReasonChannelRestored) {
		t.Fatalf("expected channel restored status")
	}
	if starts, _ := h.media.counts(); starts != 1 {
		t.Fatalf("expected capture not restarted, got %d", starts)
	}
}

func TestAnswerHeldWhileChannelReconnects(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.start(t)

	h.c.EditAnswer(fortyOneChars)
	h.sync()
	_, stopsBefore, _ := h.transcriber.counts()

	h.channel.drop()
	h.sync()
	h.advance(5 * time.Second)
	if got := len(h.channel.sentAnswers()); got != 0 {
		t.Fatalf("expected no answer while reconnecting, got %d", got)
	}
	if err := h.c.Submit(); !errors.Is(err, ErrChannelDown) {
		t.Fatalf("expected ErrChannelDown, got %v", err)
	}
	snap := h.c.Snapshot()
	if snap.Draft.Text != fortyOneChars || snap.Draft.Submitted || snap.Phase != domain.PhaseAnswering {
		t.Fatalf("expected draft kept while reconnecting, got phase %s draft %+v", snap.Phase, snap.Draft)
	}
	if _, stops, _ := h.transcriber.counts(); stops != stopsBefore {
		t.Fatalf("expected transcription to keep running, stops %d -> %d", stopsBefore, stops)
	}

	h.channel.reopen()
	h.push(authSuccess(), nextQuestion(1, "Tell me about a project you led."))
	if snap := h.c.Snapshot(); snap.Draft.Text != fortyOneChars || snap.Draft.Submitted {
		t.Fatalf("expected draft preserved across reconnect, got %+v", snap.Draft)
	}

	h.advance(4999 * time.Millisecond)
	if got := len(h.channel.sentAnswers()); got != 0 {
		t.Fatalf("expected auto-submit to restart its delay on reopen, got %d answers", got)
	}
	h.advance(time.Millisecond)
	answers := h.channel.sentAnswers()
	if len(answers) != 1 || answers[0].Answer != fortyOneChars {
		t.Fatalf("expected the held answer once, got %+v", answers)
	}
	if answers[0].Duration != 10 {
		t.Fatalf("expected duration since question start, got %v", answers[0].Duration)
	}
}

func TestFailedSendKeepsDraftForRetry(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.start(t)

	h.c.EditAnswer("short answer")
	h.sync()
	h.channel.failSends(channel.ErrNotConnected)
	if err := h.c.Submit(); !errors.Is(err, channel.ErrNotConnected) {
		t.Fatalf("expected send error, got %v", err)
	}
	if snap := h.c.Snapshot(); snap.Draft.Submitted || snap.Phase != domain.PhaseAnswering {
		t.Fatalf("expected draft still open, got phase %s draft %+v", snap.Phase, snap.Draft)
	}
	if errs := h.events.errorsWith(domain.ErrorCodeSubmission); len(errs) != 1 {
		t.Fatalf("expected submission error, got %+v", errs)
	}

	h.channel.failSends(nil)
	if err := h.c.Submit(); err != nil {
		t.Fatalf("retry submit: %v", err)
	}
	if answers := h.channel.sentAnswers(); len(answers) != 1 || answers[0].Answer != "short answer" {
		t.Fatalf("unexpected answers: %+v", answers)
	}
}

func TestNewQuestionAfterSubmitResetsDraft(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.start(t)

	h.c.EditAnswer("first answer")
	h.sync()
	if err := h.c.Submit(); err != nil {
		t.Fatalf("submit: %v", err)
	}
	h.push(map[string]any{"type": channel.TypeAnswerFeedback, "feedback": "Good structure", "score": 7.5})
	h.push(nextQuestion(2, "Q2"))

	snap := h.c.Snapshot()
	if snap.Question == nil || snap.Question.Index != 2 {
		t.Fatalf("expected question 2, got %+v", snap.Question)
	}
	if snap.Draft.Text != "" || snap.Draft.Submitted {
		t.Fatalf("expected fresh draft, got %+v", snap.Draft)
	}
	if _, _, resets := h.transcriber.counts(); resets != 2 {
		t.Fatalf("expected transcript reset per question, got %d", resets)
	}

	h.events.mu.Lock()
	defer h.events.mu.Unlock()
	if len(h.events.feedback) != 1 || h.events.feedback[0].Feedback != "Good structure" || *h.events.feedback[0].Score != 7.5 {
		t.Fatalf("unexpected answer feedback: %+v", h.events.feedback)
	}
}

func TestFramesForwardedOnlyWhileActive(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.start(t)

	h.transcriber.speak("partial words")
	h.sync()
	h.media.emitFrame()
	h.media.emitAudio()
	frames, audio, _, _ := h.channel.counts()
	if frames != 1 || audio != 1 {
		t.Fatalf("expected forwarding while active, frames=%d audio=%d", frames, audio)
	}
	h.channel.mu.Lock()
	transcript := h.channel.transcripts[0]
	h.channel.mu.Unlock()
	if transcript != "partial words" {
		t.Fatalf("expected live transcript on audio chunk, got %q", transcript)
	}

	if err := h.c.EndSession(); err != nil {
		t.Fatalf("end session: %v", err)
	}
	h.media.emitFrame()
	h.media.emitAudio()
	frames, audio, _, _ = h.channel.counts()
	if frames != 1 || audio != 1 {
		t.Fatalf("expected no forwarding after end, frames=%d audio=%d", frames, audio)
	}
}

func TestElapsedTicksWhileAnswering(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.start(t)

	h.advance(3 * time.Second)
	last, count := h.events.lastTick()
	if last != 3*time.Second {
		t.Fatalf("expected 3s elapsed, got %s", last)
	}

	h.c.EditAnswer("done")
	h.sync()
	if err := h.c.Submit(); err != nil {
		t.Fatalf("submit: %v", err)
	}
	h.advance(3 * time.Second)
	if _, after := h.events.lastTick(); after != count {
		t.Fatalf("expected ticker stopped after submit, ticks %d -> %d", count, after)
	}
}

func TestInterventionsExpireAndDismiss(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.start(t)

	h.push(map[string]any{
		"type":             channel.TypeIntervention,
		"intervention":     map[string]any{"message": "Look at the camera", "severity": "high", "type": "eye_contact"},
		"should_interrupt": false,
	})
	h.advance(4 * time.Second)
	h.push(map[string]any{"type": channel.TypeIntervention, "message": "Slow down", "severity": "medium"})

	items := h.c.Snapshot().Interventions
	if len(items) != 2 {
		t.Fatalf("expected two interventions, got %+v", items)
	}
	if items[0].Severity != domain.SeverityHigh || items[0].Kind != "eye_contact" || items[1].Severity != domain.SeverityMedium {
		t.Fatalf("unexpected interventions: %+v", items)
	}

	h.advance(6 * time.Second)
	items = h.c.Snapshot().Interventions
	if len(items) != 1 || items[0].Message != "Slow down" {
		t.Fatalf("expected first intervention expired, got %+v", items)
	}

	if !h.c.DismissIntervention(items[0].ID) {
		t.Fatalf("expected dismiss to succeed")
	}
	if h.c.DismissIntervention("missing") {
		t.Fatalf("expected dismiss of unknown id to fail")
	}
	if got := h.events.lastInterventions(); len(got) != 0 {
		t.Fatalf("expected empty intervention list, got %+v", got)
	}

	h.advance(10 * time.Second)
	if got := h.c.Snapshot().Interventions; len(got) != 0 {
		t.Fatalf("expected no interventions, got %+v", got)
	}
}

func TestAllQuestionsCompleteThenSessionComplete(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.start(t)

	h.push(map[string]any{"type": channel.TypeAllQuestionsComplete, "message": "All done"})
	if snap := h.c.Snapshot(); snap.Status != domain.StatusCompleting {
		t.Fatalf("expected completing, got %s", snap.Status)
	}
	if err := h.c.EndSession(); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected ErrNotActive, got %v", err)
	}
	if _, _, endSessions, _ := h.channel.counts(); endSessions != 1 {
		t.Fatalf("expected one end_session, got %d", endSessions)
	}

	h.push(map[string]any{
		"type": channel.TypeSessionComplete,
		"feedback": map[string]any{
			"overall_score":     82.0,
			"detailed_feedback": "Clear and structured.",
			"strengths":         []string{"structure", "examples"},
			"improvements":      []string{"pace"},
			"component_scores":  map[string]any{"content": 85.0},
		},
	})

	snap := h.c.Snapshot()
	if snap.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", snap.Status)
	}
	if snap.Feedback == nil || snap.Feedback.OverallScore != 82 || snap.Feedback.Summary != "Clear and structured." {
		t.Fatalf("unexpected feedback: %+v", snap.Feedback)
	}
	if _, stops := h.media.counts(); stops == 0 {
		t.Fatalf("expected capture stopped")
	}
	if _, _, _, closes := h.channel.counts(); closes != 1 {
		t.Fatalf("expected channel closed once, got %d", closes)
	}
	h.events.mu.Lock()
	completed := len(h.events.completed)
	h.events.mu.Unlock()
	if completed != 1 {
		t.Fatalf("expected one completion event, got %d", completed)
	}
}

func TestEndSessionByUser(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.start(t)

	if err := h.c.EndSession(); err != nil {
		t.Fatalf("end session: %v", err)
	}
	if _, _, endSessions, _ := h.channel.counts(); endSessions != 1 {
		t.Fatalf("expected end_session sent, got %d", endSessions)
	}
	if !h.events.hasReason(domain.ReasonEndRequested) {
		t.Fatalf("expected end requested reason")
	}
	if err := h.c.Submit(); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected submit rejected while completing, got %v", err)
	}
}

type describedErr struct{ message string }

func (e describedErr) Error() string   { return "setup: " + e.message }
func (e describedErr) Message() string { return e.message }

func TestPermissionFailureFailsSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.media.permErr = describedErr{message: "Camera and microphone access denied."}

	if err := h.c.Initialize(context.Background()); err == nil {
		t.Fatalf("expected initialize error")
	}
	h.sync()

	snap := h.c.Snapshot()
	if snap.Status != domain.StatusFailed || snap.Error != "Camera and microphone access denied." {
		t.Fatalf("unexpected snapshot: status=%s error=%q", snap.Status, snap.Error)
	}
	if h.channel.connects != 0 {
		t.Fatalf("expected no channel connect after permission failure")
	}
	if errs := h.events.errorsWith(domain.ErrorCodeSetup); len(errs) != 1 {
		t.Fatalf("expected setup error event, got %+v", errs)
	}
}

func TestChannelFailureThenRetry(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.channel.connectErr = errors.New("dial refused")

	if err := h.c.Initialize(context.Background()); err == nil {
		t.Fatalf("expected initialize error")
	}
	h.sync()
	if snap := h.c.Snapshot(); snap.Status != domain.StatusFailed || snap.Error != "dial refused" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	h.channel.mu.Lock()
	h.channel.connectErr = nil
	h.channel.mu.Unlock()
	h.start(t)

	snap := h.c.Snapshot()
	if snap.Status != domain.StatusActive || snap.Error != "" {
		t.Fatalf("expected active after retry, got %+v", snap)
	}
	if starts, _ := h.media.counts(); starts != 1 {
		t.Fatalf("expected one capture start, got %d", starts)
	}
}

func TestReconnectExhaustedFailsSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.start(t)
	h.c.EditAnswer("A long enough answer to arm the timer")
	h.sync()

	h.channel.exhaust()
	h.sync()

	snap := h.c.Snapshot()
	if snap.Status != domain.StatusFailed {
		t.Fatalf("expected failed, got %s", snap.Status)
	}
	if _, stops := h.media.counts(); stops == 0 {
		t.Fatalf("expected capture stopped")
	}
	if snap.Listening {
		t.Fatalf("expected transcription stopped")
	}
	h.advance(10 * time.Second)
	if got := len(h.channel.sentAnswers()); got != 0 {
		t.Fatalf("expected no answer after failure, got %d", got)
	}
	if err := h.c.Submit(); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected ErrNotActive, got %v", err)
	}
}

func TestSideErrorsSurfacedAndMalformedDropped(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.start(t)

	h.transcriber.fail(errors.New("speech recognition failed: network"))
	h.media.onError(errors.New("audio capture stopped"))
	h.push(map[string]any{"type": channel.TypeNextQuestion, "question": "not an object"})

	if errs := h.events.errorsWith(domain.ErrorCodeTranscription); len(errs) != 1 {
		t.Fatalf("expected transcription error, got %+v", errs)
	}
	if errs := h.events.errorsWith(domain.ErrorCodeMedia); len(errs) != 1 {
		t.Fatalf("expected media error, got %+v", errs)
	}
	if errs := h.events.errorsWith(domain.ErrorCodeProtocol); len(errs) != 0 {
		t.Fatalf("expected malformed message to be dropped silently, got %+v", errs)
	}
	if snap := h.c.Snapshot(); snap.Status != domain.StatusActive {
		t.Fatalf("expected session to stay active, got %s", snap.Status)
	}
}

func TestCameraToggleAndMinimize(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.start(t)

	if !h.c.SetCameraEnabled(false) {
		t.Fatalf("expected camera toggle to apply")
	}
	snap := h.c.Snapshot()
	if snap.Media.CameraEnabled || !snap.Media.MicEnabled || !snap.Media.HasPermission {
		t.Fatalf("unexpected media state: %+v", snap.Media)
	}

	if !h.c.ToggleMinimized() {
		t.Fatalf("expected minimized")
	}
	if h.c.ToggleMinimized() {
		t.Fatalf("expected restored")
	}
}

func TestCloseReleasesEverything(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.start(t)

	if err := h.c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := h.c.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	h.media.mu.Lock()
	released := h.media.released
	h.media.mu.Unlock()
	if !released {
		t.Fatalf("expected device released")
	}
	h.transcriber.mu.Lock()
	closed := h.transcriber.closed
	h.transcriber.mu.Unlock()
	if !closed {
		t.Fatalf("expected transcriber closed")
	}
	if _, _, _, closes := h.channel.counts(); closes == 0 {
		t.Fatalf("expected channel closed")
	}

	snap := h.c.Snapshot()
	if snap.SessionID != "session-1" || snap.Question == nil {
		t.Fatalf("expected final snapshot after close, got %+v", snap)
	}
	if err := h.c.Initialize(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
