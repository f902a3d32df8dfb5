package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"interviewcoach/internal/channel"
	"interviewcoach/internal/domain"
	"interviewcoach/internal/ports"
	"interviewcoach/internal/transcription"
)

var (
	ErrAlreadyInitialized = errors.New("session already initialized")
	ErrNotActive          = errors.New("session is not active")
	ErrNoQuestion         = errors.New("no current question")
	ErrEmptyAnswer        = errors.New("answer is empty")
	ErrAlreadySubmitted   = errors.New("answer already submitted")
	ErrChannelDown        = errors.New("session channel is not open")
	ErrClosed             = errors.New("coordinator closed")
)

// SkippedAnswer is the answer text sent for a skipped question.
const SkippedAnswer = "Skipped"

const inboxSize = 256

// Config controls session timing.
type Config struct {
	SessionID          string
	FramesPerSecond    int
	AutoSubmitDelay    time.Duration
	MinAnswerLength    int
	InterventionWindow time.Duration
	ElapsedTick        time.Duration
	DefaultTotal       int
}

func (c Config) withDefaults() Config {
	if c.FramesPerSecond <= 0 {
		c.FramesPerSecond = 2
	}
	if c.AutoSubmitDelay <= 0 {
		c.AutoSubmitDelay = 5 * time.Second
	}
	if c.MinAnswerLength < 0 {
		c.MinAnswerLength = 20
	}
	if c.InterventionWindow <= 0 {
		c.InterventionWindow = 10 * time.Second
	}
	if c.ElapsedTick <= 0 {
		c.ElapsedTick = time.Second
	}
	if c.DefaultTotal <= 0 {
		c.DefaultTotal = 5
	}
	return c
}

// Dependencies are the collaborators of one coordinator. Transcriber may be
// nil to run without speech recognition.
type Dependencies struct {
	Media       MediaCapture
	Transcriber Transcriber
	Channel     SessionChannel
	Rules       ports.TextRules
	Events      ports.EventSink
	Clock       Clock
	Log         logrus.FieldLogger
}

type submitKind int

const (
	submitManual submitKind = iota
	submitSkip
	submitAuto
)

// Coordinator runs one interview session. All session state is owned by a
// single loop goroutine; every callback and timer is posted into it.
type Coordinator struct {
	media       MediaCapture
	transcriber Transcriber
	channel     SessionChannel
	events      ports.EventSink
	finalizer   answerFinalizer
	clock       Clock
	log         logrus.FieldLogger
	cfg         Config
	newID       func() string

	inbox     chan func()
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	forwarding        atomic.Bool
	transcriptPending atomic.Bool
	final             atomic.Pointer[domain.Snapshot]

	st sessionState
}

func NewCoordinator(deps Dependencies, cfg Config) *Coordinator {
	log := deps.Log
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	clock := deps.Clock
	if clock == nil {
		clock = wallClock{}
	}
	cfg = cfg.withDefaults()

	c := &Coordinator{
		media:       deps.Media,
		transcriber: deps.Transcriber,
		channel:     deps.Channel,
		events:      deps.Events,
		finalizer:   newAnswerFinalizer(deps.Rules, deps.Events),
		clock:       clock,
		log:         log.WithFields(logrus.Fields{"component": "coordinator", "session": cfg.SessionID}),
		cfg:         cfg,
		newID:       uuid.NewString,
		inbox:       make(chan func(), inboxSize),
		done:        make(chan struct{}),
		st: sessionState{
			status:             domain.StatusUninitialized,
			interventionTimers: map[string]Timer{},
		},
	}

	c.media.SetErrorHandler(func(err error) {
		c.post(func() { c.onMediaError(err) })
	})
	if c.transcriber != nil {
		c.transcriber.SetHandler(transcription.Handler{
			OnTranscript: func(string) {
				if c.transcriptPending.CompareAndSwap(false, true) {
					c.post(c.applyTranscript)
				}
			},
			OnError: func(err error) {
				c.post(func() { c.onTranscriptionError(err) })
			},
		})
	}

	go c.run()
	return c
}

func (c *Coordinator) run() {
	for {
		select {
		case <-c.done:
			return
		case fn := <-c.inbox:
			fn()
		}
	}
}

// post queues fn on the loop. It reports false once the coordinator is
// closed.
func (c *Coordinator) post(fn func()) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.inbox <- fn:
		return true
	case <-c.done:
		return false
	}
}

// call runs fn on the loop and waits for it. Never call it from the loop.
func (c *Coordinator) call(fn func()) bool {
	finished := make(chan struct{})
	if !c.post(func() {
		defer close(finished)
		fn()
	}) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-c.done:
		return false
	}
}

// Initialize acquires the camera and microphone and then connects the
// session channel. It may be retried after a failure.
func (c *Coordinator) Initialize(ctx context.Context) error {
	var err error
	if !c.call(func() { err = c.beginInitialize() }) {
		return ErrClosed
	}
	if err != nil {
		return err
	}

	if _, err := c.media.RequestPermission(ctx); err != nil {
		detail := userMessage(err)
		c.log.WithError(err).Error("device setup failed")
		c.call(func() { c.fail(domain.ErrorCodeSetup, detail, domain.ReasonPermissionFailed) })
		return err
	}
	c.call(func() {
		c.st.permission = true
	})

	c.bindChannel()
	if err := c.channel.Connect(ctx); err != nil {
		c.log.WithError(err).Error("session channel connect failed")
		c.call(func() { c.fail(domain.ErrorCodeChannel, err.Error(), domain.ReasonChannelFailed) })
		return err
	}

	c.call(func() {
		if c.st.status != domain.StatusInitializing {
			return
		}
		if c.channel.Status().State == domain.ConnOpen {
			c.st.channelOpen = true
		}
		c.setStatus(domain.StatusAwaitingStart, domain.PhaseNone, domain.ReasonReady)
		c.evaluateStart()
	})
	return nil
}

func (c *Coordinator) beginInitialize() error {
	switch c.st.status {
	case domain.StatusUninitialized, domain.StatusFailed:
	default:
		return ErrAlreadyInitialized
	}
	c.st.ready = false
	c.st.recording = false
	c.st.channelOpen = false
	c.st.channelLost = false
	c.st.errText = ""
	c.setStatus(domain.StatusInitializing, domain.PhaseNone, domain.ReasonSessionEntered)
	return nil
}

func (c *Coordinator) bindChannel() {
	c.channel.On(channel.Wildcard, func(msg channel.Message) {
		c.post(func() { c.handleMessage(msg) })
	})
	c.channel.OnStateChange(func(status domain.ChannelStatus, err error) {
		c.post(func() { c.handleChannelState(status, err) })
	})
}

// Submit sends the current draft.
func (c *Coordinator) Submit() error {
	return c.submitFromCaller(submitManual)
}

// Skip sends the skip marker for the current question.
func (c *Coordinator) Skip() error {
	return c.submitFromCaller(submitSkip)
}

func (c *Coordinator) submitFromCaller(kind submitKind) error {
	var err error
	if !c.call(func() { err = c.submit(kind) }) {
		return ErrClosed
	}
	if err != nil {
		c.log.WithError(err).Debug("answer not submitted")
	}
	return err
}

// EditAnswer replaces the draft text.
func (c *Coordinator) EditAnswer(text string) {
	c.post(func() { c.updateDraft(text) })
}

// EndSession asks the backend to finish the interview.
func (c *Coordinator) EndSession() error {
	var err error
	if !c.call(func() { err = c.beginCompleting(domain.ReasonEndRequested) }) {
		return ErrClosed
	}
	return err
}

// DismissIntervention removes an intervention before it expires.
func (c *Coordinator) DismissIntervention(id string) bool {
	var removed bool
	c.call(func() {
		removed = c.st.removeIntervention(id)
		if removed {
			c.events.InterventionsChanged(c.st.interventionsCopy())
		}
	})
	return removed
}

// ToggleMinimized flips the minimized presentation flag and returns it.
func (c *Coordinator) ToggleMinimized() bool {
	var minimized bool
	c.call(func() {
		c.st.minimized = !c.st.minimized
		minimized = c.st.minimized
	})
	return minimized
}

func (c *Coordinator) SetCameraEnabled(enabled bool) bool {
	return c.media.SetCameraEnabled(enabled)
}

func (c *Coordinator) SetMicEnabled(enabled bool) bool {
	return c.media.SetMicEnabled(enabled)
}

func (c *Coordinator) CaptureSnapshot() ([]byte, bool) {
	return c.media.CaptureSnapshot()
}

// Snapshot returns the current session view.
func (c *Coordinator) Snapshot() domain.Snapshot {
	var snap domain.Snapshot
	if c.call(func() { snap = c.buildSnapshot() }) {
		return snap
	}
	if last := c.final.Load(); last != nil {
		return *last
	}
	return domain.Snapshot{SessionID: c.cfg.SessionID}
}

// Close stops capture and transcription, releases the device and closes
// the channel.
func (c *Coordinator) Close() error {
	c.closeOnce.Do(func() {
		c.call(func() {
			c.shutdownSession()
			c.emitStatus(domain.ReasonSessionClosed)
			snap := c.buildSnapshot()
			c.final.Store(&snap)
		})
		close(c.done)

		var g errgroup.Group
		g.Go(c.media.Release)
		g.Go(c.channel.Close)
		if c.transcriber != nil {
			g.Go(func() error {
				c.transcriber.Close()
				return nil
			})
		}
		c.closeErr = g.Wait()
		c.log.Info("session closed")
	})
	return c.closeErr
}

func (c *Coordinator) handleMessage(msg channel.Message) {
	if c.st.status.Terminal() {
		c.log.WithField("type", msg.Type).Debug("ignoring message after session end")
		return
	}

	switch msg.Type {
	case channel.TypeAuthSuccess:
		var payload channel.AuthSuccessPayload
		if c.decode(msg, &payload) {
			c.log.WithField("user", payload.User).Info("session authenticated")
		}
		c.markReady()

	case channel.TypeSessionStarted:
		var payload channel.SessionStartedPayload
		if c.decode(msg, &payload) && payload.TotalQuestions > 0 {
			c.st.totalHint = payload.TotalQuestions
		}
		c.markReady()

	case channel.TypeNextQuestion:
		var payload channel.NextQuestionPayload
		if !c.decode(msg, &payload) {
			return
		}
		c.onNextQuestion(payload)

	case channel.TypeIntervention:
		var payload channel.InterventionPayload
		if !c.decode(msg, &payload) {
			return
		}
		c.addIntervention(payload.Normalized())

	case channel.TypeAnswerFeedback:
		var payload channel.AnswerFeedbackPayload
		if !c.decode(msg, &payload) {
			return
		}
		c.events.AnswerFeedback(domain.AnswerFeedback{Feedback: payload.Feedback, Score: payload.Score})

	case channel.TypeAllQuestionsComplete:
		if err := c.beginCompleting(domain.ReasonAllQuestionsDone); err != nil {
			c.log.WithError(err).Debug("ignoring all_questions_complete")
		}

	case channel.TypeSessionComplete:
		var payload channel.SessionCompletePayload
		if !c.decode(msg, &payload) {
			return
		}
		c.complete(payload.Feedback)

	case channel.TypeAnalytics, channel.TypePong, channel.TypeHeartbeat:
		c.log.WithField("type", msg.Type).Debug("channel message")

	default:
		c.log.WithField("type", msg.Type).Debug("unhandled channel message")
	}
}

func (c *Coordinator) decode(msg channel.Message, v any) bool {
	if err := msg.Decode(v); err != nil {
		c.log.WithError(err).WithField("type", msg.Type).Warn("malformed channel message")
		return false
	}
	return true
}

func (c *Coordinator) markReady() {
	c.st.ready = true
	c.evaluateStart()
}

// evaluateStart fires the auto-start latch once permission, an open channel
// and a readiness signal are all present.
func (c *Coordinator) evaluateStart() {
	if c.st.recording || c.st.status != domain.StatusAwaitingStart {
		return
	}
	if !c.st.permission || !c.st.channelOpen || !c.st.ready {
		return
	}
	c.st.recording = true

	if !c.media.StartCapture(c.forwardFrame, c.forwardAudio, c.cfg.FramesPerSecond) {
		c.log.Warn("capture did not start")
		c.events.SessionError(domain.ErrorCodeMedia, "capture could not start")
	}
	c.forwarding.Store(true)
	c.log.Info("recording started")
	c.setStatus(domain.StatusActive, domain.PhasePresenting, domain.ReasonRecordingStarted)

	if c.st.question != nil {
		c.beginAnswering()
		return
	}
	c.startTranscription()
}

func (c *Coordinator) onNextQuestion(payload channel.NextQuestionPayload) {
	total := payload.TotalQuestions
	if total <= 0 {
		total = c.st.totalHint
	}
	if total <= 0 {
		total = c.cfg.DefaultTotal
	}
	c.st.totalHint = total
	c.st.ready = true

	question := domain.Question{
		Text:       strings.TrimSpace(payload.Question.Question),
		Type:       domain.ParseQuestionType(payload.Question.Type),
		Difficulty: domain.ParseDifficulty(payload.Question.Difficulty),
		Index:      payload.QuestionNumber,
		Total:      total,
	}

	if c.st.status == domain.StatusCompleting {
		c.log.WithField("question", question.Index).Debug("ignoring question while completing")
		return
	}

	if current := c.st.question; current != nil && current.SameAs(question) && !c.st.draft.Submitted {
		c.log.WithField("question", question.Index).Debug("question re-sent, keeping draft")
		c.evaluateStart()
		return
	}

	c.st.question = &question
	c.log.WithFields(logrus.Fields{"question": question.Index, "total": question.Total}).Info("question received")
	c.events.QuestionPresented(question)

	if c.st.recording && c.st.status == domain.StatusActive {
		c.beginAnswering()
		return
	}
	c.evaluateStart()
}

func (c *Coordinator) beginAnswering() {
	c.st.cancelQuestionTimers()
	gen := c.st.gen

	c.st.draft = domain.AnswerDraft{StartedAt: c.clock.Now()}
	c.st.elapsed = 0
	c.st.phase = domain.PhaseAnswering

	if c.transcriber != nil {
		c.transcriber.Stop()
		c.transcriber.Reset()
		c.startTranscription()
	}
	c.scheduleTick(gen)

	c.events.DraftChanged(c.st.draft)
	c.events.ElapsedTick(0)
	c.emitStatus(domain.ReasonQuestionPresented)
}

func (c *Coordinator) startTranscription() {
	if c.transcriber == nil {
		return
	}
	c.transcriber.Start(func(chunk string) {
		c.log.WithField("chars", len(chunk)).Debug("final transcript chunk")
	})
}

func (c *Coordinator) scheduleTick(gen uint64) {
	c.st.ticker = c.clock.AfterFunc(c.cfg.ElapsedTick, func() {
		c.post(func() {
			if gen != c.st.gen || c.st.phase != domain.PhaseAnswering {
				return
			}
			c.st.elapsed = c.clock.Now().Sub(c.st.draft.StartedAt)
			c.events.ElapsedTick(c.st.elapsed)
			c.scheduleTick(gen)
		})
	})
}

func (c *Coordinator) applyTranscript() {
	c.transcriptPending.Store(false)
	if c.transcriber == nil {
		return
	}
	text := c.transcriber.FullTranscript()
	if text == "" {
		return
	}
	c.updateDraft(text)
}

func (c *Coordinator) updateDraft(text string) {
	if c.st.status != domain.StatusActive || c.st.phase != domain.PhaseAnswering || c.st.draft.Submitted {
		return
	}
	if text == c.st.draft.Text {
		return
	}
	c.st.draft.Text = text
	c.events.DraftChanged(c.st.draft)
	c.armAutoSubmit()
}

// armAutoSubmit restarts the silence timer when the draft is long enough
// and the channel is open, and disarms it otherwise.
func (c *Coordinator) armAutoSubmit() {
	c.disarmAutoSubmit()
	if !c.st.channelOpen {
		return
	}
	if utf8.RuneCountInString(strings.TrimSpace(c.st.draft.Text)) <= c.cfg.MinAnswerLength {
		return
	}

	gen := c.st.gen
	c.st.autoSubmit = c.clock.AfterFunc(c.cfg.AutoSubmitDelay, func() {
		c.post(func() {
			if gen != c.st.gen {
				c.log.Debug("ignoring stale auto-submit")
				return
			}
			c.st.autoSubmit = nil
			if err := c.submit(submitAuto); err != nil {
				c.log.WithError(err).Debug("auto-submit skipped")
			}
		})
	})
}

// submit is the single path for every answer. At most one answer is sent
// per question, and the draft is only marked submitted once the channel
// accepted it.
func (c *Coordinator) submit(kind submitKind) error {
	if c.st.status != domain.StatusActive {
		return ErrNotActive
	}
	if c.st.question == nil {
		return ErrNoQuestion
	}
	if c.st.draft.Submitted {
		return ErrAlreadySubmitted
	}
	question := *c.st.question

	answer := SkippedAnswer
	duration := 0.0
	reason := domain.ReasonAnswerSkipped
	if kind != submitSkip {
		raw := strings.TrimSpace(c.st.draft.Text)
		if raw == "" {
			return ErrEmptyAnswer
		}
		answer = c.finalizer.Finalize(raw)
		duration = c.clock.Now().Sub(c.st.draft.StartedAt).Seconds()
		reason = domain.ReasonAnswerSubmitted
		if kind == submitAuto {
			reason = domain.ReasonAnswerAutoSent
		}
	}

	if !c.st.channelOpen {
		c.log.WithField("question", question.Index).Warn("channel not open, answer kept as draft")
		return ErrChannelDown
	}
	if err := c.channel.SendAnswer(question.Text, answer, duration); err != nil {
		c.log.WithError(err).Warn("answer not delivered, kept as draft")
		c.events.SessionError(domain.ErrorCodeSubmission, err.Error())
		return fmt.Errorf("failed to send answer: %w", err)
	}

	c.st.draft.Submitted = true
	c.st.cancelQuestionTimers()
	if c.transcriber != nil {
		c.transcriber.Stop()
	}
	c.log.WithFields(logrus.Fields{"question": question.Index, "reason": reason}).Info("answer submitted")

	c.st.phase = domain.PhasePresenting
	c.events.DraftChanged(c.st.draft)
	c.emitStatus(reason)
	return nil
}

func (c *Coordinator) beginCompleting(reason domain.StatusReason) error {
	switch c.st.status {
	case domain.StatusActive, domain.StatusAwaitingStart:
	default:
		return ErrNotActive
	}

	c.st.cancelQuestionTimers()
	c.forwarding.Store(false)
	if c.transcriber != nil {
		c.transcriber.Stop()
	}
	c.setStatus(domain.StatusCompleting, domain.PhaseNone, reason)

	if err := c.channel.EndSession(); err != nil {
		c.log.WithError(err).Warn("end_session not delivered")
		c.events.SessionError(domain.ErrorCodeChannel, err.Error())
	}
	return nil
}

func (c *Coordinator) complete(raw []byte) {
	if c.st.status.Terminal() {
		return
	}
	feedback := parseFeedback(raw)
	c.st.feedback = &feedback

	c.shutdownSession()
	c.setStatus(domain.StatusCompleted, domain.PhaseNone, domain.ReasonSessionComplete)
	c.events.SessionCompleted(feedback)
	c.log.WithField("score", feedback.OverallScore).Info("session complete")

	if err := c.channel.Close(); err != nil {
		c.log.WithError(err).Debug("channel close")
	}
}

func (c *Coordinator) fail(code domain.ErrorCode, detail string, reason domain.StatusReason) {
	if c.st.status == domain.StatusCompleted {
		return
	}
	c.shutdownSession()
	c.st.errText = detail
	c.events.SessionError(code, detail)
	c.setStatus(domain.StatusFailed, domain.PhaseNone, reason)
}

// shutdownSession stops every activity of the session and its timers.
func (c *Coordinator) shutdownSession() {
	c.st.cancelAllTimers()
	c.forwarding.Store(false)
	c.media.StopCapture()
	if c.transcriber != nil {
		c.transcriber.Stop()
	}
	if len(c.st.interventions) > 0 {
		c.st.interventions = nil
		c.events.InterventionsChanged(nil)
	}
}

func (c *Coordinator) handleChannelState(status domain.ChannelStatus, err error) {
	if c.st.status.Terminal() {
		return
	}

	switch {
	case errors.Is(err, channel.ErrReconnectExhausted):
		c.st.channelOpen = false
		c.fail(domain.ErrorCodeChannel, err.Error(), domain.ReasonChannelFailed)

	case errors.Is(err, channel.ErrConnectionLost):
		c.st.channelOpen = false
		c.disarmAutoSubmit()
		if !c.st.channelLost {
			c.st.channelLost = true
			c.events.SessionError(domain.ErrorCodeChannel, "connection lost, reconnecting")
			c.emitStatus(domain.ReasonChannelLost)
		}

	case status.State == domain.ConnOpen:
		c.st.channelOpen = true
		if c.st.channelLost {
			c.st.channelLost = false
			c.emitStatus(domain.ReasonChannelRestored)
			if c.st.status == domain.StatusActive && c.st.phase == domain.PhaseAnswering && !c.st.draft.Submitted {
				c.armAutoSubmit()
			}
		}
		c.evaluateStart()

	default:
		c.st.channelOpen = false
		c.disarmAutoSubmit()
	}
}

func (c *Coordinator) disarmAutoSubmit() {
	if c.st.autoSubmit != nil {
		c.st.autoSubmit.Stop()
		c.st.autoSubmit = nil
	}
}

func (c *Coordinator) addIntervention(wire channel.WireIntervention) {
	message := strings.TrimSpace(wire.Message)
	if message == "" {
		return
	}
	item := domain.Intervention{
		ID:        c.newID(),
		Message:   message,
		Severity:  domain.ParseSeverity(wire.Severity),
		Kind:      wire.Type,
		CreatedAt: c.clock.Now(),
	}
	c.st.interventions = append(c.st.interventions, item)

	id := item.ID
	c.st.interventionTimers[id] = c.clock.AfterFunc(c.cfg.InterventionWindow, func() {
		c.post(func() {
			if c.st.removeIntervention(id) {
				c.events.InterventionsChanged(c.st.interventionsCopy())
			}
		})
	})
	c.events.InterventionsChanged(c.st.interventionsCopy())
}

func (c *Coordinator) onMediaError(err error) {
	c.log.WithError(err).Warn("media error")
	c.events.SessionError(domain.ErrorCodeMedia, err.Error())
}

func (c *Coordinator) onTranscriptionError(err error) {
	c.events.SessionError(domain.ErrorCodeTranscription, err.Error())
}

// forwardFrame and forwardAudio run on media goroutines.
func (c *Coordinator) forwardFrame(frame ports.Frame) {
	if !c.forwarding.Load() {
		return
	}
	if err := c.channel.SendVideoFrame(frame.MimeType, frame.Data); err != nil {
		c.log.WithError(err).Debug("video frame dropped")
	}
}

func (c *Coordinator) forwardAudio(chunk ports.AudioChunk) {
	if !c.forwarding.Load() {
		return
	}
	transcript := ""
	if c.transcriber != nil {
		transcript = c.transcriber.FullTranscript()
	}
	if err := c.channel.SendAudioChunk(chunk.MimeType, chunk.Data, transcript); err != nil {
		c.log.WithError(err).Debug("audio chunk dropped")
	}
}

func (c *Coordinator) setStatus(status domain.SessionStatus, phase domain.Phase, reason domain.StatusReason) {
	c.st.status = status
	c.st.phase = phase
	c.emitStatus(reason)
}

func (c *Coordinator) emitStatus(reason domain.StatusReason) {
	c.events.StatusChanged(c.st.status, c.st.phase, reason)
}

func (c *Coordinator) buildSnapshot() domain.Snapshot {
	snap := domain.Snapshot{
		SessionID:     c.cfg.SessionID,
		Status:        c.st.status,
		Phase:         c.st.phase,
		TotalHint:     c.st.totalHint,
		Draft:         c.st.draft,
		Elapsed:       c.st.elapsed,
		Interventions: c.st.interventionsCopy(),
		Minimized:     c.st.minimized,
		Media:         c.media.State(),
		Channel:       c.channel.Status(),
		Error:         c.st.errText,
	}
	if c.st.question != nil {
		question := *c.st.question
		snap.Question = &question
	}
	if c.st.feedback != nil {
		feedback := *c.st.feedback
		snap.Feedback = &feedback
	}
	if c.transcriber != nil {
		snap.Listening = c.transcriber.Listening()
	}
	return snap
}

// userMessage prefers an error's user-facing text when it carries one.
func userMessage(err error) string {
	var described interface{ Message() string }
	if errors.As(err, &described) {
		return described.Message()
	}
	return err.Error()
}
