package usecase

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	"interviewcoach/internal/channel"
	"interviewcoach/internal/domain"
	"interviewcoach/internal/ports"
	"interviewcoach/internal/transcription"
)

type harness struct {
	c           *Coordinator
	media       *fakeMedia
	transcriber *fakeTranscriber
	channel     *fakeChannel
	events      *fakeEventSink
	clock       *fakeClock
	rules       *fakeRules
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		media:       &fakeMedia{camera: true, mic: true},
		transcriber: &fakeTranscriber{},
		channel:     &fakeChannel{},
		events:      &fakeEventSink{},
		clock:       newFakeClock(),
		rules:       &fakeRules{},
	}
	h.c = NewCoordinator(Dependencies{
		Media:       h.media,
		Transcriber: h.transcriber,
		Channel:     h.channel,
		Rules:       h.rules,
		Events:      h.events,
		Clock:       h.clock,
	}, Config{
		SessionID:          "session-1",
		FramesPerSecond:    2,
		AutoSubmitDelay:    5 * time.Second,
		MinAnswerLength:    20,
		InterventionWindow: 10 * time.Second,
		ElapsedTick:        time.Second,
		DefaultTotal:       5,
	})
	var ids int
	h.c.newID = func() string {
		ids++
		return "intervention-" + strconv.Itoa(ids)
	}
	h.clock.afterFire = h.sync
	t.Cleanup(func() { _ = h.c.Close() })
	return h
}

// sync waits until everything posted so far has been processed.
func (h *harness) sync() {
	h.c.call(func() {})
}

func (h *harness) push(messages ...any) {
	h.channel.deliver(messages...)
	h.sync()
}

func (h *harness) advance(d time.Duration) {
	h.clock.Advance(d)
	h.sync()
}

// start runs the common opening: auth, session start, first question.
func (h *harness) start(t *testing.T) {
	t.Helper()
	h.channel.onConnect = []any{
		authSuccess(),
		sessionStarted(5),
		nextQuestion(1, "Tell me about a project you led."),
	}
	if err := h.c.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	h.sync()
}

func authSuccess() map[string]any {
	return map[string]any{"type": channel.TypeAuthSuccess, "user": "ada@example.com"}
}

func sessionStarted(total int) map[string]any {
	return map[string]any{"type": channel.TypeSessionStarted, "message": "Interview started", "total_questions": total}
}

func nextQuestion(number int, text string) map[string]any {
	return map[string]any{
		"type": channel.TypeNextQuestion,
		"question": map[string]any{
			"question":   text,
			"type":       "behavioral",
			"difficulty": "medium",
		},
		"question_number": number,
		"total_questions": 5,
	}
}

type fakeMedia struct {
	mu            sync.Mutex
	permErr       error
	permCalls     int
	captureStarts int
	captureStops  int
	fps           int
	camera        bool
	mic           bool
	released      bool
	onFrame       func(ports.Frame)
	onAudio       func(ports.AudioChunk)
	onError       func(error)
}

func (f *fakeMedia) RequestPermission(context.Context) (ports.DeviceHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.permCalls++
	return nil, f.permErr
}

func (f *fakeMedia) StartCapture(onFrame func(ports.Frame), onAudio func(ports.AudioChunk), fps int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captureStarts++
	f.fps = fps
	f.onFrame = onFrame
	f.onAudio = onAudio
	return true
}

func (f *fakeMedia) StopCapture() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captureStops++
}

func (f *fakeMedia) SetCameraEnabled(enabled bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.camera = enabled
	return true
}

func (f *fakeMedia) SetMicEnabled(enabled bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mic = enabled
	return true
}

func (f *fakeMedia) CaptureSnapshot() ([]byte, bool) {
	return []byte("jpeg"), true
}

func (f *fakeMedia) State() domain.MediaState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return domain.MediaState{
		HasPermission: f.permCalls > 0 && f.permErr == nil,
		CameraEnabled: f.camera,
		MicEnabled:    f.mic,
		Recording:     f.captureStarts > f.captureStops,
	}
}

func (f *fakeMedia) SetErrorHandler(fn func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onError = fn
}

func (f *fakeMedia) Release() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = true
	return nil
}

func (f *fakeMedia) emitFrame() {
	f.mu.Lock()
	fn := f.onFrame
	f.mu.Unlock()
	if fn != nil {
		fn(ports.Frame{Data: []byte("frame"), MimeType: "image/jpeg"})
	}
}

func (f *fakeMedia) emitAudio() {
	f.mu.Lock()
	fn := f.onAudio
	f.mu.Unlock()
	if fn != nil {
		fn(ports.AudioChunk{Data: []byte("pcm"), MimeType: "audio/wav"})
	}
}

func (f *fakeMedia) counts() (starts, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.captureStarts, f.captureStops
}

type fakeTranscriber struct {
	mu         sync.Mutex
	starts     int
	stops      int
	resets     int
	closed     bool
	listening  bool
	transcript string
	handler    transcription.Handler
}

func (f *fakeTranscriber) Start(func(string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	f.listening = true
}

func (f *fakeTranscriber) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.listening = false
}

func (f *fakeTranscriber) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	f.transcript = ""
}

func (f *fakeTranscriber) FullTranscript() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transcript
}

func (f *fakeTranscriber) Listening() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listening
}

func (f *fakeTranscriber) SetHandler(h transcription.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

func (f *fakeTranscriber) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.listening = false
}

func (f *fakeTranscriber) speak(full string) {
	f.mu.Lock()
	f.transcript = full
	handler := f.handler
	f.mu.Unlock()
	if handler.OnTranscript != nil {
		handler.OnTranscript(full)
	}
}

func (f *fakeTranscriber) fail(err error) {
	f.mu.Lock()
	handler := f.handler
	f.listening = false
	f.mu.Unlock()
	if handler.OnError != nil {
		handler.OnError(err)
	}
}

func (f *fakeTranscriber) counts() (starts, stops, resets int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops, f.resets
}

type fakeChannel struct {
	mu          sync.Mutex
	connectErr  error
	sendErr     error
	onConnect   []any
	connects    int
	state       domain.ConnState
	handler     channel.Handler
	listener    channel.StateListener
	answers     []channel.AnswerMessage
	frames      int
	transcripts []string
	endSessions int
	closes      int
}

func (f *fakeChannel) Connect(context.Context) error {
	f.mu.Lock()
	f.connects++
	if f.connectErr != nil {
		err := f.connectErr
		f.mu.Unlock()
		return err
	}
	f.state = domain.ConnOpen
	listener := f.listener
	messages := f.onConnect
	f.mu.Unlock()

	if listener != nil {
		listener(domain.ChannelStatus{State: domain.ConnOpen}, nil)
	}
	f.deliver(messages...)
	return nil
}

func (f *fakeChannel) On(messageType string, handler channel.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if messageType == channel.Wildcard {
		f.handler = handler
	}
}

func (f *fakeChannel) OnStateChange(listener channel.StateListener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listener = listener
}

func (f *fakeChannel) Status() domain.ChannelStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return domain.ChannelStatus{State: f.state}
}

func (f *fakeChannel) SendVideoFrame(string, []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames++
	return nil
}

func (f *fakeChannel) SendAudioChunk(_ string, _ []byte, transcript string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcripts = append(f.transcripts, transcript)
	return nil
}

func (f *fakeChannel) SendAnswer(question string, answer string, duration float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	if f.state != domain.ConnOpen {
		return channel.ErrNotConnected
	}
	f.answers = append(f.answers, channel.AnswerMessage{
		Type:     channel.TypeAnswer,
		Question: question,
		Answer:   answer,
		Duration: duration,
	})
	return nil
}

func (f *fakeChannel) EndSession() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endSessions++
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	f.closes++
	f.state = domain.ConnClosed
	listener := f.listener
	f.mu.Unlock()
	if listener != nil {
		listener(domain.ChannelStatus{State: domain.ConnClosed}, nil)
	}
	return nil
}

func (f *fakeChannel) deliver(messages ...any) {
	f.mu.Lock()
	handler := f.handler
	f.mu.Unlock()
	if handler == nil {
		return
	}
	for _, m := range messages {
		raw, err := json.Marshal(m)
		if err != nil {
			panic(err)
		}
		var env struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(raw, &env)
		handler(channel.Message{Type: env.Type, Raw: raw})
	}
}

func (f *fakeChannel) failSends(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

func (f *fakeChannel) drop() {
	f.mu.Lock()
	f.state = domain.ConnClosed
	listener := f.listener
	f.mu.Unlock()
	listener(domain.ChannelStatus{State: domain.ConnClosed, ReconnectAttempt: 1}, channel.ErrConnectionLost)
}

func (f *fakeChannel) reopen() {
	f.mu.Lock()
	f.state = domain.ConnOpen
	listener := f.listener
	f.mu.Unlock()
	listener(domain.ChannelStatus{State: domain.ConnOpen}, nil)
}

func (f *fakeChannel) exhaust() {
	f.mu.Lock()
	f.state = domain.ConnClosed
	listener := f.listener
	f.mu.Unlock()
	listener(domain.ChannelStatus{State: domain.ConnClosed, ReconnectAttempt: 5}, channel.ErrReconnectExhausted)
}

func (f *fakeChannel) sentAnswers() []channel.AnswerMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]channel.AnswerMessage, len(f.answers))
	copy(out, f.answers)
	return out
}

func (f *fakeChannel) counts() (frames, audio, endSessions, closes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frames, len(f.transcripts), f.endSessions, f.closes
}

type fakeRules struct {
	mu    sync.Mutex
	apply func(string) (string, error)
}

func (f *fakeRules) Apply(text string) (string, error) {
	f.mu.Lock()
	apply := f.apply
	f.mu.Unlock()
	if apply == nil {
		return text, nil
	}
	return apply(text)
}

type statusEvent struct {
	status domain.SessionStatus
	phase  domain.Phase
	reason domain.StatusReason
}

type errEvent struct {
	code   domain.ErrorCode
	detail string
}

type fakeEventSink struct {
	mu            sync.Mutex
	statuses      []statusEvent
	questions     []domain.Question
	drafts        []domain.AnswerDraft
	ticks         []time.Duration
	interventions [][]domain.Intervention
	feedback      []domain.AnswerFeedback
	completed     []domain.Feedback
	errors        []errEvent
}

func (f *fakeEventSink) StatusChanged(status domain.SessionStatus, phase domain.Phase, reason domain.StatusReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, statusEvent{status: status, phase: phase, reason: reason})
}

func (f *fakeEventSink) QuestionPresented(q domain.Question) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.questions = append(f.questions, q)
}

func (f *fakeEventSink) DraftChanged(d domain.AnswerDraft) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drafts = append(f.drafts, d)
}

func (f *fakeEventSink) ElapsedTick(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticks = append(f.ticks, d)
}

func (f *fakeEventSink) InterventionsChanged(items []domain.Intervention) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interventions = append(f.interventions, items)
}

func (f *fakeEventSink) AnswerFeedback(fb domain.AnswerFeedback) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feedback = append(f.feedback, fb)
}

func (f *fakeEventSink) SessionCompleted(fb domain.Feedback) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, fb)
}

func (f *fakeEventSink) SessionError(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, errEvent{code: code, detail: detail})
}

func (f *fakeEventSink) hasReason(reason domain.StatusReason) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.statuses {
		if s.reason == reason {
			return true
		}
	}
	return false
}

func (f *fakeEventSink) countReason(reason domain.StatusReason) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.statuses {
		if s.reason == reason {
			n++
		}
	}
	return n
}

func (f *fakeEventSink) errorsWith(code domain.ErrorCode) []errEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []errEvent
	for _, e := range f.errors {
		if e.code == code {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeEventSink) lastTick() (time.Duration, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ticks) == 0 {
		return 0, 0
	}
	return f.ticks[len(f.ticks)-1], len(f.ticks)
}

func (f *fakeEventSink) lastInterventions() []domain.Intervention {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.interventions) == 0 {
		return nil
	}
	return f.interventions[len(f.interventions)-1]
}

// fakeClock fires timers only when advanced. Leaky timers report a
// successful Stop but still fire, which exercises stale-timer rejection.
type fakeClock struct {
	mu        sync.Mutex
	now       time.Time
	timers    []*fakeTimer
	leaky     bool
	afterFire func()
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	if !t.clock.leaky {
		t.stopped = true
	}
	return true
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			break
		}
		next.fired = true
		if next.at.After(c.now) {
			c.now = next.at
		}
		barrier := c.afterFire
		c.mu.Unlock()
		next.fn()
		if barrier != nil {
			barrier()
		}
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

func (c *fakeClock) setLeaky(leaky bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leaky = leaky
}
