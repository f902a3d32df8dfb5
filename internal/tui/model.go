// Package tui is the terminal front end for a live interview session.
package tui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"

	"interviewcoach/internal/domain"
)

const (
	noticeTTL      = 4 * time.Second
	maxPendingEcho = 32
	maxErrors      = 3
)

// Controller is the session the model drives.
type Controller interface {
	Initialize(ctx context.Context) error
	Submit() error
	Skip() error
	EditAnswer(text string)
	EndSession() error
	DismissIntervention(id string) bool
	ToggleMinimized() bool
	SetCameraEnabled(enabled bool) bool
	SetMicEnabled(enabled bool) bool
	CaptureSnapshot() ([]byte, bool)
	Snapshot() domain.Snapshot
}

// Options configures the model.
type Options struct {
	SessionID     string
	Position      string
	ScreenshotDir string
	Now           func() time.Time
}

// Model is the root Bubble Tea model.
type Model struct {
	ctrl Controller
	opts Options
	ctx  context.Context

	keys    KeyMap
	help    help.Model
	editor  textarea.Model
	spinner spinner.Model
	width   int
	height  int

	status        domain.SessionStatus
	phase         domain.Phase
	reason        domain.StatusReason
	question      *domain.Question
	draft         domain.AnswerDraft
	elapsed       time.Duration
	interventions []domain.Intervention
	lastFeedback  *domain.AnswerFeedback
	feedback      *domain.Feedback
	media         domain.MediaState
	minimized     bool
	errors        []string
	notice        string
	noticeSeq     int

	// Local edits not yet echoed back as DraftMsg.
	pendingEcho []string
}

// New creates the root model.
func New(ctx context.Context, ctrl Controller, opts Options) Model {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ScreenshotDir == "" {
		opts.ScreenshotDir = "."
	}

	editor := textarea.New()
	editor.Placeholder = "Speak, or type your answer here..."
	editor.ShowLineNumbers = false
	editor.CharLimit = 0
	editor.SetHeight(6)
	editor.Blur()

	sp := spinner.New(spinner.WithSpinner(spinner.Dot))

	return Model{
		ctrl:    ctrl,
		opts:    opts,
		ctx:     ctx,
		keys:    DefaultKeyMap(),
		help:    help.New(),
		editor:  editor,
		spinner: sp,
		status:  domain.StatusUninitialized,
		media:   domain.MediaState{CameraEnabled: true, MicEnabled: true},
	}
}

// Init starts session setup.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.initialize(), m.spinner.Tick, textarea.Blink)
}

func (m Model) initialize() tea.Cmd {
	ctrl, ctx := m.ctrl, m.ctx
	return func() tea.Msg {
		return initializedMsg{err: ctrl.Initialize(ctx)}
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.editor.SetWidth(max(20, msg.Width-4))
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case StatusMsg:
		m.status, m.phase, m.reason = msg.Status, msg.Phase, msg.Reason
		m.syncEditorFocus()
		return m, m.refreshMedia()

	case QuestionMsg:
		q := msg.Question
		m.question = &q
		m.lastFeedback = nil
		return m, nil

	case DraftMsg:
		m.applyDraft(msg.Draft)
		return m, nil

	case ElapsedMsg:
		m.elapsed = msg.Elapsed
		return m, nil

	case InterventionsMsg:
		m.interventions = msg.Items
		return m, nil

	case AnswerFeedbackMsg:
		fb := msg.Feedback
		m.lastFeedback = &fb
		return m, nil

	case CompletedMsg:
		fb := msg.Feedback
		m.feedback = &fb
		m.editor.Blur()
		return m, nil

	case ErrorMsg:
		m.pushError(fmt.Sprintf("%s: %s", msg.Code, msg.Detail))
		return m, nil

	case initializedMsg:
		if msg.err != nil {
			m.pushError(msg.err.Error())
		}
		return m, m.refreshMedia()

	case actionMsg:
		if msg.err != nil {
			return m, m.setNotice(fmt.Sprintf("%s: %v", msg.action, msg.err))
		}
		return m, nil

	case mediaMsg:
		m.media = msg.state
		return m, nil

	case screenshotMsg:
		if msg.err != nil {
			return m, m.setNotice("screenshot failed: " + msg.err.Error())
		}
		return m, m.setNotice("saved " + msg.path)

	case noticeExpiredMsg:
		if msg.seq == m.noticeSeq {
			m.notice = ""
		}
		return m, nil
	}

	return m.updateEditor(msg)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil

	case key.Matches(msg, m.keys.Submit):
		return m, m.action("submit", m.ctrl.Submit)

	case key.Matches(msg, m.keys.Skip):
		return m, m.action("skip", m.ctrl.Skip)

	case key.Matches(msg, m.keys.End):
		return m, m.action("end", m.ctrl.EndSession)

	case key.Matches(msg, m.keys.Retry):
		if m.status != domain.StatusFailed {
			return m, nil
		}
		m.errors = nil
		return m, m.initialize()

	case key.Matches(msg, m.keys.Camera):
		ctrl, enabled := m.ctrl, !m.media.CameraEnabled
		return m, func() tea.Msg {
			ok := ctrl.SetCameraEnabled(enabled)
			return mediaMsg{state: ctrl.Snapshot().Media, ok: ok}
		}

	case key.Matches(msg, m.keys.Mic):
		ctrl, enabled := m.ctrl, !m.media.MicEnabled
		return m, func() tea.Msg {
			ok := ctrl.SetMicEnabled(enabled)
			return mediaMsg{state: ctrl.Snapshot().Media, ok: ok}
		}

	case key.Matches(msg, m.keys.Minimize):
		m.minimized = !m.minimized
		ctrl := m.ctrl
		return m, func() tea.Msg {
			ctrl.ToggleMinimized()
			return nil
		}

	case key.Matches(msg, m.keys.Dismiss):
		if len(m.interventions) == 0 {
			return m, nil
		}
		newest := m.interventions[len(m.interventions)-1].ID
		m.interventions = m.interventions[:len(m.interventions)-1]
		ctrl := m.ctrl
		return m, func() tea.Msg {
			ctrl.DismissIntervention(newest)
			return nil
		}

	case key.Matches(msg, m.keys.Screenshot):
		return m, m.screenshot()
	}

	if m.status.Terminal() && msg.String() == "q" {
		return m, tea.Quit
	}
	return m.updateEditor(msg)
}

func (m Model) updateEditor(msg tea.Msg) (tea.Model, tea.Cmd) {
	before := m.editor.Value()
	var cmd tea.Cmd
	m.editor, cmd = m.editor.Update(msg)
	after := m.editor.Value()
	if after == before || !m.editor.Focused() {
		return m, cmd
	}

	m.pendingEcho = append(m.pendingEcho, after)
	if len(m.pendingEcho) > maxPendingEcho {
		m.pendingEcho = m.pendingEcho[len(m.pendingEcho)-maxPendingEcho:]
	}
	// EditAnswer only enqueues; it never waits on the session loop.
	m.ctrl.EditAnswer(after)
	return m, cmd
}

// applyDraft reconciles a coordinator draft with the editor. Echoes of
// local edits are dropped so a stale echo cannot overwrite newer typing.
func (m *Model) applyDraft(draft domain.AnswerDraft) {
	m.draft = draft
	for i, text := range m.pendingEcho {
		if text == draft.Text {
			m.pendingEcho = m.pendingEcho[i+1:]
			return
		}
	}
	m.pendingEcho = nil
	if m.editor.Value() != draft.Text {
		m.editor.SetValue(draft.Text)
		m.editor.CursorEnd()
	}
	m.syncEditorFocus()
}

func (m *Model) syncEditorFocus() {
	answering := m.status == domain.StatusActive && m.phase == domain.PhaseAnswering && !m.draft.Submitted
	if answering && !m.editor.Focused() {
		m.editor.Focus()
	} else if !answering && m.editor.Focused() {
		m.editor.Blur()
	}
}

func (m Model) action(name string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return actionMsg{action: name, err: fn()}
	}
}

func (m Model) refreshMedia() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		return mediaMsg{state: ctrl.Snapshot().Media, ok: true}
	}
}

func (m Model) screenshot() tea.Cmd {
	ctrl, opts := m.ctrl, m.opts
	return func() tea.Msg {
		data, ok := ctrl.CaptureSnapshot()
		if !ok {
			return screenshotMsg{err: errors.New("no video frame available")}
		}
		if err := os.MkdirAll(opts.ScreenshotDir, 0o755); err != nil {
			return screenshotMsg{err: err}
		}
		name := fmt.Sprintf("interview-%s-%s.jpg", opts.SessionID, opts.Now().Format("20060102-150405"))
		path := filepath.Join(opts.ScreenshotDir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return screenshotMsg{err: err}
		}
		return screenshotMsg{path: path}
	}
}

func (m *Model) setNotice(text string) tea.Cmd {
	m.noticeSeq++
	m.notice = text
	seq := m.noticeSeq
	return tea.Tick(noticeTTL, func(time.Time) tea.Msg {
		return noticeExpiredMsg{seq: seq}
	})
}

func (m *Model) pushError(text string) {
	m.errors = append(m.errors, text)
	if len(m.errors) > maxErrors {
		m.errors = m.errors[len(m.errors)-maxErrors:]
	}
}
