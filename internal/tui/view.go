package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"interviewcoach/internal/domain"
)

// View renders the model.
func (m Model) View() string {
	var sections []string
	sections = append(sections, m.renderHeader())

	switch {
	case m.feedback != nil:
		sections = append(sections, m.renderFeedback())
	case m.status == domain.StatusFailed:
		sections = append(sections, m.renderFailure())
	default:
		sections = append(sections, m.renderSession()...)
	}

	if m.notice != "" {
		sections = append(sections, dimStyle.Render(m.notice))
	}
	if !m.minimized || m.help.ShowAll {
		sections = append(sections, m.help.View(m.keys))
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderHeader() string {
	parts := []string{titleStyle.Render("Interview Coach")}
	if m.opts.Position != "" {
		parts = append(parts, boldStyle.Render(m.opts.Position))
	}
	if m.question != nil && m.question.Total > 0 {
		parts = append(parts, fmt.Sprintf("Question %d/%d", m.question.Index, m.question.Total))
	}
	if m.phase == domain.PhaseAnswering {
		parts = append(parts, formatElapsed(m.elapsed))
	}
	parts = append(parts, m.renderStatus(), m.renderMedia())
	return strings.Join(parts, dimStyle.Render(" · "))
}

func (m Model) renderStatus() string {
	switch m.status {
	case domain.StatusUninitialized, domain.StatusInitializing:
		return m.spinner.View() + " setting up camera and microphone"
	case domain.StatusAwaitingStart:
		return m.spinner.View() + " waiting for the interviewer"
	case domain.StatusCompleting:
		return m.spinner.View() + " generating feedback"
	case domain.StatusActive:
		if m.reason == domain.ReasonChannelLost {
			return warnStyle.Render("reconnecting...")
		}
		if m.phase == domain.PhaseAnswering {
			return errorStyle.Render("● REC")
		}
		return okStyle.Render("live")
	case domain.StatusCompleted:
		return okStyle.Render("completed")
	case domain.StatusFailed:
		return errorStyle.Render("failed")
	}
	return string(m.status)
}

func (m Model) renderMedia() string {
	onOff := func(label string, on bool) string {
		if on {
			return okStyle.Render(label + " on")
		}
		return dimStyle.Render(label + " off")
	}
	return onOff("cam", m.media.CameraEnabled) + " " + onOff("mic", m.media.MicEnabled)
}

func (m Model) renderSession() []string {
	var out []string

	if m.question != nil {
		if m.minimized {
			out = append(out, boldStyle.Render(truncate(m.question.Text, max(20, m.width-4))))
		} else {
			badges := lipgloss.JoinHorizontal(lipgloss.Top,
				badgeStyle.Background(colorAccent).Render(string(m.question.Type)),
				" ",
				badgeStyle.Background(difficultyColor(m.question.Difficulty)).Render(string(m.question.Difficulty)),
			)
			body := lipgloss.JoinVertical(lipgloss.Left, badges, "", boldStyle.Render(m.question.Text))
			out = append(out, questionStyle.Width(max(30, m.width-2)).Render(body))
		}
	}

	if !m.minimized {
		for _, iv := range m.interventions {
			style := lipgloss.NewStyle().Foreground(severityColor(iv.Severity))
			out = append(out, style.Render(fmt.Sprintf("▲ %s", iv.Message)))
		}
	}

	if m.status == domain.StatusActive {
		label := "Your answer"
		if m.draft.Submitted {
			label = "Answer sent, waiting for the next question"
		}
		out = append(out, dimStyle.Render(label), m.editor.View())
	}

	if m.lastFeedback != nil && m.lastFeedback.Feedback != "" {
		line := "Last answer: " + m.lastFeedback.Feedback
		if m.lastFeedback.Score != nil {
			line = fmt.Sprintf("Last answer (%s): %s", scoreStyle(*m.lastFeedback.Score).Render(fmt.Sprintf("%.0f", *m.lastFeedback.Score)), m.lastFeedback.Feedback)
		}
		out = append(out, line)
	}

	for _, e := range m.errors {
		out = append(out, errorStyle.Render(e))
	}
	return out
}

func (m Model) renderFailure() string {
	lines := []string{errorStyle.Render("The session could not continue.")}
	lines = append(lines, m.errors...)
	lines = append(lines, "", dimStyle.Render("ctrl+r to retry, ctrl+c to quit"))
	return panelStyle.Render(strings.Join(lines, "\n"))
}

func (m Model) renderFeedback() string {
	fb := m.feedback
	lines := []string{
		boldStyle.Render("Interview complete"),
		"Overall score: " + scoreStyle(fb.OverallScore).Render(fmt.Sprintf("%.1f", fb.OverallScore)),
	}

	if len(fb.ComponentScores) > 0 {
		names := make([]string, 0, len(fb.ComponentScores))
		for name := range fb.ComponentScores {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			score := fb.ComponentScores[name]
			lines = append(lines, fmt.Sprintf("  %-14s %s", name, scoreStyle(score).Render(fmt.Sprintf("%.1f", score))))
		}
	}
	if fb.Summary != "" {
		lines = append(lines, "", fb.Summary)
	}
	if len(fb.Strengths) > 0 {
		lines = append(lines, "", okStyle.Render("Strengths"))
		for _, s := range fb.Strengths {
			lines = append(lines, "  + "+s)
		}
	}
	if len(fb.Improvements) > 0 {
		lines = append(lines, "", warnStyle.Render("To improve"))
		for _, s := range fb.Improvements {
			lines = append(lines, "  - "+s)
		}
	}
	lines = append(lines, "", dimStyle.Render("press q to quit"))
	return panelStyle.Render(strings.Join(lines, "\n"))
}

func formatElapsed(d time.Duration) string {
	total := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	if width <= 1 {
		return string(r[:width])
	}
	return string(r[:width-1]) + "…"
}
