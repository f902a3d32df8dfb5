package tui

import (
	"github.com/charmbracelet/lipgloss"

	"interviewcoach/internal/domain"
)

var (
	colorBorder  = lipgloss.Color("#4b5563")
	colorDimmed  = lipgloss.Color("#6b7280")
	colorBright  = lipgloss.Color("#f9fafb")
	colorAccent  = lipgloss.Color("#3b82f6")
	colorHealthy = lipgloss.Color("#22c55e")
	colorWarning = lipgloss.Color("#d97706")
	colorDanger  = lipgloss.Color("#dc2626")
	colorInfo    = lipgloss.Color("#06b6d4")
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorBright).Background(colorAccent).Padding(0, 1)
	dimStyle   = lipgloss.NewStyle().Foreground(colorDimmed)
	boldStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorBright)
	errorStyle = lipgloss.NewStyle().Foreground(colorDanger)
	okStyle    = lipgloss.NewStyle().Foreground(colorHealthy)
	warnStyle  = lipgloss.NewStyle().Foreground(colorWarning)

	questionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorAccent).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	badgeStyle = lipgloss.NewStyle().Foreground(colorBright).Padding(0, 1)
)

// severityColor maps intervention severity to a color.
func severityColor(s domain.Severity) lipgloss.Color {
	switch s {
	case domain.SeverityCritical, domain.SeverityHigh:
		return colorDanger
	case domain.SeverityMedium:
		return colorWarning
	default:
		return colorInfo
	}
}

func difficultyColor(d domain.Difficulty) lipgloss.Color {
	switch d {
	case domain.DifficultyEasy:
		return colorHealthy
	case domain.DifficultyHard:
		return colorDanger
	case domain.DifficultyMedium:
		return colorWarning
	default:
		return colorBorder
	}
}

func scoreStyle(score float64) lipgloss.Style {
	switch {
	case score >= 75:
		return okStyle
	case score >= 50:
		return warnStyle
	default:
		return errorStyle
	}
}
