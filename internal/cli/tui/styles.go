package tui

import "github.com/charmbracelet/lipgloss"

// Styles contains all lipgloss styles for the watch view.
type Styles struct {
	Title lipgloss.Style
	Timer lipgloss.Style

	TaskRunning  lipgloss.Style
	TaskComplete lipgloss.Style
	TaskFailed   lipgloss.Style
	TaskOther    lipgloss.Style

	LogTitle lipgloss.Style
	LogLine  lipgloss.Style
	LogBad   lipgloss.Style

	Footer    lipgloss.Style
	FooterKey lipgloss.Style
	Final     lipgloss.Style
}

// DefaultStyles returns the default watch view styles.
func DefaultStyles() Styles {
	return Styles{
		Title: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		Timer: lipgloss.NewStyle().Foreground(lipgloss.Color("245")),

		TaskRunning:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		TaskComplete: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		TaskFailed:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		TaskOther:    lipgloss.NewStyle().Foreground(lipgloss.Color("250")),

		LogTitle: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245")).MarginTop(1),
		LogLine:  lipgloss.NewStyle().Foreground(lipgloss.Color("250")),
		LogBad:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),

		Footer:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")).MarginTop(1),
		FooterKey: lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
		Final:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
	}
}
