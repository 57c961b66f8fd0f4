package dashboard

import "github.com/charmbracelet/lipgloss"

type styles struct {
	title    lipgloss.Style
	panel    lipgloss.Style
	label    lipgloss.Style
	value    lipgloss.Style
	info     lipgloss.Style
	success  lipgloss.Style
	warning  lipgloss.Style
	errorMsg lipgloss.Style
	help     lipgloss.Style
}

func newStyles() styles {
	return styles{
		title:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		panel:    lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("241")).Padding(0, 1),
		label:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		value:    lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		info:     lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		success:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("78")),
		warning:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214")),
		errorMsg: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
		help:     lipgloss.NewStyle().Faint(true),
	}
}

func (s styles) severity(sev string) lipgloss.Style {
	switch sev {
	case "success":
		return s.success
	case "warning":
		return s.warning
	case "error":
		return s.errorMsg
	default:
		return s.info
	}
}
