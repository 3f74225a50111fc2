// Package style provides consistent terminal styling using Lipgloss.
package style

import "github.com/charmbracelet/lipgloss"

// Base styles shared by all CLI output.
var (
	Bold  = lipgloss.NewStyle().Bold(true)
	Dim   = lipgloss.NewStyle().Faint(true)
	Red   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	Green = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	Amber = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	Cyan  = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
)

// Status renders a session lifecycle status with its conventional color.
func Status(status string) string {
	switch status {
	case "RUNNING":
		return Green.Render(status)
	case "IDLE":
		return Cyan.Render(status)
	case "STOPPED":
		return Dim.Render(status)
	case "ERROR":
		return Red.Render(status)
	default:
		return Amber.Render(status)
	}
}
