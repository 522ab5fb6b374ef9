package cmd

import "github.com/charmbracelet/lipgloss"

// Output styles shared by the CLI commands.
var (
	styleTitle   = lipgloss.NewStyle().Bold(true)
	styleScore   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	styleSection = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	styleDim     = lipgloss.NewStyle().Faint(true)
	styleWarn    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	styleOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	styleBad     = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)
