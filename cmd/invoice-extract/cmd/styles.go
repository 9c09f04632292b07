package cmd

import "github.com/charmbracelet/lipgloss"

// Shared terminal styles, following the palette and naming of
// pithecene-io-quarry's cli/tui/styles.go.
var (
	titleStyle        = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	labelStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	valueStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF"))
	validSuccessStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#2ECC71"))
	validErrorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#E74C3C"))
	warningStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#F39C12"))
)
