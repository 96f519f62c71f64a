package main

import "github.com/charmbracelet/lipgloss"

var (
	primary   = lipgloss.Color("#7C3AED")
	secondary = lipgloss.Color("#10B981")
	danger    = lipgloss.Color("#EF4444")
	muted     = lipgloss.Color("#6B7280")
	lightGray = lipgloss.Color("#E5E7EB")

	headerStyle = lipgloss.NewStyle().
			Foreground(primary).
			Bold(true).
			Padding(0, 1)

	userLabel = lipgloss.NewStyle().
			Foreground(primary).
			Bold(true)

	agentLabel = lipgloss.NewStyle().
			Foreground(secondary).
			Bold(true)

	messageStyle = lipgloss.NewStyle().
			Foreground(lightGray)

	infoStyle = lipgloss.NewStyle().
			Foreground(muted).
			Italic(true)

	toolStyle = lipgloss.NewStyle().
			Foreground(muted).
			Italic(true).
			PaddingLeft(2)

	errorStyle = lipgloss.NewStyle().
			Foreground(danger)

	statusStyle = lipgloss.NewStyle().
			Foreground(muted).
			Padding(0, 1)

	statusBusyStyle = lipgloss.NewStyle().
			Foreground(primary).
			Padding(0, 1)

	inputStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primary).
			Padding(0, 1)
)
