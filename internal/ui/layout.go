package ui

import "github.com/charmbracelet/lipgloss"

// ComposeLayout joins the proximity panel and link panel horizontally,
// with menu bar on top and status bar on bottom.
func ComposeLayout(menuBar, proximityPanel, linkPanel, statusBar string) string {
	middle := lipgloss.JoinHorizontal(lipgloss.Top, proximityPanel, linkPanel)
	return lipgloss.JoinVertical(lipgloss.Left, menuBar, middle, statusBar)
}
