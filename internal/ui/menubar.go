package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"lock-approach.klederson.com/internal/config"
)

// RenderMenuBar renders the top menu bar.
func RenderMenuBar(width int, adapter string, armed, demo bool) string {
	title := fmt.Sprintf(" %s v%s ", config.AppName, config.AppVersion)

	keys := []struct{ key, label string }{
		{"S", "tart"},
		{"P", "ause"},
		{"Q", "uit"},
	}

	menu := ""
	for _, k := range keys {
		menu += "  " + StyleMenuKey.Render("["+k.key+"]") + StyleMenuLabel.Render(k.label)
	}

	status := ""
	if armed {
		status = StyleStatusArmed.Render("ARMED")
	} else {
		status = StyleStatusDisarmed.Render("DISARMED")
	}

	source := fmt.Sprintf("Adapter: %s", adapter)
	if demo {
		source = "DEMO"
	}
	adapterInfo := StyleMenuLabel.Render(source)

	left := StyleMenuKey.Render(title) + menu
	right := status + "  " + adapterInfo + " "

	gap := width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 0 {
		gap = 0
	}
	return StyleMenuBar.Width(width).Render(left + strings.Repeat(" ", gap) + right)
}
