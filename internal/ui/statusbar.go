package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"lock-approach.klederson.com/internal/controller"
)

// RenderStatusBar renders the bottom status bar.
func RenderStatusBar(width int, st controller.Status) string {
	state := RenderState(st.Engine.State.String())

	hw := "no"
	if st.RangingHardware {
		hw = "yes"
	}
	link := "none"
	if st.Linked {
		link = st.Link.State.String()
	} else if st.Scanning {
		link = "scanning"
	}

	info := fmt.Sprintf(" Mode: %s  Link: %s  UWB: %s  Sent: %d  Resets: %d",
		st.Mode, link, hw, st.Engine.Confirmations, st.Engine.Resets)
	if st.Geofence {
		info += "  " + fenceLabel(st.FenceDistanceM)
	}

	content := state + StyleStatusBar.Foreground(ColorGreen).Render(info)

	gap := width - lipgloss.Width(content)
	if gap < 0 {
		gap = 0
	}
	return StyleStatusBar.Width(width).Render(content + strings.Repeat(" ", gap))
}

// RenderState renders an engine state badge.
func RenderState(state string) string {
	switch state {
	case "confirmed":
		return StyleStateConfirmed.Render("CONFIRMED")
	case "monitoring":
		return StyleStateMonitoring.Render("[MONITORING]")
	}
	return StyleStateIdle.Render("[IDLE]")
}

func fenceLabel(d float64) string {
	if d != d { // NaN
		return "Fence: no fix"
	}
	return fmt.Sprintf("Fence: %.0fm", d)
}
