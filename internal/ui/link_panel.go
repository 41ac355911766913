package ui

import (
	"fmt"
	"strings"
	"time"

	"lock-approach.klederson.com/internal/controller"
)

// RenderLinkPanel renders the lock link, the anchors and recent lock
// notifications.
func RenderLinkPanel(st controller.Status, width, height int, notes []string) string {
	innerW := width - 4
	if innerW < 10 {
		innerW = 10
	}

	lines := []string{
		StylePanelTitle.Render("LOCK"),
		StyleSeparator.Render(strings.Repeat("-", innerW)),
	}

	row := func(label, value string) string {
		return StyleLabel.Render(fmt.Sprintf(" %-9s", label)) + StyleValue.Render(truncRaw(value, innerW-10))
	}

	switch {
	case st.Linked:
		l := st.Link
		lines = append(lines,
			row("Name", l.DisplayName()),
			row("Address", l.Address),
			row("State", l.State.String()),
			row("RSSI", fmt.Sprintf("%d dBm ~%.1fm", l.RSSI, l.Distance())),
			row("Up", formatSince(l.ConnectedAt)),
		)
	case st.Scanning:
		lines = append(lines, StyleHelp.Render(" scanning for lock..."))
	case !st.Armed:
		lines = append(lines, StyleHelp.Render(" disarmed"))
	default:
		lines = append(lines, StyleHelp.Render(" idle"))
	}

	lines = append(lines, "", StylePanelTitle.Render("ANCHORS"))
	if st.Anchors.Complete() {
		lines = append(lines,
			row("Outside", st.Anchors.Outside.Address.String()),
			row("Inside", st.Anchors.Inside.Address.String()),
		)
	} else {
		lines = append(lines, StyleHelp.Render(" none"))
	}

	lines = append(lines, "", StylePanelTitle.Render("CONFIG"),
		row("Ranging", onOff(st.Flags.RangingAllowed)),
		row("Signal", onOff(st.Flags.SignalOnlyAllowed)),
	)

	lines = append(lines, "", StylePanelTitle.Render("NOTIFICATIONS"))
	if len(notes) == 0 {
		lines = append(lines, StyleHelp.Render(" none"))
	}
	for i := len(notes) - 1; i >= 0 && len(lines) < height-3; i-- {
		lines = append(lines, StyleValue.Render(" "+truncRaw(notes[i], innerW-1)))
	}

	for len(lines) < height-2 {
		lines = append(lines, "")
	}
	if len(lines) > height-2 {
		lines = lines[:height-2]
	}

	return StylePanelBorder.Width(width - 2).Height(height - 2).Render(strings.Join(lines, "\n"))
}

func truncRaw(s string, w int) string {
	if w <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= w {
		return s
	}
	if w == 1 {
		return "~"
	}
	return string(r[:w-1]) + "~"
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func formatSince(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	return fmt.Sprintf("%dm", int(d.Minutes()))
}
