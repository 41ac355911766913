package ui

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"lock-approach.klederson.com/internal/controller"
	"lock-approach.klederson.com/internal/mode"
	"lock-approach.klederson.com/internal/proximity"
)

// Distance bars span 0..2x the ranging threshold.
const rangeScale = 2.0

// RenderProximityPanel renders the live decision inputs: anchor distances in
// ranging mode, signal strength in signal-only mode.
func RenderProximityPanel(st controller.Status, th proximity.Thresholds, width, height int, signalHistory, frontHistory []float64) string {
	innerW := width - 4
	if innerW < 20 {
		innerW = 20
	}

	title := StylePanelTitle.Render("APPROACH")
	badge := RenderState(st.Engine.State.String())
	titleLine := title + strings.Repeat(" ", max(0, innerW-lipgloss.Width(title)-lipgloss.Width(badge))) + badge

	lines := []string{titleLine, StyleSeparator.Render(strings.Repeat("-", innerW)), ""}

	flag := "clear"
	if st.Engine.Sent {
		flag = "sent"
	}
	session := "-"
	if st.Engine.Session != 0 {
		session = fmt.Sprintf("#%d", st.Engine.Session)
	}
	fields := []struct{ label, value string }{
		{"Mode", st.Mode.String()},
		{"Flag", flag},
		{"Session", session},
		{"Sent", fmt.Sprintf("%d", st.Engine.Confirmations)},
	}
	for _, f := range fields {
		lines = append(lines, StyleLabel.Render(fmt.Sprintf("  %-10s", f.label))+StyleValue.Render(f.value))
	}
	lines = append(lines, "")

	barWidth := innerW - 22
	if barWidth < 10 {
		barWidth = 10
	}
	scale := th.RangingCm * rangeScale

	switch st.Mode {
	case mode.Ranging:
		lines = append(lines,
			StyleLabel.Render("  Front   ")+renderDistanceBar(st.Engine.FrontCm, st.Engine.HasFront, scale, th.RangingCm, barWidth, ColorFront)+
				StyleValue.Render(formatCm(st.Engine.FrontCm, st.Engine.HasFront)),
			StyleLabel.Render("  Back    ")+renderDistanceBar(st.Engine.BackCm, st.Engine.HasBack, scale, th.RangingCm, barWidth, ColorBack)+
				StyleValue.Render(formatCm(st.Engine.BackCm, st.Engine.HasBack)),
			"",
			StyleHelp.Render(fmt.Sprintf("  fire <= %.0fcm  re-arm > %.0fcm",
				th.RangingCm, th.RangingExitCm())),
		)
		if len(frontHistory) > 0 {
			lines = append(lines, "", StyleLabel.Render("  Front History:"),
				"  "+lipgloss.NewStyle().Foreground(ColorGreen).Render(renderSparkline(frontHistory, max(10, innerW-4))))
		}

	case mode.SignalOnly:
		rssi := float64(st.Engine.SignalDBm)
		lines = append(lines,
			StyleLabel.Render("  Signal  ")+renderSignalBar(rssi, st.Engine.HasSignal, float64(th.SignalDBm), barWidth)+
				StyleValue.Render(formatDBm(st.Engine.SignalDBm, st.Engine.HasSignal)),
			"",
			StyleHelp.Render(fmt.Sprintf("  fire > %ddBm  re-arm < %ddBm", th.SignalDBm, th.SignalExitDBm())),
		)
		if len(signalHistory) > 0 {
			lines = append(lines, "", StyleLabel.Render("  RSSI History:"),
				"  "+lipgloss.NewStyle().Foreground(ColorGreen).Render(renderSparkline(signalHistory, max(10, innerW-4))))
		}

	default:
		lines = append(lines, StyleHelp.Render("  no data source active"))
	}

	// Pad to fill height
	for len(lines) < height-2 {
		lines = append(lines, "")
	}

	content := strings.Join(lines, "\n")
	return StylePanelActive.Width(width - 2).Height(height - 2).Render(content)
}

// renderDistanceBar fills proportionally to cm over scale and marks the
// threshold with '|'.
func renderDistanceBar(cm float64, ok bool, scale, threshold float64, width int, color lipgloss.Color) string {
	filled := 0
	if ok {
		filled = int(math.Round(clamp(cm/scale) * float64(width)))
	}
	mark := int(math.Round(clamp(threshold/scale) * float64(width-1)))

	var sb strings.Builder
	sb.WriteString(StyleHelp.Render("["))
	for i := 0; i < width; i++ {
		switch {
		case i == mark:
			sb.WriteString(lipgloss.NewStyle().Foreground(ColorThreshold).Render("|"))
		case i < filled:
			sb.WriteString(lipgloss.NewStyle().Foreground(color).Render("="))
		default:
			sb.WriteString(lipgloss.NewStyle().Foreground(ColorDimGreen).Render("-"))
		}
	}
	sb.WriteString(StyleHelp.Render("]"))
	return sb.String()
}

func renderSignalBar(rssi float64, ok bool, threshold float64, width int) string {
	// Map RSSI -100..-30 to 0..width filled bars
	filled := 0
	if ok {
		filled = int(math.Round(clamp((rssi+100.0)/70.0) * float64(width)))
	}
	mark := int(math.Round(clamp((threshold+100.0)/70.0) * float64(width-1)))

	var sb strings.Builder
	sb.WriteString(StyleHelp.Render("["))
	for i := 0; i < width; i++ {
		switch {
		case i == mark:
			sb.WriteString(lipgloss.NewStyle().Foreground(ColorThreshold).Render("|"))
		case i < filled:
			sb.WriteString(lipgloss.NewStyle().Foreground(signalColor(rssi)).Render("|"))
		default:
			sb.WriteString(lipgloss.NewStyle().Foreground(ColorDimGreen).Render("-"))
		}
	}
	sb.WriteString(StyleHelp.Render("]"))
	return sb.String()
}

func renderSparkline(values []float64, width int) string {
	if len(values) == 0 {
		return ""
	}

	chars := []byte{'_', '.', '-', '~', '^'}

	// Find min/max for scaling
	minV, maxV := values[0], values[0]
	for _, v := range values {
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}

	rng := maxV - minV
	if rng < 1 {
		rng = 1
	}

	// Take last `width` values
	start := 0
	if len(values) > width {
		start = len(values) - width
	}

	var sb strings.Builder
	for i := start; i < len(values); i++ {
		idx := int((values[i] - minV) / rng * float64(len(chars)-1))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(chars) {
			idx = len(chars) - 1
		}
		sb.WriteByte(chars[idx])
	}

	return sb.String()
}

func formatCm(cm float64, ok bool) string {
	if !ok {
		return " --"
	}
	return fmt.Sprintf(" %.0fcm", cm)
}

func formatDBm(dbm int, ok bool) string {
	if !ok {
		return " --"
	}
	return fmt.Sprintf(" %ddBm", dbm)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
