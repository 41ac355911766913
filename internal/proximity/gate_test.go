package proximity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRangingScenarios(t *testing.T) {
	tests := []struct {
		name        string
		front, back float64
		want        Verdict
	}{
		{"A: close and in front", 250, 400, Fire},
		{"B: beyond threshold", 310, 400, Hold},
		{"C: behind the door", 290, 200, Hold},
		{"at threshold", 300, 301, Fire},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGate(DefaultThresholds())
			assert.Equal(t, tt.want, g.Ranging(tt.front, tt.back))
		})
	}
}

func TestRangingTieNeverFires(t *testing.T) {
	for _, d := range []float64{0, 1, 150, 299.5, 300, 301, 1000} {
		g := NewGate(DefaultThresholds())
		assert.Equal(t, Hold, g.Ranging(d, d), "front == back == %v", d)
		assert.False(t, g.Sent())
	}
}

func TestRangingOneShot(t *testing.T) {
	g := NewGate(DefaultThresholds())
	fires := 0
	for _, front := range []float64{280, 250, 200, 100, 250} {
		if g.Ranging(front, front+100) == Fire {
			fires++
		}
	}
	assert.Equal(t, 1, fires)
}

func TestRangingHysteresis(t *testing.T) {
	g := NewGate(DefaultThresholds())
	assert.Equal(t, Fire, g.Ranging(250, 400))

	// Between threshold and exit: no reset, even when not qualifying.
	for _, front := range []float64{301, 320, 350} {
		assert.Equal(t, Hold, g.Ranging(front, 500), "front=%v", front)
		assert.True(t, g.Sent())
	}
	assert.Equal(t, Hold, g.Ranging(200, 100), "not in front keeps the flag")

	assert.Equal(t, Reset, g.Ranging(351, 500))
	assert.False(t, g.Sent())
	assert.Equal(t, Hold, g.Ranging(400, 500), "reset happens once")
	assert.Equal(t, Fire, g.Ranging(299, 420))
	assert.Equal(t, Hold, g.Ranging(299, 420))
}

func TestRangingExitWithoutFlagIsHold(t *testing.T) {
	g := NewGate(DefaultThresholds())
	assert.Equal(t, Hold, g.Ranging(900, 1000))
}

func TestSignalScenarioD(t *testing.T) {
	g := NewGate(DefaultThresholds())
	var got []Verdict
	for _, dbm := range []int{-50, -50, -50, -85, -50} {
		got = append(got, g.Signal(dbm))
	}
	assert.Equal(t, []Verdict{Fire, Hold, Hold, Reset, Fire}, got)
}

func TestSignalOscillationInsideBand(t *testing.T) {
	g := NewGate(DefaultThresholds())
	assert.Equal(t, Fire, g.Signal(-60))
	for _, dbm := range []int{-71, -75, -79, -80, -72, -78} {
		assert.Equal(t, Hold, g.Signal(dbm), "dbm=%d", dbm)
	}
	assert.True(t, g.Sent())
	assert.Equal(t, Hold, g.Signal(-69))
}

func TestSignalBoundaries(t *testing.T) {
	g := NewGate(DefaultThresholds())
	assert.Equal(t, Hold, g.Signal(-70), "strictly above -70 is required")
	assert.Equal(t, Fire, g.Signal(-69))
	assert.Equal(t, Hold, g.Signal(-80), "strictly below -80 is required")
	assert.Equal(t, Reset, g.Signal(-81))
}

func TestThresholdsFromConfigMargins(t *testing.T) {
	th := Thresholds{RangingCm: 200, RangingExitMarginCm: 25, SignalDBm: -60, SignalMarginDB: 5}
	assert.Equal(t, 225.0, th.RangingExitCm())
	assert.Equal(t, -65, th.SignalExitDBm())
}
