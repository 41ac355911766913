package proximity

import "lock-approach.klederson.com/internal/config"

// Thresholds holds the entry thresholds and their hysteresis margins.
type Thresholds struct {
	RangingCm           float64
	RangingExitMarginCm float64
	SignalDBm           int
	SignalMarginDB      int
}

// DefaultThresholds returns 300 cm / +50 cm and -70 dBm / -10 dB.
func DefaultThresholds() Thresholds {
	return Thresholds{
		RangingCm:           config.RangingThresholdCm,
		RangingExitMarginCm: config.RangingExitMarginCm,
		SignalDBm:           config.SignalThresholdDBm,
		SignalMarginDB:      config.SignalMarginDB,
	}
}

// ThresholdsFrom converts the configured thresholds.
func ThresholdsFrom(c config.ThresholdsConfig) Thresholds {
	return Thresholds{
		RangingCm:           c.RangingCm,
		RangingExitMarginCm: c.RangingExitMarginCm,
		SignalDBm:           c.SignalDBm,
		SignalMarginDB:      c.SignalMarginDB,
	}
}

// RangingExitCm is the front distance above which the flag re-arms.
func (t Thresholds) RangingExitCm() float64 {
	return t.RangingCm + t.RangingExitMarginCm
}

// SignalExitDBm is the strength below which the flag re-arms.
func (t Thresholds) SignalExitDBm() int {
	return t.SignalDBm - t.SignalMarginDB
}

// Verdict is the outcome of evaluating one sample against the flag.
type Verdict int

const (
	Hold Verdict = iota
	Fire
	Reset
)

func (v Verdict) String() string {
	switch v {
	case Fire:
		return "fire"
	case Reset:
		return "reset"
	default:
		return "hold"
	}
}

// Gate is the proximity flag: "confirmation already sent for the current
// approach". It fires once when the entry condition is first met and only
// re-arms on the exit condition.
type Gate struct {
	th   Thresholds
	sent bool
}

// NewGate creates an unset gate.
func NewGate(th Thresholds) *Gate {
	return &Gate{th: th}
}

// Sent reports the flag.
func (g *Gate) Sent() bool {
	return g.sent
}

// Clear drops the flag without a verdict (disconnect, disable).
func (g *Gate) Clear() {
	g.sent = false
}

// Ranging evaluates a front/back pair. Equal distances never qualify.
func (g *Gate) Ranging(front, back float64) Verdict {
	if front < back && front <= g.th.RangingCm {
		if g.sent {
			return Hold
		}
		g.sent = true
		return Fire
	}
	if front > g.th.RangingExitCm() && g.sent {
		g.sent = false
		return Reset
	}
	return Hold
}

// Signal evaluates one RSSI reading in dBm.
func (g *Gate) Signal(dbm int) Verdict {
	if dbm > g.th.SignalDBm {
		if g.sent {
			return Hold
		}
		g.sent = true
		return Fire
	}
	if dbm < g.th.SignalExitDBm() && g.sent {
		g.sent = false
		return Reset
	}
	return Hold
}
