package bluetooth

import (
	"math"
	"time"

	"lock-approach.klederson.com/internal/config"
)

// ConnState is the lifecycle of a LockLink.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReady // command channel found
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReady:
		return "ready"
	default:
		return "disconnected"
	}
}

// LockLink is the connection to one lock device.
type LockLink struct {
	Address      string
	Name         string
	RSSI         int16
	State        ConnState
	ConnectedAt  time.Time
	SubscribedAt time.Time
}

// DisplayName returns the advertised name or "[unnamed]" if empty.
func (l *LockLink) DisplayName() string {
	if l.Name == "" {
		return "[unnamed]"
	}
	return l.Name
}

// Distance estimates the distance in metres from the last RSSI reading.
func (l *LockLink) Distance() float64 {
	return RSSIToDistance(float64(l.RSSI), config.MeasuredPower, config.PathLossExp)
}

// RSSIToDistance estimates distance from RSSI using the log-distance path loss model.
// Formula: d = 10^((measuredPower - rssi) / (10 * n))
func RSSIToDistance(rssi, measuredPower, pathLossExp float64) float64 {
	if rssi >= 0 {
		return 0.1
	}
	d := math.Pow(10, (measuredPower-rssi)/(10*pathLossExp))
	if d < 0.1 {
		return 0.1
	}
	return d
}
