package ranging

import (
	"context"
	"math/rand"
	"time"
)

// SimBackend simulates a holder walking up to the door for demo mode.
type SimBackend struct {
	interval  time.Duration
	available bool
}

// NewSimBackend creates a simulated backend emitting one sample per interval.
// available=false simulates a phone without UWB.
func NewSimBackend(interval time.Duration, available bool) *SimBackend {
	return &SimBackend{interval: interval, available: available}
}

func (b *SimBackend) Available() bool {
	return b.available
}

// Run walks from ~9 m towards the door at walking pace, alternating between
// the outside and inside anchor.
func (b *SimBackend) Run(ctx context.Context, p Params, emit func(Result)) error {
	if !b.available {
		return ErrUnavailable
	}
	if len(p.Peers) < 2 {
		return nil
	}

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	front := 850 + rand.Float64()*100
	const doorDepth = 120.0
	const stepCm = 6.0
	tick := 0

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			tick++
			if front > 60 {
				front -= stepCm + (rand.Float64()-0.5)*2
			}
			noise := (rand.Float64() - 0.5) * 8

			// Occasional dropout of the inside anchor.
			if rand.Float64() < 0.01 {
				emit(Result{Address: p.Peers[1], PeerDisconnected: true})
				continue
			}
			if tick%2 == 0 {
				emit(Result{Address: p.Peers[0], DistanceCm: front + noise})
			} else {
				emit(Result{Address: p.Peers[1], DistanceCm: front + doorDepth + noise})
			}
		}
	}
}

// Absent is the backend for phones without ranging hardware.
type Absent struct{}

func (Absent) Available() bool { return false }

func (Absent) Run(context.Context, Params, func(Result)) error {
	return ErrUnavailable
}
