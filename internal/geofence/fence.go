package geofence

import (
	"math"

	"lock-approach.klederson.com/internal/config"
)

const earthRadiusM = 6371000.0

// Position is a WGS84 fix. Alt is metres above mean sea level.
type Position struct {
	Lat float64
	Lon float64
	Alt float64
}

// Distance returns the 3D distance in metres: the haversine ground distance
// combined with the altitude difference.
func Distance(a, b Position) float64 {
	lat1, lat2 := a.Lat*math.Pi/180, b.Lat*math.Pi/180
	dLat := lat2 - lat1
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	ground := 2 * earthRadiusM * math.Asin(math.Min(1, math.Sqrt(h)))
	return math.Hypot(ground, b.Alt-a.Alt)
}

// Fence arms within ArmRadius of the lock and disarms beyond DisarmRadius.
// Between the two radii the previous state holds. A new Fence is disarmed.
type Fence struct {
	center Position
	arm    float64
	disarm float64
	armed  bool
	last   float64
}

// New creates a disarmed fence around center.
func New(center Position, armRadiusM, disarmRadiusM float64) *Fence {
	return &Fence{center: center, arm: armRadiusM, disarm: disarmRadiusM, last: math.NaN()}
}

// FromConfig builds the fence described by cfg.
func FromConfig(cfg config.GeofenceConfig) *Fence {
	return New(Position{Lat: cfg.Latitude, Lon: cfg.Longitude, Alt: cfg.Altitude},
		cfg.ArmRadiusM, cfg.DisarmRadiusM)
}

// Update feeds a position fix and reports the armed state and whether it
// changed.
func (f *Fence) Update(p Position) (armed, changed bool) {
	d := Distance(f.center, p)
	f.last = d
	switch {
	case !f.armed && d <= f.arm:
		f.armed = true
		return true, true
	case f.armed && d > f.disarm:
		f.armed = false
		return false, true
	}
	return f.armed, false
}

// Armed reports the current state.
func (f *Fence) Armed() bool { return f.armed }

// LastDistance returns the distance of the most recent fix, NaN before any.
func (f *Fence) LastDistance() float64 { return f.last }
