package mode

// Mode is the data source the decision engine consumes.
type Mode int

const (
	None Mode = iota
	Ranging
	SignalOnly
)

func (m Mode) String() string {
	switch m {
	case Ranging:
		return "ranging"
	case SignalOnly:
		return "signal-only"
	default:
		return "none"
	}
}

// Flags is the live configuration pair observed from the configuration
// collaborator.
type Flags struct {
	RangingAllowed    bool
	SignalOnlyAllowed bool
}

// Decide applies the mode decision table. A device without ranging hardware
// is treated exactly like RangingAllowed=false.
func Decide(rangingHardware bool, f Flags) Mode {
	if rangingHardware && f.RangingAllowed {
		return Ranging
	}
	if f.SignalOnlyAllowed {
		return SignalOnly
	}
	return None
}
