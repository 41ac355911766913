package mode

import "sync"

// Transition describes a change of active mode.
type Transition struct {
	From Mode
	To   Mode
}

// Changed reports whether the transition actually switches mode.
func (t Transition) Changed() bool {
	return t.From != t.To
}

// TearDown reports whether the link should be disconnected and scanning stopped.
func (t Transition) TearDown() bool {
	return t.To == None
}

// Selector tracks the active mode. Hardware capability is fixed at
// construction for the lifetime of the process.
type Selector struct {
	mu       sync.Mutex
	hardware bool
	flags    Flags
	current  Mode
}

// NewSelector creates a selector with the given hardware capability and
// initial configuration flags.
func NewSelector(rangingHardware bool, initial Flags) *Selector {
	return &Selector{
		hardware: rangingHardware,
		flags:    initial,
		current:  Decide(rangingHardware, initial),
	}
}

// Update re-evaluates the decision table for new flags.
func (s *Selector) Update(f Flags) Transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := Transition{From: s.current, To: Decide(s.hardware, f)}
	s.flags = f
	s.current = t.To
	return t
}

// Current returns the active mode.
func (s *Selector) Current() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Flags returns the last observed configuration flags.
func (s *Selector) Flags() Flags {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags
}

// RangingHardware reports the capability detected at startup.
func (s *Selector) RangingHardware() bool {
	return s.hardware
}
