package mode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		name     string
		hardware bool
		flags    Flags
		want     Mode
	}{
		{"ranging preferred", true, Flags{RangingAllowed: true, SignalOnlyAllowed: true}, Ranging},
		{"ranging only", true, Flags{RangingAllowed: true}, Ranging},
		{"ranging disabled falls to signal", true, Flags{SignalOnlyAllowed: true}, SignalOnly},
		{"no hardware both allowed", false, Flags{RangingAllowed: true, SignalOnlyAllowed: true}, SignalOnly},
		{"no hardware ranging only", false, Flags{RangingAllowed: true}, None},
		{"both disabled", true, Flags{}, None},
		{"both disabled no hardware", false, Flags{}, None},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.hardware, tt.flags))
		})
	}
}

func TestSelectorTransitions(t *testing.T) {
	s := NewSelector(true, Flags{RangingAllowed: true, SignalOnlyAllowed: true})
	assert.Equal(t, Ranging, s.Current())

	tr := s.Update(Flags{SignalOnlyAllowed: true})
	assert.True(t, tr.Changed())
	assert.Equal(t, Transition{From: Ranging, To: SignalOnly}, tr)
	assert.False(t, tr.TearDown())

	tr = s.Update(Flags{})
	assert.True(t, tr.TearDown())
	assert.Equal(t, None, s.Current())

	tr = s.Update(Flags{})
	assert.False(t, tr.Changed())
}

func TestSelectorWithoutHardwareNeverRanges(t *testing.T) {
	s := NewSelector(false, Flags{RangingAllowed: true, SignalOnlyAllowed: true})
	assert.Equal(t, SignalOnly, s.Current())
	assert.False(t, s.RangingHardware())

	tr := s.Update(Flags{RangingAllowed: true})
	assert.Equal(t, None, tr.To)
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "ranging", Ranging.String())
	assert.Equal(t, "signal-only", SignalOnly.String())
	assert.Equal(t, "none", None.String())
}
