package app

// History keeps the most recent readings for the sparklines, oldest first.
type History struct {
	limit  int
	values []float64
}

// NewHistory creates a history holding at most limit readings.
func NewHistory(limit int) *History {
	return &History{limit: limit, values: make([]float64, 0, limit)}
}

// Push appends v, dropping the oldest reading once full.
func (h *History) Push(v float64) {
	if len(h.values) == h.limit {
		copy(h.values, h.values[1:])
		h.values = h.values[:h.limit-1]
	}
	h.values = append(h.values, v)
}

// Values returns a copy of the readings in arrival order.
func (h *History) Values() []float64 {
	if len(h.values) == 0 {
		return nil
	}
	return append([]float64(nil), h.values...)
}

// Last returns the newest reading, or 0 when empty.
func (h *History) Last() float64 {
	if len(h.values) == 0 {
		return 0
	}
	return h.values[len(h.values)-1]
}

func (h *History) Len() int { return len(h.values) }

// Reset drops every reading.
func (h *History) Reset() { h.values = h.values[:0] }
