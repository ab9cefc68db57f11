package detection

const (
	// DefaultHistorySize is the number of confidence readings kept per session.
	DefaultHistorySize = 20

	// MaxHistorySize bounds the history window.
	MaxHistorySize = 20
)

// History is a fixed-capacity FIFO of confidence readings backed by a ring
// buffer. Push is O(1); once full, each push evicts the oldest reading.
// The zero value is not usable; create one with [NewHistory].
type History struct {
	buf   []float64
	start int // index of the oldest reading
	n     int // number of stored readings
}

// NewHistory returns an empty History holding at most capacity readings.
// A non-positive capacity falls back to [DefaultHistorySize]; larger values
// are capped at [MaxHistorySize].
func NewHistory(capacity int) *History {
	switch {
	case capacity <= 0:
		capacity = DefaultHistorySize
	case capacity > MaxHistorySize:
		capacity = MaxHistorySize
	}
	return &History{buf: make([]float64, capacity)}
}

// Push appends v, evicting the oldest reading if the buffer is full.
func (h *History) Push(v float64) {
	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = v
		h.n++
		return
	}
	h.buf[h.start] = v
	h.start = (h.start + 1) % len(h.buf)
}

// Len returns the number of stored readings.
func (h *History) Len() int { return h.n }

// Values returns the stored readings oldest first. The slice is a copy.
func (h *History) Values() []float64 {
	out := make([]float64, h.n)
	for i := range h.n {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

// Mean returns the average of the stored readings, or 0 when empty.
func (h *History) Mean() float64 {
	if h.n == 0 {
		return 0
	}
	var sum float64
	for i := range h.n {
		sum += h.buf[(h.start+i)%len(h.buf)]
	}
	return sum / float64(h.n)
}

// Clear drops every reading but keeps the capacity.
func (h *History) Clear() {
	h.start = 0
	h.n = 0
}
