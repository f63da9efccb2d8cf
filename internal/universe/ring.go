package universe

// Ring is a bounded history. Appends are amortized: the backing slice
// grows to cap+slack and is then trimmed back to the newest cap values in
// place, so steady-state appends do not allocate.
type Ring struct {
	buf   []float64
	cap   int
	slack int
}

// NewRing creates a history holding at most capacity values once trimmed.
func NewRing(capacity, slack int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	if slack < 1 {
		slack = 1
	}
	return &Ring{buf: make([]float64, 0, capacity+slack), cap: capacity, slack: slack}
}

// Push appends v, trimming when the length exceeds cap+slack.
func (r *Ring) Push(v float64) {
	r.buf = append(r.buf, v)
	if len(r.buf) > r.cap+r.slack {
		n := copy(r.buf, r.buf[len(r.buf)-r.cap:])
		r.buf = r.buf[:n]
	}
}

// Seed replaces the contents with the newest values of vs.
func (r *Ring) Seed(vs []float64) {
	r.buf = r.buf[:0]
	if len(vs) > r.cap {
		vs = vs[len(vs)-r.cap:]
	}
	r.buf = append(r.buf, vs...)
}

// Values returns the history oldest first. The slice aliases internal
// storage and is only valid until the next Push.
func (r *Ring) Values() []float64 {
	return r.buf
}

func (r *Ring) Len() int { return len(r.buf) }

// Last returns the newest value, or 0 when empty.
func (r *Ring) Last() float64 {
	if len(r.buf) == 0 {
		return 0
	}
	return r.buf[len(r.buf)-1]
}

// SetLast overwrites the newest value.
func (r *Ring) SetLast(v float64) {
	if len(r.buf) > 0 {
		r.buf[len(r.buf)-1] = v
	}
}
