package risk

// ring is a fixed-capacity FIFO buffer. Pushing past capacity overwrites the oldest entry.
type ring[T any] struct {
	buf   []T
	start int
	n     int
}

func newRing[T any](capacity int) *ring[T] {
	return &ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) push(v T) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = v
		r.n++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring[T]) len() int { return r.n }

// at returns the i-th entry, oldest first.
func (r *ring[T]) at(i int) T {
	return r.buf[(r.start+i)%len(r.buf)]
}

func (r *ring[T]) first() T { return r.at(0) }

func (r *ring[T]) last() T { return r.at(r.n - 1) }

// tail copies the newest n entries, oldest first. n is clamped to the length.
func (r *ring[T]) tail(n int) []T {
	if n > r.n {
		n = r.n
	}
	out := make([]T, n)
	offset := r.n - n
	for i := range out {
		out[i] = r.at(offset + i)
	}
	return out
}

func (r *ring[T]) values() []T { return r.tail(r.n) }

func (r *ring[T]) reset() {
	clear(r.buf)
	r.start = 0
	r.n = 0
}

// history keeps the observation log and its derived scalar channels in lock-step.
type history struct {
	observations *ring[Observation]
	scores       *ring[float64]
	levels       *ring[int]
	intervals    *ring[float64] // milliseconds
}

func newHistory(capacity int) *history {
	return &history{
		observations: newRing[Observation](capacity),
		scores:       newRing[float64](capacity),
		levels:       newRing[int](capacity),
		intervals:    newRing[float64](capacity),
	}
}

func (h *history) push(o Observation) {
	h.observations.push(o)
	h.scores.push(o.Score)
	h.levels.push(o.Level)
	h.intervals.push(millis(o.IntervalSincePrevious))
}

func (h *history) len() int { return h.observations.len() }

func (h *history) reset() {
	h.observations.reset()
	h.scores.reset()
	h.levels.reset()
	h.intervals.reset()
}
