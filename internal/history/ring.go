// Package history provides a small fixed-capacity buffer of the most recent
// samples, newest first.
package history

// Ring keeps the last Cap() values pushed. Pushing never moves stored data:
// the write index advances modulo the capacity and overwrites the oldest
// entry once full.
//
// Not safe for concurrent use.
type Ring[T any] struct {
	buf  []T
	next int // slot the next Push writes
	n    int
}

func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

func (r *Ring[T]) Cap() int { return len(r.buf) }

func (r *Ring[T]) Len() int { return r.n }

// Push inserts v as the newest entry, discarding the oldest when full.
func (r *Ring[T]) Push(v T) {
	r.buf[r.next] = v
	r.next = (r.next + 1) % len(r.buf)
	if r.n < len(r.buf) {
		r.n++
	}
}

// At returns the i-th most recent entry; At(0) is the newest.
// ok is false when i is outside [0, Len()).
func (r *Ring[T]) At(i int) (v T, ok bool) {
	if i < 0 || i >= r.n {
		return v, false
	}
	idx := (r.next - 1 - i + 2*len(r.buf)) % len(r.buf)
	return r.buf[idx], true
}

// Values copies the stored entries, newest first.
func (r *Ring[T]) Values() []T {
	out := make([]T, r.n)
	for i := range out {
		out[i], _ = r.At(i)
	}
	return out
}

func (r *Ring[T]) Reset() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.next = 0
	r.n = 0
}
