package sync

// ringBuffer is a fixed-capacity FIFO. Once full, pushing drops the oldest
// entry. It bounds memory for the recent-errors and recent-warnings feeds on
// long syncs.
type ringBuffer[T any] struct {
	buf   []T
	head  int
	count int
}

func newRingBuffer[T any](capacity int) *ringBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &ringBuffer[T]{buf: make([]T, capacity)}
}

func (r *ringBuffer[T]) Push(v T) {
	if r.count < len(r.buf) {
		r.buf[(r.head+r.count)%len(r.buf)] = v
		r.count++
		return
	}
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
}

func (r *ringBuffer[T]) Len() int {
	return r.count
}

// Items returns the entries oldest-first as a fresh slice.
func (r *ringBuffer[T]) Items() []T {
	out := make([]T, r.count)
	for i := range r.count {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}
