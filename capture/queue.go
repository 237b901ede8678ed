package capture

// RawQueue is the connection's FIFO of play packets that have not been
// decoded yet. Capture taps read it before the consumer drains it; a capture
// cursor guarantees each buffer is observed once even when a cycle does not
// drain.
type RawQueue struct {
	bufs     [][]byte
	captured int
}

// Push appends a received packet buffer.
func (q *RawQueue) Push(b []byte) {
	q.bufs = append(q.bufs, b)
}

// Len returns the number of queued buffers.
func (q *RawQueue) Len() int {
	return len(q.bufs)
}

// Capture calls fn, in arrival order, for every buffer not yet captured.
// The cursor advances past a buffer even when fn fails for it. The first
// error is returned after every buffer has been visited.
func (q *RawQueue) Capture(fn func([]byte) error) error {
	var first error
	for q.captured < len(q.bufs) {
		b := q.bufs[q.captured]
		q.captured++
		if err := fn(b); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Drain removes and returns every queued buffer.
func (q *RawQueue) Drain() [][]byte {
	bufs := q.bufs
	q.bufs = nil
	q.captured = 0
	return bufs
}
