package statshard

// buffer coalesces wire messages into larger datagrams for one shard.
// Mutated only with the client's lock held.
type buffer struct {
	max     int
	pending []byte
	flushes int
	sink    func([]byte)
}

func newBuffer(capacity int, sink func([]byte)) *buffer {
	return &buffer{max: capacity, sink: sink}
}

// add appends a message and its newline delimiter. When the pending bytes
// plus the message would reach capacity, the buffer flushes first — then
// appends unconditionally, so a single message larger than the capacity
// still ships whole in its own flush, never split or dropped.
func (b *buffer) add(msg []byte) {
	if len(b.pending)+len(msg) >= b.max {
		b.flush()
	}
	b.pending = append(b.pending, msg...)
	b.pending = append(b.pending, '\n')
}

// flush hands the accumulated payload to the sink as one write and resets.
// No-op when empty.
func (b *buffer) flush() {
	if len(b.pending) == 0 {
		return
	}
	b.sink(b.pending)
	b.pending = b.pending[:0]
	b.flushes++
}
