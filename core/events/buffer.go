package events

// Buffer holds events until the enclosing operation decides whether its
// writes are kept. Flush forwards them in emission order; Reset drops them.
type Buffer struct {
	pending []Event
}

// Emit implements the Emitter interface.
func (b *Buffer) Emit(evt Event) {
	if evt == nil {
		return
	}
	b.pending = append(b.pending, evt)
}

// Len reports the number of buffered events.
func (b *Buffer) Len() int { return len(b.pending) }

// Events returns a copy of the buffered events.
func (b *Buffer) Events() []Event {
	return append([]Event(nil), b.pending...)
}

// Flush forwards the buffered events to dst and empties the buffer.
func (b *Buffer) Flush(dst Emitter) {
	pending := b.pending
	b.pending = nil
	if dst == nil {
		return
	}
	for _, evt := range pending {
		dst.Emit(evt)
	}
}

// Reset discards buffered events.
func (b *Buffer) Reset() { b.pending = nil }
