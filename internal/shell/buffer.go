package shell

import "sync"

// OutputBuffer accumulates upstream output between polls. Append-only with
// a single reader: Drain returns everything accumulated so far and clears
// it atomically, so bytes are delivered to exactly one poll.
type OutputBuffer struct {
	mu   sync.Mutex
	data []byte
}

func (b *OutputBuffer) Append(p []byte) {
	b.mu.Lock()
	b.data = append(b.data, p...)
	b.mu.Unlock()
}

// Drain returns the buffered bytes and clears the buffer.
func (b *OutputBuffer) Drain() []byte {
	b.mu.Lock()
	data := b.data
	b.data = nil
	b.mu.Unlock()
	return data
}

func (b *OutputBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}
