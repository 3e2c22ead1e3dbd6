package composer

import "sync"

// Buffer is the server-side copy of the browser editor's content. The
// client syncs into it, at the latest together with the submit request.
type Buffer struct {
	mu      sync.RWMutex
	content string
}

// NewBuffer creates a buffer holding the initial content
func NewBuffer(initial string) *Buffer {
	return &Buffer{content: initial}
}

func (b *Buffer) GetContent() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.content
}

func (b *Buffer) SetContent(content string) {
	b.mu.Lock()
	b.content = content
	b.mu.Unlock()
}
