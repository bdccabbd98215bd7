package session

import "sync"

// Transcript is an append-only, ordered list of messages. It is safe for
// concurrent use; readers always get copies.
type Transcript struct {
	mu       sync.RWMutex
	messages []Message
}

func NewTranscript() *Transcript {
	return &Transcript{}
}

// Append adds msg at the end and returns its position.
func (t *Transcript) Append(msg Message) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, msg)
	return len(t.messages) - 1
}

// Messages returns a copy of every message in order.
func (t *Transcript) Messages() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Since returns a copy of the messages from position n on.
func (t *Transcript) Since(n int) []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if n < 0 {
		n = 0
	}
	if n >= len(t.messages) {
		return nil
	}
	out := make([]Message, len(t.messages)-n)
	copy(out, t.messages[n:])
	return out
}

func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}
