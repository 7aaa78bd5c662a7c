package recorder

import (
	"context"
	"sync"
)

// DefaultCapacity bounds the in-memory store when none is configured.
const DefaultCapacity = 10000

// Memory keeps the most recent transitions in a bounded buffer. When the
// buffer is full the oldest transitions are evicted first.
type Memory struct {
	mu          sync.RWMutex
	transitions []Transition
	capacity    int
	closed      bool
}

// NewMemory creates an in-memory store holding at most capacity transitions.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Memory{capacity: capacity}
}

// SaveBatch appends the batch, evicting the oldest entries past capacity.
func (m *Memory) SaveBatch(ctx context.Context, batch []Transition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	for _, t := range batch {
		normalize(&t)
		m.transitions = append(m.transitions, t)
	}
	if over := len(m.transitions) - m.capacity; over > 0 {
		m.transitions = m.transitions[over:]
	}
	return nil
}

// Len reports how many transitions are buffered.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.transitions)
}

// All returns a copy of the buffered transitions, oldest first.
func (m *Memory) All() []Transition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Transition, len(m.transitions))
	copy(out, m.transitions)
	return out
}

// Close drops the buffer and rejects further writes.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.transitions = nil
	return nil
}
