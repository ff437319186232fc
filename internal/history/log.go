// Package history keeps the append-only log of chat lines a node has seen,
// in arrival order. Newly connected peers receive a snapshot of it.
package history

import "sync"

// Log is safe for concurrent use.
type Log interface {
	Append(line string) error
	Snapshot() ([]string, error)
	Len() int
}

type Memory struct {
	mu    sync.RWMutex
	lines []string
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Append(line string) error {
	m.mu.Lock()
	m.lines = append(m.lines, line)
	m.mu.Unlock()
	return nil
}

// Snapshot returns a copy; later appends do not affect it.
func (m *Memory) Snapshot() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, len(m.lines))
	copy(out, m.lines)
	return out, nil
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.lines)
}
