// Package account persists player experience. The store is injected into
// whatever component awards experience; there is no process-wide state.
package account

import (
	"context"
	"sync"
)

// Store awards experience points to a named account, creating the account
// on first award.
type Store interface {
	AddExperience(ctx context.Context, name string, amount int) error
}

// Memory is the in-process store used in tests and when no backing
// database is configured.
type Memory struct {
	mu  sync.Mutex
	exp map[string]int
}

func NewMemory() *Memory {
	return &Memory{exp: make(map[string]int)}
}

func (m *Memory) AddExperience(_ context.Context, name string, amount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exp[name] += amount
	return nil
}

// Experience reports a player's total; zero for unknown names.
func (m *Memory) Experience(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exp[name]
}
