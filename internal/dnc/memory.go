package dnc

import (
	"context"
	"sync"
)

// MemoryChecker is an in-memory Checker for tests.
type MemoryChecker struct {
	mu      sync.Mutex
	entries map[string]bool
}

func NewMemoryChecker() *MemoryChecker {
	return &MemoryChecker{entries: map[string]bool{}}
}

func (m *MemoryChecker) Add(userID, phoneNumber string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[userID+":"+Normalize(phoneNumber)] = true
}

func (m *MemoryChecker) IsExcluded(ctx context.Context, userID, phoneNumber string) (bool, error) {
	if userID == "" || phoneNumber == "" {
		return false, ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[userID+":"+Normalize(phoneNumber)], nil
}
