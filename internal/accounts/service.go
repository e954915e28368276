package accounts

import (
	"context"
	"database/sql"
	"errors"
	"sync"
)

// KeySource resolves a user's call-provider API key. The orchestrator refuses
// to start a run without one.
type KeySource interface {
	APIKey(ctx context.Context, userID string) (string, error)
}

var (
	ErrNotFound        = errors.New("accounts: user settings not found")
	ErrInvalidArgument = errors.New("accounts: invalid argument")
)

// Service reads per-user settings from Postgres.
//
// Assumed table: user_settings (user_id PK, provider_api_key).
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service { return &Service{db: db} }

func (s *Service) APIKey(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", ErrInvalidArgument
	}
	const q = `SELECT COALESCE(provider_api_key, '') FROM user_settings WHERE user_id = $1`
	var key string
	if err := s.db.QueryRowContext(ctx, q, userID).Scan(&key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return key, nil
}

// MemoryKeys is an in-memory KeySource for tests.
type MemoryKeys struct {
	mu   sync.Mutex
	keys map[string]string
}

func NewMemoryKeys() *MemoryKeys { return &MemoryKeys{keys: map[string]string{}} }

func (m *MemoryKeys) Set(userID, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[userID] = key
}

func (m *MemoryKeys) APIKey(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.keys[userID]
	if !ok {
		return "", ErrNotFound
	}
	return key, nil
}
