package credits

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLedger is an in-memory Ledger for tests. The mutex stands in for the
// database's atomicity: the check-and-decrement is one critical section.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[string]int64
	entries  []Entry
	keys     map[string]bool
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances: map[string]int64{},
		keys:     map[string]bool{},
	}
}

// SetBalance seeds a user's balance without writing a ledger entry. Test-only.
func (l *MemoryLedger) SetBalance(userID string, balance int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[userID] = balance
}

func (l *MemoryLedger) Balance(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, ErrInvalidArgument
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.balances[userID]
	if !ok {
		return 0, ErrNotFound
	}
	return b, nil
}

func (l *MemoryLedger) DecrementOne(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrInvalidArgument
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[userID] <= 0 {
		return ErrInsufficientCredits
	}
	l.balances[userID]--
	l.entries = append(l.entries, Entry{
		ID:          uuid.NewString(),
		UserID:      userID,
		Delta:       -1,
		ExternalRef: "call_placement",
		CreatedAt:   time.Now().UTC(),
	})
	return nil
}

func (l *MemoryLedger) IncrementBy(ctx context.Context, userID string, amount int64, idempotencyKey string) error {
	if userID == "" || idempotencyKey == "" {
		return ErrInvalidArgument
	}
	if amount <= 0 {
		return ErrInvalidArgument
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key := userID + ":" + idempotencyKey
	if l.keys[key] {
		return nil
	}
	l.keys[key] = true
	l.balances[userID] += amount
	l.entries = append(l.entries, Entry{
		ID:             uuid.NewString(),
		UserID:         userID,
		Delta:          amount,
		ExternalRef:    "topup",
		IdempotencyKey: idempotencyKey,
		CreatedAt:      time.Now().UTC(),
	})
	return nil
}

// Entries returns a copy of the ledger rows.
func (l *MemoryLedger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}
