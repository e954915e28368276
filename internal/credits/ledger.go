package credits

import (
	"context"
	"errors"
	"time"
)

// Ledger tracks a user's prepaid call budget. One credit buys one successfully
// placed call.
//
// Money invariants:
// - Balance changes happen through atomic storage-level operations, never an
//   application read-modify-write pair. Many dial workers, across campaigns,
//   may decrement the same user concurrently.
// - Every balance change writes an append-only ledger entry.
// - The balance never goes negative: DecrementOne fails with
//   ErrInsufficientCredits instead of overdrawing.
type Ledger interface {
	Balance(ctx context.Context, userID string) (int64, error)

	// DecrementOne atomically spends one credit.
	DecrementOne(ctx context.Context, userID string) error

	// IncrementBy atomically adds credits (purchases, refunds). The
	// idempotency key makes webhook retries safe.
	IncrementBy(ctx context.Context, userID string, amount int64, idempotencyKey string) error
}

var (
	ErrNotFound            = errors.New("credits: user not found")
	ErrInsufficientCredits = errors.New("credits: insufficient balance")
	ErrInvalidArgument     = errors.New("credits: invalid argument")
)

// Entry is an immutable append-only ledger row. Credits are positive, debits
// negative.
type Entry struct {
	ID     string `json:"id" db:"id"`
	UserID string `json:"user_id" db:"user_id"`

	Delta int64 `json:"delta" db:"delta"`

	// ExternalRef is optional: call_id, payment reference, etc.
	ExternalRef string `json:"external_ref,omitempty" db:"external_ref"`

	// IdempotencyKey is required for credit-adding operations.
	IdempotencyKey string `json:"idempotency_key,omitempty" db:"idempotency_key"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
