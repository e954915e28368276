package credits

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"dialer-platform/pkg/utils"

	"github.com/google/uuid"
)

// Service is the Postgres-backed Ledger.
//
// Assumed tables:
// - user_credits (user_id PK, balance, updated_at)
// - credit_ledger (append-only; UNIQUE (user_id, idempotency_key) where
//   idempotency_key <> '')
//
// Atomicity strategy: the decrement is a single conditional UPDATE guarded by
// balance > 0, so concurrent workers can never overdraw regardless of
// interleaving. No SELECT-then-UPDATE in the application.
type Service struct {
	db    *sql.DB
	clock func() time.Time
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db, clock: time.Now}
}

func (s *Service) Balance(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, ErrInvalidArgument
	}
	const q = `SELECT balance FROM user_credits WHERE user_id = $1`
	var balance int64
	if err := s.db.QueryRowContext(ctx, q, userID).Scan(&balance); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return balance, nil
}

func (s *Service) DecrementOne(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrInvalidArgument
	}

	now := s.clock().UTC()
	entryID := uuid.NewString()

	return utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const q = `
UPDATE user_credits
SET balance = balance - 1, updated_at = $2
WHERE user_id = $1 AND balance > 0
RETURNING balance
`
		var remaining int64
		if err := tx.QueryRowContext(ctx, q, userID, now).Scan(&remaining); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				// Missing row and exhausted balance look the same to a
				// spender: there is nothing left to spend.
				return ErrInsufficientCredits
			}
			return err
		}
		return insertEntry(ctx, tx, Entry{
			ID:          entryID,
			UserID:      userID,
			Delta:       -1,
			ExternalRef: "call_placement",
			CreatedAt:   now,
		})
	})
}

func (s *Service) IncrementBy(ctx context.Context, userID string, amount int64, idempotencyKey string) error {
	if userID == "" || idempotencyKey == "" {
		return ErrInvalidArgument
	}
	if amount <= 0 {
		return ErrInvalidArgument
	}

	now := s.clock().UTC()
	entryID := uuid.NewString()

	return utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		// Idempotency: a replayed purchase webhook must not double-credit.
		const dupQ = `SELECT 1 FROM credit_ledger WHERE user_id = $1 AND idempotency_key = $2 LIMIT 1`
		var one int
		err := tx.QueryRowContext(ctx, dupQ, userID, idempotencyKey).Scan(&one)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		const upsertQ = `
INSERT INTO user_credits (user_id, balance, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (user_id)
DO UPDATE SET balance = user_credits.balance + EXCLUDED.balance,
              updated_at = EXCLUDED.updated_at
`
		if _, err := tx.ExecContext(ctx, upsertQ, userID, amount, now); err != nil {
			return err
		}
		return insertEntry(ctx, tx, Entry{
			ID:             entryID,
			UserID:         userID,
			Delta:          amount,
			ExternalRef:    "topup",
			IdempotencyKey: idempotencyKey,
			CreatedAt:      now,
		})
	})
}

func insertEntry(ctx context.Context, tx *sql.Tx, e Entry) error {
	const q = `
INSERT INTO credit_ledger (id, user_id, delta, external_ref, idempotency_key, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
`
	_, err := tx.ExecContext(ctx, q, e.ID, e.UserID, e.Delta, e.ExternalRef, e.IdempotencyKey, e.CreatedAt)
	return err
}
