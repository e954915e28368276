package dnc

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// Checker answers "may this user dial this number?". The dialer consumes only
// this predicate; list management is a separate surface.
type Checker interface {
	IsExcluded(ctx context.Context, userID, phoneNumber string) (bool, error)
}

// Service is the Postgres-backed Checker.
//
// Assumed table: dnc_entries (user_id, phone_number), numbers stored
// digits-only. Lookups normalize the same way so formatting differences in
// imported contact lists cannot bypass the list.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service { return &Service{db: db} }

var ErrInvalidArgument = errors.New("dnc: invalid argument")

func (s *Service) IsExcluded(ctx context.Context, userID, phoneNumber string) (bool, error) {
	if userID == "" || phoneNumber == "" {
		return false, ErrInvalidArgument
	}
	const q = `SELECT EXISTS (SELECT 1 FROM dnc_entries WHERE user_id = $1 AND phone_number = $2)`
	var excluded bool
	if err := s.db.QueryRowContext(ctx, q, userID, Normalize(phoneNumber)).Scan(&excluded); err != nil {
		return false, err
	}
	return excluded, nil
}

// Normalize strips everything but digits.
func Normalize(phoneNumber string) string {
	var b strings.Builder
	b.Grow(len(phoneNumber))
	for _, r := range phoneNumber {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
