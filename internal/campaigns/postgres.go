package campaigns

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"dialer-platform/pkg/utils"

	"github.com/google/uuid"
)

// PostgresStore persists campaigns, contacts and call logs in Postgres.
//
// Assumed tables: campaigns, contacts, call_logs.
// contacts.dynamic_variables and call_logs metadata are JSONB.
type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

func (s *PostgresStore) Campaign(ctx context.Context, id int64) (Campaign, error) {
	const q = `
SELECT id, user_id, title, description, agent_id,
       COALESCE(outbound_number, ''), local_touch,
       status, progress, has_run, created_at, updated_at
FROM campaigns
WHERE id = $1
`
	var c Campaign
	if err := s.db.QueryRowContext(ctx, q, id).Scan(
		&c.ID,
		&c.UserID,
		&c.Title,
		&c.Description,
		&c.AgentID,
		&c.OutboundNumber,
		&c.LocalTouch,
		&c.Status,
		&c.Progress,
		&c.HasRun,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Campaign{}, ErrNotFound
		}
		return Campaign{}, err
	}
	return c, nil
}

func (s *PostgresStore) CreateCampaign(ctx context.Context, c Campaign) (int64, error) {
	if err := c.Validate(); err != nil {
		return 0, err
	}
	const q = `
INSERT INTO campaigns (user_id, title, description, agent_id, outbound_number, local_touch, status, progress, has_run, created_at, updated_at)
VALUES ($1,$2,$3,$4,NULLIF($5,''),$6,$7,$8,$9,$10,$10)
RETURNING id
`
	now := s.clock().UTC()
	status := c.Status
	if status == "" {
		status = StatusScheduled
	}
	var id int64
	err := s.db.QueryRowContext(ctx, q,
		c.UserID, c.Title, c.Description, c.AgentID, c.OutboundNumber, c.LocalTouch,
		status, c.Progress, c.HasRun, now,
	).Scan(&id)
	return id, err
}

func (s *PostgresStore) UpdateCampaign(ctx context.Context, id int64, patch CampaignPatch) error {
	sets := []string{"updated_at = $1"}
	args := []any{s.clock().UTC()}

	add := func(expr string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf(expr, len(args)))
	}

	if patch.Title != nil {
		add("title = $%d", *patch.Title)
	}
	if patch.Description != nil {
		add("description = $%d", *patch.Description)
	}
	if patch.AgentID != nil {
		add("agent_id = $%d", *patch.AgentID)
	}
	if patch.OutboundNumber != nil {
		add("outbound_number = NULLIF($%d,'')", *patch.OutboundNumber)
	}
	if patch.LocalTouch != nil {
		add("local_touch = $%d", *patch.LocalTouch)
	}
	if patch.Status != nil {
		add("status = $%d", string(*patch.Status))
	}
	if patch.Progress != nil {
		// Monotonic: concurrent workers may persist out of order.
		add("progress = GREATEST(progress, $%d)", *patch.Progress)
	}
	if patch.HasRun != nil {
		add("has_run = $%d", *patch.HasRun)
	}

	args = append(args, id)
	q := fmt.Sprintf("UPDATE campaigns SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))

	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteCampaign(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM campaigns WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const contactColumns = `id, campaign_id, phone_number, first_name, COALESCE(dynamic_variables, '{}'::jsonb), COALESCE(call_id, ''), created_at`

func scanContact(row interface{ Scan(...any) error }) (Contact, error) {
	var c Contact
	var rawVars []byte
	if err := row.Scan(
		&c.ID,
		&c.CampaignID,
		&c.PhoneNumber,
		&c.FirstName,
		&rawVars,
		&c.CallID,
		&c.CreatedAt,
	); err != nil {
		return Contact{}, err
	}
	if len(rawVars) > 0 {
		if err := json.Unmarshal(rawVars, &c.DynamicVars); err != nil {
			return Contact{}, fmt.Errorf("campaigns: decode dynamic_variables for contact %d: %w", c.ID, err)
		}
	}
	return c, nil
}

func (s *PostgresStore) Contact(ctx context.Context, id int64) (Contact, error) {
	q := `SELECT ` + contactColumns + ` FROM contacts WHERE id = $1`
	c, err := scanContact(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Contact{}, ErrNotFound
	}
	return c, err
}

func (s *PostgresStore) Contacts(ctx context.Context, campaignID int64) ([]Contact, error) {
	q := `SELECT ` + contactColumns + ` FROM contacts WHERE campaign_id = $1 ORDER BY id`
	return s.queryContacts(ctx, q, campaignID)
}

func (s *PostgresStore) ContactsByIDs(ctx context.Context, campaignID int64, ids []int64) ([]Contact, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	// Preserves queue order: the caller's id order is the dialing order.
	q := `SELECT ` + contactColumns + ` FROM contacts WHERE campaign_id = $1 AND id = ANY($2) ORDER BY array_position($2, id)`
	return s.queryContacts(ctx, q, campaignID, ids)
}

func (s *PostgresStore) queryContacts(ctx context.Context, q string, args ...any) ([]Contact, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AddContacts(ctx context.Context, campaignID int64, contacts []Contact) error {
	if len(contacts) == 0 {
		return nil
	}
	const q = `
INSERT INTO contacts (campaign_id, phone_number, first_name, dynamic_variables, call_id, created_at)
VALUES ($1,$2,$3,$4,NULLIF($5,''),$6)
`
	now := s.clock().UTC()
	return utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		for _, c := range contacts {
			vars, err := json.Marshal(c.DynamicVars)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, q, campaignID, c.PhoneNumber, c.FirstName, vars, c.CallID, now); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) CalledContactIDs(ctx context.Context, campaignID int64) ([]int64, error) {
	const q = `SELECT DISTINCT contact_id FROM call_logs WHERE campaign_id = $1`
	rows, err := s.db.QueryContext(ctx, q, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CallLogs(ctx context.Context, campaignID int64) ([]CallLog, error) {
	const q = `
SELECT id, campaign_id, contact_id, phone_number, first_name, call_id,
       COALESCE(disconnection_reason, ''), COALESCE(transcript, ''), COALESCE(summary, ''),
       COALESCE(recording_url, ''), COALESCE(sentiment, ''), COALESCE(duration_seconds, 0),
       COALESCE(direction, ''), created_at, updated_at
FROM call_logs
WHERE campaign_id = $1
ORDER BY created_at
`
	rows, err := s.db.QueryContext(ctx, q, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallLog
	for rows.Next() {
		var l CallLog
		if err := rows.Scan(
			&l.ID, &l.CampaignID, &l.ContactID, &l.PhoneNumber, &l.FirstName, &l.CallID,
			&l.DisconnectionReason, &l.Transcript, &l.Summary,
			&l.RecordingURL, &l.Sentiment, &l.DurationSeconds,
			&l.Direction, &l.CreatedAt, &l.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// RecordPlacedCall commits the campaign progress, the contact call id and the
// initial call-log row in one transaction. A crash between these writes would
// otherwise redial the contact on resume while progress overcounts.
func (s *PostgresStore) RecordPlacedCall(ctx context.Context, pc PlacedCall) error {
	now := s.clock().UTC()
	logID := uuid.NewString()

	return utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE contacts SET call_id = $1 WHERE id = $2 AND campaign_id = $3 AND call_id IS NULL`,
			pc.CallID, pc.ContactID, pc.CampaignID,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO call_logs (id, campaign_id, contact_id, phone_number, first_name, call_id, created_at, updated_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$7)`,
			logID, pc.CampaignID, pc.ContactID, pc.PhoneNumber, pc.FirstName, pc.CallID, now,
		); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE campaigns SET progress = GREATEST(progress, $1), updated_at = $2 WHERE id = $3`,
			pc.Progress, now, pc.CampaignID,
		)
		return err
	})
}
