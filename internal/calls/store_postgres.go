package calls

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"whatsapp-calling/pkg/utils"
)

// PostgresStore persists call records in the calls table.
//
// Schema expectation: UNIQUE(call_id); see migrations.
type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

const callColumns = `call_id, from_number, to_number, type, status,
	start_time, end_time, duration, sdp, accepted_at,
	callback_sent, callback_sent_at, callback_completed, callback_completed_at,
	viewed_at, created_at, updated_at`

func (s *PostgresStore) Get(ctx context.Context, callID string) (Call, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+callColumns+` FROM calls WHERE call_id = $1`, callID)
	return scanCall(row)
}

func (s *PostgresStore) Create(ctx context.Context, c Call) (Call, error) {
	now := s.clock().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calls (`+callColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		c.CallID, c.FromNumber, c.ToNumber, c.Type, c.Status,
		c.StartTime, c.EndTime, c.DurationSeconds, nullEmpty(c.SDP), c.AcceptedAt,
		c.CallbackSent, c.CallbackSentAt, c.CallbackCompleted, c.CallbackCompletedAt,
		c.ViewedAt, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return Call{}, ErrAlreadyExists
		}
		return Call{}, err
	}
	return c, nil
}

func (s *PostgresStore) Mutate(ctx context.Context, callID string, fn func(*Call) error) (Call, error) {
	var out Call
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT `+callColumns+` FROM calls WHERE call_id = $1 FOR UPDATE`, callID)
		c, err := scanCall(row)
		if err != nil {
			return err
		}

		if err := fn(&c); err != nil {
			return err
		}
		c.UpdatedAt = s.clock().UTC()

		_, err = tx.ExecContext(ctx,
			`UPDATE calls SET
				from_number = $2, to_number = $3, type = $4, status = $5,
				start_time = $6, end_time = $7, duration = $8, sdp = $9,
				accepted_at = $10,
				callback_sent = $11, callback_sent_at = $12,
				callback_completed = $13, callback_completed_at = $14,
				viewed_at = $15, updated_at = $16
			 WHERE call_id = $1`,
			c.CallID, c.FromNumber, c.ToNumber, c.Type, c.Status,
			c.StartTime, c.EndTime, c.DurationSeconds, nullEmpty(c.SDP),
			c.AcceptedAt,
			c.CallbackSent, c.CallbackSentAt, c.CallbackCompleted, c.CallbackCompletedAt,
			c.ViewedAt, c.UpdatedAt,
		)
		if err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return Call{}, err
	}
	return out, nil
}

func (s *PostgresStore) ListMissed(ctx context.Context, onlyPending bool) ([]Call, error) {
	q := `SELECT ` + callColumns + ` FROM calls
	      WHERE type = $1 AND status = $2`
	if onlyPending {
		q += ` AND callback_sent = FALSE AND callback_completed = FALSE`
	}
	q += ` ORDER BY start_time DESC`

	rows, err := s.db.QueryContext(ctx, q, TypeIncoming, StatusMissed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Call, 0)
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(r rowScanner) (Call, error) {
	var c Call
	var sdp sql.NullString
	err := r.Scan(
		&c.CallID, &c.FromNumber, &c.ToNumber, &c.Type, &c.Status,
		&c.StartTime, &c.EndTime, &c.DurationSeconds, &sdp, &c.AcceptedAt,
		&c.CallbackSent, &c.CallbackSentAt, &c.CallbackCompleted, &c.CallbackCompletedAt,
		&c.ViewedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, ErrNotFound
		}
		return Call{}, err
	}
	c.SDP = sdp.String
	return c, nil
}

func nullEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// isUniqueViolation matches Postgres error code 23505 without importing the
// driver's error type here.
func isUniqueViolation(err error) bool {
	type coder interface{ SQLState() string }
	var c coder
	if errors.As(err, &c) {
		return c.SQLState() == "23505"
	}
	return false
}
