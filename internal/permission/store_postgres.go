package permission

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"whatsapp-calling/pkg/utils"
)

// PostgresStore persists CallPermission rows in call_permissions.
//
// Schema expectation: UNIQUE(user_id, phone_number); see migrations.
type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

const permColumns = `user_id, phone_number, status, is_permanent,
	requested_at, approved_at, rejected_at, revoked_at, expires_at,
	request_count_24h, request_count_7d, last_request_at,
	connected_calls_24h, last_call_at,
	consecutive_missed, warning_sent,
	permission_message_id, response_source,
	created_at, updated_at`

func (s *PostgresStore) GetOrCreate(ctx context.Context, userID, phoneNumber string) (CallPermission, error) {
	now := s.clock().UTC()

	// Insert-if-absent, then read. The unique constraint makes the insert a
	// no-op when the row already exists.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO call_permissions (user_id, phone_number, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4)
		 ON CONFLICT (user_id, phone_number) DO NOTHING`,
		userID, phoneNumber, StatusNoPermission, now,
	)
	if err != nil {
		return CallPermission{}, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+permColumns+` FROM call_permissions
		 WHERE user_id = $1 AND phone_number = $2`,
		userID, phoneNumber)
	return scanPermission(row)
}

func (s *PostgresStore) Mutate(ctx context.Context, userID, phoneNumber string, fn func(*CallPermission) error) (CallPermission, error) {
	var out CallPermission
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT `+permColumns+` FROM call_permissions
			 WHERE user_id = $1 AND phone_number = $2 FOR UPDATE`,
			userID, phoneNumber)
		p, err := scanPermission(row)
		if err != nil {
			return err
		}

		if err := fn(&p); err != nil {
			return err
		}
		p.UpdatedAt = s.clock().UTC()

		_, err = tx.ExecContext(ctx,
			`UPDATE call_permissions SET
				status = $3, is_permanent = $4,
				requested_at = $5, approved_at = $6, rejected_at = $7,
				revoked_at = $8, expires_at = $9,
				request_count_24h = $10, request_count_7d = $11, last_request_at = $12,
				connected_calls_24h = $13, last_call_at = $14,
				consecutive_missed = $15, warning_sent = $16,
				permission_message_id = $17, response_source = $18,
				updated_at = $19
			 WHERE user_id = $1 AND phone_number = $2`,
			p.UserID, p.PhoneNumber, p.Status, p.IsPermanent,
			p.RequestedAt, p.ApprovedAt, p.RejectedAt,
			p.RevokedAt, p.ExpiresAt,
			p.RequestCount24h, p.RequestCount7d, p.LastRequestAt,
			p.ConnectedCalls24h, p.LastCallAt,
			p.ConsecutiveMissed, p.WarningSent,
			nullEmpty(p.PermissionMessageID), nullEmpty(string(p.ResponseSource)),
			p.UpdatedAt,
		)
		if err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return CallPermission{}, err
	}
	return out, nil
}

func (s *PostgresStore) ResetWindows(ctx context.Context, now time.Time) (int64, error) {
	dayCutoff := now.Add(-24 * time.Hour)
	weekCutoff := now.Add(-7 * 24 * time.Hour)

	res, err := s.db.ExecContext(ctx,
		`UPDATE call_permissions SET
			request_count_24h   = CASE WHEN last_request_at < $1 THEN 0 ELSE request_count_24h END,
			connected_calls_24h = CASE WHEN last_request_at < $1 THEN 0 ELSE connected_calls_24h END,
			request_count_7d    = CASE WHEN last_request_at < $2 THEN 0 ELSE request_count_7d END,
			updated_at          = $3
		 WHERE last_request_at IS NOT NULL
		   AND (
				(last_request_at < $1 AND (request_count_24h > 0 OR connected_calls_24h > 0))
			 OR (last_request_at < $2 AND request_count_7d > 0)
		   )`,
		dayCutoff, weekCutoff, now.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanPermission(r interface{ Scan(dest ...any) error }) (CallPermission, error) {
	var p CallPermission
	var msgID, src sql.NullString
	err := r.Scan(
		&p.UserID, &p.PhoneNumber, &p.Status, &p.IsPermanent,
		&p.RequestedAt, &p.ApprovedAt, &p.RejectedAt, &p.RevokedAt, &p.ExpiresAt,
		&p.RequestCount24h, &p.RequestCount7d, &p.LastRequestAt,
		&p.ConnectedCalls24h, &p.LastCallAt,
		&p.ConsecutiveMissed, &p.WarningSent,
		&msgID, &src,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallPermission{}, ErrNotFound
		}
		return CallPermission{}, err
	}
	p.PermissionMessageID = msgID.String
	p.ResponseSource = ResponseSource(src.String)
	return p, nil
}

func nullEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
