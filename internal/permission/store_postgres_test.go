package permission

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func permRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"user_id", "phone_number", "status", "is_permanent",
		"requested_at", "approved_at", "rejected_at", "revoked_at", "expires_at",
		"request_count_24h", "request_count_7d", "last_request_at",
		"connected_calls_24h", "last_call_at",
		"consecutive_missed", "warning_sent",
		"permission_message_id", "response_source",
		"created_at", "updated_at",
	})
}

func TestPostgresStore_GetOrCreate_InsertsLazily(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := NewPostgresStore(db)
	store.clock = func() time.Time { return now }

	mock.ExpectExec(`INSERT INTO call_permissions [\s\S]*ON CONFLICT \(user_id, phone_number\) DO NOTHING`).
		WithArgs("user-1", "15557770001", string(StatusNoPermission), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT [\s\S]* FROM call_permissions\s+WHERE user_id = \$1 AND phone_number = \$2`).
		WithArgs("user-1", "15557770001").
		WillReturnRows(permRows().AddRow(
			"user-1", "15557770001", string(StatusNoPermission), false,
			nil, nil, nil, nil, nil,
			0, 0, nil,
			0, nil,
			0, false,
			nil, nil,
			now, now,
		))

	p, err := store.GetOrCreate(context.Background(), "user-1", "15557770001")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if p.Status != StatusNoPermission {
		t.Fatalf("status = %q", p.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresStore_Mutate_LocksRow(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := NewPostgresStore(db)
	store.clock = func() time.Time { return now }

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT [\s\S]* FROM call_permissions\s+WHERE user_id = \$1 AND phone_number = \$2 FOR UPDATE`).
		WithArgs("user-1", "15557770001").
		WillReturnRows(permRows().AddRow(
			"user-1", "15557770001", string(StatusNoPermission), false,
			nil, nil, nil, nil, nil,
			0, 0, nil,
			0, nil,
			0, false,
			nil, nil,
			now, now,
		))
	mock.ExpectExec(`UPDATE call_permissions SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	p, err := store.Mutate(context.Background(), "user-1", "15557770001", func(p *CallPermission) error {
		p.Status = StatusPending
		return nil
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if p.Status != StatusPending {
		t.Fatalf("status = %q, want pending", p.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresStore_ResetWindows_UsesCutoffPredicates(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	store := NewPostgresStore(db)
	mock.ExpectExec(`UPDATE call_permissions SET[\s\S]*last_request_at < \$1[\s\S]*last_request_at < \$2`).
		WillReturnResult(sqlmock.NewResult(0, 3))

	affected, err := store.ResetWindows(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("ResetWindows: %v", err)
	}
	if affected != 3 {
		t.Fatalf("affected = %d, want 3", affected)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
