package permission

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("permission: not found")

// Store is the persistence contract for CallPermission rows.
//
// GetOrCreate creates the row lazily with status no_permission on first use
// for a (user, number) pair. Mutate must serialize concurrent read-modify-write
// cycles for the same pair.
type Store interface {
	GetOrCreate(ctx context.Context, userID, phoneNumber string) (CallPermission, error)
	Mutate(ctx context.Context, userID, phoneNumber string, fn func(*CallPermission) error) (CallPermission, error)

	// ResetWindows implements the periodic sweep: rows whose last_request_at
	// is older than 24h get request_count_24h and connected_calls_24h zeroed;
	// rows older than 7d additionally get request_count_7d zeroed. Selection
	// is by cutoff predicate, so running it concurrently with live mutations
	// or twice in a row is harmless.
	ResetWindows(ctx context.Context, now time.Time) (int64, error)
}
