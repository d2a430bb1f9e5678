package calls

import (
	"context"
	"errors"
)

var (
	ErrNotFound      = errors.New("calls: not found")
	ErrAlreadyExists = errors.New("calls: call id already exists")
)

// Store is the persistence contract for call records.
//
// Mutate must serialize concurrent read-modify-write cycles for the same call
// id (the Postgres implementation locks the row; the memory implementation
// holds its lock across fn).
type Store interface {
	Get(ctx context.Context, callID string) (Call, error)
	Create(ctx context.Context, c Call) (Call, error)
	Mutate(ctx context.Context, callID string, fn func(*Call) error) (Call, error)

	// ListMissed returns incoming calls whose final state is missed, newest
	// first. With onlyPending, calls already sent or completed a callback are
	// excluded.
	ListMissed(ctx context.Context, onlyPending bool) ([]Call, error)
}
