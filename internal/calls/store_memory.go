package calls

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and early development.
type MemoryStore struct {
	mu    sync.Mutex
	rows  map[string]Call
	clock func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: map[string]Call{}, clock: time.Now}
}

func (s *MemoryStore) Get(ctx context.Context, callID string) (Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.rows[callID]
	if !ok {
		return Call{}, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) Create(ctx context.Context, c Call) (Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[c.CallID]; ok {
		return Call{}, ErrAlreadyExists
	}
	now := s.clock().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	s.rows[c.CallID] = c
	return c, nil
}

func (s *MemoryStore) Mutate(ctx context.Context, callID string, fn func(*Call) error) (Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.rows[callID]
	if !ok {
		return Call{}, ErrNotFound
	}
	if err := fn(&c); err != nil {
		return Call{}, err
	}
	c.UpdatedAt = s.clock().UTC()
	s.rows[callID] = c
	return c, nil
}

func (s *MemoryStore) ListMissed(ctx context.Context, onlyPending bool) ([]Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, 0)
	for _, c := range s.rows {
		if c.Type != TypeIncoming || c.Status != StatusMissed {
			continue
		}
		if onlyPending && (c.CallbackSent || c.CallbackCompleted) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out, nil
}
