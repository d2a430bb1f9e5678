package permission

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests.
type MemoryStore struct {
	mu    sync.Mutex
	rows  map[string]CallPermission
	clock func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: map[string]CallPermission{}, clock: time.Now}
}

func key(userID, phoneNumber string) string { return userID + "|" + phoneNumber }

func (s *MemoryStore) GetOrCreate(ctx context.Context, userID, phoneNumber string) (CallPermission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(userID, phoneNumber)
	if p, ok := s.rows[k]; ok {
		return p, nil
	}
	now := s.clock().UTC()
	p := CallPermission{
		UserID:      userID,
		PhoneNumber: phoneNumber,
		Status:      StatusNoPermission,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.rows[k] = p
	return p, nil
}

func (s *MemoryStore) Mutate(ctx context.Context, userID, phoneNumber string, fn func(*CallPermission) error) (CallPermission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(userID, phoneNumber)
	p, ok := s.rows[k]
	if !ok {
		return CallPermission{}, ErrNotFound
	}
	if err := fn(&p); err != nil {
		return CallPermission{}, err
	}
	p.UpdatedAt = s.clock().UTC()
	s.rows[k] = p
	return p, nil
}

func (s *MemoryStore) ResetWindows(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dayCutoff := now.Add(-24 * time.Hour)
	weekCutoff := now.Add(-7 * 24 * time.Hour)

	var affected int64
	for k, p := range s.rows {
		changed := false
		if p.LastRequestAt != nil && p.LastRequestAt.Before(dayCutoff) {
			if p.RequestCount24h != 0 || p.ConnectedCalls24h != 0 {
				p.RequestCount24h = 0
				p.ConnectedCalls24h = 0
				changed = true
			}
		}
		if p.LastRequestAt != nil && p.LastRequestAt.Before(weekCutoff) {
			if p.RequestCount7d != 0 {
				p.RequestCount7d = 0
				changed = true
			}
		}
		if changed {
			p.UpdatedAt = now
			s.rows[k] = p
			affected++
		}
	}
	return affected, nil
}
