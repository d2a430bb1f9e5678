package sweep

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

type fakeResetter struct {
	runs int
	err  error
	last time.Time
}

func (f *fakeResetter) ResetWindows(ctx context.Context, now time.Time) (int64, error) {
	f.runs++
	f.last = now
	return 2, f.err
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew_RejectsBadSpec(t *testing.T) {
	if _, err := New("not a cron spec", &fakeResetter{}, discard()); err == nil {
		t.Fatalf("expected spec parse error")
	}
}

func TestRun_InvokesResetterWithCurrentTime(t *testing.T) {
	r := &fakeResetter{}
	s, err := New("0 */10 * * * *", r, discard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	before := time.Now().UTC()
	s.run()
	if r.runs != 1 {
		t.Fatalf("runs = %d, want 1", r.runs)
	}
	if r.last.Before(before) {
		t.Fatalf("reset time %v predates run start %v", r.last, before)
	}

	// Immediate rerun is harmless; the store's cutoff predicates make the
	// second pass a no-op on already-reset rows.
	s.run()
	if r.runs != 2 {
		t.Fatalf("runs = %d, want 2", r.runs)
	}
}

func TestRun_ErrorDoesNotPanic(t *testing.T) {
	r := &fakeResetter{err: errors.New("db down")}
	s, err := New("@every 10m", r, discard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.run()
	if r.runs != 1 {
		t.Fatalf("runs = %d", r.runs)
	}
}
