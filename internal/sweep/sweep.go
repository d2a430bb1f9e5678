package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const runTimeout = 30 * time.Second

// Resetter clears permission counters whose window has lapsed. Implemented
// by the permission store.
type Resetter interface {
	ResetWindows(ctx context.Context, now time.Time) (int64, error)
}

// Scheduler periodically resets the rolling permission-quota windows. The
// reset selects rows by cutoff predicates, so running it again immediately
// touches nothing; the cadence only bounds counter staleness.
type Scheduler struct {
	cron  *cron.Cron
	store Resetter
	log   *slog.Logger
	clock func() time.Time
}

// New builds a scheduler from a seconds-resolution cron spec.
func New(spec string, store Resetter, log *slog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:  cron.New(cron.WithSeconds()),
		store: store,
		log:   log,
		clock: time.Now,
	}
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts scheduling; the returned context is done once any in-flight run
// finishes.
func (s *Scheduler) Stop() context.Context { return s.cron.Stop() }

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	affected, err := s.store.ResetWindows(ctx, s.clock().UTC())
	if err != nil {
		s.log.Error("sweep: window reset failed", "error", err)
		return
	}
	if affected > 0 {
		s.log.Info("sweep: permission windows reset", "rows", affected)
	}
}
