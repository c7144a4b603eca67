package snapshot

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"stockledger/backend/internal/logging"
	"stockledger/backend/internal/store"
)

const runTimeout = 10 * time.Minute

// Scheduler triggers RunDaily once a day at a fixed local wall-clock time.
// With several replicas the run guard lets exactly one of them do the work.
type Scheduler struct {
	materializer *Materializer
	hour         int
	minute       int
	logger       logrus.FieldLogger
}

func NewScheduler(materializer *Materializer, hour int, minute int) *Scheduler {
	return &Scheduler{
		materializer: materializer,
		hour:         hour,
		minute:       minute,
		logger:       materializer.logger.WithField("component", "scheduler"),
	}
}

// Start runs until ctx is cancelled. The returned channel closes on exit.
func (s *Scheduler) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			next := NextRun(s.materializer.cal.Now(), s.materializer.cal.Location(), s.hour, s.minute)
			s.logger.WithField("next", next.Format(time.RFC3339)).Info("snapshot run scheduled")

			timer := time.NewTimer(time.Until(next))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}

			runCtx, cancel := context.WithTimeout(ctx, runTimeout)
			_, err := s.materializer.RunDaily(runCtx)
			cancel()
			switch {
			case err == nil:
			case errors.Is(err, store.ErrMaterializeInProgress):
				s.logger.Info("snapshot run skipped, another run holds the lock")
			default:
				logging.LogError(s.logger, "snapshot", "Scheduler.Start", "daily run", nil, err)
			}
		}
	}()
	return done
}

// NextRun returns the first instant strictly after now at hour:minute in loc.
func NextRun(now time.Time, loc *time.Location, hour int, minute int) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
	}
	return next
}
