package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"rownak/pkg/logger"
)

// Sweeper periodically downgrades stale mirrored statuses in heartbeat
// deployments, where no server-side deferred write exists to flip a
// crashed client offline.
type Sweeper struct {
	tracker    *Tracker
	cronExpr   string
	staleAfter time.Duration
}

// NewSweeper validates the cron expression and returns a sweeper. An
// empty expression defaults to every minute.
func NewSweeper(t *Tracker, cronExpr string, staleAfter time.Duration) (*Sweeper, error) {
	if cronExpr == "" {
		cronExpr = "* * * * *"
	}
	if !gronx.IsValid(cronExpr) {
		return nil, fmt.Errorf("presence: invalid sweep cron expression: %s", cronExpr)
	}
	if staleAfter <= 0 {
		staleAfter = 2 * time.Minute
	}
	return &Sweeper{tracker: t, cronExpr: cronExpr, staleAfter: staleAfter}, nil
}

// Run sleeps until each cron tick and sweeps. It returns when ctx is
// done.
func (s *Sweeper) Run(ctx context.Context) {
	logger.Info("presence_sweeper_started", "cron", s.cronExpr, "stale_after", s.staleAfter.String())
	for {
		next, err := gronx.NextTickAfter(s.cronExpr, time.Now().UTC(), false)
		if err != nil {
			logger.Error("presence_sweep_nexttick_failed", "cron", s.cronExpr, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(30 * time.Second):
				continue
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
		}
		s.tracker.MarkStale(s.staleAfter)
	}
}
