package contest

import (
	"context"
	"log/slog"
	"time"

	"github.com/stockarena/contest-engine/internal/metrics"
	"github.com/stockarena/contest-engine/internal/model"
)

// RunSweeper persists clock-driven status transitions in the background.
// Reads never depend on it (EffectiveStatus is evaluated on every read);
// the sweep keeps stored rows and list queries converged. Blocks until ctx
// is cancelled.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	contests, err := s.store.ListActiveContests(ctx)
	if err != nil {
		slog.Error("status sweep failed", "err", err)
		return
	}

	now := time.Now()
	live := 0
	for _, c := range contests {
		eff := c.EffectiveStatus(now)
		if eff == model.StatusLive {
			live++
		}
		if eff == c.Status {
			continue
		}
		// Conditional on the stored status: if a concurrent sweep or a
		// cancel got there first, this is a no-op.
		if err := s.store.UpdateContestStatus(ctx, c.ID, c.Status, eff); err != nil {
			slog.Error("status transition failed",
				"contest_id", c.ID, "from", c.Status, "to", eff, "err", err)
			continue
		}
		slog.Info("contest status advanced", "contest_id", c.ID, "from", c.Status, "to", eff)
	}

	metrics.LiveContests.Set(float64(live))
}
