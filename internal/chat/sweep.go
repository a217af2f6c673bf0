package chat

import (
	"context"
	"time"
)

// DefaultRetentionHorizon is how long a delivered message survives before
// the retention sweep removes it.
const DefaultRetentionHorizon = 30 * 24 * time.Hour

// RunRetentionSweepOnce deletes delivered messages older than horizon and
// returns the number of rows removed. Used both by the periodic sweep loop
// and the one-shot CLI subcommand.
func (s *Service) RunRetentionSweepOnce(ctx context.Context, horizon time.Duration) (int64, error) {
	removed, err := s.store.DeleteDeliveredOlderThan(ctx, horizon)
	if err != nil {
		return 0, err
	}
	s.log.Info("retention sweep removed %d delivered messages older than %s", removed, horizon)
	return removed, nil
}

// RunRetentionSweepLoop runs the sweep on a fixed interval until ctx is
// cancelled, in the style of the project's ticker-driven background jobs.
func (s *Service) RunRetentionSweepLoop(ctx context.Context, interval, horizon time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunRetentionSweepOnce(ctx, horizon); err != nil {
				s.log.Error("retention sweep failed: %v", err)
			}
		}
	}
}
