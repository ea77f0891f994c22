package queue

import (
	"context"
	"time"

	"go.uber.org/zap"

	"parley/internal/store"
)

// SweepResult reports what one recovery pass reconciled.
type SweepResult struct {
	Requeued int // processing jobs returned to pending after a worker stall
	Repushed int // pending jobs whose descriptor was lost and pushed again
}

func (q *Queue) sweeper(ctx context.Context) {
	defer q.wg.Done()

	interval := time.Duration(q.cfg.Queue.SweepIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := q.Sweep(ctx)
			if err != nil {
				q.logger.Warn("recovery sweep", zap.Error(err))
				continue
			}
			if res.Requeued > 0 || res.Repushed > 0 {
				q.logger.Info("recovery sweep",
					zap.Int("requeued", res.Requeued),
					zap.Int("repushed", res.Repushed))
			}
		}
	}
}

// Sweep runs one recovery pass. Jobs stuck in processing past the stuck
// timeout are assumed to belong to a crashed worker and re-enter the queue as
// a fresh pending attempt. Pending jobs older than the requeue window lost
// their descriptor (the channel is lossy across restarts) and get it pushed
// again. The daemon also runs this once at startup.
func (q *Queue) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := time.Now()

	stuckCutoff := now.Add(-time.Duration(q.cfg.Queue.StuckTimeoutSeconds) * time.Second)
	stuck, err := q.store.FindStuck(ctx, store.StatusProcessing, stuckCutoff)
	if err != nil {
		return res, err
	}
	for _, job := range stuck {
		if err := q.store.RequeueJob(ctx, job.ID, "requeued after worker stall"); err != nil {
			return res, err
		}
		if err := q.push(ctx, job.ID, job.Kind); err != nil {
			return res, err
		}
		res.Requeued++
	}

	pendingCutoff := now.Add(-time.Duration(q.cfg.Queue.PendingRequeueSeconds) * time.Second)
	stale, err := q.store.FindStuck(ctx, store.StatusPending, pendingCutoff)
	if err != nil {
		return res, err
	}
	for _, job := range stale {
		if err := q.store.TouchJob(ctx, job.ID, store.StatusPending); err != nil {
			return res, err
		}
		if err := q.push(ctx, job.ID, job.Kind); err != nil {
			return res, err
		}
		res.Repushed++
	}

	return res, nil
}
