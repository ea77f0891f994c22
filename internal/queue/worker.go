package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"parley/internal/store"
)

const (
	popBackoffInitial = time.Second
	popBackoffMax     = 30 * time.Second
	statusRetries     = 3
)

// worker repeatedly performs a blocking pop with a bounded timeout so it can
// observe cancellation between jobs. Transient coordination-store errors back
// off without touching any job; once a descriptor arrives, the job is carried
// to a terminal status even if shutdown begins mid-handler.
func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()

	logger := q.logger.With(zap.Int("worker", id))
	logger.Debug("worker started", zap.String("queue", q.cfg.QueueKey()))

	backoff := popBackoffInitial
	popTimeout := time.Duration(q.cfg.Queue.PopTimeoutSeconds) * time.Second

	for {
		if ctx.Err() != nil {
			logger.Debug("worker stopped")
			return
		}

		res, err := q.rdb.BRPop(ctx, popTimeout, q.cfg.QueueKey()).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				backoff = popBackoffInitial
				continue
			}
			if ctx.Err() != nil {
				logger.Debug("worker stopped")
				return
			}
			logger.Warn("queue pop", zap.Error(err))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			if backoff *= 2; backoff > popBackoffMax {
				backoff = popBackoffMax
			}
			continue
		}
		backoff = popBackoffInitial

		// BRPOP returns [key, value].
		if len(res) != 2 {
			continue
		}
		// Finish the current job even when shutdown begins mid-handler.
		q.process(context.WithoutCancel(ctx), logger, res[1])
	}
}

func (q *Queue) process(ctx context.Context, logger *zap.Logger, raw string) {
	var desc descriptor
	if err := json.Unmarshal([]byte(raw), &desc); err != nil {
		logger.Warn("drop malformed descriptor", zap.Error(err))
		return
	}
	logger = logger.With(zap.String("job", desc.ID), zap.String("kind", desc.Kind))

	job, err := q.store.JobByID(ctx, desc.ID)
	if err != nil {
		logger.Error("load job", zap.Error(err))
		return
	}
	if job == nil {
		logger.Debug("drop descriptor for removed job")
		return
	}
	if job.Status != store.StatusPending {
		// Duplicate or stale descriptor; the status store already moved on.
		logger.Debug("skip job", zap.String("status", string(job.Status)))
		return
	}

	if err := withRetry(ctx, statusRetries, func() error {
		return q.store.MarkJobProcessing(ctx, job.ID)
	}); err != nil {
		logger.Error("mark processing", zap.Error(err))
		return
	}

	handler := q.resolve(job.Kind)
	if handler == nil {
		q.finishFailed(ctx, logger, job.ID, "no handler registered for kind "+job.Kind)
		return
	}

	started := time.Now()
	result, handlerErr := handler(ctx, job)
	if handlerErr != nil {
		logger.Warn("job failed", zap.Duration("elapsed", time.Since(started)), zap.Error(handlerErr))
		q.finishFailed(ctx, logger, job.ID, handlerErr.Error())
		return
	}

	if err := withRetry(ctx, statusRetries, func() error {
		return q.store.MarkJobCompleted(ctx, job.ID, result)
	}); err != nil {
		logger.Error("mark completed", zap.Error(err))
		return
	}
	logger.Info("job completed", zap.Duration("elapsed", time.Since(started)))
}

func (q *Queue) finishFailed(ctx context.Context, logger *zap.Logger, id, message string) {
	if err := withRetry(ctx, statusRetries, func() error {
		return q.store.MarkJobFailed(ctx, id, message)
	}); err != nil {
		logger.Error("mark failed", zap.Error(err))
	}
}
