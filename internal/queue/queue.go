package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"parley/internal/config"
	"parley/internal/store"
)

// ErrClosed is returned by Enqueue once shutdown has begun.
var ErrClosed = errors.New("queue: closed")

// Handler processes one job and returns optional result metadata. Handlers
// must be idempotent: delivery is at-least-once, and a job whose worker
// crashed or whose lock lease expired may run again.
type Handler func(ctx context.Context, job *store.Job) (string, error)

// descriptor is the lightweight form of a job placed on the Redis list. The
// status store carries the payload and lifecycle; losing a descriptor only
// delays a job until the sweep reconciles it.
type descriptor struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

// Queue decouples request-serving code from heavy processing. Producers call
// Enqueue and return immediately; a small pool of worker goroutines pops
// descriptors from a Redis list, resolves a handler by job kind, and drives
// the job's status through the store.
type Queue struct {
	cfg    *config.Config
	rdb    *redis.Client
	store  *store.Store
	logger *zap.Logger

	mu       sync.Mutex
	handlers map[string]Handler
	closed   bool
	started  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New constructs a queue over the given coordination client and status store.
func New(cfg *config.Config, st *store.Store, rdb *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		cfg:      cfg,
		rdb:      rdb,
		store:    st,
		logger:   logger,
		handlers: make(map[string]Handler),
	}
}

// Register binds a handler to a job kind. Registering after Start is allowed;
// jobs of unknown kinds are marked failed at processing time.
func (q *Queue) Register(kind string, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[kind] = handler
}

func (q *Queue) resolve(kind string) Handler {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.handlers[kind]
}

// Enqueue persists a pending job and pushes its descriptor onto the hand-off
// channel, returning the job id immediately. If the push fails the record is
// marked failed rather than left dangling as pending forever.
func (q *Queue) Enqueue(ctx context.Context, kind, payload string) (string, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", ErrClosed
	}
	q.mu.Unlock()

	if kind == "" {
		return "", errors.New("queue: job kind is empty")
	}

	id := uuid.NewString()
	if _, err := q.store.CreateJob(ctx, id, kind, payload); err != nil {
		return "", fmt.Errorf("create job record: %w", err)
	}

	if err := q.push(ctx, id, kind); err != nil {
		if markErr := q.store.MarkJobFailed(ctx, id, "enqueue: "+err.Error()); markErr != nil {
			q.logger.Error("mark enqueue failure", zap.String("job", id), zap.Error(markErr))
		}
		return "", fmt.Errorf("push job descriptor: %w", err)
	}
	return id, nil
}

func (q *Queue) push(ctx context.Context, id, kind string) error {
	data, err := json.Marshal(descriptor{ID: id, Kind: kind})
	if err != nil {
		return err
	}
	return q.rdb.LPush(ctx, q.cfg.QueueKey(), data).Err()
}

// Depth returns the number of descriptors waiting on the hand-off channel.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	depth, err := q.rdb.LLen(ctx, q.cfg.QueueKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return depth, nil
}

// Start launches the worker pool and the recovery sweep.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if q.started {
		return errors.New("queue: already started")
	}
	q.started = true

	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	for i := 0; i < q.cfg.Queue.Workers; i++ {
		q.wg.Add(1)
		go q.worker(runCtx, i)
	}
	q.wg.Add(1)
	go q.sweeper(runCtx)
	return nil
}

// Stop rejects new enqueues, lets each worker finish its current job, and
// waits for the pool and sweep to exit.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	cancel := q.cancel
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	q.wg.Wait()
}

// RetryFailed returns failed jobs to pending and re-pushes their descriptors.
// With no ids it retries every failed job. It reports how many were requeued.
func (q *Queue) RetryFailed(ctx context.Context, ids ...string) (int, error) {
	var jobs []*store.Job
	if len(ids) == 0 {
		all, err := q.store.ListJobs(ctx, store.StatusFailed)
		if err != nil {
			return 0, err
		}
		jobs = all
	} else {
		for _, id := range ids {
			job, err := q.store.JobByID(ctx, id)
			if err != nil {
				return 0, err
			}
			if job == nil {
				return 0, fmt.Errorf("retry: %w: %s", store.ErrJobNotFound, id)
			}
			if job.Status != store.StatusFailed {
				return 0, fmt.Errorf("retry: job %s is %s, not failed", id, job.Status)
			}
			jobs = append(jobs, job)
		}
	}

	requeued := 0
	for _, job := range jobs {
		if err := q.store.RequeueJob(ctx, job.ID, "retry requested"); err != nil {
			return requeued, err
		}
		if err := q.push(ctx, job.ID, job.Kind); err != nil {
			return requeued, fmt.Errorf("push retry descriptor: %w", err)
		}
		requeued++
	}
	return requeued, nil
}

// withRetry runs fn against transient infrastructure failures with bounded
// backoff. Job-logic failures never come through here; only status-store and
// coordination-store operations do.
func withRetry(ctx context.Context, attempts int, fn func() error) error {
	delay := 100 * time.Millisecond
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return err
		}
		delay *= 2
	}
	return err
}
