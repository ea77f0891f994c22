// Package daemon composes the serialized writer, job queue, and coordination
// store into the long-running parleyd process and enforces single-instance
// execution.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"parley/internal/config"
	"parley/internal/queue"
	"parley/internal/redisconn"
	"parley/internal/store"
)

// Daemon owns the background processing services.
type Daemon struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
	queue  *queue.Queue
	rdb    *redis.Client

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
}

// Status represents daemon runtime information.
type Status struct {
	Running    bool
	Health     store.HealthSummary
	QueueDepth int64
	DBPath     string
	LockPath   string
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, st *store.Store, q *queue.Queue, rdb *redis.Client, logger *zap.Logger) (*Daemon, error) {
	if cfg == nil || st == nil || q == nil || rdb == nil || logger == nil {
		return nil, errors.New("daemon requires config, store, queue, redis client, and logger")
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "parleyd.lock")
	return &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		queue:    q,
		rdb:      rdb,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the instance lock, reconciles jobs left over from a previous
// run, and launches the worker pool.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	locked, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another parleyd instance holds %s", d.lockPath)
	}

	if err := redisconn.Ping(ctx, d.rdb); err != nil {
		_ = d.lock.Unlock()
		return err
	}

	// A previous crash may have left jobs in processing with no worker, or
	// pending jobs whose descriptors died with the Redis instance.
	res, err := d.queue.Sweep(ctx)
	if err != nil {
		d.logger.Warn("startup sweep", zap.Error(err))
	} else if res.Requeued > 0 || res.Repushed > 0 {
		d.logger.Info("startup sweep",
			zap.Int("requeued", res.Requeued),
			zap.Int("repushed", res.Repushed))
	}

	if err := d.queue.Start(ctx); err != nil {
		_ = d.lock.Unlock()
		return err
	}

	d.running.Store(true)
	d.logger.Info("parley daemon started",
		zap.String("db", d.store.Path()),
		zap.String("lock", d.lockPath),
		zap.Int("workers", d.cfg.Queue.Workers))
	return nil
}

// Stop drains in the required order: stop intake and workers first, then the
// serialized writer, then release connections and the instance lock.
func (d *Daemon) Stop() {
	if !d.running.Swap(false) {
		return
	}

	d.queue.Stop()
	if err := d.store.Close(); err != nil {
		d.logger.Warn("close store", zap.Error(err))
	}
	if err := d.rdb.Close(); err != nil {
		d.logger.Warn("close redis client", zap.Error(err))
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("release instance lock", zap.Error(err))
	}
	d.logger.Info("parley daemon stopped")
}

// Status reports queue health and depth.
func (d *Daemon) Status(ctx context.Context) (Status, error) {
	status := Status{
		Running:  d.running.Load(),
		DBPath:   d.store.Path(),
		LockPath: d.lockPath,
	}

	health, err := d.store.Health(ctx)
	if err != nil {
		return status, err
	}
	status.Health = health

	depth, err := d.queue.Depth(ctx)
	if err != nil {
		return status, err
	}
	status.QueueDepth = depth
	return status, nil
}
