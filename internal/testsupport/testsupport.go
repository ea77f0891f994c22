// Package testsupport provides shared fixtures for package tests.
package testsupport

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"parley/internal/config"
	"parley/internal/store"
)

// NewConfig returns a validated config rooted in a temp directory with
// timings shortened for tests. Redis.Addr is empty until a test backend is
// attached via NewRedis.
func NewConfig(t testing.TB) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Queue.Workers = 1
	cfg.Queue.PopTimeoutSeconds = 1
	cfg.Queue.SweepIntervalSeconds = 1
	cfg.Queue.StuckTimeoutSeconds = 2
	cfg.Queue.PendingRequeueSeconds = 1
	cfg.Queue.LockLeaseSeconds = 2
	return &cfg
}

// NewRedis starts a miniredis backend, points cfg at it, and returns a
// connected client. Both are cleaned up with the test.
func NewRedis(t testing.TB, cfg *config.Config) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)

	if cfg != nil {
		cfg.Redis.Addr = mr.Addr()
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client, mr
}

// MustOpenStore opens a store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}
