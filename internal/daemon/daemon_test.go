package daemon_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"parley/internal/daemon"
	"parley/internal/queue"
	"parley/internal/store"
	"parley/internal/testsupport"
)

func TestDaemonProcessesJobsEndToEnd(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	client, _ := testsupport.NewRedis(t, cfg)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	q := queue.New(cfg, st, client, zap.NewNop())
	q.Register("test_kind", func(ctx context.Context, job *store.Job) (string, error) {
		return "ok", nil
	})

	d, err := daemon.New(cfg, st, q, client, zap.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	id, err := q.Enqueue(ctx, "test_kind", "{}")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitForStatus(t, st, id, store.StatusCompleted)

	status, err := d.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Running {
		t.Fatal("daemon should report running")
	}
	if status.Health.Completed != 1 {
		t.Fatalf("health = %+v, want 1 completed", status.Health)
	}

	d.Stop()

	if _, err := q.Enqueue(ctx, "test_kind", "{}"); !errors.Is(err, queue.ErrClosed) {
		t.Fatalf("enqueue after stop: got %v, want ErrClosed", err)
	}
}

func TestDaemonStartupSweepRecoversCrashedJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	client, _ := testsupport.NewRedis(t, cfg)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	// A previous run crashed after claiming this job; no descriptor survives.
	job, err := st.CreateJob(ctx, "job-crashed", "test_kind", "{}")
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := st.MarkJobProcessing(ctx, job.ID); err != nil {
		t.Fatalf("MarkJobProcessing: %v", err)
	}
	if _, err := st.Submit(ctx, `UPDATE jobs SET updated_at = ? WHERE id = ?`,
		time.Now().Add(-time.Hour).UTC().Format(time.RFC3339Nano), job.ID); err != nil {
		t.Fatalf("backdate job: %v", err)
	}

	q := queue.New(cfg, st, client, zap.NewNop())
	q.Register("test_kind", func(ctx context.Context, job *store.Job) (string, error) {
		return "recovered", nil
	})

	d, err := daemon.New(cfg, st, q, client, zap.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	recovered := waitForStatus(t, st, job.ID, store.StatusCompleted)
	if recovered.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1 for the recovered attempt", recovered.Attempts)
	}
}

func TestDaemonRejectsSecondInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	client, _ := testsupport.NewRedis(t, cfg)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	q := queue.New(cfg, st, client, zap.NewNop())
	first, err := daemon.New(cfg, st, q, client, zap.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := first.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer first.Stop()

	otherStore := testsupport.MustOpenStore(t, cfg)
	otherClient, _ := testsupport.NewRedis(t, cfg)
	otherQueue := queue.New(cfg, otherStore, otherClient, zap.NewNop())
	second, err := daemon.New(cfg, otherStore, otherQueue, otherClient, zap.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := second.Start(ctx); err == nil {
		second.Stop()
		t.Fatal("second instance should fail to start while the lock is held")
	}
}

func waitForStatus(t *testing.T, st *store.Store, id string, want store.JobStatus) *store.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := st.JobByID(context.Background(), id)
		if err != nil {
			t.Fatalf("JobByID: %v", err)
		}
		if job != nil && job.Status == want {
			return job
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %s", id, want)
	return nil
}
