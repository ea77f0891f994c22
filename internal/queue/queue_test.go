package queue_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"parley/internal/queue"
	"parley/internal/store"
	"parley/internal/testsupport"
)

func TestEnqueuePersistsPendingJobAndDescriptor(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	client, mr := testsupport.NewRedis(t, cfg)
	st := testsupport.MustOpenStore(t, cfg)
	q := queue.New(cfg, st, client, nil)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "test_kind", `{"n":1}`)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	job, err := st.JobByID(ctx, id)
	if err != nil {
		t.Fatalf("JobByID: %v", err)
	}
	if job == nil || job.Status != store.StatusPending {
		t.Fatalf("expected pending job record, got %#v", job)
	}

	if entries, _ := mr.List(cfg.QueueKey()); len(entries) != 1 {
		t.Fatalf("expected 1 descriptor on channel, got %d", len(entries))
	}
}

func TestEnqueueSamePayloadTwiceCreatesIndependentJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	client, _ := testsupport.NewRedis(t, cfg)
	st := testsupport.MustOpenStore(t, cfg)
	q := queue.New(cfg, st, client, nil)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, "test_kind", `{"same":true}`)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	second, err := q.Enqueue(ctx, "test_kind", `{"same":true}`)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if first == second {
		t.Fatal("identical payloads must still produce independent job ids")
	}
}

func TestEnqueuePushFailureDoesNotLeaveJobPending(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	client, mr := testsupport.NewRedis(t, cfg)
	st := testsupport.MustOpenStore(t, cfg)
	q := queue.New(cfg, st, client, nil)
	ctx := context.Background()

	mr.Close()

	if _, err := q.Enqueue(ctx, "test_kind", "{}"); err == nil {
		t.Fatal("expected enqueue to fail when the channel push fails")
	}

	jobs, err := st.ListJobs(ctx, store.StatusPending)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("push failure left %d job(s) dangling as pending", len(jobs))
	}

	failed, err := st.ListJobs(ctx, store.StatusFailed)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(failed) != 1 {
		t.Fatalf("expected the job marked failed, got %d failed job(s)", len(failed))
	}
}

func TestWorkerProcessesJobToCompletion(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	client, _ := testsupport.NewRedis(t, cfg)
	st := testsupport.MustOpenStore(t, cfg)
	q := queue.New(cfg, st, client, nil)
	ctx := context.Background()

	var calls atomic.Int32
	q.Register("test_kind", func(ctx context.Context, job *store.Job) (string, error) {
		calls.Add(1)
		return "done", nil
	})

	if err := q.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(q.Stop)

	id, err := q.Enqueue(ctx, "test_kind", "{}")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	job := waitForStatus(t, st, id, store.StatusCompleted)
	if job.Result != "done" {
		t.Fatalf("result = %q, want done", job.Result)
	}
	if calls.Load() != 1 {
		t.Fatalf("handler ran %d times, want 1", calls.Load())
	}
}

func TestHandlerErrorMarksJobFailedWithoutAutoRetry(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	client, _ := testsupport.NewRedis(t, cfg)
	st := testsupport.MustOpenStore(t, cfg)
	q := queue.New(cfg, st, client, nil)
	ctx := context.Background()

	var calls atomic.Int32
	q.Register("test_kind", func(ctx context.Context, job *store.Job) (string, error) {
		calls.Add(1)
		return "", errors.New("payload rejected")
	})

	if err := q.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(q.Stop)

	id, err := q.Enqueue(ctx, "test_kind", "{}")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	job := waitForStatus(t, st, id, store.StatusFailed)
	if job.ErrorMessage != "payload rejected" {
		t.Fatalf("error = %q", job.ErrorMessage)
	}
	if job.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", job.Attempts)
	}

	// Job-logic failures are not retried automatically.
	time.Sleep(1500 * time.Millisecond)
	if calls.Load() != 1 {
		t.Fatalf("handler re-ran a failed job: %d calls", calls.Load())
	}
}

func TestUnknownKindMarksJobFailed(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	client, _ := testsupport.NewRedis(t, cfg)
	st := testsupport.MustOpenStore(t, cfg)
	q := queue.New(cfg, st, client, nil)
	ctx := context.Background()

	if err := q.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(q.Stop)

	id, err := q.Enqueue(ctx, "mystery_kind", "{}")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	job := waitForStatus(t, st, id, store.StatusFailed)
	if job.ErrorMessage == "" {
		t.Fatal("expected an error message naming the unknown kind")
	}
}

func TestEnqueueAfterStopFailsFast(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	client, _ := testsupport.NewRedis(t, cfg)
	st := testsupport.MustOpenStore(t, cfg)
	q := queue.New(cfg, st, client, nil)

	if err := q.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	q.Stop()

	if _, err := q.Enqueue(context.Background(), "test_kind", "{}"); !errors.Is(err, queue.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestSweepRequeuesStuckProcessingJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	client, mr := testsupport.NewRedis(t, cfg)
	st := testsupport.MustOpenStore(t, cfg)
	q := queue.New(cfg, st, client, nil)
	ctx := context.Background()

	// Simulate a worker that crashed after claiming the job.
	job, err := st.CreateJob(ctx, "job-crashed", "test_kind", "{}")
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := st.MarkJobProcessing(ctx, job.ID); err != nil {
		t.Fatalf("MarkJobProcessing: %v", err)
	}
	backdateJob(t, st, job.ID, time.Now().Add(-time.Hour))

	res, err := q.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.Requeued != 1 {
		t.Fatalf("requeued = %d, want 1", res.Requeued)
	}

	got, err := st.JobByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("JobByID: %v", err)
	}
	if got.Status != store.StatusPending {
		t.Fatalf("status = %s, want pending", got.Status)
	}
	if got.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1 for the fresh attempt", got.Attempts)
	}
	if entries, _ := mr.List(cfg.QueueKey()); len(entries) != 1 {
		t.Fatalf("expected descriptor re-pushed, channel has %d", len(entries))
	}
}

func TestSweepRepushesPendingJobWithLostDescriptor(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	client, mr := testsupport.NewRedis(t, cfg)
	st := testsupport.MustOpenStore(t, cfg)
	q := queue.New(cfg, st, client, nil)
	ctx := context.Background()

	// A pending record with no descriptor: the channel was lost in a restart.
	job, err := st.CreateJob(ctx, "job-lost", "test_kind", "{}")
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	backdateJob(t, st, job.ID, time.Now().Add(-time.Hour))

	res, err := q.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.Repushed != 1 {
		t.Fatalf("repushed = %d, want 1", res.Repushed)
	}
	if entries, _ := mr.List(cfg.QueueKey()); len(entries) != 1 {
		t.Fatalf("channel has %d entries, want 1", len(entries))
	}

	// The job was touched, so an immediate second pass must not duplicate it.
	res, err = q.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep (second): %v", err)
	}
	if res.Repushed != 0 {
		t.Fatalf("second sweep repushed %d, want 0", res.Repushed)
	}
	if entries, _ := mr.List(cfg.QueueKey()); len(entries) != 1 {
		t.Fatalf("channel has %d entries after second sweep, want 1", len(entries))
	}
}

func TestJobsAreProcessedInPushOrder(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	client, _ := testsupport.NewRedis(t, cfg)
	st := testsupport.MustOpenStore(t, cfg)
	q := queue.New(cfg, st, client, nil)
	ctx := context.Background()

	processed := make(chan string, 10)
	q.Register("test_kind", func(ctx context.Context, job *store.Job) (string, error) {
		processed <- job.Payload
		return "", nil
	})

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := q.Enqueue(ctx, "test_kind", fmt.Sprintf("%d", i))
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		ids = append(ids, id)
	}

	// Single worker per test config, so dequeue order is observable.
	if err := q.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(q.Stop)

	for i := 0; i < 5; i++ {
		select {
		case payload := <-processed:
			if payload != fmt.Sprintf("%d", i) {
				t.Fatalf("dequeued %q at position %d", payload, i)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for job %d", i)
		}
	}

	for _, id := range ids {
		waitForStatus(t, st, id, store.StatusCompleted)
	}
}

func TestRetryFailedRequeuesAndRepushes(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	client, mr := testsupport.NewRedis(t, cfg)
	st := testsupport.MustOpenStore(t, cfg)
	q := queue.New(cfg, st, client, nil)
	ctx := context.Background()

	job, err := st.CreateJob(ctx, "job-retry", "test_kind", "{}")
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := st.MarkJobProcessing(ctx, job.ID); err != nil {
		t.Fatalf("MarkJobProcessing: %v", err)
	}
	if err := st.MarkJobFailed(ctx, job.ID, "boom"); err != nil {
		t.Fatalf("MarkJobFailed: %v", err)
	}

	requeued, err := q.RetryFailed(ctx)
	if err != nil {
		t.Fatalf("RetryFailed: %v", err)
	}
	if requeued != 1 {
		t.Fatalf("requeued = %d, want 1", requeued)
	}
	if entries, _ := mr.List(cfg.QueueKey()); len(entries) != 1 {
		t.Fatalf("channel has %d entries, want 1", len(entries))
	}

	got, err := st.JobByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("JobByID: %v", err)
	}
	if got.Status != store.StatusPending {
		t.Fatalf("status = %s, want pending", got.Status)
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
	job, _ := st.JobByID(context.Background(), id)
	t.Fatalf("job %s never reached %s (currently %#v)", id, want, job)
	return nil
}

func backdateJob(t *testing.T, st *store.Store, id string, to time.Time) {
	t.Helper()
	_, err := st.Submit(context.Background(),
		`UPDATE jobs SET updated_at = ? WHERE id = ?`,
		to.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		t.Fatalf("backdate job: %v", err)
	}
}
