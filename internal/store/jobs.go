package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrJobNotFound is returned when a job id has no record.
var ErrJobNotFound = errors.New("job not found")

// CreateJob inserts a new pending job record.
func (s *Store) CreateJob(ctx context.Context, id, kind, payload string) (*Job, error) {
	now := timestamp(time.Now())
	_, err := s.Submit(
		ctx,
		`INSERT INTO jobs (id, kind, payload, status, attempts, created_at, updated_at)
         VALUES (?, ?, ?, ?, 0, ?, ?)`,
		id, kind, payload, StatusPending, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return s.JobByID(ctx, id)
}

// JobByID fetches a job by identifier.
func (s *Store) JobByID(ctx context.Context, id string) (*Job, error) {
	row := s.read.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// MarkJobProcessing transitions a pending job to processing. The status guard
// in the statement keeps the transition monotonic even if a stale descriptor
// is delivered twice.
func (s *Store) MarkJobProcessing(ctx context.Context, id string) error {
	_, err := s.Submit(
		ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		StatusProcessing, timestamp(time.Now()), id, StatusPending,
	)
	if err != nil {
		return fmt.Errorf("mark job processing: %w", err)
	}
	return nil
}

// MarkJobCompleted transitions a processing job to completed with optional
// result metadata.
func (s *Store) MarkJobCompleted(ctx context.Context, id, result string) error {
	_, err := s.Submit(
		ctx,
		`UPDATE jobs SET status = ?, result = ?, error_message = NULL, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusCompleted, nullableString(result), timestamp(time.Now()), id, StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("mark job completed: %w", err)
	}
	return nil
}

// MarkJobFailed records a handler failure and increments the attempt count.
func (s *Store) MarkJobFailed(ctx context.Context, id, errorMessage string) error {
	_, err := s.Submit(
		ctx,
		`UPDATE jobs SET status = ?, error_message = ?, attempts = attempts + 1, updated_at = ?
         WHERE id = ? AND status IN (?, ?)`,
		StatusFailed, nullableString(errorMessage), timestamp(time.Now()),
		id, StatusPending, StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	return nil
}

// RequeueJob returns a stuck or failed job to pending as a fresh attempt.
// The previous attempt's outcome is preserved in error_message.
func (s *Store) RequeueJob(ctx context.Context, id, note string) error {
	_, err := s.Submit(
		ctx,
		`UPDATE jobs SET status = ?, error_message = ?, attempts = attempts + 1, updated_at = ?
         WHERE id = ? AND status IN (?, ?)`,
		StatusPending, nullableString(note), timestamp(time.Now()),
		id, StatusProcessing, StatusFailed,
	)
	if err != nil {
		return fmt.Errorf("requeue job: %w", err)
	}
	return nil
}

// TouchJob bumps updated_at for a job still in the given status. The sweep
// uses it so a re-pushed pending job is not re-pushed again on the next pass.
func (s *Store) TouchJob(ctx context.Context, id string, status JobStatus) error {
	_, err := s.Submit(
		ctx,
		`UPDATE jobs SET updated_at = ? WHERE id = ? AND status = ?`,
		timestamp(time.Now()), id, status,
	)
	if err != nil {
		return fmt.Errorf("touch job: %w", err)
	}
	return nil
}

// FindStuck returns jobs sitting in the given status since before the cutoff,
// oldest first. The recovery sweep uses it to spot crashed workers and lost
// descriptors.
func (s *Store) FindStuck(ctx context.Context, status JobStatus, olderThan time.Time) ([]*Job, error) {
	rows, err := s.read.QueryContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = ? AND updated_at < ? ORDER BY updated_at`,
		status, timestamp(olderThan),
	)
	if err != nil {
		return nil, fmt.Errorf("query stuck jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ListJobs returns jobs filtered by status set (or all jobs when no status is
// provided), oldest first.
func (s *Store) ListJobs(ctx context.Context, statuses ...JobStatus) ([]*Job, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + jobColumns + ` FROM jobs`
	orderClause := ` ORDER BY created_at`

	if len(statuses) == 0 {
		rows, err = s.read.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.read.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// JobStats returns a count of jobs grouped by status.
func (s *Store) JobStats(ctx context.Context) (map[JobStatus]int, error) {
	rows, err := s.read.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[JobStatus]int)
	for rows.Next() {
		var status JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates job state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.JobStats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusPending:
			health.Pending += count
		case StatusProcessing:
			health.Processing += count
		case StatusCompleted:
			health.Completed += count
		case StatusFailed:
			health.Failed += count
		}
	}
	return health, nil
}

// ClearJobs removes jobs in terminal states. With no statuses it clears both
// completed and failed jobs.
func (s *Store) ClearJobs(ctx context.Context, statuses ...JobStatus) (int64, error) {
	if len(statuses) == 0 {
		statuses = []JobStatus{StatusCompleted, StatusFailed}
	}
	for _, status := range statuses {
		if status != StatusCompleted && status != StatusFailed {
			return 0, fmt.Errorf("cannot clear jobs in status %q", status)
		}
	}
	placeholders := makePlaceholders(len(statuses))
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = status
	}
	before, err := s.countJobs(ctx, statuses)
	if err != nil {
		return 0, err
	}
	_, err = s.Submit(ctx, `DELETE FROM jobs WHERE status IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("clear jobs: %w", err)
	}
	return before, nil
}

func (s *Store) countJobs(ctx context.Context, statuses []JobStatus) (int64, error) {
	placeholders := makePlaceholders(len(statuses))
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = status
	}
	var count int64
	row := s.read.QueryRowContext(ctx, `SELECT COUNT(1) FROM jobs WHERE status IN (`+placeholders+`)`, args...)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return count, nil
}

const jobColumns = "id, kind, payload, status, attempts, error_message, result, created_at, updated_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id         string
		kind       string
		payload    string
		statusStr  string
		attempts   int
		errorMsg   sql.NullString
		result     sql.NullString
		createdRaw string
		updatedRaw string
	)

	if err := scanner.Scan(&id, &kind, &payload, &statusStr, &attempts, &errorMsg, &result, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}

	job := &Job{
		ID:           id,
		Kind:         kind,
		Payload:      payload,
		Status:       JobStatus(statusStr),
		Attempts:     attempts,
		ErrorMessage: errorMsg.String,
		Result:       result.String,
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	return job, nil
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
