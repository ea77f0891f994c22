// Package store persists conversations, messages, document chunks, and
// background jobs in SQLite and exposes helpers for driving the job lifecycle.
//
// The Store owns two handles: a single-connection write handle wrapped by the
// serialized writer, and a concurrent read handle. Every mutation goes through
// Submit; reads never do. Job status transitions are guarded in SQL so a job
// only moves forward (pending -> processing -> completed/failed); failed or
// stuck jobs re-enter the queue via RequeueJob as a fresh pending attempt.
//
// The database is treated as the source of truth for job existence; the Redis
// hand-off channel may be lossy and is reconciled by the recovery sweep.
package store
