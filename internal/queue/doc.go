// Package queue moves heavy processing off the request path.
//
// Producers call Enqueue, which persists a pending job in SQLite and pushes a
// lightweight (id, kind) descriptor onto a Redis list, returning immediately.
// Worker goroutines BRPOP descriptors with a bounded timeout, resolve a
// handler from the kind registry, and drive the job's status to completed or
// failed. Delivery is at-least-once: handlers must be idempotent, and a
// periodic sweep requeues jobs stranded by crashed workers or lost
// descriptors. FIFO order holds per queue only; there is no priority.
//
// Transient infrastructure errors back off and retry at the loop level
// without failing the job. Handler errors mark the job failed immediately and
// are not retried automatically.
package queue
