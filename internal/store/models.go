package store

import "time"

// JobStatus represents the lifecycle of a background job.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

var allStatuses = []JobStatus{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
}

var statusSet = func() map[JobStatus]struct{} {
	set := make(map[JobStatus]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// ValidStatus reports whether the provided status is a known job status.
func ValidStatus(status JobStatus) bool {
	_, ok := statusSet[status]
	return ok
}

// Job is a unit of deferred work tracked in the status store. The queue
// carries only the (id, kind) descriptor; payload and lifecycle live here.
type Job struct {
	ID           string
	Kind         string
	Payload      string
	Status       JobStatus
	Attempts     int
	ErrorMessage string
	Result       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Conversation groups messages exchanged with a contact on one channel.
type Conversation struct {
	ID         int64
	TenantID   string
	Channel    string
	ExternalID string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Message directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Message is a single chat message within a conversation.
type Message struct {
	ID             int64
	ConversationID int64
	TenantID       string
	Direction      string
	Body           string
	CreatedAt      time.Time
}

// DocumentChunk is one retrieval unit produced by document ingestion.
type DocumentChunk struct {
	ID         int64
	TenantID   string
	Source     string
	ChunkIndex int
	Content    string
	CreatedAt  time.Time
}

// HealthSummary aggregates job counts for diagnostics.
type HealthSummary struct {
	Total      int
	Pending    int
	Processing int
	Completed  int
	Failed     int
}
