// Package channelsync replays batches of channel messages into the message
// store. A per-conversation distributed lock keeps two workers (or two
// processes) from interleaving writes for the same conversation.
package channelsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"parley/internal/config"
	"parley/internal/lock"
	"parley/internal/store"
)

// JobKind is the queue kind handled by this package.
const JobKind = "sync_conversation"

// IncomingMessage is one message within a sync payload.
type IncomingMessage struct {
	Direction string `json:"direction"`
	Body      string `json:"body"`
}

// Payload is the job payload for conversation sync.
type Payload struct {
	TenantID   string            `json:"tenant_id"`
	Channel    string            `json:"channel"`
	ExternalID string            `json:"external_id"`
	Messages   []IncomingMessage `json:"messages"`
}

// Syncer writes channel message batches through the serialized writer while
// holding the conversation lock.
type Syncer struct {
	store  *store.Store
	locker *lock.Locker
	lease  time.Duration
	logger *zap.Logger
}

// NewSyncer constructs the conversation sync handler.
func NewSyncer(cfg *config.Config, st *store.Store, locker *lock.Locker, logger *zap.Logger) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{
		store:  st,
		locker: locker,
		lease:  time.Duration(cfg.Queue.LockLeaseSeconds) * time.Second,
		logger: logger,
	}
}

// LockKey names the mutual-exclusion key for one conversation.
func LockKey(tenantID, channel, externalID string) string {
	return fmt.Sprintf("conversation:%s:%s:%s", tenantID, channel, externalID)
}

// Handle syncs one batch. When the conversation is locked by another holder
// the job fails with a contention message; retrying it is the caller's call.
func (s *Syncer) Handle(ctx context.Context, job *store.Job) (string, error) {
	var payload Payload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return "", fmt.Errorf("decode sync payload: %w", err)
	}
	if payload.TenantID == "" || payload.Channel == "" || payload.ExternalID == "" {
		return "", errors.New("sync payload requires tenant_id, channel, and external_id")
	}
	if len(payload.Messages) == 0 {
		return "", errors.New("sync payload has no messages")
	}

	var recorded int
	key := LockKey(payload.TenantID, payload.Channel, payload.ExternalID)
	err := s.locker.With(ctx, key, s.lease, func(ctx context.Context) error {
		conv, err := s.store.EnsureConversation(ctx, payload.TenantID, payload.Channel, payload.ExternalID)
		if err != nil {
			return err
		}
		for _, incoming := range payload.Messages {
			_, err := s.store.RecordMessage(ctx, &store.Message{
				ConversationID: conv.ID,
				TenantID:       payload.TenantID,
				Direction:      incoming.Direction,
				Body:           incoming.Body,
			})
			if err != nil {
				return err
			}
			recorded++
		}
		return nil
	})
	if errors.Is(err, lock.ErrNotAcquired) {
		return "", fmt.Errorf("conversation %s is being synced by another worker", payload.ExternalID)
	}
	if err != nil {
		return "", err
	}

	s.logger.Debug("conversation synced",
		zap.String("tenant", payload.TenantID),
		zap.String("conversation", payload.ExternalID),
		zap.Int("messages", recorded))
	return fmt.Sprintf("messages=%d", recorded), nil
}
