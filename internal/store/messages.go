package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// EnsureConversation returns the conversation for (tenant, channel, external id),
// creating it through the writer when absent.
func (s *Store) EnsureConversation(ctx context.Context, tenantID, channel, externalID string) (*Conversation, error) {
	existing, err := s.ConversationByExternalID(ctx, tenantID, channel, externalID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := timestamp(time.Now())
	_, err = s.Submit(
		ctx,
		`INSERT INTO conversations (tenant_id, channel, external_id, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT (tenant_id, channel, external_id) DO NOTHING`,
		tenantID, channel, externalID, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	return s.ConversationByExternalID(ctx, tenantID, channel, externalID)
}

// ConversationByExternalID looks up a conversation by its channel identity.
func (s *Store) ConversationByExternalID(ctx context.Context, tenantID, channel, externalID string) (*Conversation, error) {
	row := s.read.QueryRowContext(
		ctx,
		`SELECT id, tenant_id, channel, external_id, created_at, updated_at
         FROM conversations WHERE tenant_id = ? AND channel = ? AND external_id = ?`,
		tenantID, channel, externalID,
	)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

// RecordMessage appends a message to a conversation and returns its id.
func (s *Store) RecordMessage(ctx context.Context, msg *Message) (int64, error) {
	if msg == nil {
		return 0, errors.New("message is nil")
	}
	if msg.Direction != DirectionInbound && msg.Direction != DirectionOutbound {
		return 0, fmt.Errorf("unknown message direction %q", msg.Direction)
	}
	id, err := s.Submit(
		ctx,
		`INSERT INTO messages (conversation_id, tenant_id, direction, body, created_at)
         VALUES (?, ?, ?, ?, ?)`,
		msg.ConversationID, msg.TenantID, msg.Direction, msg.Body, timestamp(time.Now()),
	)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	return id, nil
}

// MessagesForConversation returns messages in insertion order.
func (s *Store) MessagesForConversation(ctx context.Context, conversationID int64) ([]*Message, error) {
	rows, err := s.read.QueryContext(
		ctx,
		`SELECT id, conversation_id, tenant_id, direction, body, created_at
         FROM messages WHERE conversation_id = ? ORDER BY id`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// InsertDocumentChunk persists one retrieval chunk. Re-ingesting the same
// source replaces chunks at the same index, keeping ingestion idempotent.
func (s *Store) InsertDocumentChunk(ctx context.Context, chunk *DocumentChunk) (int64, error) {
	if chunk == nil {
		return 0, errors.New("chunk is nil")
	}
	id, err := s.Submit(
		ctx,
		`INSERT INTO document_chunks (tenant_id, source, chunk_index, content, created_at)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT (tenant_id, source, chunk_index) DO UPDATE SET content = excluded.content`,
		chunk.TenantID, chunk.Source, chunk.ChunkIndex, chunk.Content, timestamp(time.Now()),
	)
	if err != nil {
		return 0, fmt.Errorf("insert document chunk: %w", err)
	}
	return id, nil
}

// DocumentChunks returns the chunks for a source in index order.
func (s *Store) DocumentChunks(ctx context.Context, tenantID, source string) ([]*DocumentChunk, error) {
	rows, err := s.read.QueryContext(
		ctx,
		`SELECT id, tenant_id, source, chunk_index, content, created_at
         FROM document_chunks WHERE tenant_id = ? AND source = ? ORDER BY chunk_index`,
		tenantID, source,
	)
	if err != nil {
		return nil, fmt.Errorf("query document chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*DocumentChunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

func scanConversation(scanner interface{ Scan(dest ...any) error }) (*Conversation, error) {
	var (
		conv       Conversation
		createdRaw string
		updatedRaw string
	)
	if err := scanner.Scan(&conv.ID, &conv.TenantID, &conv.Channel, &conv.ExternalID, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		conv.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		conv.UpdatedAt = updated
	}
	return &conv, nil
}

func scanMessage(scanner interface{ Scan(dest ...any) error }) (*Message, error) {
	var (
		msg        Message
		createdRaw string
	)
	if err := scanner.Scan(&msg.ID, &msg.ConversationID, &msg.TenantID, &msg.Direction, &msg.Body, &createdRaw); err != nil {
		return nil, err
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		msg.CreatedAt = created
	}
	return &msg, nil
}

func scanChunk(scanner interface{ Scan(dest ...any) error }) (*DocumentChunk, error) {
	var (
		chunk      DocumentChunk
		createdRaw string
	)
	if err := scanner.Scan(&chunk.ID, &chunk.TenantID, &chunk.Source, &chunk.ChunkIndex, &chunk.Content, &createdRaw); err != nil {
		return nil, err
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		chunk.CreatedAt = created
	}
	return &chunk, nil
}
