package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"parley/internal/store"
)

// JobKind is the queue kind handled by this package.
const JobKind = "ingest_document"

// maxChunkRunes bounds the size of a retrieval chunk. Splitting prefers
// paragraph boundaries and falls back to a hard cut for oversized paragraphs.
const maxChunkRunes = 800

// Payload is the job payload for document ingestion.
type Payload struct {
	TenantID string `json:"tenant_id"`
	Source   string `json:"source"`
	Content  string `json:"content"`
}

// Ingestor splits documents into retrieval chunks and persists them through
// the serialized writer. Re-running the same document replaces its chunks, so
// the handler is safe under at-least-once delivery.
type Ingestor struct {
	store  *store.Store
	logger *zap.Logger
}

// NewIngestor constructs the document ingestion handler.
func NewIngestor(st *store.Store, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{store: st, logger: logger}
}

// Handle chunks the document and writes each chunk. It returns the chunk
// count as result metadata.
func (i *Ingestor) Handle(ctx context.Context, job *store.Job) (string, error) {
	var payload Payload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return "", fmt.Errorf("decode ingest payload: %w", err)
	}
	if payload.TenantID == "" || payload.Source == "" {
		return "", errors.New("ingest payload requires tenant_id and source")
	}

	chunks := Split(payload.Content)
	if len(chunks) == 0 {
		return "", errors.New("document has no content")
	}

	for idx, content := range chunks {
		_, err := i.store.InsertDocumentChunk(ctx, &store.DocumentChunk{
			TenantID:   payload.TenantID,
			Source:     payload.Source,
			ChunkIndex: idx,
			Content:    content,
		})
		if err != nil {
			return "", fmt.Errorf("persist chunk %d: %w", idx, err)
		}
	}

	i.logger.Debug("document ingested",
		zap.String("tenant", payload.TenantID),
		zap.String("source", payload.Source),
		zap.Int("chunks", len(chunks)))
	return fmt.Sprintf("chunks=%d", len(chunks)), nil
}

// Split breaks document text into chunks bounded by maxChunkRunes, preferring
// blank-line paragraph boundaries.
func Split(content string) []string {
	var chunks []string
	var current strings.Builder

	flush := func() {
		if text := strings.TrimSpace(current.String()); text != "" {
			chunks = append(chunks, text)
		}
		current.Reset()
	}

	for _, paragraph := range strings.Split(content, "\n\n") {
		paragraph = strings.TrimSpace(paragraph)
		if paragraph == "" {
			continue
		}
		for len([]rune(paragraph)) > maxChunkRunes {
			flush()
			runes := []rune(paragraph)
			chunks = append(chunks, strings.TrimSpace(string(runes[:maxChunkRunes])))
			paragraph = strings.TrimSpace(string(runes[maxChunkRunes:]))
		}
		if current.Len() > 0 && len([]rune(current.String()))+len([]rune(paragraph))+2 > maxChunkRunes {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(paragraph)
	}
	flush()
	return chunks
}
