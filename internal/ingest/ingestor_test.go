package ingest_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"parley/internal/ingest"
	"parley/internal/store"
	"parley/internal/testsupport"
)

func TestSplitPrefersParagraphBoundaries(t *testing.T) {
	content := "First paragraph.\n\nSecond paragraph.\n\nThird paragraph."
	chunks := ingest.Split(content)
	if len(chunks) != 1 {
		t.Fatalf("short paragraphs should pack into one chunk, got %d", len(chunks))
	}
	if !strings.Contains(chunks[0], "Second paragraph.") {
		t.Fatalf("chunk lost content: %q", chunks[0])
	}
}

func TestSplitBoundsChunkSize(t *testing.T) {
	long := strings.Repeat("word ", 600)
	chunks := ingest.Split(long)
	if len(chunks) < 2 {
		t.Fatalf("oversized paragraph should split, got %d chunk(s)", len(chunks))
	}
	for i, chunk := range chunks {
		if n := len([]rune(chunk)); n > 800 {
			t.Fatalf("chunk %d has %d runes", i, n)
		}
	}
}

func TestSplitDropsEmptyInput(t *testing.T) {
	if chunks := ingest.Split("  \n\n   \n\n"); len(chunks) != 0 {
		t.Fatalf("expected no chunks for blank input, got %d", len(chunks))
	}
}

func TestHandlePersistsChunks(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ingestor := ingest.NewIngestor(st, nil)
	ctx := context.Background()

	payload, _ := json.Marshal(ingest.Payload{
		TenantID: "acme",
		Source:   "handbook.md",
		Content:  "Refunds take 5 days.\n\nShipping is free over $50.",
	})
	job := &store.Job{ID: "job-ingest", Kind: ingest.JobKind, Payload: string(payload)}

	result, err := ingestor.Handle(ctx, job)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if result != "chunks=1" {
		t.Fatalf("result = %q", result)
	}

	chunks, err := st.DocumentChunks(ctx, "acme", "handbook.md")
	if err != nil {
		t.Fatalf("DocumentChunks: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}

	// Re-running the same job must not duplicate chunks.
	if _, err := ingestor.Handle(ctx, job); err != nil {
		t.Fatalf("Handle (repeat): %v", err)
	}
	chunks, err = st.DocumentChunks(ctx, "acme", "handbook.md")
	if err != nil {
		t.Fatalf("DocumentChunks: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("re-ingest duplicated chunks: %d", len(chunks))
	}
}

func TestHandleRejectsBadPayload(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ingestor := ingest.NewIngestor(st, nil)
	ctx := context.Background()

	for name, payload := range map[string]string{
		"malformed json": "{not json",
		"missing fields": `{"content":"text"}`,
		"empty document": `{"tenant_id":"acme","source":"empty.md","content":""}`,
	} {
		job := &store.Job{ID: "job-bad", Kind: ingest.JobKind, Payload: payload}
		if _, err := ingestor.Handle(ctx, job); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
