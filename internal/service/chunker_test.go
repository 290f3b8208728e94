package service

import (
	"strings"
	"testing"

	"github.com/refshelf/retrieval-core/internal/model"
)

func TestChunker_AbstractModeSinglePaper(t *testing.T) {
	svc := NewChunkerService()

	title := "Attention Is All You Need"
	abstract := strings.Repeat("x", 820)

	chunks, err := svc.Chunk(title, abstract, "", ChunkerOptions{Mode: "abstract"})
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}

	if len(chunks) != 1 {
		t.Fatalf("expected exactly 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Type != model.TextSummary {
		t.Errorf("chunks[0].Type = %q, want summary", chunks[0].Type)
	}
	want := title + "\n\n" + abstract
	if chunks[0].Text != want {
		t.Errorf("chunks[0].Text = %q, want %q", chunks[0].Text, want)
	}
}

func TestChunker_FullModeWithSections(t *testing.T) {
	svc := NewChunkerService()

	title := "A Study"
	abstract := strings.Repeat("a", 400)
	methods := strings.Repeat("Methods text here. ", 200)  // ~3800 chars
	results := strings.Repeat("Results text here. ", 200)  // ~3800 chars
	fulltext := methods + "\n\nResults\n" + results

	chunks, err := svc.Chunk(title, abstract, fulltext, ChunkerOptions{
		Mode:      "full",
		MaxTokens: 2000,
		MaxChunks: 8,
	})
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}

	if chunks[0].Type != model.TextSummary {
		t.Fatalf("chunks[0].Type = %q, want summary", chunks[0].Type)
	}

	var hasMethods, hasFindings, hasContent bool
	for _, c := range chunks[1:] {
		switch c.Type {
		case model.TextMethods:
			hasMethods = true
		case model.TextFindings:
			hasFindings = true
		case model.TextContent:
			hasContent = true
		}
	}
	if !hasMethods {
		t.Error("expected at least one methods chunk")
	}
	if !hasFindings {
		t.Error("expected at least one findings chunk")
	}
	if hasContent {
		t.Error("expected no content chunk when a section boundary is found")
	}
	if len(chunks) > 8 {
		t.Errorf("len(chunks) = %d, want <= 8", len(chunks))
	}
}

func TestChunker_FullModeNoBoundary(t *testing.T) {
	svc := NewChunkerService()

	title := "A Study"
	abstract := strings.Repeat("a", 400)
	fulltext := strings.Repeat("No heading anywhere in this text. ", 400)

	chunks, err := svc.Chunk(title, abstract, fulltext, ChunkerOptions{
		Mode:      "full",
		MaxTokens: 2000,
		MaxChunks: 8,
	})
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}

	if chunks[0].Type != model.TextSummary {
		t.Fatalf("chunks[0].Type = %q, want summary", chunks[0].Type)
	}

	var hasContent, hasMethods, hasFindings bool
	for _, c := range chunks[1:] {
		switch c.Type {
		case model.TextContent:
			hasContent = true
		case model.TextMethods:
			hasMethods = true
		case model.TextFindings:
			hasFindings = true
		}
	}
	if !hasContent {
		t.Error("expected at least one content chunk")
	}
	if hasMethods || hasFindings {
		t.Error("expected no methods/findings chunks without a boundary")
	}
}

func TestChunker_TitleTruncation(t *testing.T) {
	svc := NewChunkerService()
	longTitle := strings.Repeat("t", 350)

	chunks, err := svc.Chunk(longTitle, "", "", ChunkerOptions{Mode: "abstract"})
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}
	if !strings.HasSuffix(chunks[0].Text, "...") {
		t.Error("expected truncated title to end with ...")
	}
	if len(chunks[0].Text) != titleMaxLen+3 {
		t.Errorf("truncated title length = %d, want %d", len(chunks[0].Text), titleMaxLen+3)
	}
}

func TestChunker_ShortAbstractOmitted(t *testing.T) {
	svc := NewChunkerService()
	title := "Short Paper"
	abstract := "too short"

	chunks, err := svc.Chunk(title, abstract, "", ChunkerOptions{Mode: "abstract"})
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}
	if chunks[0].Text != title {
		t.Errorf("chunks[0].Text = %q, want just the title", chunks[0].Text)
	}
}

func TestChunker_ShortFulltextStopsAtSummary(t *testing.T) {
	svc := NewChunkerService()
	chunks, err := svc.Chunk("Title", "abstract long enough to pass the fifty char threshold!!", "too short", ChunkerOptions{Mode: "full"})
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected exactly 1 chunk for short fulltext, got %d", len(chunks))
	}
}

func TestChunker_Determinism(t *testing.T) {
	svc := NewChunkerService()
	title := "A Study"
	abstract := strings.Repeat("a", 400)
	fulltext := strings.Repeat("Methods text here. ", 200) + "\n\nResults\n" + strings.Repeat("Results text here. ", 200)
	opts := ChunkerOptions{Mode: "full", MaxTokens: 2000, MaxChunks: 8}

	a, err := svc.Chunk(title, abstract, fulltext, opts)
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}
	b, err := svc.Chunk(title, abstract, fulltext, opts)
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}
	if len(a) != len(b) {
		t.Fatalf("non-deterministic chunk count: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Text != b[i].Text || a[i].Type != b[i].Type {
			t.Fatalf("non-deterministic chunk %d", i)
		}
	}
}

func TestChunker_TokenBound(t *testing.T) {
	svc := NewChunkerService()
	title := "A Study"
	fulltext := strings.Repeat("word ", 5000)
	opts := ChunkerOptions{Mode: "full", MaxTokens: 500, MaxChunks: 20}

	chunks, err := svc.Chunk(title, "abstract long enough to pass the fifty char threshold!!", fulltext, opts)
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}
	for i, c := range chunks[1:] {
		if c.EstimatedTokens > opts.MaxTokens {
			t.Errorf("chunks[%d].EstimatedTokens = %d, want <= %d", i+1, c.EstimatedTokens, opts.MaxTokens)
		}
	}
}

func TestChunker_ChunkCap(t *testing.T) {
	svc := NewChunkerService()
	title := "A Study"
	fulltext := strings.Repeat("word ", 20000)
	opts := ChunkerOptions{Mode: "full", MaxTokens: 100, MaxChunks: 5}

	chunks, err := svc.Chunk(title, "abstract long enough to pass the fifty char threshold!!", fulltext, opts)
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}
	if len(chunks) > opts.MaxChunks {
		t.Errorf("len(chunks) = %d, want <= %d", len(chunks), opts.MaxChunks)
	}
}

func TestChunker_SummaryInvariant(t *testing.T) {
	svc := NewChunkerService()
	chunks, err := svc.Chunk("My Title", "", "", ChunkerOptions{Mode: "abstract"})
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}
	if chunks[0].Index != 0 {
		t.Errorf("chunks[0].Index = %d, want 0", chunks[0].Index)
	}
	if chunks[0].Type != model.TextSummary {
		t.Errorf("chunks[0].Type = %q, want summary", chunks[0].Type)
	}
	if !strings.HasPrefix(chunks[0].Text, "My Title") {
		t.Errorf("chunks[0].Text does not begin with title: %q", chunks[0].Text)
	}
}

func TestChunker_EmptyTitleErrors(t *testing.T) {
	svc := NewChunkerService()
	if _, err := svc.Chunk("", "abstract", "", ChunkerOptions{Mode: "abstract"}); err == nil {
		t.Fatal("expected error for empty title")
	}
}
