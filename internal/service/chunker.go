package service

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/refshelf/retrieval-core/internal/model"
)

const (
	titleMaxLen         = 300
	summaryMinAbstract  = 50
	minFulltextLen      = 500
	minSectionLen       = 300
	sectionBoundaryMin  = 500
	tokenBudgetSlack    = 10
	paragraphMergeBelow = 50
)

// sectionHeadingPattern matches a findings-style heading anchored at the
// start of a line, with an optional numbering prefix ("3.", "3)", "III.").
var sectionHeadingPattern = regexp.MustCompile(`(?im)^\s*(?:[0-9]+|[IVXLCivxlc]+)?[.)]?\s*(Results|Findings|Evaluation|Experiments|Analysis|Discussion|Implications|Conclusions?|Summary|Limitations|Future Work|Recommendations)\s*$`)

// ChunkerOptions configures ChunkerService.Chunk, mirroring spec §4.1.
type ChunkerOptions struct {
	Mode      string // "abstract" | "full"
	MaxTokens int    // default 2000
	MaxChunks int    // default 8
}

// ChunkerService deterministically segments an item's title/abstract/
// fulltext into a bounded, ordered set of Chunks.
type ChunkerService struct{}

// NewChunkerService creates a ChunkerService. It is stateless; options are
// passed per call.
func NewChunkerService() *ChunkerService {
	return &ChunkerService{}
}

// Chunk implements spec §4.1 rules 1-8.
func (s *ChunkerService) Chunk(title, abstract, fulltext string, opts ChunkerOptions) ([]model.Chunk, error) {
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("service.Chunk: title is empty")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2000
	}
	maxChunks := opts.MaxChunks
	if maxChunks <= 0 {
		maxChunks = 8
	}

	titlePrefix := truncateTitle(title)

	var chunks []model.Chunk
	chunks = append(chunks, summaryChunk(titlePrefix, abstract))

	if opts.Mode != "full" {
		return capChunks(chunks, maxChunks), nil
	}

	if strings.TrimSpace(fulltext) == "" || len(fulltext) < minFulltextLen {
		return capChunks(chunks, maxChunks), nil
	}

	budget := maxTokens - estimateTokens(titlePrefix) - tokenBudgetSlack
	if budget < 1 {
		budget = 1
	}

	methodsText, findingsText, hasBoundary := splitAtSectionBoundary(fulltext)

	var methodsChunks, findingsChunks []model.Chunk
	if hasBoundary {
		if len(methodsText) > minSectionLen {
			methodsChunks = splitSection(methodsText, titlePrefix, model.TextMethods, budget)
		}
		if len(findingsText) > minSectionLen {
			findingsChunks = splitSection(findingsText, titlePrefix, model.TextFindings, budget)
		}
	} else {
		findingsChunks = splitSection(fulltext, titlePrefix, model.TextContent, budget)
	}

	chunks = append(chunks, methodsChunks...)
	chunks = append(chunks, findingsChunks...)

	return capChunks(chunks, maxChunks), nil
}

// truncateTitle implements rule 1.
func truncateTitle(title string) string {
	if len(title) > titleMaxLen {
		return title[:titleMaxLen] + "..."
	}
	return title
}

// summaryChunk implements rule 2.
func summaryChunk(titlePrefix, abstract string) model.Chunk {
	text := titlePrefix
	if len(abstract) > summaryMinAbstract {
		text = titlePrefix + "\n\n" + abstract
	}
	return model.Chunk{
		Index:           0,
		Type:            model.TextSummary,
		Text:            text,
		EstimatedTokens: estimateTokens(text),
	}
}

// splitAtSectionBoundary implements rule 5: finds the first findings-style
// heading at offset >= sectionBoundaryMin. Returns the text before it
// ("methods"), the text from it onward ("findings"), and whether a boundary
// was found at all.
func splitAtSectionBoundary(fulltext string) (methodsText, findingsText string, found bool) {
	loc := sectionHeadingPattern.FindAllStringIndex(fulltext, -1)
	for _, l := range loc {
		if l[0] >= sectionBoundaryMin {
			return fulltext[:l[0]], fulltext[l[0]:], true
		}
	}
	return "", "", false
}

// splitSection implements rule 7: paragraph-boundary splitting with
// sentence-boundary fallback for oversized paragraphs, each emitted chunk
// prefixed with titlePrefix.
func splitSection(text string, titlePrefix string, sectionType model.TextSource, budget int) []model.Chunk {
	paragraphs := splitParagraphsMerging(text)
	if len(paragraphs) == 0 {
		return nil
	}

	var bodies []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			bodies = append(bodies, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}

	for _, para := range paragraphs {
		paraTokens := estimateTokens(para)

		if paraTokens > budget {
			flush()
			bodies = append(bodies, splitLargeParagraph(para, budget)...)
			continue
		}

		currentTokens := estimateTokens(current.String())
		if currentTokens > 0 && currentTokens+paraTokens > budget {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()

	chunks := make([]model.Chunk, 0, len(bodies))
	for _, body := range bodies {
		if body == "" {
			continue
		}
		text := titlePrefix + "\n\n" + body
		chunks = append(chunks, model.Chunk{
			Type:            sectionType,
			Text:            text,
			EstimatedTokens: estimateTokens(text),
		})
	}
	return chunks
}

// capChunks implements rule 8: global cap, then re-indexes 0..n-1.
func capChunks(chunks []model.Chunk, maxChunks int) []model.Chunk {
	if len(chunks) > maxChunks {
		chunks = chunks[:maxChunks]
	}
	for i := range chunks {
		chunks[i].Index = i
	}
	return chunks
}

// splitParagraphsMerging splits on runs of >= 2 newlines and merges
// paragraphs shorter than paragraphMergeBelow characters forward into the
// next paragraph, per rule 7.
func splitParagraphsMerging(text string) []string {
	raw := regexp.MustCompile(`\n{2,}`).Split(text, -1)
	var trimmed []string
	for _, p := range raw {
		t := strings.TrimSpace(p)
		if t != "" {
			trimmed = append(trimmed, t)
		}
	}

	var merged []string
	var pending string
	for _, p := range trimmed {
		if pending != "" {
			p = pending + "\n\n" + p
			pending = ""
		}
		if len(p) < paragraphMergeBelow {
			pending = p
			continue
		}
		merged = append(merged, p)
	}
	if pending != "" {
		merged = append(merged, pending)
	}
	return merged
}

// splitLargeParagraph splits a paragraph exceeding budget at sentence
// boundaries, falling back to word-count splitting for a single huge
// sentence.
func splitLargeParagraph(para string, budget int) []string {
	sentences := splitSentences(para)
	var chunks []string
	var current strings.Builder

	for _, sent := range sentences {
		sentTokens := estimateTokens(sent)
		if sentTokens > budget {
			if current.Len() > 0 {
				chunks = append(chunks, current.String())
				current.Reset()
			}
			chunks = append(chunks, splitByWords(sent, budget)...)
			continue
		}
		currentTokens := estimateTokens(current.String())

		if currentTokens > 0 && currentTokens+sentTokens > budget {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sent)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}

	if len(chunks) == 0 && len(para) > 0 {
		chunks = splitByWords(para, budget)
	}
	return chunks
}

// splitSentences splits on ".", "!", "?" followed by whitespace.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)
		if (r == '.' || r == '!' || r == '?') && i+1 < len(runes) && (runes[i+1] == ' ' || runes[i+1] == '\n' || runes[i+1] == '\t') {
			sentences = append(sentences, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}
	if current.Len() > 0 {
		sentences = append(sentences, strings.TrimSpace(current.String()))
	}
	return sentences
}

// splitByWords splits text into chunks of approximately budget tokens by
// word count, for the rare single-sentence-exceeds-budget case.
func splitByWords(text string, budget int) []string {
	words := strings.Fields(text)
	wordsPerChunk := int(float64(budget) / 1.3)
	if wordsPerChunk <= 0 {
		wordsPerChunk = 1
	}

	var chunks []string
	for i := 0; i < len(words); i += wordsPerChunk {
		end := i + wordsPerChunk
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[i:end], " "))
	}
	return chunks
}

// estimateTokens implements the spec's token estimation formula:
// tokens = ceil(1.3 * word_count).
func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text))
	return int(math.Ceil(float64(words) * 1.3))
}
