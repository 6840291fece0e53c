package knowledge

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const (
	// topK is the number of snippets retrieved per query.
	topK = 2
	// similarityFloor is the minimum similarity score for a snippet to count.
	similarityFloor = 0.70
	// snippetSeparator joins formatted snippets in the returned context.
	snippetSeparator = "\n---\n"
)

// FallbackMitigation is returned when no snippet clears the similarity floor.
const FallbackMitigation = "No specific playbook found in the knowledge base. Recommended action: Manual investigation and host isolation."

// Snippet is one knowledge-base match retained for the prompt.
type Snippet struct {
	Technique string
	MitreID   string
	Insight   string
	Score     float64
}

// QueryBuilder derives the knowledge-base probe text for a processing run.
// The probe is currently not derived from the snapshot; StaticQuery preserves
// that behaviour while leaving the door open for a metrics-aware builder.
type QueryBuilder func() string

// DefaultProbe is the standing probe describing the condition the pipeline
// assesses on every event.
const DefaultProbe = "High resource usage or suspicious network connection"

// StaticQuery returns a QueryBuilder that always produces q.
func StaticQuery(q string) QueryBuilder {
	return func() string { return q }
}

// Base retrieves mitigation context from the vector store.
type Base struct {
	store    VectorStore
	embedder Embedder
	logger   *zap.Logger
}

// NewBase creates a knowledge Base.
func NewBase(store VectorStore, embedder Embedder, logger *zap.Logger) *Base {
	return &Base{store: store, embedder: embedder, logger: logger}
}

// FindMitigation runs a similarity search for query and returns the formatted
// knowledge context: at most two snippets at similarity ≥ 0.70, each rendered
// as a technique block, joined by a separator. When nothing clears the floor
// (including when the search itself fails) it returns FallbackMitigation.
func (b *Base) FindMitigation(ctx context.Context, query string) string {
	b.logger.Info("performing knowledge search", zap.String("query", query))

	snippets, err := b.search(ctx, query)
	if err != nil {
		b.logger.Warn("knowledge search failed", zap.Error(err))
		return FallbackMitigation
	}
	if len(snippets) == 0 {
		b.logger.Warn("no relevant knowledge found for query")
		return FallbackMitigation
	}

	blocks := make([]string, len(snippets))
	for i, s := range snippets {
		blocks[i] = formatSnippet(s)
	}
	return strings.Join(blocks, snippetSeparator)
}

func (b *Base) search(ctx context.Context, query string) ([]Snippet, error) {
	vectors, err := b.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	points, err := b.store.Search(ctx, vectors[0], topK, similarityFloor)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	snippets := make([]Snippet, 0, len(points))
	for _, p := range points {
		technique := p.Payload["technique_name"]
		if technique == "" {
			technique = "Unknown Technique"
		}
		mitreID := p.Payload["mitre_id"]
		if mitreID == "" {
			mitreID = "T????"
		}
		snippets = append(snippets, Snippet{
			Technique: technique,
			MitreID:   mitreID,
			Insight:   p.Content,
			Score:     p.Score,
		})
	}
	return snippets, nil
}

func formatSnippet(s Snippet) string {
	return fmt.Sprintf(" **MITRE ATT&CK Match:** %s (%s)\n **Insight:** %s\n",
		s.Technique, s.MitreID, s.Insight)
}
