// Package search implements hybrid retrieval over the entry store: a
// semantic half driven by vector similarity and a full-text half driven by
// PostgreSQL tsvector matching, merged with semantic precedence.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/your-commonbase/commonbase/internal/ai"
	"github.com/your-commonbase/commonbase/internal/entry"
)

// EmbedTimeout bounds the query embedding call. A slow provider degrades
// search to full-text only instead of stalling the request.
const EmbedTimeout = 8 * time.Second

// MatchType labels which half of the hybrid search produced a result.
type MatchType string

const (
	MatchSemantic MatchType = "semantic"
	MatchFulltext MatchType = "fts"
)

// Store is the subset of the entry store the engine needs.
type Store interface {
	SemanticSearch(ctx context.Context, vec []float32, threshold float64, limit int) ([]*entry.Scored, error)
	FullTextSearch(ctx context.Context, query string, limit int) ([]*entry.Scored, error)
}

// Defaults hold the configured fallbacks for per-request options.
type Defaults struct {
	SemanticLimit     int
	SemanticThreshold float64
	FulltextLimit     int
}

// SemanticOptions tune the semantic half of a request.
type SemanticOptions struct {
	Limit int
	// Threshold overrides the configured similarity threshold when non-nil.
	Threshold *float64
}

// FulltextOptions tune the full-text half of a request.
type FulltextOptions struct {
	Limit int
}

// Request describes one hybrid search. A nil half is disabled; when both
// halves are nil the engine runs both with defaults.
type Request struct {
	Query    string
	Semantic *SemanticOptions
	Fulltext *FulltextOptions
}

// Result is a search hit labeled with its origin. Similarity is only
// meaningful for semantic hits.
type Result struct {
	entry.Entry
	Type       MatchType `json:"type"`
	Similarity float64   `json:"similarity,omitempty"`
}

// Engine runs hybrid searches.
//
// Either half failing is non-fatal: the engine logs the failure and returns
// whatever the other half produced. Both halves failing yields an empty
// result set, not an error.
type Engine struct {
	store    Store
	embedder ai.Embedder
	defaults Defaults
	logger   *slog.Logger
}

// NewEngine creates a search Engine.
func NewEngine(store Store, embedder ai.Embedder, defaults Defaults, logger *slog.Logger) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, embedder: embedder, defaults: defaults, logger: logger}, nil
}

// Search runs the requested halves and merges their results.
//
// Merge order: all semantic hits first (already sorted most similar first),
// then full-text hits in rank order. An entry found by both halves appears
// once, labeled semantic.
func (e *Engine) Search(ctx context.Context, req Request) ([]*Result, error) {
	if req.Query == "" {
		return nil, fmt.Errorf("query is required")
	}

	semantic, fulltext := req.Semantic, req.Fulltext
	if semantic == nil && fulltext == nil {
		semantic = &SemanticOptions{}
		fulltext = &FulltextOptions{}
	}

	var semanticHits, fulltextHits []*entry.Scored

	if semantic != nil {
		semanticHits = e.semanticSearch(ctx, req.Query, semantic)
	}

	if fulltext != nil {
		limit := fulltext.Limit
		if limit <= 0 {
			limit = e.defaults.FulltextLimit
		}
		hits, err := e.store.FullTextSearch(ctx, req.Query, limit)
		if err != nil {
			e.logger.Warn("full-text search failed", "error", err)
		} else {
			fulltextHits = hits
		}
	}

	results := make([]*Result, 0, len(semanticHits)+len(fulltextHits))
	seen := make(map[string]struct{}, len(semanticHits))

	for _, hit := range semanticHits {
		id := hit.ID.String()
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		results = append(results, &Result{Entry: hit.Entry, Type: MatchSemantic, Similarity: hit.Similarity})
	}
	for _, hit := range fulltextHits {
		id := hit.ID.String()
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		results = append(results, &Result{Entry: hit.Entry, Type: MatchFulltext})
	}

	return results, nil
}

// semanticSearch embeds the query and runs the vector search. Any failure
// is logged and reported as no semantic hits.
func (e *Engine) semanticSearch(ctx context.Context, query string, opts *SemanticOptions) []*entry.Scored {
	limit := opts.Limit
	if limit <= 0 {
		limit = e.defaults.SemanticLimit
	}
	threshold := e.defaults.SemanticThreshold
	if opts.Threshold != nil {
		threshold = *opts.Threshold
	}

	embedCtx, cancel := context.WithTimeout(ctx, EmbedTimeout)
	defer cancel()

	vec, err := e.embedder.Embed(embedCtx, query)
	if err != nil {
		e.logger.Warn("semantic search degraded, query embedding failed", "error", err)
		return nil
	}

	hits, err := e.store.SemanticSearch(ctx, vec, threshold, limit)
	if err != nil {
		e.logger.Warn("semantic search failed", "error", err)
		return nil
	}
	return hits
}
