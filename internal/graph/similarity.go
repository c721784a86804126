// Package graph builds the relationship view around an entry: explicit
// links and backlinks scored by similarity, plus a global bucket of
// unconnected but semantically close entries. It also owns link
// maintenance, the read-modify-write protocol that keeps the links and
// backlinks adjacency lists consistent across creates, joins and deletes.
package graph

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"

	"github.com/your-commonbase/commonbase/internal/entry"
)

// SimilarTopK caps the global "similar" bucket.
const SimilarTopK = 10

// Store is the subset of the entry store the similarity engine needs.
type Store interface {
	GetEmbedded(ctx context.Context, id uuid.UUID) (*entry.Embedded, error)
	GetManyEmbedded(ctx context.Context, ids []uuid.UUID) ([]*entry.Embedded, error)
	Nearest(ctx context.Context, vec []float32, floor float64, limit int, exclude []uuid.UUID) ([]*entry.Scored, error)
}

// Neighbor is one node of the similarity graph. Exactly one of the
// connected flags (IsLinked/IsBacklinked) or IsSimilar is set; an entry
// that is both linked and backlinked carries both connected flags.
type Neighbor struct {
	entry.Entry
	Similarity           float64 `json:"similarity"`
	SimilarityPercentage float64 `json:"similarityPercentage"`
	IsLinked             bool    `json:"isLinked"`
	IsBacklinked         bool    `json:"isBacklinked"`
	IsSimilar            bool    `json:"isSimilar"`
}

// Graph is the similarity view around one entry, neighbors sorted by raw
// cosine similarity descending.
type Graph struct {
	Entry        entry.Entry `json:"entry"`
	Similarities []*Neighbor `json:"similarities"`
}

// Engine computes similarity graphs.
type Engine struct {
	store  Store
	floor  float64
	logger *slog.Logger
}

// NewEngine creates a similarity Engine. floor is the minimum raw cosine
// similarity for the global similar bucket.
func NewEngine(store Store, floor float64, logger *slog.Logger) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, floor: floor, logger: logger}, nil
}

// Similarities builds the graph around id.
//
// Connected entries (links ∪ backlinks) are scored in-process against the
// main embedding and always appear regardless of the floor. The similar
// bucket holds the top SimilarTopK unconnected entries at or above the
// floor; the two buckets never overlap. Returns entry.ErrNotFound or
// entry.ErrNoEmbedding from the store unchanged.
func (e *Engine) Similarities(ctx context.Context, id uuid.UUID) (*Graph, error) {
	main, err := e.store.GetEmbedded(ctx, id)
	if err != nil {
		return nil, err
	}

	connectedIDs := e.parseIDs(main.Metadata.ConnectedIDs())

	connected, err := e.store.GetManyEmbedded(ctx, connectedIDs)
	if err != nil {
		return nil, fmt.Errorf("loading connected entries: %w", err)
	}

	neighbors := make([]*Neighbor, 0, len(connected)+SimilarTopK)
	for _, c := range connected {
		sim := Cosine(main.Embedding, c.Embedding)
		neighbors = append(neighbors, &Neighbor{
			Entry:                c.Entry,
			Similarity:           sim,
			SimilarityPercentage: Percentage(sim),
			IsLinked:             slices.Contains(main.Metadata.Links, c.ID.String()),
			IsBacklinked:         slices.Contains(main.Metadata.Backlinks, c.ID.String()),
		})
	}

	// Global bucket: never the entry itself, never a connected entry.
	exclude := append([]uuid.UUID{id}, connectedIDs...)
	similar, err := e.store.Nearest(ctx, main.Embedding, e.floor, SimilarTopK, exclude)
	if err != nil {
		// Degrade to the connected bucket only.
		e.logger.Warn("similar entries lookup failed", "entry_id", id, "error", err)
	} else {
		for _, s := range similar {
			neighbors = append(neighbors, &Neighbor{
				Entry:                s.Entry,
				Similarity:           s.Similarity,
				SimilarityPercentage: Percentage(s.Similarity),
				IsSimilar:            true,
			})
		}
	}

	slices.SortStableFunc(neighbors, func(a, b *Neighbor) int {
		return cmp.Compare(b.Similarity, a.Similarity)
	})

	return &Graph{Entry: main.Entry, Similarities: neighbors}, nil
}

// parseIDs converts metadata id strings to UUIDs, dropping malformed ones.
func (e *Engine) parseIDs(ids []string) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	for _, s := range ids {
		id, err := uuid.Parse(s)
		if err != nil {
			e.logger.Warn("skipping malformed id in metadata", "id", s)
			continue
		}
		out = append(out, id)
	}
	return out
}

// Cosine returns the cosine similarity of a and b in [-1, 1].
// Mismatched lengths or a zero-norm vector yield 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	fa := make([]float64, len(a))
	fb := make([]float64, len(b))
	for i := range a {
		fa[i] = float64(a[i])
		fb[i] = float64(b[i])
	}

	na := floats.Norm(fa, 2)
	nb := floats.Norm(fb, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return floats.Dot(fa, fb) / (na * nb)
}

// Percentage maps cosine similarity (-1 to 1) onto 0-100,
// where 1 = 100%, 0 = 50% and -1 = 0%.
func Percentage(similarity float64) float64 {
	return (similarity + 1) / 2 * 100
}
