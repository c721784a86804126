package search

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logpkg "github.com/your-commonbase/commonbase/internal/log"
	"github.com/your-commonbase/commonbase/internal/entry"
)

type fakeStore struct {
	semantic    []*entry.Scored
	semanticErr error
	fulltext    []*entry.Scored
	fulltextErr error

	gotThreshold float64
	gotSemLimit  int
	gotFtsLimit  int
}

func (f *fakeStore) SemanticSearch(_ context.Context, _ []float32, threshold float64, limit int) ([]*entry.Scored, error) {
	f.gotThreshold = threshold
	f.gotSemLimit = limit
	return f.semantic, f.semanticErr
}

func (f *fakeStore) FullTextSearch(_ context.Context, _ string, limit int) ([]*entry.Scored, error) {
	f.gotFtsLimit = limit
	return f.fulltext, f.fulltextErr
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	return f.vec, f.err
}

func scored(id uuid.UUID, data string, sim float64) *entry.Scored {
	return &entry.Scored{Entry: entry.Entry{ID: id, Data: data}, Similarity: sim}
}

var testDefaults = Defaults{SemanticLimit: 10, SemanticThreshold: 0.5, FulltextLimit: 10}

func newTestEngine(t *testing.T, store Store, embedder *fakeEmbedder) *Engine {
	t.Helper()
	if embedder == nil {
		embedder = &fakeEmbedder{vec: make([]float32, entry.EmbeddingDim)}
	}
	e, err := NewEngine(store, embedder, testDefaults, logpkg.NewNop())
	require.NoError(t, err)
	return e
}

func TestSearchRequiresQuery(t *testing.T) {
	e := newTestEngine(t, &fakeStore{}, nil)
	_, err := e.Search(context.Background(), Request{})
	require.Error(t, err)
}

func TestSearchMergesSemanticFirst(t *testing.T) {
	semID, ftsID := uuid.New(), uuid.New()
	store := &fakeStore{
		semantic: []*entry.Scored{scored(semID, "semantic hit", 0.9)},
		fulltext: []*entry.Scored{scored(ftsID, "fts hit", 0)},
	}
	e := newTestEngine(t, store, nil)

	results, err := e.Search(context.Background(), Request{Query: "q"})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, semID, results[0].ID)
	assert.Equal(t, MatchSemantic, results[0].Type)
	assert.Equal(t, 0.9, results[0].Similarity)

	assert.Equal(t, ftsID, results[1].ID)
	assert.Equal(t, MatchFulltext, results[1].Type)
}

func TestSearchDedupSemanticWins(t *testing.T) {
	shared := uuid.New()
	onlyFts := uuid.New()
	store := &fakeStore{
		semantic: []*entry.Scored{scored(shared, "both", 0.8)},
		fulltext: []*entry.Scored{scored(shared, "both", 0), scored(onlyFts, "fts only", 0)},
	}
	e := newTestEngine(t, store, nil)

	results, err := e.Search(context.Background(), Request{Query: "q"})
	require.NoError(t, err)
	require.Len(t, results, 2)

	// The shared entry appears once, labeled semantic.
	assert.Equal(t, shared, results[0].ID)
	assert.Equal(t, MatchSemantic, results[0].Type)
	assert.Equal(t, onlyFts, results[1].ID)
}

func TestSearchDegradesWhenEmbeddingFails(t *testing.T) {
	ftsID := uuid.New()
	store := &fakeStore{
		fulltext: []*entry.Scored{scored(ftsID, "fts hit", 0)},
	}
	embedder := &fakeEmbedder{err: errors.New("provider down")}
	e := newTestEngine(t, store, embedder)

	results, err := e.Search(context.Background(), Request{Query: "q"})
	require.NoError(t, err, "embedding failure must not fail the search")
	require.Len(t, results, 1)
	assert.Equal(t, MatchFulltext, results[0].Type)
}

func TestSearchBothHalvesFailReturnsEmpty(t *testing.T) {
	store := &fakeStore{
		semanticErr: errors.New("db error"),
		fulltextErr: errors.New("db error"),
	}
	e := newTestEngine(t, store, nil)

	results, err := e.Search(context.Background(), Request{Query: "q"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchAppliesDefaults(t *testing.T) {
	store := &fakeStore{}
	e := newTestEngine(t, store, nil)

	_, err := e.Search(context.Background(), Request{Query: "q"})
	require.NoError(t, err)

	assert.Equal(t, 10, store.gotSemLimit)
	assert.Equal(t, 0.5, store.gotThreshold)
	assert.Equal(t, 10, store.gotFtsLimit)
}

func TestSearchPerRequestOverrides(t *testing.T) {
	store := &fakeStore{}
	e := newTestEngine(t, store, nil)

	th := 0.25
	_, err := e.Search(context.Background(), Request{
		Query:    "q",
		Semantic: &SemanticOptions{Limit: 3, Threshold: &th},
		Fulltext: &FulltextOptions{Limit: 7},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, store.gotSemLimit)
	assert.Equal(t, 0.25, store.gotThreshold)
	assert.Equal(t, 7, store.gotFtsLimit)
}

func TestSearchSingleHalf(t *testing.T) {
	semID := uuid.New()
	store := &fakeStore{
		semantic: []*entry.Scored{scored(semID, "hit", 0.7)},
		fulltext: []*entry.Scored{scored(uuid.New(), "should not run", 0)},
	}
	e := newTestEngine(t, store, nil)

	// Only the semantic half requested: fts limit must stay untouched.
	results, err := e.Search(context.Background(), Request{
		Query:    "q",
		Semantic: &SemanticOptions{},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, semID, results[0].ID)
	assert.Zero(t, store.gotFtsLimit)
}
