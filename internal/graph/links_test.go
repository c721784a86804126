package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-commonbase/commonbase/internal/entry"
	logpkg "github.com/your-commonbase/commonbase/internal/log"
)

// fakeLinkStore keeps entries in a map and applies metadata mutations
// directly, mirroring the real store's behavior without a database.
type fakeLinkStore struct {
	entries    map[uuid.UUID]*entry.Entry
	failMutate map[uuid.UUID]error
	deleted    []uuid.UUID
}

func newFakeLinkStore(entries ...*entry.Entry) *fakeLinkStore {
	s := &fakeLinkStore{
		entries:    map[uuid.UUID]*entry.Entry{},
		failMutate: map[uuid.UUID]error{},
	}
	for _, e := range entries {
		s.entries[e.ID] = e
	}
	return s
}

func (s *fakeLinkStore) Get(_ context.Context, id uuid.UUID) (*entry.Entry, error) {
	e, ok := s.entries[id]
	if !ok {
		return nil, entry.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *fakeLinkStore) CountByIDs(_ context.Context, ids []uuid.UUID) (int, error) {
	count := 0
	for _, id := range ids {
		if _, ok := s.entries[id]; ok {
			count++
		}
	}
	return count, nil
}

func (s *fakeLinkStore) MutateMetadata(_ context.Context, id uuid.UUID, fn func(md *entry.Metadata) error) (*entry.Entry, error) {
	if err, ok := s.failMutate[id]; ok {
		return nil, err
	}
	e, ok := s.entries[id]
	if !ok {
		return nil, entry.ErrNotFound
	}
	if err := fn(&e.Metadata); err != nil {
		return nil, err
	}
	cp := *e
	return &cp, nil
}

func (s *fakeLinkStore) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := s.entries[id]; !ok {
		return entry.ErrNotFound
	}
	delete(s.entries, id)
	s.deleted = append(s.deleted, id)
	return nil
}

func newEntry() *entry.Entry {
	return &entry.Entry{ID: uuid.New(), Data: "d"}
}

func newLinker(t *testing.T, store LinkStore) *Linker {
	t.Helper()
	l, err := NewLinker(store, logpkg.NewNop())
	require.NoError(t, err)
	return l
}

func TestJoin(t *testing.T) {
	main, a, b := newEntry(), newEntry(), newEntry()
	store := newFakeLinkStore(main, a, b)
	l := newLinker(t, store)

	require.NoError(t, l.Join(context.Background(), main.ID, []uuid.UUID{a.ID, b.ID}))

	assert.Equal(t, []string{a.ID.String(), b.ID.String()}, store.entries[main.ID].Metadata.Links)
	assert.Equal(t, []string{main.ID.String()}, store.entries[a.ID].Metadata.Backlinks)
	assert.Equal(t, []string{main.ID.String()}, store.entries[b.ID].Metadata.Backlinks)
}

func TestJoinIsIdempotent(t *testing.T) {
	main, a := newEntry(), newEntry()
	store := newFakeLinkStore(main, a)
	l := newLinker(t, store)

	require.NoError(t, l.Join(context.Background(), main.ID, []uuid.UUID{a.ID}))
	require.NoError(t, l.Join(context.Background(), main.ID, []uuid.UUID{a.ID}))

	assert.Equal(t, []string{a.ID.String()}, store.entries[main.ID].Metadata.Links)
	assert.Equal(t, []string{main.ID.String()}, store.entries[a.ID].Metadata.Backlinks)
}

func TestJoinValidatesBeforeWriting(t *testing.T) {
	main, a := newEntry(), newEntry()
	store := newFakeLinkStore(main, a)
	l := newLinker(t, store)

	err := l.Join(context.Background(), main.ID, []uuid.UUID{a.ID, uuid.New()})
	require.ErrorIs(t, err, entry.ErrNotFound)

	// Nothing was written.
	assert.Empty(t, store.entries[main.ID].Metadata.Links)
	assert.Empty(t, store.entries[a.ID].Metadata.Backlinks)
}

func TestJoinBacklinkFailureIsNonBlocking(t *testing.T) {
	main, good, bad := newEntry(), newEntry(), newEntry()
	store := newFakeLinkStore(main, good, bad)
	store.failMutate[bad.ID] = errors.New("connection reset")
	l := newLinker(t, store)

	err := l.Join(context.Background(), main.ID, []uuid.UUID{bad.ID, good.ID})
	require.NoError(t, err, "a failing backlink target must not fail the join")

	// The primary links write and the healthy target's backlink both land.
	assert.Equal(t, []string{bad.ID.String(), good.ID.String()}, store.entries[main.ID].Metadata.Links)
	assert.Equal(t, []string{main.ID.String()}, store.entries[good.ID].Metadata.Backlinks)
	assert.Empty(t, store.entries[bad.ID].Metadata.Backlinks)
}

func TestJoinMissingMainEntry(t *testing.T) {
	a := newEntry()
	store := newFakeLinkStore(a)
	l := newLinker(t, store)

	err := l.Join(context.Background(), uuid.New(), []uuid.UUID{a.ID})
	require.ErrorIs(t, err, entry.ErrNotFound)
}

func TestJoinRequiresLinkIDs(t *testing.T) {
	main := newEntry()
	l := newLinker(t, newFakeLinkStore(main))

	require.Error(t, l.Join(context.Background(), main.ID, nil))
}

func TestBacklinkParent(t *testing.T) {
	parent, child := newEntry(), newEntry()
	store := newFakeLinkStore(parent, child)
	l := newLinker(t, store)

	l.BacklinkParent(context.Background(), parent.ID, child.ID)
	assert.Equal(t, []string{child.ID.String()}, store.entries[parent.ID].Metadata.Backlinks)

	// Duplicate attach does not duplicate the backlink.
	l.BacklinkParent(context.Background(), parent.ID, child.ID)
	assert.Equal(t, []string{child.ID.String()}, store.entries[parent.ID].Metadata.Backlinks)
}

func TestBacklinkParentMissingParent(t *testing.T) {
	child := newEntry()
	store := newFakeLinkStore(child)
	l := newLinker(t, store)

	// Best-effort: must not panic or alter anything.
	l.BacklinkParent(context.Background(), uuid.New(), child.ID)
}

func TestDeleteCascade(t *testing.T) {
	target := newEntry()
	linked := newEntry()
	backlinked := newEntry()

	target.Metadata.Links = []string{linked.ID.String()}
	target.Metadata.Backlinks = []string{backlinked.ID.String()}
	linked.Metadata.Backlinks = []string{target.ID.String()}
	backlinked.Metadata.Links = []string{target.ID.String(), linked.ID.String()}

	store := newFakeLinkStore(target, linked, backlinked)
	l := newLinker(t, store)

	deleted, err := l.DeleteCascade(context.Background(), target.ID)
	require.NoError(t, err)
	assert.Equal(t, target.ID, deleted.ID)

	_, ok := store.entries[target.ID]
	assert.False(t, ok, "entry must be deleted")

	// No neighbor references the deleted id anymore.
	assert.Empty(t, store.entries[linked.ID].Metadata.Backlinks)
	assert.Equal(t, []string{linked.ID.String()}, store.entries[backlinked.ID].Metadata.Links,
		"unrelated references must survive")
}

func TestDeleteCascadeNeighborFailureIsNonBlocking(t *testing.T) {
	target := newEntry()
	good := newEntry()
	bad := newEntry()

	target.Metadata.Links = []string{bad.ID.String(), good.ID.String()}
	good.Metadata.Backlinks = []string{target.ID.String()}
	bad.Metadata.Backlinks = []string{target.ID.String()}

	store := newFakeLinkStore(target, good, bad)
	store.failMutate[bad.ID] = errors.New("connection reset")
	l := newLinker(t, store)

	_, err := l.DeleteCascade(context.Background(), target.ID)
	require.NoError(t, err, "a failing neighbor must not block the delete")

	_, ok := store.entries[target.ID]
	assert.False(t, ok)
	assert.Empty(t, store.entries[good.ID].Metadata.Backlinks, "healthy neighbors still get cleaned")
}

func TestDeleteCascadeNotFound(t *testing.T) {
	l := newLinker(t, newFakeLinkStore())

	_, err := l.DeleteCascade(context.Background(), uuid.New())
	require.ErrorIs(t, err, entry.ErrNotFound)
}
