package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"slices"
	"testing"

	"github.com/google/uuid"

	"github.com/your-commonbase/commonbase/internal/entry"
	"github.com/your-commonbase/commonbase/internal/graph"
	"github.com/your-commonbase/commonbase/internal/ingest"
	"github.com/your-commonbase/commonbase/internal/search"
)

// fakeStore is a map-backed EntryStore.
type fakeStore struct {
	entries    map[uuid.UUID]*entry.Entry
	embeddings map[uuid.UUID][]float32
	order      []uuid.UUID
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		entries:    map[uuid.UUID]*entry.Entry{},
		embeddings: map[uuid.UUID][]float32{},
	}
}

func (s *fakeStore) Create(_ context.Context, data string, md entry.Metadata, id uuid.UUID) (*entry.Entry, error) {
	if id == uuid.Nil {
		id = uuid.New()
	}
	if _, ok := s.entries[id]; ok {
		return nil, entry.ErrExists
	}
	e := &entry.Entry{ID: id, Data: data, Metadata: md}
	s.entries[id] = e
	s.order = append(s.order, id)
	cp := *e
	return &cp, nil
}

func (s *fakeStore) Get(_ context.Context, id uuid.UUID) (*entry.Entry, error) {
	e, ok := s.entries[id]
	if !ok {
		return nil, entry.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *fakeStore) GetMany(_ context.Context, ids []uuid.UUID) ([]*entry.Entry, error) {
	var out []*entry.Entry
	for _, id := range ids {
		if e, ok := s.entries[id]; ok {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) List(_ context.Context, limit, offset int) ([]*entry.Entry, error) {
	// Newest first: reverse insertion order.
	var out []*entry.Entry
	for i := len(s.order) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		cp := *s.entries[s.order[i]]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *fakeStore) Random(_ context.Context, count int, exclude []uuid.UUID) ([]*entry.Entry, error) {
	var out []*entry.Entry
	for _, id := range s.order {
		if len(out) == count {
			break
		}
		if slices.Contains(exclude, id) {
			continue
		}
		cp := *s.entries[id]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *fakeStore) SetData(_ context.Context, id uuid.UUID, data string) error {
	e, ok := s.entries[id]
	if !ok {
		return entry.ErrNotFound
	}
	e.Data = data
	return nil
}

func (s *fakeStore) MutateMetadata(_ context.Context, id uuid.UUID, fn func(md *entry.Metadata) error) (*entry.Entry, error) {
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

func (s *fakeStore) DeleteMany(_ context.Context, ids []uuid.UUID) (int, error) {
	count := 0
	for _, id := range ids {
		if _, ok := s.entries[id]; ok {
			delete(s.entries, id)
			count++
		}
	}
	return count, nil
}

func (s *fakeStore) UpsertEmbedding(_ context.Context, id uuid.UUID, vec []float32) error {
	s.embeddings[id] = vec
	return nil
}

func (s *fakeStore) GetManyEmbedded(_ context.Context, ids []uuid.UUID) ([]*entry.Embedded, error) {
	var out []*entry.Embedded
	for _, id := range ids {
		e, ok := s.entries[id]
		if !ok {
			continue
		}
		vec, ok := s.embeddings[id]
		if !ok {
			continue
		}
		out = append(out, &entry.Embedded{Entry: *e, Embedding: vec})
	}
	return out, nil
}

// fakeLinker applies link maintenance directly against a fakeStore.
type fakeLinker struct {
	store   *fakeStore
	joinErr error
	joins   [][]uuid.UUID
}

func (l *fakeLinker) Join(_ context.Context, id uuid.UUID, linkIDs []uuid.UUID) error {
	if l.joinErr != nil {
		return l.joinErr
	}
	main, ok := l.store.entries[id]
	if !ok {
		return entry.ErrNotFound
	}
	for _, linkID := range linkIDs {
		if _, ok := l.store.entries[linkID]; !ok {
			return entry.ErrNotFound
		}
	}
	for _, linkID := range linkIDs {
		main.Metadata.AddLink(linkID.String())
		l.store.entries[linkID].Metadata.AddBacklink(id.String())
	}
	l.joins = append(l.joins, append([]uuid.UUID{id}, linkIDs...))
	return nil
}

func (l *fakeLinker) BacklinkParent(_ context.Context, parentID, childID uuid.UUID) {
	if parent, ok := l.store.entries[parentID]; ok {
		parent.Metadata.AddBacklink(childID.String())
	}
}

func (l *fakeLinker) DeleteCascade(_ context.Context, id uuid.UUID) (*entry.Entry, error) {
	e, ok := l.store.entries[id]
	if !ok {
		return nil, entry.ErrNotFound
	}
	delete(l.store.entries, id)
	cp := *e
	return &cp, nil
}

// fakeSearcher returns canned results.
type fakeSearcher struct {
	results []*search.Result
	err     error
	gotReq  search.Request
}

func (f *fakeSearcher) Search(_ context.Context, req search.Request) ([]*search.Result, error) {
	f.gotReq = req
	return f.results, f.err
}

// fakeGraph returns a canned similarity graph.
type fakeGraph struct {
	graph *graph.Graph
	err   error
}

func (f *fakeGraph) Similarities(_ context.Context, _ uuid.UUID) (*graph.Graph, error) {
	return f.graph, f.err
}

// fakeBulk returns a canned ingest report.
type fakeBulk struct {
	report  *ingest.Report
	err     error
	gotOpts ingest.Options
	gotCSV  []byte
}

func (f *fakeBulk) Run(_ context.Context, r io.Reader, opts ingest.Options) (*ingest.Report, error) {
	f.gotOpts = opts
	f.gotCSV, _ = io.ReadAll(r)
	return f.report, f.err
}

// testEnv bundles a server with its fakes.
type testEnv struct {
	store    *fakeStore
	linker   *fakeLinker
	searcher *fakeSearcher
	graph    *fakeGraph
	bulk     *fakeBulk
	srv      *Server
}

func newTestEnv(t *testing.T, mutate ...func(*ServerConfig)) *testEnv {
	t.Helper()

	store := newFakeStore()
	env := &testEnv{
		store:    store,
		linker:   &fakeLinker{store: store},
		searcher: &fakeSearcher{},
		graph:    &fakeGraph{},
		bulk:     &fakeBulk{report: &ingest.Report{Errors: []string{}}},
	}

	cfg := ServerConfig{
		Logger:    slog.New(slog.DiscardHandler),
		Store:     env.store,
		Linker:    env.linker,
		Searcher:  env.searcher,
		Graph:     env.graph,
		Bulk:      env.bulk,
		AssetsDir: t.TempDir(),
		RateBurst: 1000,
	}
	for _, m := range mutate {
		m(&cfg)
	}

	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	env.srv = srv
	return env
}

// send runs a JSON request against the server.
func (env *testEnv) send(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	r := httptest.NewRequest(method, path, reader)
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(w, r)
	return w
}

// do runs a JSON request and decodes the object response body.
func (env *testEnv) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	w := env.send(t, method, path, body)
	var decoded map[string]any
	if len(w.Body.Bytes()) > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decoding response body %q: %v", w.Body.String(), err)
		}
	}
	return w, decoded
}

// doList runs a JSON request whose response body is a JSON array.
func (env *testEnv) doList(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, []any) {
	t.Helper()

	w := env.send(t, method, path, body)
	var decoded []any
	if len(w.Body.Bytes()) > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decoding response body %q: %v", w.Body.String(), err)
		}
	}
	return w, decoded
}

// mustAdd seeds an entry directly into the fake store.
func (env *testEnv) mustAdd(t *testing.T, data string, md entry.Metadata) *entry.Entry {
	t.Helper()
	e, err := env.store.Create(context.Background(), data, md, uuid.Nil)
	if err != nil {
		t.Fatalf("seeding entry: %v", err)
	}
	return e
}
