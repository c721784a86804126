package api

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"

	"github.com/your-commonbase/commonbase/internal/entry"
)

func TestGetEntry(t *testing.T) {
	env := newTestEnv(t)
	e := env.mustAdd(t, "hello", entry.Metadata{})

	w, body := env.do(t, http.MethodGet, "/api/v1/entries/"+e.ID.String(), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %v)", w.Code, http.StatusOK, body)
	}
	if body["data"] != "hello" {
		t.Fatalf("data = %v, want hello", body["data"])
	}
}

func TestGetEntry_NotFound(t *testing.T) {
	env := newTestEnv(t)

	w, _ := env.do(t, http.MethodGet, "/api/v1/entries/"+uuid.NewString(), nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestGetEntry_InvalidID(t *testing.T) {
	env := newTestEnv(t)

	w, _ := env.do(t, http.MethodGet, "/api/v1/entries/not-a-uuid", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestListEntries_Pagination(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 5; i++ {
		env.mustAdd(t, fmt.Sprintf("entry %d", i), entry.Metadata{})
	}

	w, body := env.do(t, http.MethodGet, "/api/v1/entries?page=1&limit=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	entries, ok := body["entries"].([]any)
	if !ok || len(entries) != 2 {
		t.Fatalf("entries = %v, want 2 items", body["entries"])
	}
	if body["hasMore"] != true {
		t.Fatal("hasMore = false, want true")
	}

	// Last page reports no more.
	_, body = env.do(t, http.MethodGet, "/api/v1/entries?page=3&limit=2", nil)
	if body["hasMore"] != false {
		t.Fatal("hasMore on last page = true, want false")
	}
}

func TestRandomEntries_Exclude(t *testing.T) {
	env := newTestEnv(t)
	a := env.mustAdd(t, "a", entry.Metadata{})
	b := env.mustAdd(t, "b", entry.Metadata{})

	w, body := env.do(t, http.MethodPost, "/api/v1/random", map[string]any{
		"count":   10,
		"exclude": []string{a.ID.String()},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	entries := body["entries"].([]any)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if got := entries[0].(map[string]any)["id"]; got != b.ID.String() {
		t.Fatalf("id = %v, want %s", got, b.ID)
	}
}

func TestAddEntry(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, http.MethodPost, "/api/v1/add", map[string]any{
		"data":     "a new thought",
		"metadata": map[string]any{"title": "Thought"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d (body %v)", w.Code, http.StatusCreated, body)
	}

	id, err := uuid.Parse(body["id"].(string))
	if err != nil {
		t.Fatalf("response id is not a UUID: %v", body["id"])
	}
	stored := env.store.entries[id]
	if stored == nil || stored.Data != "a new thought" {
		t.Fatalf("entry not stored: %v", stored)
	}
	if stored.Metadata.Title != "Thought" {
		t.Fatalf("title = %q, want Thought", stored.Metadata.Title)
	}
}

func TestAddEntry_RequiresData(t *testing.T) {
	env := newTestEnv(t)

	w, _ := env.do(t, http.MethodPost, "/api/v1/add", map[string]any{"data": ""})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestAddEntry_ParentBacklink(t *testing.T) {
	env := newTestEnv(t)
	parent := env.mustAdd(t, "parent", entry.Metadata{})

	w, body := env.do(t, http.MethodPost, "/api/v1/add", map[string]any{
		"data": "child",
		"link": parent.ID.String(),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}

	childID := body["id"].(string)
	if links := env.store.entries[uuid.MustParse(childID)].Metadata.Links; len(links) != 1 || links[0] != parent.ID.String() {
		t.Fatalf("child links = %v, want [%s]", links, parent.ID)
	}
	if backs := env.store.entries[parent.ID].Metadata.Backlinks; len(backs) != 1 || backs[0] != childID {
		t.Fatalf("parent backlinks = %v, want [%s]", backs, childID)
	}
}

func TestUpdateEntry_Metadata(t *testing.T) {
	env := newTestEnv(t)
	e := env.mustAdd(t, "text", entry.Metadata{Title: "Old", Source: "http://example.com"})

	w, body := env.do(t, http.MethodPost, "/api/v1/update", map[string]any{
		"id":       e.ID.String(),
		"metadata": map[string]any{"title": "New"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %v)", w.Code, http.StatusOK, body)
	}

	stored := env.store.entries[e.ID]
	if stored.Metadata.Title != "New" {
		t.Fatalf("title = %q, want New", stored.Metadata.Title)
	}
	// Untouched keys survive a shallow merge.
	if stored.Metadata.Source != "http://example.com" {
		t.Fatalf("source = %q, want untouched", stored.Metadata.Source)
	}
}

func TestUpdateEntry_Data(t *testing.T) {
	env := newTestEnv(t)
	e := env.mustAdd(t, "old text", entry.Metadata{})

	w, body := env.do(t, http.MethodPost, "/api/v1/update", map[string]any{
		"id":   e.ID.String(),
		"data": "new text",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if env.store.entries[e.ID].Data != "new text" {
		t.Fatal("data not updated")
	}
	if body["data"] != "new text" {
		t.Fatalf("response data = %v, want new text", body["data"])
	}
}

func TestUpdateEntry_Empty(t *testing.T) {
	env := newTestEnv(t)
	e := env.mustAdd(t, "text", entry.Metadata{})

	w, _ := env.do(t, http.MethodPost, "/api/v1/update", map[string]any{"id": e.ID.String()})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestUpdateEntry_NotFound(t *testing.T) {
	env := newTestEnv(t)

	w, _ := env.do(t, http.MethodPost, "/api/v1/update", map[string]any{
		"id":   uuid.NewString(),
		"data": "text",
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestDeleteEntry(t *testing.T) {
	env := newTestEnv(t)
	e := env.mustAdd(t, "doomed", entry.Metadata{})

	w, body := env.do(t, http.MethodPost, "/api/v1/delete", map[string]any{"id": e.ID.String()})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if body["status"] != "deleted" {
		t.Fatalf("status field = %v, want deleted", body["status"])
	}
	if _, ok := env.store.entries[e.ID]; ok {
		t.Fatal("entry still present after delete")
	}
}

func TestDeleteEntry_NotFound(t *testing.T) {
	env := newTestEnv(t)

	w, _ := env.do(t, http.MethodPost, "/api/v1/delete", map[string]any{"id": uuid.NewString()})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestJoinEntries(t *testing.T) {
	env := newTestEnv(t)
	main := env.mustAdd(t, "main", entry.Metadata{})
	a := env.mustAdd(t, "a", entry.Metadata{})

	w, body := env.do(t, http.MethodPost, "/api/v1/join", map[string]any{
		"id":  main.ID.String(),
		"ids": []string{a.ID.String()},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %v)", w.Code, http.StatusOK, body)
	}
	if links := env.store.entries[main.ID].Metadata.Links; len(links) != 1 || links[0] != a.ID.String() {
		t.Fatalf("links = %v, want [%s]", links, a.ID)
	}
	if backs := env.store.entries[a.ID].Metadata.Backlinks; len(backs) != 1 || backs[0] != main.ID.String() {
		t.Fatalf("backlinks = %v, want [%s]", backs, main.ID)
	}
}

func TestJoinEntries_MissingTarget(t *testing.T) {
	env := newTestEnv(t)
	main := env.mustAdd(t, "main", entry.Metadata{})

	w, _ := env.do(t, http.MethodPost, "/api/v1/join", map[string]any{
		"id":  main.ID.String(),
		"ids": []string{uuid.NewString()},
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestJoinEntries_RequiresIDs(t *testing.T) {
	env := newTestEnv(t)
	main := env.mustAdd(t, "main", entry.Metadata{})

	w, _ := env.do(t, http.MethodPost, "/api/v1/join", map[string]any{
		"id":  main.ID.String(),
		"ids": []string{},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}
