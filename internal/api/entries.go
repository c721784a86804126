package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/your-commonbase/commonbase/internal/ai"
	"github.com/your-commonbase/commonbase/internal/entry"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	defaultRandom   = 5
	maxRandom       = 100
)

// entryHandler holds dependencies for entry CRUD and link endpoints.
type entryHandler struct {
	store       EntryStore
	linker      Linker
	embedder    ai.Embedder
	transcriber ai.Transcriber
	assetsDir   string
	logger      *slog.Logger
}

// getEntry handles GET /api/v1/entries/{id}.
func (h *entryHandler) getEntry(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "invalid entry ID", h.logger)
		return
	}

	e, err := h.store.Get(r.Context(), id)
	if err != nil {
		if mapEntryError(w, err, h.logger) {
			return
		}
		h.logger.Error("getting entry", "error", err, "id", id)
		writeError(w, http.StatusInternalServerError, "get_failed", "failed to get entry", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, e, h.logger)
}

// listEntries handles GET /api/v1/entries — paginated, newest first.
func (h *entryHandler) listEntries(w http.ResponseWriter, r *http.Request) {
	page := max(parseIntParam(r, "page", 1), 1)
	limit := parseIntParam(r, "limit", defaultPageSize)
	if limit < 1 {
		limit = defaultPageSize
	}
	limit = min(limit, maxPageSize)

	// Fetch one extra row to detect whether another page exists.
	entries, err := h.store.List(r.Context(), limit+1, (page-1)*limit)
	if err != nil {
		h.logger.Error("listing entries", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list entries", h.logger)
		return
	}

	hasMore := len(entries) > limit
	if hasMore {
		entries = entries[:limit]
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"page":    page,
		"limit":   limit,
		"hasMore": hasMore,
	}, h.logger)
}

// randomRequest is the request body for POST /api/v1/random.
type randomRequest struct {
	Count   int      `json:"count"`
	Exclude []string `json:"exclude"`
}

// randomEntries handles POST /api/v1/random — discovery feed backend.
func (h *entryHandler) randomEntries(w http.ResponseWriter, r *http.Request) {
	var req randomRequest
	if err := decodeBody(w, r, &req, h.logger); err != nil {
		return
	}

	count := req.Count
	if count < 1 {
		count = defaultRandom
	}
	count = min(count, maxRandom)

	exclude := make([]uuid.UUID, 0, len(req.Exclude))
	for _, raw := range req.Exclude {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_id", "invalid id in exclude list", h.logger)
			return
		}
		exclude = append(exclude, id)
	}

	entries, err := h.store.Random(r.Context(), count, exclude)
	if err != nil {
		h.logger.Error("fetching random entries", "error", err)
		writeError(w, http.StatusInternalServerError, "random_failed", "failed to fetch random entries", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"entries": entries}, h.logger)
}

// addRequest is the request body for POST /api/v1/add.
type addRequest struct {
	Data     string         `json:"data"`
	Metadata entry.Metadata `json:"metadata"`
	Link     string         `json:"link"`
}

// addEntry handles POST /api/v1/add.
//
// The entry is created first; embedding generation and the parent backlink
// update are best-effort and never fail the request.
func (h *entryHandler) addEntry(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	if err := decodeBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Data == "" {
		writeError(w, http.StatusBadRequest, "data_required", "data is required", h.logger)
		return
	}

	md := req.Metadata
	var parentID uuid.UUID
	if req.Link != "" {
		parsed, err := uuid.Parse(req.Link)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_link", "invalid parent link id", h.logger)
			return
		}
		parentID = parsed
		md.AddLink(parentID.String())
	}

	e, err := h.store.Create(r.Context(), req.Data, md, uuid.Nil)
	if err != nil {
		if mapEntryError(w, err, h.logger) {
			return
		}
		h.logger.Error("creating entry", "error", err)
		writeError(w, http.StatusInternalServerError, "add_failed", "failed to create entry", h.logger)
		return
	}

	h.embedBestEffort(r, e.ID, e.Data)

	if parentID != uuid.Nil {
		h.linker.BacklinkParent(r.Context(), parentID, e.ID)
	}

	writeJSON(w, http.StatusCreated, e, h.logger)
}

// updateRequest is the request body for POST /api/v1/update. Data and
// Metadata are both optional; metadata keys are shallow-merged.
type updateRequest struct {
	ID       string                     `json:"id"`
	Data     *string                    `json:"data"`
	Metadata map[string]json.RawMessage `json:"metadata"`
}

// updateEntry handles POST /api/v1/update. A data change triggers a
// best-effort re-embed so search stays aligned with the new text.
func (h *entryHandler) updateEntry(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := decodeBody(w, r, &req, h.logger); err != nil {
		return
	}

	id, err := uuid.Parse(req.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "invalid entry ID", h.logger)
		return
	}
	if req.Data == nil && len(req.Metadata) == 0 {
		writeError(w, http.StatusBadRequest, "empty_update", "nothing to update", h.logger)
		return
	}

	if req.Data != nil {
		if *req.Data == "" {
			writeError(w, http.StatusBadRequest, "data_required", "data cannot be empty", h.logger)
			return
		}
		if err := h.store.SetData(r.Context(), id, *req.Data); err != nil {
			if mapEntryError(w, err, h.logger) {
				return
			}
			h.logger.Error("updating entry data", "error", err, "id", id)
			writeError(w, http.StatusInternalServerError, "update_failed", "failed to update entry", h.logger)
			return
		}
		h.embedBestEffort(r, id, *req.Data)
	}

	if len(req.Metadata) > 0 {
		_, err := h.store.MutateMetadata(r.Context(), id, func(md *entry.Metadata) error {
			merged, mergeErr := md.MergePatch(req.Metadata)
			if mergeErr != nil {
				return mergeErr
			}
			*md = merged
			return nil
		})
		if err != nil {
			if mapEntryError(w, err, h.logger) {
				return
			}
			h.logger.Error("merging entry metadata", "error", err, "id", id)
			writeError(w, http.StatusInternalServerError, "update_failed", "failed to update entry", h.logger)
			return
		}
	}

	e, err := h.store.Get(r.Context(), id)
	if err != nil {
		if mapEntryError(w, err, h.logger) {
			return
		}
		h.logger.Error("reloading entry", "error", err, "id", id)
		writeError(w, http.StatusInternalServerError, "update_failed", "failed to load updated entry", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, e, h.logger)
}

// idRequest is the request body for id-only endpoints.
type idRequest struct {
	ID string `json:"id"`
}

// deleteEntry handles POST /api/v1/delete — delete with neighbor cleanup.
func (h *entryHandler) deleteEntry(w http.ResponseWriter, r *http.Request) {
	var req idRequest
	if err := decodeBody(w, r, &req, h.logger); err != nil {
		return
	}

	id, err := uuid.Parse(req.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "invalid entry ID", h.logger)
		return
	}

	deleted, err := h.linker.DeleteCascade(r.Context(), id)
	if err != nil {
		if mapEntryError(w, err, h.logger) {
			return
		}
		h.logger.Error("deleting entry", "error", err, "id", id)
		writeError(w, http.StatusInternalServerError, "delete_failed", "failed to delete entry", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "deleted",
		"entry":  deleted,
	}, h.logger)
}

// joinRequest is the request body for POST /api/v1/join.
type joinRequest struct {
	ID  string   `json:"id"`
	IDs []string `json:"ids"`
}

// joinEntries handles POST /api/v1/join — adds IDs to the entry's links and
// the entry to each target's backlinks.
func (h *entryHandler) joinEntries(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := decodeBody(w, r, &req, h.logger); err != nil {
		return
	}

	id, err := uuid.Parse(req.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "invalid entry ID", h.logger)
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids_required", "ids are required", h.logger)
		return
	}

	linkIDs := make([]uuid.UUID, 0, len(req.IDs))
	for _, raw := range req.IDs {
		linkID, parseErr := uuid.Parse(raw)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, "invalid_id", "invalid id in ids list", h.logger)
			return
		}
		linkIDs = append(linkIDs, linkID)
	}

	if err := h.linker.Join(r.Context(), id, linkIDs); err != nil {
		if mapEntryError(w, err, h.logger) {
			return
		}
		h.logger.Error("joining entries", "error", err, "id", id)
		writeError(w, http.StatusInternalServerError, "join_failed", "failed to join entries", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "joined"}, h.logger)
}

// embedBestEffort generates and stores an embedding for the entry. Failures
// are logged; the entry stays visible to full-text search either way.
func (h *entryHandler) embedBestEffort(r *http.Request, id uuid.UUID, data string) {
	if h.embedder == nil {
		return
	}
	vec, err := h.embedder.Embed(r.Context(), data)
	if err != nil {
		h.logger.Warn("embedding generation failed", "id", id, "error", err)
		return
	}
	if err := h.store.UpsertEmbedding(r.Context(), id, vec); err != nil {
		h.logger.Warn("storing embedding failed", "id", id, "error", err)
	}
}

// decodeBody decodes a JSON request body, writing the error response itself.
// The body is capped at 1MB.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, logger *slog.Logger) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large", logger)
			return err
		}
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body", logger)
		return err
	}
	return nil
}
