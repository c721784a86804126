package api

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

// graphHandler serves similarity graphs and raw embedding reads.
type graphHandler struct {
	engine GraphEngine
	store  EntryStore
	logger *slog.Logger
}

// similarities handles POST /api/v1/similarities — the relationship view
// around one entry.
func (h *graphHandler) similarities(w http.ResponseWriter, r *http.Request) {
	var req idRequest
	if err := decodeBody(w, r, &req, h.logger); err != nil {
		return
	}

	id, err := uuid.Parse(req.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "invalid entry ID", h.logger)
		return
	}

	g, err := h.engine.Similarities(r.Context(), id)
	if err != nil {
		if mapEntryError(w, err, h.logger) {
			return
		}
		h.logger.Error("building similarity graph", "error", err, "id", id)
		writeError(w, http.StatusInternalServerError, "similarities_failed", "failed to build similarity graph", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, g, h.logger)
}

// embeddingsRequest is the request body for POST /api/v1/embeddings.
type embeddingsRequest struct {
	IDs []string `json:"ids"`
}

// embeddingItem is one entry joined with its raw vector.
type embeddingItem struct {
	ID        string    `json:"id"`
	Data      string    `json:"data"`
	Embedding []float32 `json:"embedding"`
}

// embeddings handles POST /api/v1/embeddings — entries joined with raw
// vectors, the scatter data behind the graph view. Entries without an
// embedding are silently absent.
func (h *graphHandler) embeddings(w http.ResponseWriter, r *http.Request) {
	var req embeddingsRequest
	if err := decodeBody(w, r, &req, h.logger); err != nil {
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids_required", "ids are required", h.logger)
		return
	}

	ids := make([]uuid.UUID, 0, len(req.IDs))
	for _, raw := range req.IDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_id", "invalid id in ids list", h.logger)
			return
		}
		ids = append(ids, id)
	}

	embedded, err := h.store.GetManyEmbedded(r.Context(), ids)
	if err != nil {
		h.logger.Error("loading embeddings", "error", err)
		writeError(w, http.StatusInternalServerError, "embeddings_failed", "failed to load embeddings", h.logger)
		return
	}

	items := make([]embeddingItem, len(embedded))
	for i, e := range embedded {
		items[i] = embeddingItem{
			ID:        e.ID.String(),
			Data:      e.Data,
			Embedding: e.Embedding,
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"embeddings": items}, h.logger)
}
