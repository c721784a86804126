package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/your-commonbase/commonbase/internal/ai"
	"github.com/your-commonbase/commonbase/internal/entry"
)

// synthesizeHandler turns a set of entries into a new synthesized entry.
type synthesizeHandler struct {
	store       EntryStore
	linker      Linker
	synthesizer ai.Synthesizer
	embedder    ai.Embedder
	logger      *slog.Logger
}

// synthesizeRequest is the request body for POST /api/v1/synthesize.
type synthesizeRequest struct {
	Prompt string   `json:"prompt"`
	IDs    []string `json:"ids"`
}

// synthesize handles POST /api/v1/synthesize: load the source entries,
// feed their concatenated data to the synthesis provider and save the
// result as a new type:"synthesis" entry linked to its sources.
func (h *synthesizeHandler) synthesize(w http.ResponseWriter, r *http.Request) {
	if h.synthesizer == nil {
		writeError(w, http.StatusServiceUnavailable, "synthesis_disabled", "synthesis is not configured", h.logger)
		return
	}

	var req synthesizeRequest
	if err := decodeBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt_required", "prompt is required", h.logger)
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

	sources, err := h.store.GetMany(r.Context(), ids)
	if err != nil {
		h.logger.Error("loading synthesis sources", "error", err)
		writeError(w, http.StatusInternalServerError, "synthesize_failed", "failed to load entries", h.logger)
		return
	}
	if len(sources) == 0 {
		writeError(w, http.StatusNotFound, "not_found", "no entries found for the given ids", h.logger)
		return
	}

	parts := make([]string, len(sources))
	for i, s := range sources {
		parts[i] = s.Data
	}

	result, err := h.synthesizer.Synthesize(r.Context(), req.Prompt, strings.Join(parts, "\n\n"))
	if err != nil {
		if mapEntryError(w, err, h.logger) {
			return
		}
		h.logger.Error("synthesis failed", "error", err)
		writeError(w, http.StatusInternalServerError, "synthesize_failed", "synthesis failed", h.logger)
		return
	}

	e, err := h.store.Create(r.Context(), result, entry.Metadata{Type: "synthesis"}, uuid.Nil)
	if err != nil {
		if mapEntryError(w, err, h.logger) {
			return
		}
		h.logger.Error("saving synthesis", "error", err)
		writeError(w, http.StatusInternalServerError, "synthesize_failed", "failed to save synthesis", h.logger)
		return
	}

	if h.embedder != nil {
		if vec, embedErr := h.embedder.Embed(r.Context(), result); embedErr != nil {
			h.logger.Warn("embedding synthesis failed", "id", e.ID, "error", embedErr)
		} else if upsertErr := h.store.UpsertEmbedding(r.Context(), e.ID, vec); upsertErr != nil {
			h.logger.Warn("storing synthesis embedding failed", "id", e.ID, "error", upsertErr)
		}
	}

	// Link the synthesis to the sources it was built from. Only ids that
	// actually resolved take part.
	sourceIDs := make([]uuid.UUID, len(sources))
	for i, s := range sources {
		sourceIDs[i] = s.ID
	}
	if joinErr := h.linker.Join(r.Context(), e.ID, sourceIDs); joinErr != nil {
		h.logger.Warn("linking synthesis to sources", "id", e.ID, "error", joinErr)
	}

	final, err := h.store.Get(r.Context(), e.ID)
	if err != nil {
		final = e
	}

	writeJSON(w, http.StatusCreated, final, h.logger)
}
