package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/your-commonbase/commonbase/internal/ai"
	"github.com/your-commonbase/commonbase/internal/entry"
)

// mapEntryError translates store and provider sentinels to HTTP responses.
// Returns true if the error was handled (response written).
func mapEntryError(w http.ResponseWriter, err error, logger *slog.Logger) bool {
	switch {
	case errors.Is(err, entry.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "entry not found", logger)
		return true
	case errors.Is(err, entry.ErrNoEmbedding):
		writeError(w, http.StatusNotFound, "no_embedding", "entry has no embedding", logger)
		return true
	case errors.Is(err, entry.ErrExists):
		writeError(w, http.StatusConflict, "already_exists", "entry already exists", logger)
		return true
	case errors.Is(err, ai.ErrProvider):
		writeError(w, http.StatusBadGateway, "provider_error", "AI provider request failed", logger)
		return true
	}
	return false
}
