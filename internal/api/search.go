package api

import (
	"log/slog"
	"net/http"

	"github.com/your-commonbase/commonbase/internal/search"
)

// searchHandler serves hybrid search.
type searchHandler struct {
	engine Searcher
	logger *slog.Logger
}

// searchOptions tune one half of a hybrid search.
type searchOptions struct {
	Limit     int      `json:"limit"`
	Threshold *float64 `json:"threshold"`
}

// searchHalf enables a half. Missing options run the half with the
// configured defaults.
type searchHalf struct {
	Options *searchOptions `json:"options"`
}

// searchTypes selects which halves run. A request that names only one
// half disables the other.
type searchTypes struct {
	Semantic *searchHalf `json:"semantic"`
	Fulltext *searchHalf `json:"fulltext"`
}

// searchRequest is the wire shape of POST /api/v1/search. Omitting types
// entirely runs both halves with defaults.
type searchRequest struct {
	Query string       `json:"query"`
	Types *searchTypes `json:"types"`
}

// search handles POST /api/v1/search. The response body is the result
// list itself: semantic hits first, then full-text, deduplicated.
func (h *searchHandler) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query_required", "query is required", h.logger)
		return
	}

	results, err := h.engine.Search(r.Context(), engineRequest(req))
	if err != nil {
		h.logger.Error("search failed", "error", err, "query", req.Query)
		writeError(w, http.StatusInternalServerError, "search_failed", "search failed", h.logger)
		return
	}
	if results == nil {
		results = []*search.Result{}
	}

	writeJSON(w, http.StatusOK, results, h.logger)
}

// engineRequest maps the wire shape onto the engine's request, where a
// nil half means disabled and two nil halves mean both run with defaults.
func engineRequest(req searchRequest) search.Request {
	out := search.Request{Query: req.Query}
	if req.Types == nil {
		return out
	}
	if req.Types.Semantic != nil {
		opts := &search.SemanticOptions{}
		if o := req.Types.Semantic.Options; o != nil {
			opts.Limit = o.Limit
			opts.Threshold = o.Threshold
		}
		out.Semantic = opts
	}
	if req.Types.Fulltext != nil {
		opts := &search.FulltextOptions{}
		if o := req.Types.Fulltext.Options; o != nil {
			opts.Limit = o.Limit
		}
		out.Fulltext = opts
	}
	return out
}
