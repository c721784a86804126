package api

import (
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/your-commonbase/commonbase/internal/ingest"
)

const maxBulkUploadBytes = 50 << 20 // 50MB

// bulkHandler serves CSV bulk ingestion and dataset teardown.
type bulkHandler struct {
	runner    BulkRunner
	store     EntryStore
	assetsDir string
	logger    *slog.Logger
}

// upload handles POST /api/v1/bulk/upload.
//
// Two modes: a multipart "file" field with an inline CSV, or a JSON body
// {"type": "quotes"|"images"} selecting a named seed dataset under the
// assets dir.
func (h *bulkHandler) upload(w http.ResponseWriter, r *http.Request) {
	if h.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "bulk_disabled", "bulk ingestion is not configured", h.logger)
		return
	}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		h.uploadFile(w, r)
		return
	}
	h.uploadDataset(w, r)
}

func (h *bulkHandler) uploadFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBulkUploadBytes)
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file_required", "CSV file is required", h.logger)
		return
	}
	defer file.Close()

	report, err := h.runner.Run(r.Context(), file, ingest.Options{})
	if err != nil {
		h.logger.Error("bulk upload failed", "error", err)
		writeError(w, http.StatusBadRequest, "invalid_csv", "failed to process CSV", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, report, h.logger)
}

// datasetRequest selects a named seed dataset.
type datasetRequest struct {
	Type string `json:"type"`
}

func (h *bulkHandler) uploadDataset(w http.ResponseWriter, r *http.Request) {
	name, ok := h.datasetFromBody(w, r)
	if !ok {
		return
	}

	path, opts, err := ingest.SeedFile(h.assetsDir, name)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown_dataset", err.Error(), h.logger)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		h.logger.Error("opening seed dataset", "error", err, "path", path)
		writeError(w, http.StatusInternalServerError, "dataset_unavailable", "seed dataset not available", h.logger)
		return
	}
	defer f.Close()

	report, err := h.runner.Run(r.Context(), f, opts)
	if err != nil {
		h.logger.Error("seed dataset ingest failed", "error", err, "dataset", name)
		writeError(w, http.StatusInternalServerError, "ingest_failed", "failed to ingest dataset", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, report, h.logger)
}

// deleteDataset handles POST /api/v1/bulk/delete — removes every entry whose
// id appears in the named seed CSV. Embeddings go with them via the cascade.
func (h *bulkHandler) deleteDataset(w http.ResponseWriter, r *http.Request) {
	name, ok := h.datasetFromBody(w, r)
	if !ok {
		return
	}

	path, _, err := ingest.SeedFile(h.assetsDir, name)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown_dataset", err.Error(), h.logger)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		h.logger.Error("opening seed dataset", "error", err, "path", path)
		writeError(w, http.StatusInternalServerError, "dataset_unavailable", "seed dataset not available", h.logger)
		return
	}
	defer f.Close()

	ids, err := ingest.CollectIDs(f)
	if err != nil {
		h.logger.Error("collecting dataset ids", "error", err, "dataset", name)
		writeError(w, http.StatusInternalServerError, "delete_failed", "failed to read dataset ids", h.logger)
		return
	}

	deleted, err := h.store.DeleteMany(r.Context(), ids)
	if err != nil {
		h.logger.Error("deleting dataset entries", "error", err, "dataset", name)
		writeError(w, http.StatusInternalServerError, "delete_failed", "failed to delete dataset entries", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "deleted",
		"deleted": deleted,
	}, h.logger)
}

func (h *bulkHandler) datasetFromBody(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req datasetRequest
	if err := decodeBody(w, r, &req, h.logger); err != nil {
		return "", false
	}
	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "type_required", "dataset type is required", h.logger)
		return "", false
	}
	return req.Type, true
}
