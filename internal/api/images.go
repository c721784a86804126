package api

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/your-commonbase/commonbase/internal/entry"
)

const maxImageBytes = 10 << 20 // 10MB

// addImage handles POST /api/v1/add/image — multipart upload.
//
// The image is saved under the assets dir and transcribed via the vision
// provider; transcription failure fails the request since the transcription
// is the entry's searchable data. With a "link" form field the entry
// becomes a comment on the parent: isComment, link and backlinks point at
// the parent and the parent's title and source carry over.
func (h *entryHandler) addImage(w http.ResponseWriter, r *http.Request) {
	if h.transcriber == nil {
		writeError(w, http.StatusServiceUnavailable, "transcription_disabled", "image transcription is not configured", h.logger)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxImageBytes)
	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "image_required", "image file is required", h.logger)
		return
	}
	defer file.Close()

	image, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read_failed", "failed to read image", h.logger)
		return
	}

	md := entry.Metadata{}
	if raw := r.FormValue("metadata"); raw != "" {
		if jsonErr := json.Unmarshal([]byte(raw), &md); jsonErr != nil {
			writeError(w, http.StatusBadRequest, "invalid_metadata", "metadata must be a JSON object", h.logger)
			return
		}
	}

	var parentID uuid.UUID
	if raw := r.FormValue("link"); raw != "" {
		parentID, err = uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_link", "invalid parent link id", h.logger)
			return
		}
	}

	transcription, err := h.transcriber.TranscribeImage(r.Context(), image, imageMIME(header))
	if err != nil {
		if mapEntryError(w, err, h.logger) {
			return
		}
		h.logger.Error("transcribing image", "error", err)
		writeError(w, http.StatusInternalServerError, "transcription_failed", "failed to transcribe image", h.logger)
		return
	}

	filename, err := h.saveImage(image, header.Filename)
	if err != nil {
		h.logger.Error("saving image", "error", err)
		writeError(w, http.StatusInternalServerError, "save_failed", "failed to save image", h.logger)
		return
	}

	md.Filename = filename
	md.OriginalFilename = header.Filename
	md.Source = path.Join("/assets/uploads", filename)
	md.Type = "image"

	if parentID != uuid.Nil {
		parent, parentErr := h.store.Get(r.Context(), parentID)
		if parentErr != nil {
			if mapEntryError(w, parentErr, h.logger) {
				return
			}
			h.logger.Error("loading parent entry", "error", parentErr, "id", parentID)
			writeError(w, http.StatusInternalServerError, "add_failed", "failed to load parent entry", h.logger)
			return
		}
		md.IsComment = true
		md.Link = parentID.String()
		md.Backlinks = []string{parentID.String()}
		if md.Title == "" {
			md.Title = parent.Metadata.Title
		}
		md.ParentSource = parent.Metadata.Source
	}

	e, err := h.store.Create(r.Context(), transcription, md, uuid.Nil)
	if err != nil {
		if mapEntryError(w, err, h.logger) {
			return
		}
		h.logger.Error("creating image entry", "error", err)
		writeError(w, http.StatusInternalServerError, "add_failed", "failed to create entry", h.logger)
		return
	}

	h.embedBestEffort(r, e.ID, e.Data)

	if parentID != uuid.Nil {
		// The parent's forward link to the comment is best-effort, like the
		// backlink on a plain add.
		_, linkErr := h.store.MutateMetadata(r.Context(), parentID, func(md *entry.Metadata) error {
			md.AddLink(e.ID.String())
			return nil
		})
		if linkErr != nil {
			h.logger.Warn("failed to link parent to comment",
				"parent_id", parentID, "comment_id", e.ID, "error", linkErr)
		}
	}

	writeJSON(w, http.StatusCreated, e, h.logger)
}

// saveImage writes the upload under <assetsDir>/uploads with a fresh UUID
// name, keeping the original extension.
func (h *entryHandler) saveImage(image []byte, originalName string) (string, error) {
	ext := strings.ToLower(filepath.Ext(originalName))
	if ext == "" {
		ext = ".jpg"
	}
	filename := uuid.New().String() + ext

	dir := filepath.Join(h.assetsDir, "uploads")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating uploads dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, filename), image, 0o644); err != nil {
		return "", fmt.Errorf("writing image: %w", err)
	}
	return filename, nil
}

// imageMIME picks the MIME type from the upload header, falling back to the
// file extension.
func imageMIME(header *multipart.FileHeader) string {
	if ct := header.Header.Get("Content-Type"); ct != "" && ct != "application/octet-stream" {
		return ct
	}
	switch strings.ToLower(filepath.Ext(header.Filename)) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
