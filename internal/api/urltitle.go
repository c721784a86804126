package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	titleFetchTimeout   = 10 * time.Second
	titleFetchUserAgent = "Mozilla/5.0 (compatible; CommonbaseBot/1.0)"
)

// titleHandler resolves page titles for pasted URLs.
type titleHandler struct {
	client *http.Client
	logger *slog.Logger
}

func newTitleHandler(logger *slog.Logger) *titleHandler {
	return &titleHandler{
		client: &http.Client{Timeout: titleFetchTimeout},
		logger: logger,
	}
}

// titleRequest is the request body for POST /api/v1/fetch-url-title.
type titleRequest struct {
	URL string `json:"url"`
}

// fetchTitle handles POST /api/v1/fetch-url-title. Only http and https
// URLs are fetched. The title is resolved from <title>, then og:title,
// then twitter:title.
func (h *titleHandler) fetchTitle(w http.ResponseWriter, r *http.Request) {
	var req titleRequest
	if err := decodeBody(w, r, &req, h.logger); err != nil {
		return
	}

	parsed, err := url.Parse(req.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		writeError(w, http.StatusBadRequest, "invalid_url", "url must be http or https", h.logger)
		return
	}

	title, err := h.pageTitle(r, parsed.String())
	if err != nil {
		h.logger.Warn("fetching page title", "url", parsed.String(), "error", err)
		writeError(w, http.StatusBadGateway, "fetch_failed", "failed to fetch page title", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"title": title}, h.logger)
}

func (h *titleHandler) pageTitle(r *http.Request, target string) (string, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", titleFetchUserAgent)

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("parsing HTML: %w", err)
	}

	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return title, nil
	}
	if title, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && strings.TrimSpace(title) != "" {
		return strings.TrimSpace(title), nil
	}
	if title, ok := doc.Find(`meta[name="twitter:title"]`).Attr("content"); ok && strings.TrimSpace(title) != "" {
		return strings.TrimSpace(title), nil
	}
	return "", fmt.Errorf("no title found")
}
