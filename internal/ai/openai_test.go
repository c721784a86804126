package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-commonbase/commonbase/internal/entry"
)

func testConfig(baseURL string) Config {
	return Config{
		APIKey:             "test-key",
		BaseURL:            baseURL,
		EmbedderModel:      "text-embedding-3-small",
		SynthesisModel:     "gpt-4o",
		TranscriptionModel: "gpt-4o",
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(Config{EmbedderModel: "m"})
	require.Error(t, err)

	_, err = New(Config{APIKey: "k"})
	require.Error(t, err, "embedder model is required")

	c, err := New(testConfig(""))
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestClientEmbed(t *testing.T) {
	vec := make([]float64, entry.EmbeddingDim)
	vec[0] = 0.25

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/embeddings"), "unexpected path %s", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-small", req["model"])
		assert.Equal(t, "hello", req["input"])

		resp := map[string]any{
			"data":  []map[string]any{{"embedding": vec, "index": 0, "object": "embedding"}},
			"model": "text-embedding-3-small",
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	c, err := New(testConfig(srv.URL))
	require.NoError(t, err)

	got, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	require.Len(t, got, entry.EmbeddingDim)
	assert.InDelta(t, 0.25, got[0], 1e-6)
}

func TestClientEmbedWrongDimension(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		resp := map[string]any{
			"data": []map[string]any{{"embedding": []float64{1, 2, 3}, "index": 0, "object": "embedding"}},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c, err := New(testConfig(srv.URL))
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), "hello")
	require.ErrorIs(t, err, ErrProvider)
	assert.Contains(t, err.Error(), "dimensions")
}

func TestClientEmbedProviderFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"rate limited"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, err := New(testConfig(srv.URL))
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), "hello")
	require.ErrorIs(t, err, ErrProvider)
}

func TestClientEmbedEmptyText(t *testing.T) {
	c, err := New(testConfig(""))
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), "")
	require.Error(t, err)
}

func TestClientSynthesize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o", req["model"])
		assert.EqualValues(t, synthesisMaxTokens, req["max_tokens"])

		msgs, ok := req["messages"].([]any)
		require.True(t, ok)
		require.Len(t, msgs, 2)

		user := msgs[1].(map[string]any)
		content := user["content"].(string)
		assert.Contains(t, content, "summarize these")
		assert.Contains(t, content, "entry one")

		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "a synthesis"}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	c, err := New(testConfig(srv.URL))
	require.NoError(t, err)

	got, err := c.Synthesize(context.Background(), "summarize these", "entry one\n\nentry two")
	require.NoError(t, err)
	assert.Equal(t, "a synthesis", got)
}

func TestClientTranscribeImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		msgs := req["messages"].([]any)
		require.Len(t, msgs, 1)
		parts := msgs[0].(map[string]any)["content"].([]any)
		require.Len(t, parts, 2)

		img := parts[1].(map[string]any)["image_url"].(map[string]any)
		url := img["url"].(string)
		assert.True(t, strings.HasPrefix(url, "data:image/png;base64,"), "got %s", url)

		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "a red square"}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	c, err := New(testConfig(srv.URL))
	require.NoError(t, err)

	got, err := c.TranscribeImage(context.Background(), []byte{0x89, 0x50}, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "a red square", got)
}

func TestClientTranscribeImageEmpty(t *testing.T) {
	c, err := New(testConfig(""))
	require.NoError(t, err)

	_, err = c.TranscribeImage(context.Background(), nil, "")
	require.Error(t, err)
}
