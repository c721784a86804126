// Package ai defines the provider contracts for embedding, text synthesis
// and image transcription, plus the OpenAI implementation.
//
// Consumers depend on the small interfaces, never on the OpenAI client
// directly, so tests substitute fakes and the provider can be swapped
// without touching callers.
package ai

import (
	"context"
	"errors"
)

// ErrProvider wraps failures returned by the underlying AI provider.
// Callers that tolerate degraded behavior (search without the semantic
// half, entries without embeddings) check for it with errors.Is.
var ErrProvider = errors.New("ai provider error")

// Embedder converts text into a fixed-dimension vector.
type Embedder interface {
	// Embed returns the embedding vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Synthesizer generates prose from a prompt over source material.
type Synthesizer interface {
	// Synthesize produces a cohesive text for prompt applied to content.
	Synthesize(ctx context.Context, prompt, content string) (string, error)
}

// Transcriber describes an image as text.
type Transcriber interface {
	// TranscribeImage returns a textual description of the image bytes.
	// mimeType is the image content type (e.g. image/jpeg).
	TranscribeImage(ctx context.Context, image []byte, mimeType string) (string, error)
}
