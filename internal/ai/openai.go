package ai

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/your-commonbase/commonbase/internal/entry"
)

// synthesisSystemPrompt frames the synthesis model as an essay writer over
// multiple entries.
const synthesisSystemPrompt = "You are a helpful assistant that synthesizes ideas and creates cohesive essays from multiple text entries."

// transcribePrompt asks the vision model for a dense description suitable
// for search and embedding.
const transcribePrompt = "Describe this image in detail. Focus on the main content, text, and any important visual elements."

const (
	synthesisMaxTokens     = 800
	synthesisTemperature   = 0.7
	transcriptionMaxTokens = 500
)

// Config holds OpenAI client settings.
type Config struct {
	APIKey string
	// BaseURL overrides the API endpoint. Empty uses the default.
	// Tests point this at an httptest server.
	BaseURL            string
	EmbedderModel      string
	SynthesisModel     string
	TranscriptionModel string
}

// Client implements Embedder, Synthesizer and Transcriber on the OpenAI API.
type Client struct {
	client *openai.Client
	cfg    Config
}

var (
	_ Embedder    = (*Client)(nil)
	_ Synthesizer = (*Client)(nil)
	_ Transcriber = (*Client)(nil)
)

// New creates an OpenAI-backed Client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.EmbedderModel == "" {
		return nil, fmt.Errorf("embedder model is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	client := openai.NewClient(opts...)

	return &Client{client: &client, cfg: cfg}, nil
}

// Embed returns the embedding vector for text.
// The configured model must produce entry.EmbeddingDim dimensions.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("text is required")
	}

	resp, err := c.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(c.cfg.EmbedderModel),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: embedding: %v", ErrProvider, err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding response", ErrProvider)
	}

	raw := resp.Data[0].Embedding
	if len(raw) != entry.EmbeddingDim {
		return nil, fmt.Errorf("%w: embedding has %d dimensions, want %d",
			ErrProvider, len(raw), entry.EmbeddingDim)
	}

	vec := make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}
	return vec, nil
}

// Synthesize produces a cohesive text for prompt applied to content.
func (c *Client) Synthesize(ctx context.Context, prompt, content string) (string, error) {
	if prompt == "" || content == "" {
		return "", fmt.Errorf("prompt and content are required")
	}

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.cfg.SynthesisModel),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(synthesisSystemPrompt),
			openai.UserMessage(fmt.Sprintf("%s\n\nHere are the entries to synthesize:\n\n%s", prompt, content)),
		},
		MaxTokens:   openai.Int(synthesisMaxTokens),
		Temperature: openai.Float(synthesisTemperature),
	})
	if err != nil {
		return "", fmt.Errorf("%w: synthesis: %v", ErrProvider, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("%w: empty synthesis response", ErrProvider)
	}
	return resp.Choices[0].Message.Content, nil
}

// TranscribeImage returns a textual description of the image bytes.
// The image travels inline as a base64 data URL.
func (c *Client) TranscribeImage(ctx context.Context, image []byte, mimeType string) (string, error) {
	if len(image) == 0 {
		return "", fmt.Errorf("image is required")
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(image))

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.cfg.TranscriptionModel),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(transcribePrompt),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: dataURL,
				}),
			}),
		},
		MaxTokens: openai.Int(transcriptionMaxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("%w: transcription: %v", ErrProvider, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("%w: empty transcription response", ErrProvider)
	}
	return resp.Choices[0].Message.Content, nil
}
