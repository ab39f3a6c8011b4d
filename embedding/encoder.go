package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

// SentenceEncoder calls a local OpenAI-compatible encoder service.
//
// Works with Hugging Face TEI (Text Embeddings Inference), LocalAI, and
// any other service speaking the OpenAI embeddings API. Local services
// typically ignore the API key.
type SentenceEncoder struct {
	client *openai.Client
	logger *slog.Logger
}

// EncoderConfig configures a SentenceEncoder.
type EncoderConfig struct {
	// BaseURL of the encoder service, e.g. "http://localhost:8082/v1".
	BaseURL string

	// APIKey is optional for local services.
	APIKey string

	// Timeout per HTTP request (default 60s; encoders can be slow on
	// first load).
	Timeout time.Duration

	Logger *slog.Logger
}

// NewSentenceEncoder creates an encoder client.
func NewSentenceEncoder(cfg EncoderConfig) (*SentenceEncoder, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base_url is required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "unused"
	}

	clientCfg := openai.DefaultConfig(apiKey)
	clientCfg.BaseURL = cfg.BaseURL
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &SentenceEncoder{
		client: openai.NewClientWithConfig(clientCfg),
		logger: logger,
	}, nil
}

// Produce embeds items in batches of batchSize against the given model.
// It satisfies the Producer signature.
func (e *SentenceEncoder) Produce(ctx context.Context, items []string, batchSize int, model string) ([][]float32, error) {
	if len(items) == 0 {
		return [][]float32{}, nil
	}

	out := make([][]float32, 0, len(items))
	for _, batch := range batches(items, batchSize) {
		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: batch,
			Model: openai.EmbeddingModel(model),
		})
		if err != nil {
			return nil, fmt.Errorf("encoder request for %d items: %w", len(batch), err)
		}
		if len(resp.Data) != len(batch) {
			return nil, fmt.Errorf("encoder returned %d embeddings for %d items",
				len(resp.Data), len(batch))
		}
		for _, d := range resp.Data {
			out = append(out, d.Embedding)
		}
	}

	e.logger.Debug("encoded items", "count", len(items), "model", model)
	return StackVectors(out)
}

// Producer adapts the encoder to the Producer function type.
func (e *SentenceEncoder) Producer() Producer {
	return e.Produce
}
