package embedding

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/c360/embedatlas/pkg/retry"
)

// RemoteAPI calls a cloud embedding API. Unlike SentenceEncoder it
// retries transient failures per batch, since cloud endpoints rate-limit
// and flake in ways a local encoder does not.
type RemoteAPI struct {
	client *openai.Client
	retry  retry.Config
	logger *slog.Logger
}

// RemoteConfig configures a RemoteAPI producer.
type RemoteConfig struct {
	// BaseURL defaults to the OpenAI API.
	BaseURL string

	// APIKey is required.
	APIKey string

	// Timeout per HTTP request (default 30s).
	Timeout time.Duration

	// Retry overrides the default backoff policy when MaxAttempts > 0.
	Retry retry.Config

	Logger *slog.Logger
}

// NewRemoteAPI creates a cloud embedding producer.
func NewRemoteAPI(cfg RemoteConfig) (*RemoteAPI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api_key is required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}

	retryCfg := cfg.Retry
	if retryCfg.MaxAttempts == 0 {
		retryCfg = retry.DefaultConfig()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &RemoteAPI{
		client: openai.NewClientWithConfig(clientCfg),
		retry:  retryCfg,
		logger: logger,
	}, nil
}

// Produce embeds items in batches, retrying each batch on transient
// failures. It satisfies the Producer signature.
func (r *RemoteAPI) Produce(ctx context.Context, items []string, batchSize int, model string) ([][]float32, error) {
	if len(items) == 0 {
		return [][]float32{}, nil
	}

	out := make([][]float32, 0, len(items))
	for _, batch := range batches(items, batchSize) {
		vectors, err := retry.DoWithResult(ctx, r.retry, func() ([][]float32, error) {
			return r.embedBatch(ctx, batch, model)
		})
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}

	r.logger.Debug("embedded items via remote API", "count", len(items), "model", model)
	return StackVectors(out)
}

func (r *RemoteAPI) embedBatch(ctx context.Context, batch []string, model string) ([][]float32, error) {
	resp, err := r.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: batch,
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		if !isRetryableAPIError(err) {
			return nil, retry.NonRetryable(err)
		}
		return nil, fmt.Errorf("embedding API request: %w", err)
	}
	if len(resp.Data) != len(batch) {
		return nil, retry.NonRetryable(fmt.Errorf(
			"API returned %d embeddings for %d items", len(resp.Data), len(batch)))
	}

	vectors := make([][]float32, len(batch))
	for i, d := range resp.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

// isRetryableAPIError treats rate limits and server-side failures as
// transient; auth and validation errors fail immediately.
func isRetryableAPIError(err error) bool {
	var apiErr *openai.APIError
	if stderrors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests ||
			apiErr.HTTPStatusCode >= 500
	}
	// Connection-level failures (timeouts, resets) have no APIError.
	return true
}

// Producer adapts the remote API to the Producer function type.
func (r *RemoteAPI) Producer() Producer {
	return r.Produce
}
