package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/helixml/vecmatch/domain/search"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/errgroup"
)

// Defaults applied when a config field is zero.
const (
	DefaultModel            = "text-embedding-3-small"
	DefaultMaxRetries       = 5
	DefaultInitialDelay     = 2 * time.Second
	DefaultBackoffFactor    = 2.0
	DefaultMaxBatchSize     = 256
	DefaultNumParallelTasks = 1
)

// errEmbeddingCountMismatch indicates the API returned a different number of
// vectors than requested. This is retryable because transient upstream issues
// (e.g. rate-limiting behind a 200 status) can produce partial responses.
var errEmbeddingCountMismatch = errors.New("embedding response count mismatch")

// errUpstreamProviderFailure indicates the API returned HTTP 200 but the
// body carried no data, no model and no usage. Routing providers do this when
// every upstream fails; retrying does not help.
var errUpstreamProviderFailure = errors.New("upstream provider failure")

// OpenAIProvider embeds text through an OpenAI-compatible embeddings API.
type OpenAIProvider struct {
	client        *openai.Client
	model         string
	dimension     int
	maxRetries    int
	initialDelay  time.Duration
	backoffFactor float64
	maxBatchSize  int
	parallel      int
	logger        *slog.Logger
}

// OpenAIConfig holds configuration for the OpenAI provider.
type OpenAIConfig struct {
	APIKey           string
	BaseURL          string
	Model            string
	Dimension        int
	Timeout          time.Duration
	MaxRetries       int
	InitialDelay     time.Duration
	BackoffFactor    float64
	MaxBatchSize     int
	NumParallelTasks int
	HTTPCacheDir     string
	Logger           *slog.Logger
}

// NewOpenAIProviderFromConfig creates a provider from configuration. A
// negative MaxRetries disables retries. When HTTPCacheDir is set, successful
// responses are cached on disk.
func NewOpenAIProviderFromConfig(cfg OpenAIConfig) (*OpenAIProvider, error) {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	if cfg.HTTPCacheDir != "" {
		transport, err := NewCachingTransport(cfg.HTTPCacheDir, nil)
		if err != nil {
			return nil, fmt.Errorf("create http cache: %w", err)
		}
		httpClient.Transport = transport
	}
	config.HTTPClient = httpClient

	p := &OpenAIProvider{
		client:        openai.NewClientWithConfig(config),
		model:         cfg.Model,
		dimension:     cfg.Dimension,
		maxRetries:    cfg.MaxRetries,
		initialDelay:  cfg.InitialDelay,
		backoffFactor: cfg.BackoffFactor,
		maxBatchSize:  cfg.MaxBatchSize,
		parallel:      cfg.NumParallelTasks,
		logger:        cfg.Logger,
	}
	if p.model == "" {
		p.model = DefaultModel
	}
	switch {
	case p.maxRetries == 0:
		p.maxRetries = DefaultMaxRetries
	case p.maxRetries < 0:
		p.maxRetries = 0
	}
	if p.initialDelay == 0 {
		p.initialDelay = DefaultInitialDelay
	}
	if p.backoffFactor == 0 {
		p.backoffFactor = DefaultBackoffFactor
	}
	if p.maxBatchSize <= 0 {
		p.maxBatchSize = DefaultMaxBatchSize
	}
	if p.parallel <= 0 {
		p.parallel = DefaultNumParallelTasks
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p, nil
}

// Model returns the embedding model name.
func (p *OpenAIProvider) Model() string { return p.model }

// Close is a no-op for the OpenAI provider.
func (p *OpenAIProvider) Close() error {
	return nil
}

// Embed returns one vector per text, in input order. The texts are sent in
// sub-requests of at most the configured batch size, several at a time. Any
// failing sub-request fails the whole call.
func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if p.client == nil {
		return nil, ErrUnsupportedOperation
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	result := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallel)

	for start := 0; start < len(texts); start += p.maxBatchSize {
		end := min(start+p.maxBatchSize, len(texts))
		g.Go(func() error {
			vectors, err := p.embedBatch(gctx, texts[start:end])
			if err != nil {
				return err
			}
			copy(result[start:end], vectors)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

func (p *OpenAIProvider) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(p.model),
		Input: texts,
	}

	var resp openai.EmbeddingResponse
	err := p.withRetry(ctx, func() error {
		var err error
		resp, err = p.client.CreateEmbeddings(ctx, req)
		if err != nil {
			return err
		}
		if len(resp.Data) == 0 && string(resp.Model) == "" && resp.Usage.TotalTokens == 0 {
			return fmt.Errorf(
				"%w: provider returned HTTP 200 with no embedding data, no model, and zero usage",
				errUpstreamProviderFailure,
			)
		}
		if len(resp.Data) != len(texts) {
			return fmt.Errorf("%w: got %d vectors for %d texts", errEmbeddingCountMismatch, len(resp.Data), len(texts))
		}
		return nil
	})
	if err != nil {
		return nil, p.wrapError("embedding", err)
	}

	vectors := make([][]float32, len(texts))
	for i, data := range resp.Data {
		idx := data.Index
		if idx < 0 || idx >= len(texts) || vectors[idx] != nil {
			idx = i
		}
		if p.dimension > 0 && len(data.Embedding) != p.dimension {
			return nil, NewProviderError("embedding", 0,
				fmt.Sprintf("got %d dimensions, want %d", len(data.Embedding), p.dimension),
				ErrUnexpectedDimension)
		}
		vectors[idx] = data.Embedding
	}
	for i, v := range vectors {
		if v == nil {
			return nil, NewProviderError("embedding", 0, fmt.Sprintf("missing vector for input %d", i), errEmbeddingCountMismatch)
		}
	}
	return vectors, nil
}

// withRetry executes the function with exponential backoff retry.
func (p *OpenAIProvider) withRetry(ctx context.Context, fn func() error) error {
	delay := p.initialDelay
	var lastErr error

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if !p.isRetryable(lastErr) {
			return lastErr
		}

		if attempt < p.maxRetries {
			p.logger.WarnContext(ctx, "embedding request failed, retrying",
				slog.Int("attempt", attempt+1),
				slog.Duration("delay", delay),
				slog.String("error", lastErr.Error()),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
				delay = time.Duration(float64(delay) * p.backoffFactor)
			}
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// isRetryable determines if an error should be retried.
func (p *OpenAIProvider) isRetryable(err error) bool {
	if errors.Is(err, errEmbeddingCountMismatch) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
		return false
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		switch {
		case reqErr.HTTPStatusCode == http.StatusTooManyRequests,
			reqErr.HTTPStatusCode >= http.StatusInternalServerError:
			return true
		case reqErr.HTTPStatusCode >= http.StatusBadRequest:
			return false
		}
		return true
	}

	return false
}

// wrapError wraps an OpenAI error into a ProviderError.
func (p *OpenAIProvider) wrapError(operation string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return NewProviderError(operation, apiErr.HTTPStatusCode, apiErr.Message, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return NewProviderError(operation, reqErr.HTTPStatusCode, reqErr.Error(), err)
	}

	return NewProviderError(operation, 0, err.Error(), err)
}

var _ search.Embedder = (*OpenAIProvider)(nil)
