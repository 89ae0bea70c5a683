package embedding

import (
	"context"
	"errors"
	"fmt"
	"net"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/arguendo/recall/config"
)

// OpenAIProvider embeds text through the OpenAI embeddings API. Requests are
// rate limited client-side when the config asks for it.
type OpenAIProvider struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
	batchSize  int
	limiter    *rate.Limiter
}

// NewOpenAIProvider builds a provider from the embedder config. The API key
// is required; the model defaults to text-embedding-3-small.
func NewOpenAIProvider(cfg config.EmbedderConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai embedder requires an api key")
	}
	if cfg.Dimensions <= 0 {
		return nil, errors.New("openai embedder requires a positive dimension")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	model := openai.EmbeddingModel(cfg.Model)
	if cfg.Model == "" {
		model = openai.SmallEmbedding3
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 64
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &OpenAIProvider{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      model,
		dimensions: cfg.Dimensions,
		batchSize:  batchSize,
		limiter:    limiter,
	}, nil
}

func (p *OpenAIProvider) wait(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}

// Embed converts one text into a vector.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      p.model,
		Dimensions: p.dimensions,
	})
	if err != nil {
		return nil, wrapAPIError(err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrModelUnavailable)
	}

	vec := resp.Data[0].Embedding
	if err := checkDimensions(vec, p.dimensions); err != nil {
		return nil, err
	}
	return vec, nil
}

// EmbedBatch converts texts in chunks bounded by the configured batch size.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += p.batchSize {
		end := start + p.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		chunk := texts[start:end]

		if err := p.wait(ctx); err != nil {
			return nil, err
		}
		resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input:      chunk,
			Model:      p.model,
			Dimensions: p.dimensions,
		})
		if err != nil {
			return nil, wrapAPIError(err)
		}
		if len(resp.Data) != len(chunk) {
			return nil, fmt.Errorf("embed batch: got %d vectors for %d texts", len(resp.Data), len(chunk))
		}
		for _, d := range resp.Data {
			if err := checkDimensions(d.Embedding, p.dimensions); err != nil {
				return nil, err
			}
			out = append(out, d.Embedding)
		}
	}
	return out, nil
}

// Dimensions returns the configured embedding dimension.
func (p *OpenAIProvider) Dimensions() int {
	return p.dimensions
}

// Close releases nothing; the underlying client has no persistent state.
func (p *OpenAIProvider) Close() error {
	return nil
}

// wrapAPIError classifies provider errors so callers can decide whether a
// retry is worthwhile. Network failures and 5xx responses map to
// ErrModelUnavailable.
func wrapAPIError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode >= 500 {
		return fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}

	return err
}
