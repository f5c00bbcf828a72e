package ai

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/pathforge/internal/retry"
)

// Embedder is the narrow embedding contract consumed by the resilient wrapper.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// ChatModel is the narrow generation contract.
type ChatModel interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ResilientEmbedder wraps an Embedder with a rate limiter, per-call timeout,
// and exponential-backoff retries. A timeout cancels only the one call in
// flight; exhaustion surfaces the last provider error to the caller.
type ResilientEmbedder struct {
	embedder    Embedder
	retryConfig retry.Config
	limiter     *rate.Limiter
	timeout     time.Duration
}

// ResilientOptions configures the wrapper.
type ResilientOptions struct {
	Retry        retry.Config
	RateLimitRPS float64
	Timeout      time.Duration
}

// DefaultResilientOptions returns wrapper defaults tuned for hosted embedding
// providers.
func DefaultResilientOptions() ResilientOptions {
	return ResilientOptions{
		Retry:        retry.ProviderConfig(),
		RateLimitRPS: 5,
		Timeout:      45 * time.Second,
	}
}

// NewResilientEmbedder wraps embedder with retries, rate limiting and timeouts.
func NewResilientEmbedder(embedder Embedder, opts ResilientOptions) *ResilientEmbedder {
	rps := opts.RateLimitRPS
	if rps <= 0 {
		rps = 5
	}
	return &ResilientEmbedder{
		embedder:    embedder,
		retryConfig: opts.Retry,
		limiter:     rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		timeout:     opts.Timeout,
	}
}

// EmbedTexts embeds a batch of texts with full resiliency.
func (r *ResilientEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	var vectors [][]float32

	result := retry.WithBackoff(ctx, r.retryConfig, "embed_texts", func() error {
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}

		callCtx, cancel := r.callContext(ctx)
		defer cancel()

		v, err := r.embedder.EmbedTexts(callCtx, texts)
		if err != nil {
			return err
		}
		vectors = v
		return nil
	})

	if !result.Success {
		return nil, result.LastError
	}
	return vectors, nil
}

// EmbedQuery embeds one query string with full resiliency.
func (r *ResilientEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	var vector []float32

	result := retry.WithBackoff(ctx, r.retryConfig, "embed_query", func() error {
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}

		callCtx, cancel := r.callContext(ctx)
		defer cancel()

		v, err := r.embedder.EmbedQuery(callCtx, text)
		if err != nil {
			return err
		}
		vector = v
		return nil
	})

	if !result.Success {
		return nil, result.LastError
	}
	return vector, nil
}

func (r *ResilientEmbedder) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}
