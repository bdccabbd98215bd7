package llm

import (
	"context"
	"time"

	"github.com/m4xw311/frend/errors"
	"github.com/m4xw311/frend/metrics"
	"golang.org/x/time/rate"
)

// RateLimitedClient waits for a token before every call.
type RateLimitedClient struct {
	next    LLMClient
	limiter *rate.Limiter
}

// RateLimited wraps next so that at most rps calls per second start, with
// the given burst. A non-positive rps returns next unchanged.
func RateLimited(next LLMClient, rps float64, burst int) LLMClient {
	if rps <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedClient{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (r *RateLimitedClient) Chat(ctx context.Context, req Request) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", errors.Wrapf(err, "rate limiter")
	}
	return r.next.Chat(ctx, req)
}

// InstrumentedClient records request counts and latency for every call.
type InstrumentedClient struct {
	next     LLMClient
	provider string
	model    string
}

// Instrumented wraps next with Prometheus metrics labelled by provider and
// model.
func Instrumented(next LLMClient, provider, model string) LLMClient {
	if provider == "" {
		provider = "mock"
	}
	return &InstrumentedClient{next: next, provider: provider, model: model}
}

func (i *InstrumentedClient) Chat(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	text, err := i.next.Chat(ctx, req)
	metrics.ProviderLatency.WithLabelValues(i.provider, i.model).Observe(time.Since(start).Seconds())

	status := "ok"
	switch {
	case errors.Is(err, ErrEmptyReply):
		status = "empty"
	case err != nil:
		status = "error"
	}
	metrics.ProviderRequestsTotal.WithLabelValues(i.provider, i.model, status).Inc()
	return text, err
}
