package ratelimit

import (
	"context"
	"time"

	"planforge/pkg/agent/llm"
	"planforge/pkg/agent/llmerrors"
	"planforge/pkg/agent/middleware/metrics"
)

// Middleware gates every request through limiter. A wait that ends because the
// caller's context expired is reported as a rate_limit error.
func Middleware(limiter *Limiter, recorder metrics.Recorder) llm.Middleware {
	if recorder == nil {
		recorder = metrics.Nop()
	}
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				model := next.GetModelName()
				if limiter.Throttled() {
					recorder.IncThrottle(model, "limit")
					limiter.logger.Scoped(ctx).Info("RATELIMIT: %s throttled, waiting", limiter.name)
				}

				start := time.Now()
				release, err := limiter.Acquire(ctx)
				recorder.ObserveQueueWait(model, time.Since(start))
				if err != nil {
					return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeRateLimit, err, "rate limit wait aborted")
				}
				defer release()

				return next.Complete(ctx, req)
			},
			next.GetModelName,
		)
	}
}
