package application

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"google.golang.org/grpc/backoff"

	"github.com/kerim-dauren/attribution-core/internal/domain"
)

// RetryPolicy bounds how often and how fast a request is retried. Backoff
// follows the gRPC connection backoff parameters.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     backoff.Config
}

// DefaultRetryPolicy returns sensible default configuration
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff: backoff.Config{
			BaseDelay:  500 * time.Millisecond,
			Multiplier: 2,
			Jitter:     0.2,
			MaxDelay:   30 * time.Second,
		},
	}
}

// Delay returns the wait before retry number retry (1 for the first retry).
func (p RetryPolicy) Delay(retry int) time.Duration {
	cfg := p.Backoff
	if retry <= 1 {
		return jitter(cfg.BaseDelay, cfg)
	}

	delay, ceiling := float64(cfg.BaseDelay), float64(cfg.MaxDelay)
	for n := retry - 1; delay < ceiling && n > 0; n-- {
		delay *= cfg.Multiplier
	}
	if delay > ceiling {
		delay = ceiling
	}

	return jitter(time.Duration(delay), cfg)
}

func jitter(d time.Duration, cfg backoff.Config) time.Duration {
	if cfg.Jitter <= 0 {
		return d
	}

	scaled := float64(d) * (1 + cfg.Jitter*(rand.Float64()*2-1))
	if scaled < 0 {
		return 0
	}
	return time.Duration(scaled)
}

// RetryingClient retries transient failures of the wrapped client: transport
// errors, timeouts and 5xx. Everything else, 4xx included, is final. Only
// the last operation reaches the caller's completion.
type RetryingClient struct {
	next   APIClient
	policy RetryPolicy
	logger *slog.Logger

	pending sync.WaitGroup
}

func NewRetryingClient(next APIClient, policy RetryPolicy, logger *slog.Logger) *RetryingClient {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &RetryingClient{
		next:   next,
		policy: policy,
		logger: logger,
	}
}

func (c *RetryingClient) PostOperation(ctx context.Context, serviceName string, params map[string]any, completion Completion) {
	c.pending.Add(1)
	c.attempt(ctx, 1, serviceName, params, completion)
}

func (c *RetryingClient) attempt(ctx context.Context, n int, serviceName string, params map[string]any, completion Completion) {
	c.next.PostOperation(ctx, serviceName, params, func(op *domain.APIOperation) {
		if n >= c.policy.MaxAttempts || !domain.IsTransient(op.Err) || ctx.Err() != nil {
			c.finish(op, completion)
			return
		}

		delay := c.policy.Delay(n)
		c.logger.Info("Retrying API request",
			"service", serviceName,
			"attempt", n+1,
			"max_attempts", c.policy.MaxAttempts,
			"delay", delay,
			"error", op.Err,
		)

		go func() {
			timer := time.NewTimer(delay)
			defer timer.Stop()

			// A cancelled ctx still goes through the wrapped client so the
			// final failure is delivered like any other.
			select {
			case <-ctx.Done():
			case <-timer.C:
			}
			c.attempt(ctx, n+1, serviceName, params, completion)
		}()
	})
}

func (c *RetryingClient) finish(op *domain.APIOperation, completion Completion) {
	defer c.pending.Done()

	if completion != nil {
		completion(op)
	}
}

// Wait blocks until every operation, retries included, has reached its
// caller.
func (c *RetryingClient) Wait() {
	c.pending.Wait()
}
