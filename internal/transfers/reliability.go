package transfers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mercato/internal/transfers/messages"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ErrCircuitOpen indicates the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// RetryPolicy controls retry behavior for outbound publishes.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter is the randomization factor applied to each delay; 0 disables it.
	Jitter      float64
	Notify      func(err error, delay time.Duration)
	ShouldRetry func(error) bool
}

// Do runs fn until it succeeds, the attempts run out or the error is final.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	shouldRetry := p.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = retryable
	}
	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		err := fn()
		if err != nil && !shouldRetry(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.RetryNotify(op, p.backOff(ctx), p.Notify)
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = max(p.BaseDelay, 0)
	exp.Multiplier = 2
	exp.RandomizationFactor = p.Jitter
	exp.MaxInterval = time.Hour
	if p.MaxDelay > 0 {
		exp.MaxInterval = p.MaxDelay
	}
	exp.MaxElapsedTime = 0
	retries := uint64(max(p.MaxAttempts, 1) - 1)
	return backoff.WithContext(backoff.WithMaxRetries(exp, retries), ctx)
}

func retryable(err error) bool {
	return !errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded) &&
		!errors.Is(err, ErrCircuitOpen) &&
		!errors.Is(err, messages.ErrMalformed)
}

// CircuitBreakerConfig configures a circuit breaker.
type CircuitBreakerConfig struct {
	MaxFailures  int
	ResetTimeout time.Duration
}

// CircuitBreaker fails fast with ErrCircuitOpen after MaxFailures consecutive
// errors and lets a single trial call through once ResetTimeout has passed.
type CircuitBreaker struct {
	cb *gobreaker.CircuitBreaker
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	resetAfter := cfg.ResetTimeout
	if resetAfter <= 0 {
		resetAfter = 2 * time.Second
	}
	maxFails := uint32(max(cfg.MaxFailures, 1))
	return &CircuitBreaker{cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "transfer-publish",
		MaxRequests: 1,
		Timeout:     resetAfter,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFails
		},
		// Caller cancellation is not a broker failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})}
}

func (c *CircuitBreaker) Execute(fn func() error) error {
	if c == nil {
		return fn()
	}
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	return err
}

// State reports the breaker state as "closed", "half-open" or "open".
func (c *CircuitBreaker) State() string {
	if c == nil {
		return gobreaker.StateClosed.String()
	}
	return c.cb.State().String()
}

// NewRateLimiter allows one call every interval with the given burst.
func NewRateLimiter(interval time.Duration, burst int) *rate.Limiter {
	return rate.NewLimiter(rate.Every(interval), burst)
}

// ReliablePublisher wraps a Publisher with rate limiting, a circuit breaker
// and retries.
type ReliablePublisher struct {
	base    Publisher
	limiter *rate.Limiter
	breaker *CircuitBreaker
	retry   RetryPolicy
}

func NewReliablePublisher(base Publisher, limiter *rate.Limiter, breaker *CircuitBreaker, retry RetryPolicy) *ReliablePublisher {
	return &ReliablePublisher{
		base:    base,
		limiter: limiter,
		breaker: breaker,
		retry:   retry,
	}
}

func (p *ReliablePublisher) Publish(ctx context.Context, msg messages.Request) error {
	return p.retry.Do(ctx, func() error {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		return p.breaker.Execute(func() error {
			return p.base.Publish(ctx, msg)
		})
	})
}
