package nfse

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"
)

// RetryPolicy is applied to idempotent steps only, and only for retryable errors.
type RetryPolicy struct {
	Attempts   int // total attempts, 1 disables retrying
	Delay      time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	Jitter     float64 // fraction of the delay, 0.25 means +-25%
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:   3,
		Delay:      1 * time.Second,
		MaxDelay:   10 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.25,
	}
}

func NoRetry() RetryPolicy {
	return RetryPolicy{Attempts: 1}
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := float64(p.Delay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		delay += (rand.Float64()*2 - 1) * delay * p.Jitter
	}
	if delay < 0 {
		return 0
	}
	return time.Duration(delay)
}

func (p RetryPolicy) run(ctx context.Context, op string, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !Retryable(err) || attempt >= attempts {
			return err
		}

		delay := p.backoff(attempt)
		logger.WithError(err).WithFields(logrus.Fields{
			"op":      op,
			"attempt": attempt,
			"delay":   delay,
		}).Warn("portal step failed, retrying")

		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "%s: retry aborted after %v", op, err)
		case <-time.After(delay):
		}
	}
}
