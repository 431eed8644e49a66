package resilience

import (
	"context"
	"time"

	"go.uber.org/zap"

	gwerrors "github.com/finkor/brokergate/pkg/errors"
)

// RetryPolicy is stateless retry configuration, applied per call.
type RetryPolicy struct {
	MaxAttempts  int           `yaml:"max_attempts" json:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay" json:"max_delay"`
	Multiplier   float64       `yaml:"multiplier" json:"multiplier"`
}

// DefaultRetryPolicy returns 3 attempts, 500ms initial, x2 backoff, 10s cap.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
	}
}

// delayFor computes the backoff before attempt n (1-based), capped at MaxDelay.
func (p RetryPolicy) delayFor(attempt int) time.Duration {
	d := p.InitialDelay
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// RetryExecutor re-attempts failed operations according to a RetryPolicy.
// Only errors the taxonomy marks retryable are re-attempted; everything else
// propagates immediately. Cancellation is honored between attempts, never
// mid-call.
type RetryExecutor struct {
	logger *zap.Logger
}

func NewRetryExecutor(logger *zap.Logger) *RetryExecutor {
	return &RetryExecutor{logger: logger}
}

// Do invokes fn up to policy.MaxAttempts times. Rate-limit errors carrying a
// server-suggested delay use that delay instead of the computed backoff.
func (r *RetryExecutor) Do(ctx context.Context, policy RetryPolicy, fn func(context.Context) error) error {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	var err error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !gwerrors.IsRetryable(err) {
			return err
		}
		if attempt == policy.MaxAttempts {
			break
		}

		delay := policy.delayFor(attempt)
		if suggested := gwerrors.SuggestedDelay(err); suggested > 0 {
			delay = suggested
		}

		r.logger.Debug("retrying after failure",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return gwerrors.Wrap(gwerrors.KindTimeout, "RetryCancelled", ctx.Err())
		case <-time.After(delay):
		}
	}
	return err
}
