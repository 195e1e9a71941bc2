package deployapi

import (
	"context"
	"fmt"
	"time"

	"github.com/picklr-io/microstrate/internal/ir"
	"github.com/picklr-io/microstrate/internal/logging"
)

const (
	// DefaultPollDelay is the wait between a mutating call and the first status poll.
	DefaultPollDelay = 2 * time.Second
	// DefaultPollInterval is the wait between two status polls.
	DefaultPollInterval = 1 * time.Second
	// DefaultPollAttempts bounds the number of status polls.
	DefaultPollAttempts = 10
)

// PollPolicy defines how long to wait for a stack to settle.
type PollPolicy struct {
	Delay       time.Duration
	Interval    time.Duration
	MaxAttempts int
}

// DefaultPollPolicy returns the default poll policy.
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{
		Delay:       DefaultPollDelay,
		Interval:    DefaultPollInterval,
		MaxAttempts: DefaultPollAttempts,
	}
}

// Poll calls fetch until no resource is in progress or the attempts run out.
// Running out of attempts is not an error: the last snapshot is returned.
func (p PollPolicy) Poll(ctx context.Context, fetch func(context.Context) (*ir.DeploymentResult, error)) (*ir.DeploymentResult, error) {
	if err := sleep(ctx, p.Delay); err != nil {
		return nil, err
	}

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var last *ir.DeploymentResult
	for attempt := 1; attempt <= attempts; attempt++ {
		res, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		last = res

		if !res.InProgress() {
			return res, nil
		}

		logging.Debug("stack still in progress", "attempt", attempt, "max_attempts", attempts)
		if attempt < attempts {
			if err := sleep(ctx, p.Interval); err != nil {
				return nil, err
			}
		}
	}

	logging.Warn("stack did not settle, returning last snapshot", "attempts", attempts)
	return last, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("poll cancelled: %w", ctx.Err())
	case <-time.After(d):
		return nil
	}
}
