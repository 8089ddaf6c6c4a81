// Package retry holds the backoff policy shared by the broker connection
// manager, the event publisher and the overflow replayer.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes a bounded exponential backoff with jitter.
//
// MaxAttempts counts the first try; zero means attempts are bounded only by
// MaxElapsed or the caller's context. Jitter is a randomization factor in
// [0, 1]: each delay is drawn from [d*(1-Jitter), d*(1+Jitter)].
type Policy struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	Multiplier  float64       `yaml:"multiplier"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Jitter      float64       `yaml:"jitter"`
	MaxElapsed  time.Duration `yaml:"max_elapsed"`
}

// Default is the reconnect policy: 500ms doubling to 30s with 20% jitter.
func Default() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   500 * time.Millisecond,
		Multiplier:  2,
		MaxDelay:    30 * time.Second,
		Jitter:      0.2,
	}
}

// ErrExhausted marks a failure after every permitted attempt was used.
var ErrExhausted = errors.New("retry budget exhausted")

func (p Policy) normalized() Policy {
	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Jitter > 1 {
		p.Jitter = 1
	}
	return p
}

// NewBackOff builds a fresh backoff/v4 schedule for one retry loop.
func (p Policy) NewBackOff() backoff.BackOff {
	p = p.normalized()
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.BaseDelay
	eb.Multiplier = p.Multiplier
	eb.MaxInterval = p.MaxDelay
	eb.RandomizationFactor = p.Jitter
	eb.MaxElapsedTime = p.MaxElapsed
	eb.Reset()

	if p.MaxAttempts > 0 {
		return backoff.WithMaxRetries(eb, uint64(p.MaxAttempts-1))
	}
	return eb
}

// Delay returns the jittered wait before retry number attempt (0-based),
// capped at MaxDelay. Used for one-off scheduling outside a retry loop.
func (p Policy) Delay(attempt int) time.Duration {
	p = p.normalized()
	if attempt < 0 {
		attempt = 0
	}
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt))
	if d > float64(p.MaxDelay) || math.IsInf(d, 0) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		delta := p.Jitter * d
		d = d - delta + rand.Float64()*(2*delta)
	}
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d)
}

// NotifyFunc observes a failed attempt before the wait for the next one.
type NotifyFunc func(err error, attempt int, wait time.Duration)

// Do runs op until it succeeds, returns a Permanent error, the policy gives
// up, or ctx ends. It reports how many times op was invoked.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error, notify NotifyFunc) (int, error) {
	attempts := 0
	stopped := false
	var last error

	operation := func() error {
		if err := ctx.Err(); err != nil {
			stopped = true
			return backoff.Permanent(err)
		}
		attempts++
		err := op(ctx)
		if err != nil {
			last = err
			var pe *backoff.PermanentError
			if errors.As(err, &pe) {
				stopped = true
			}
		}
		return err
	}

	var onRetry backoff.Notify
	if notify != nil {
		onRetry = func(err error, wait time.Duration) {
			notify(err, attempts, wait)
		}
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(p.NewBackOff(), ctx), onRetry)
	switch {
	case err == nil:
		return attempts, nil
	case ctx.Err() != nil:
		cerr := ctx.Err()
		if last != nil && !errors.Is(last, cerr) {
			return attempts, fmt.Errorf("%w (last attempt: %v)", cerr, last)
		}
		return attempts, cerr
	case stopped:
		return attempts, err
	default:
		return attempts, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, err)
	}
}

// Permanent wraps err so Do stops retrying immediately. Do returns err
// itself, unwrapped.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
