package dispatch

import (
	"context"
	"time"
)

// RetryPolicy bounds how often a turn's question is sent to the remote
// agent. The default of one attempt means a fault ends the turn.
type RetryPolicy struct {
	MaxAttempts    int           `yaml:"max_attempts" toml:"max_attempts" json:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff" toml:"initial_backoff" json:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff" toml:"max_backoff" json:"max_backoff"`
}

// DefaultRetryPolicy returns the single-attempt policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1, InitialBackoff: 500 * time.Millisecond, MaxBackoff: 5 * time.Second}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = 500 * time.Millisecond
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	return p
}

// Backoff returns the wait after the given failed attempt (1-based),
// doubling from InitialBackoff up to MaxBackoff.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	p = p.normalized()
	d := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
