package session

import (
	"context"
	"math/rand"
	"time"
)

// NextBackoffDelay returns the retry delay for attempt N (1-based). The
// first attempt always waits exactly InitialDelay; later ones grow by
// Multiplier up to MaxDelay and are scaled by [0.5, 1.5) under Jitter.
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if cfg.InitialDelay <= 0 || attempt <= 1 {
		return max(cfg.InitialDelay, 0)
	}
	mult := max(cfg.Multiplier, 1.0)
	delay := float64(cfg.InitialDelay)
	limit := float64(cfg.MaxDelay)
	for i := 1; i < attempt; i++ {
		delay *= mult
		if cfg.MaxDelay > 0 && delay >= limit {
			delay = limit
			break
		}
	}
	if cfg.Jitter {
		scale := 0.5
		if rng != nil {
			scale += rng.Float64()
		}
		delay *= scale
	}
	return time.Duration(delay)
}

// SleepBackoff waits out the delay for attempt or returns ctx.Err().
func SleepBackoff(ctx context.Context, cfg BackoffConfig, attempt int, rng *rand.Rand) error {
	delay := NextBackoffDelay(cfg, attempt, rng)
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retry counts consecutive failures of one loop. Not safe for concurrent use.
type Retry struct {
	cfg      BackoffConfig
	rng      *rand.Rand
	failures int
}

func NewRetry(cfg BackoffConfig) *Retry {
	return &Retry{cfg: cfg, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Wait records a failure and sleeps for it.
func (r *Retry) Wait(ctx context.Context) error {
	r.failures++
	return SleepBackoff(ctx, r.cfg, r.failures, r.rng)
}

func (r *Retry) Reset() { r.failures = 0 }

func (r *Retry) Failures() int { return r.failures }
