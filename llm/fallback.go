package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/healbot/healbot/internal/logging"
)

var logger = logging.New("llm")

// Candidate is one model in a fallback chain.
type Candidate struct {
	Model  string
	Client Client
}

// Fallback walks an ordered list of models. Each model gets up to
// len(backoff)+1 attempts; rate-limited attempts wait out the backoff
// schedule before retrying. When a model's retries are exhausted the chain
// moves to the next model. Non-rate-limit errors propagate immediately.
type Fallback struct {
	candidates []Candidate
	backoff    []time.Duration
}

// NewFallback creates a fallback chain over the given candidates with the
// default 15s/30s backoff schedule (three attempts per model).
func NewFallback(candidates ...Candidate) *Fallback {
	return &Fallback{
		candidates: candidates,
		backoff:    []time.Duration{15 * time.Second, 30 * time.Second},
	}
}

// WithBackoff overrides the backoff schedule. An empty schedule means a
// single attempt per model.
func (f *Fallback) WithBackoff(delays ...time.Duration) *Fallback {
	f.backoff = delays
	return f
}

func (f *Fallback) Complete(ctx context.Context, system, user string) (string, error) {
	if len(f.candidates) == 0 {
		return "", ErrExhausted
	}

	for _, c := range f.candidates {
		text, err := f.completeOne(ctx, c, system, user)
		if err == nil {
			return text, nil
		}
		if IsRateLimited(err) {
			logger.Warn("model rate-limited, trying next", "model", c.Model)
			continue
		}
		return "", fmt.Errorf("model %s: %w", c.Model, err)
	}
	return "", ErrExhausted
}

func (f *Fallback) completeOne(ctx context.Context, c Candidate, system, user string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= len(f.backoff); attempt++ {
		text, err := c.Client.Complete(ctx, system, user)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !IsRateLimited(err) {
			return "", err
		}
		if attempt == len(f.backoff) {
			break
		}
		wait := f.backoff[attempt]
		logger.Info("rate limited, backing off", "model", c.Model, "attempt", attempt+1, "wait", wait)
		if err := sleep(ctx, wait); err != nil {
			return "", err
		}
	}
	return "", lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
