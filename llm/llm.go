// Package llm defines the language-model capability used by the fix
// generator, plus a fallback chain that walks an ordered list of models.
package llm

import (
	"context"
	"errors"
	"strings"
)

// Client is the single capability the pipeline needs from a language model.
type Client interface {
	// Complete sends a system and user message and returns the model's text.
	Complete(ctx context.Context, system, user string) (string, error)
}

// ErrExhausted is returned by the fallback chain when every model in the
// chain was rate-limited past its retry budget.
var ErrExhausted = errors.New("llm: all models exhausted")

// IsRateLimited reports whether err looks like a rate-limit rejection.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "quota") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "rate limit")
}
