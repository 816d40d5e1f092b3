package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedClient struct {
	responses []func() (string, error)
	calls     int
}

func (c *scriptedClient) Complete(_ context.Context, _, _ string) (string, error) {
	i := c.calls
	c.calls++
	if i >= len(c.responses) {
		i = len(c.responses) - 1
	}
	return c.responses[i]()
}

func ok(text string) func() (string, error) {
	return func() (string, error) { return text, nil }
}

func fail(msg string) func() (string, error) {
	return func() (string, error) { return "", errors.New(msg) }
}

func TestFallbackFirstModelSucceeds(t *testing.T) {
	first := &scriptedClient{responses: []func() (string, error){ok("hello")}}
	second := &scriptedClient{responses: []func() (string, error){ok("unused")}}

	chain := NewFallback(
		Candidate{Model: "m1", Client: first},
		Candidate{Model: "m2", Client: second},
	).WithBackoff()

	text, err := chain.Complete(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
	assert.Zero(t, second.calls)
}

func TestFallbackRetriesOnRateLimit(t *testing.T) {
	c := &scriptedClient{responses: []func() (string, error){
		fail("HTTP 429 Too Many Requests"),
		fail("quota exceeded"),
		ok("third time lucky"),
	}}

	chain := NewFallback(Candidate{Model: "m1", Client: c}).
		WithBackoff(time.Millisecond, time.Millisecond)

	text, err := chain.Complete(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, "third time lucky", text)
	assert.Equal(t, 3, c.calls)
}

func TestFallbackMovesToNextModelOnExhaustion(t *testing.T) {
	limited := &scriptedClient{responses: []func() (string, error){fail("429")}}
	healthy := &scriptedClient{responses: []func() (string, error){ok("from m2")}}

	chain := NewFallback(
		Candidate{Model: "m1", Client: limited},
		Candidate{Model: "m2", Client: healthy},
	).WithBackoff(time.Millisecond, time.Millisecond)

	text, err := chain.Complete(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, "from m2", text)
	assert.Equal(t, 3, limited.calls, "rate-limited model should use its full retry budget")
}

func TestFallbackAllExhausted(t *testing.T) {
	c1 := &scriptedClient{responses: []func() (string, error){fail("429")}}
	c2 := &scriptedClient{responses: []func() (string, error){fail("rate limit hit")}}

	chain := NewFallback(
		Candidate{Model: "m1", Client: c1},
		Candidate{Model: "m2", Client: c2},
	).WithBackoff()

	_, err := chain.Complete(context.Background(), "sys", "user")
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestFallbackPropagatesOtherErrors(t *testing.T) {
	broken := &scriptedClient{responses: []func() (string, error){fail("connection refused")}}
	unused := &scriptedClient{responses: []func() (string, error){ok("never")}}

	chain := NewFallback(
		Candidate{Model: "m1", Client: broken},
		Candidate{Model: "m2", Client: unused},
	).WithBackoff(time.Millisecond)

	_, err := chain.Complete(context.Background(), "sys", "user")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrExhausted)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, 1, broken.calls, "non-rate-limit errors must not be retried")
	assert.Zero(t, unused.calls)
}

func TestFallbackEmptyChain(t *testing.T) {
	_, err := NewFallback().Complete(context.Background(), "sys", "user")
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestIsRateLimited(t *testing.T) {
	assert.True(t, IsRateLimited(errors.New("HTTP 429")))
	assert.True(t, IsRateLimited(errors.New("Quota exhausted for model")))
	assert.True(t, IsRateLimited(errors.New("Too Many Requests")))
	assert.False(t, IsRateLimited(errors.New("connection reset")))
	assert.False(t, IsRateLimited(nil))
}
