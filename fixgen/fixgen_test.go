package fixgen

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healbot/healbot/llm"
	"github.com/healbot/healbot/model"
)

type cannedLLM struct {
	response string
	err      error
	lastUser string
}

func (c *cannedLLM) Complete(_ context.Context, _, user string) (string, error) {
	c.lastUser = user
	return c.response, c.err
}

const failingLog = `Traceback (most recent call last):
  File "src/a.py", line 1
    def f()
SyntaxError: invalid syntax`

func writeFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
	content := "def f()\n    return 1\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "a.py"), []byte(content), 0o644))
	return dir
}

func TestGenerateParsesProposals(t *testing.T) {
	dir := writeFixture(t)
	c := &cannedLLM{response: `Here you go:
[{"file":"src/a.py","line":1,"kind":"SYNTAX","description":"missing colon","originalCode":"def f()","fixedCode":"def f():","commitMessage":"add missing colon"}]`}

	result, err := New(c).Generate(context.Background(), failingLog, dir)
	require.NoError(t, err)
	assert.False(t, result.Degraded)
	require.Len(t, result.Proposals, 1)

	p := result.Proposals[0]
	assert.Equal(t, "src/a.py", p.File)
	assert.Equal(t, "def f()", p.OriginalCode)
	assert.Equal(t, "def f():", p.FixedCode)
	assert.Equal(t, model.KindSyntax, p.Kind)
}

func TestGeneratePromptCarriesSourceContext(t *testing.T) {
	dir := writeFixture(t)
	c := &cannedLLM{response: `[]`}

	_, err := New(c).Generate(context.Background(), failingLog, dir)
	require.NoError(t, err)
	assert.Contains(t, c.lastUser, "src/a.py")
	assert.Contains(t, c.lastUser, "   1 | def f()")
	assert.Contains(t, c.lastUser, "## Test Output")
}

func TestGenerateDegradesOnNonJSON(t *testing.T) {
	dir := writeFixture(t)
	c := &cannedLLM{response: "I am sorry, I cannot help with that."}

	result, err := New(c).Generate(context.Background(), failingLog, dir)
	require.NoError(t, err)
	assert.True(t, result.Degraded)
	require.NotEmpty(t, result.Proposals)
	for _, p := range result.Proposals {
		assert.Empty(t, p.OriginalCode)
		assert.Empty(t, p.FixedCode)
		assert.NotEmpty(t, p.CommitMessage)
	}
}

func TestGenerateDegradesOnExhaustedChain(t *testing.T) {
	dir := writeFixture(t)
	c := &cannedLLM{err: llm.ErrExhausted}

	result, err := New(c).Generate(context.Background(), failingLog, dir)
	require.NoError(t, err)
	assert.True(t, result.Degraded)
	assert.Len(t, result.Proposals, len(result.Errors))
}

func TestGeneratePropagatesOtherErrors(t *testing.T) {
	dir := writeFixture(t)
	c := &cannedLLM{err: errors.New("connection refused")}

	_, err := New(c).Generate(context.Background(), failingLog, dir)
	assert.Error(t, err)
}

func TestGenerateCleanLog(t *testing.T) {
	result, err := New(&cannedLLM{}).Generate(context.Background(), "all 10 tests passed", t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Proposals)
}

func TestGenerateDegradesWithoutClient(t *testing.T) {
	dir := writeFixture(t)

	result, err := New(nil).Generate(context.Background(), failingLog, dir)
	require.NoError(t, err)
	assert.True(t, result.Degraded)
	assert.Len(t, result.Proposals, len(result.Errors))
}
