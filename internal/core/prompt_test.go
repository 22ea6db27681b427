package core

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadSystemPromptCreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts", "systemprompt.txt")

	prompt, err := ReadSystemPrompt(path)
	require.NoError(t, err)
	assert.Empty(t, prompt)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestReadSystemPromptTrims(t *testing.T) {
	path := filepath.Join(t.TempDir(), "systemprompt.txt")
	require.NoError(t, os.WriteFile(path, []byte("\n  Answer in French.  \n\n"), 0o644))

	prompt, err := ReadSystemPrompt(path)
	require.NoError(t, err)
	assert.Equal(t, "Answer in French.", prompt)
}

func TestGuideLines(t *testing.T) {
	lines := GuideLines("", nil)
	assert.Equal(t, []string{"System prompt: (none)", "Enabled models: (none)"}, lines)

	long := strings.Repeat("a", 250)
	lines = GuideLines(long, []string{"GPT", "Gemini"})
	assert.Equal(t, "System prompt: "+strings.Repeat("a", 200)+"...", lines[0])
	assert.Equal(t, "Enabled models: GPT, Gemini", lines[1])
}
