package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	DefaultSystemPromptFile = "systemprompt.txt"
	guidePreviewLength      = 200
)

// ReadSystemPrompt returns the trimmed contents of path. A missing file is
// created empty and yields an empty prompt.
func ReadSystemPrompt(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultSystemPromptFile
	}

	data, err := os.ReadFile(path)
	if err == nil {
		return strings.TrimSpace(string(data)), nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("read system prompt: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create system prompt dir: %w", err)
		}
	}
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		return "", fmt.Errorf("create system prompt: %w", err)
	}
	return "", nil
}

// GuideLines renders the display text kept in the guide rows.
func GuideLines(systemPrompt string, backendNames []string) []string {
	promptLine := "System prompt: (none)"
	if trimmed := strings.TrimSpace(systemPrompt); trimmed != "" {
		promptLine = "System prompt: " + preview(trimmed, guidePreviewLength)
	}

	modelsLine := "Enabled models: (none)"
	if len(backendNames) > 0 {
		modelsLine = "Enabled models: " + strings.Join(backendNames, ", ")
	}
	return []string{promptLine, modelsLine}
}
