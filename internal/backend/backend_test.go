package backend_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goosewin/cellfill/internal/backend"
	_ "github.com/goosewin/cellfill/internal/backend/gemini"
	_ "github.com/goosewin/cellfill/internal/backend/openai"
)

func TestRegistryLoadsProtocols(t *testing.T) {
	for _, protocol := range []backend.Protocol{backend.ProtocolOpenAIChat, backend.ProtocolGoogleGemini} {
		factory, ok := backend.Lookup(protocol)
		require.True(t, ok, "expected %s to be registered", protocol)
		require.NotNil(t, factory)
	}
	assert.Equal(t, []backend.Protocol{backend.ProtocolGoogleGemini, backend.ProtocolOpenAIChat}, backend.Protocols())

	err := backend.Register(backend.ProtocolOpenAIChat, func(backend.Definition, backend.ClientOptions) backend.Client { return nil })
	assert.ErrorIs(t, err, backend.ErrProtocolRegistered)
	assert.ErrorIs(t, backend.Register("", nil), backend.ErrProtocolInvalid)
}

func TestNewClientUnsupportedProtocol(t *testing.T) {
	client := backend.NewClient(backend.Definition{Name: "X", Protocol: backend.ProtocolUnsupported, RawType: "claude"}, backend.ClientOptions{})

	result := client.Generate(context.Background(), backend.Request{UserPrompt: "hi"})
	require.False(t, result.OK())
	assert.Equal(t, backend.FailureUnsupported, result.Failure.Kind)
	assert.Equal(t, "Error: Unsupported API type 'claude'", result.CellValue("X"))
	assert.True(t, backend.IsFailure(result.CellValue("X")))
}

func TestParseProtocol(t *testing.T) {
	cases := map[string]backend.Protocol{
		"":        backend.ProtocolOpenAIChat,
		"OpenAI":  backend.ProtocolOpenAIChat,
		"google":  backend.ProtocolGoogleGemini,
		"Gemini":  backend.ProtocolGoogleGemini,
		"mystery": backend.ProtocolUnsupported,
	}
	for raw, want := range cases {
		assert.Equal(t, want, backend.ParseProtocol(raw), raw)
	}
}

func TestLoadDefinitions(t *testing.T) {
	path := writeConfig(t, `
[general]
KEY = ignored

[API_GPT]
KEY = sk-1
ENDPOINT = https://api.example.com/v1/
MODEL = gpt-4o

[API_Gemini]
key = g-1
endpoint = https://generativelanguage.googleapis.com/v1beta/models
model = gemini-1.5-pro
name = Gemini Pro
type = GOOGLE

[API_Off]
KEY = k
ENDPOINT = https://x
MODEL = m
ENABLED = no

[API_Partial]
KEY = k
MODEL = m

[API_Dup]
KEY = k
ENDPOINT = https://y
MODEL = m
NAME = GPT

[API_Odd]
KEY = k
ENDPOINT = https://z
MODEL = m
TYPE = claude
`)

	logger, hook := logtest.NewNullLogger()
	defs := backend.LoadDefinitions(path, logger)

	require.Len(t, defs, 3)
	assert.Equal(t, backend.Definition{
		Section:    "API_GPT",
		Name:       "GPT",
		Endpoint:   "https://api.example.com/v1",
		Credential: "sk-1",
		Model:      "gpt-4o",
		Protocol:   backend.ProtocolOpenAIChat,
		RawType:    "openai",
		Enabled:    true,
	}, defs[0])
	assert.Equal(t, "Gemini Pro", defs[1].Name)
	assert.Equal(t, backend.ProtocolGoogleGemini, defs[1].Protocol)
	assert.Equal(t, "Odd", defs[2].Name)
	assert.Equal(t, backend.ProtocolUnsupported, defs[2].Protocol)
	assert.Equal(t, []string{"GPT", "Gemini Pro", "Odd"}, backend.Names(defs))

	warnings := 0
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel {
			warnings++
		}
	}
	assert.Equal(t, 4, warnings, "disabled, partial, duplicate and unsupported sections should warn")
}

func TestLoadDefinitionsMissingOrEmpty(t *testing.T) {
	logger, hook := logtest.NewNullLogger()

	defs := backend.LoadDefinitions(filepath.Join(t.TempDir(), "missing.config"), logger)
	assert.Empty(t, defs)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)

	hook.Reset()
	defs = backend.LoadDefinitions(writeConfig(t, "[API_A]\nKEY = k\n"), logger)
	assert.Empty(t, defs)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

func TestInvalidEnabledValueDisablesSection(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	defs := backend.LoadDefinitions(writeConfig(t, "[API_A]\nKEY = k\nENDPOINT = https://a\nMODEL = m\nENABLED = maybe\n"), logger)
	assert.Empty(t, defs)
}

func TestLoadDefinitionsRejectsFixedColumnNames(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	defs := backend.LoadDefinitions(writeConfig(t, `
[API_Prompt]
KEY = k
ENDPOINT = https://a
MODEL = m
NAME = 用户提示词

[API_Flag]
KEY = k
ENDPOINT = https://a
MODEL = m
NAME = 是否生成 (0 是 1 否)

[API_GPT]
KEY = k
ENDPOINT = https://a
MODEL = m
`), logger)

	require.Len(t, defs, 1)
	assert.Equal(t, "GPT", defs[0].Name)

	reserved := 0
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel && entry.Message == "backend name is a reserved column header, skipping section" {
			reserved++
		}
	}
	assert.Equal(t, 2, reserved)
}

func TestBindPreservesOrder(t *testing.T) {
	defs := []backend.Definition{
		{Name: "B", Protocol: backend.ProtocolGoogleGemini, Endpoint: "http://b", Model: "m", Credential: "k"},
		{Name: "A", Protocol: backend.ProtocolOpenAIChat, Endpoint: "http://a", Model: "m", Credential: "k"},
	}
	bound := backend.Bind(defs, backend.ClientOptions{})
	require.Len(t, bound, 2)
	assert.Equal(t, "B", bound[0].Name)
	assert.Equal(t, "A", bound[1].Name)
	assert.NotNil(t, bound[0].Client)
}

func TestFormatFailure(t *testing.T) {
	cases := []struct {
		failure *backend.Failure
		want    string
	}{
		{&backend.Failure{Kind: backend.FailureTimeout, Detail: "deadline"}, "Error (GPT): API request timed out."},
		{&backend.Failure{Kind: backend.FailureStatus, StatusCode: 500, Detail: "boom"}, "Error (GPT): API request failed. Status: 500. Detail: boom"},
		{&backend.Failure{Kind: backend.FailureTransport, Detail: "dial tcp"}, "Error (GPT): API request failed. Exception: dial tcp"},
		{&backend.Failure{Kind: backend.FailureEmpty, Detail: "Finish: stop"}, "Error (GPT): No content in response. Finish: stop"},
		{&backend.Failure{Kind: backend.FailureFiltered, Detail: "Finish: SAFETY"}, "Error (GPT): Response blocked. Finish: SAFETY"},
		{&backend.Failure{Kind: backend.FailureInternal}, "Error (GPT): Processing API response failed."},
	}
	for _, tc := range cases {
		got := backend.FormatFailure("GPT", tc.failure)
		assert.Equal(t, tc.want, got)
		assert.True(t, backend.IsFailure(got), got)
	}

	row := backend.FormatRowFailure(errors.New("bad cell"))
	assert.Equal(t, "Error: processing row failed: bad cell", row)
	assert.True(t, backend.IsFailure(row))
}

func TestIsFailure(t *testing.T) {
	assert.False(t, backend.IsFailure(""))
	assert.False(t, backend.IsFailure("Errors are normal in translation"))
	assert.False(t, backend.IsFailure("hello"))
	assert.True(t, backend.IsFailure("Error: anything"))
	assert.True(t, backend.IsFailure("Error (X): anything"))
}

func TestSuccessTrimsText(t *testing.T) {
	result := backend.Success("  hello \n")
	assert.True(t, result.OK())
	assert.Equal(t, "hello", result.CellValue("GPT"))
}

func TestErrorDetail(t *testing.T) {
	assert.Equal(t, "quota exceeded status=RESOURCE_EXHAUSTED code=429",
		backend.ErrorDetail([]byte(`{"error":{"code":429,"message":"quota exceeded","status":"RESOURCE_EXHAUSTED"}}`)))
	assert.Equal(t, `{"detail":"nope"}`, backend.ErrorDetail([]byte("{\n  \"detail\": \"nope\"\n}")))
	assert.Equal(t, "Bad Gateway", backend.ErrorDetail([]byte("Bad Gateway\n")))
	assert.Equal(t, "empty response body", backend.ErrorDetail(nil))
}

func TestIsTimeout(t *testing.T) {
	assert.True(t, backend.IsTimeout(context.DeadlineExceeded))
	assert.True(t, backend.IsTimeout(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)))
	assert.False(t, backend.IsTimeout(errors.New("connection refused")))
	assert.False(t, backend.IsTimeout(nil))
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".config")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}
