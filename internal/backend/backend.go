package backend

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Protocol identifies the wire protocol a backend speaks.
type Protocol string

const (
	ProtocolOpenAIChat   Protocol = "openai"
	ProtocolGoogleGemini Protocol = "google"
	ProtocolUnsupported  Protocol = "unsupported"
)

// ParseProtocol maps a configured TYPE value to a protocol. Empty means OpenAIChat.
func ParseProtocol(raw string) Protocol {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "openai":
		return ProtocolOpenAIChat
	case "google", "gemini":
		return ProtocolGoogleGemini
	default:
		return ProtocolUnsupported
	}
}

// Definition is one configured LLM target. It is immutable after loading.
type Definition struct {
	Section    string
	Name       string
	Endpoint   string
	Credential string
	Model      string
	Protocol   Protocol
	RawType    string
	Enabled    bool
}

// Request is a single system + user prompt pair.
type Request struct {
	SystemPrompt string
	UserPrompt   string
}

// Client performs one request/response cycle against a backend.
// Implementations never return Go errors; every outcome is a Result.
type Client interface {
	Generate(ctx context.Context, req Request) Result
}

// ClientOptions configures protocol clients.
type ClientOptions struct {
	Timeout time.Duration
	Logger  logrus.FieldLogger
}

// DefaultTimeout bounds a single backend call.
const DefaultTimeout = 180 * time.Second

// Bound pairs a definition with the client selected for its protocol.
type Bound struct {
	Definition
	Client Client
}

// Bind selects a client for every definition, preserving order.
func Bind(defs []Definition, opts ClientOptions) []Bound {
	bound := make([]Bound, 0, len(defs))
	for _, def := range defs {
		bound = append(bound, Bound{Definition: def, Client: NewClient(def, opts)})
	}
	return bound
}

// Names returns the display names of the definitions in order.
func Names(defs []Definition) []string {
	names := make([]string, 0, len(defs))
	for _, def := range defs {
		names = append(names, def.Name)
	}
	return names
}

func (o ClientOptions) withDefaults() ClientOptions {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Logger == nil {
		logger := logrus.New()
		logger.SetLevel(logrus.PanicLevel)
		o.Logger = logger
	}
	return o
}
