package backend

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

var (
	ErrProtocolRegistered = errors.New("protocol already registered")
	ErrProtocolInvalid    = errors.New("protocol is required")
)

// Factory builds a client for one definition.
type Factory func(def Definition, opts ClientOptions) Client

var (
	registryMu sync.RWMutex
	registry   = map[Protocol]Factory{}
)

// Register adds a protocol implementation to the registry.
func Register(protocol Protocol, factory Factory) error {
	key := Protocol(strings.ToLower(strings.TrimSpace(string(protocol))))
	if key == "" || key == ProtocolUnsupported {
		return ErrProtocolInvalid
	}
	if factory == nil {
		return errors.New("factory is nil")
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[key]; exists {
		return ErrProtocolRegistered
	}

	registry[key] = factory
	return nil
}

// Lookup returns the factory for a protocol.
func Lookup(protocol Protocol) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	factory, ok := registry[protocol]
	return factory, ok
}

// Protocols returns all registered protocols.
func Protocols() []Protocol {
	registryMu.RLock()
	defer registryMu.RUnlock()

	protocols := make([]Protocol, 0, len(registry))
	for protocol := range registry {
		protocols = append(protocols, protocol)
	}
	sort.Slice(protocols, func(i, j int) bool { return protocols[i] < protocols[j] })
	return protocols
}

// NewClient selects the implementation for def.Protocol. Unknown protocols get
// a client that fails every call.
func NewClient(def Definition, opts ClientOptions) Client {
	opts = opts.withDefaults()
	factory, ok := Lookup(def.Protocol)
	if !ok {
		return unsupportedClient{rawType: def.RawType}
	}
	return factory(def, opts)
}

type unsupportedClient struct {
	rawType string
}

func (c unsupportedClient) Generate(_ context.Context, _ Request) Result {
	return Fail(FailureUnsupported, c.rawType)
}
