package config

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sarathi-ai/voicecore/pkg/provider/speech"
	"github.com/sarathi-ai/voicecore/pkg/provider/speech/mock"
	"github.com/sarathi-ai/voicecore/pkg/provider/speech/openai"
	"github.com/sarathi-ai/voicecore/pkg/types"
)

// ErrVendorNotRegistered is returned by [Registry.Create] when no factory
// has been registered under the requested vendor name.
var ErrVendorNotRegistered = errors.New("config: vendor not registered")

// Registry maps speech vendor names to their adapter constructors.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]func(ProviderEntry) (speech.Adapter, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]func(ProviderEntry) (speech.Adapter, error)),
	}
}

// Register adds an adapter factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) Register(name string, factory func(ProviderEntry) (speech.Adapter, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Create instantiates a speech adapter using the factory registered under
// entry.Name. Returns [ErrVendorNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) Create(entry ProviderEntry) (speech.Adapter, error) {
	r.mu.RLock()
	factory, ok := r.factories[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrVendorNotRegistered, entry.Name)
	}
	return factory(entry)
}

// BuiltinRegistry returns a [Registry] preloaded with the vendors shipped in
// this module: "openai" and "mock".
func BuiltinRegistry() *Registry {
	r := NewRegistry()
	r.Register("openai", newOpenAI)
	r.Register("mock", newMock)
	return r
}

// newOpenAI builds an OpenAI adapter from a config entry.
func newOpenAI(entry ProviderEntry) (speech.Adapter, error) {
	var opts []openai.Option
	if entry.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(entry.BaseURL))
	}
	if entry.TTSModel != "" {
		opts = append(opts, openai.WithTTSModel(entry.TTSModel))
	}
	if entry.STTModel != "" {
		opts = append(opts, openai.WithSTTModel(entry.STTModel))
	}
	for agentID, voice := range entry.Voices {
		opts = append(opts, openai.WithVoice(agentID, voice))
	}
	if raw, ok := entry.Options["timeout"]; ok {
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("config: openai options.timeout must be a duration string, got %T", raw)
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("config: openai options.timeout: %w", err)
		}
		opts = append(opts, openai.WithTimeout(d))
	}
	return openai.New(entry.APIKey, opts...)
}

// newMock builds an always-succeeding mock adapter. Intended for local
// development without vendor credentials.
func newMock(entry ProviderEntry) (speech.Adapter, error) {
	name := entry.Name
	if name == "" {
		name = "mock"
	}
	return &mock.Adapter{
		AdapterName:     name,
		SynthesizeAudio: []byte("mock-audio"),
		RecognizeResult: types.Transcript{Text: "नमस्ते", Language: "hi", Confidence: 1},
	}, nil
}
