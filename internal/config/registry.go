package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/wbendinelli/xvoice/pkg/provider/llm"
	"github.com/wbendinelli/xvoice/pkg/recognize"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested kind or provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// RecognizerFactory builds a recognizer from one backend config block.
type RecognizerFactory func(RecognizerConfig) (recognize.Recognizer, error)

// LLMFactory builds an LLM provider from one provider config block.
type LLMFactory func(LLMProviderConfig) (llm.Provider, error)

// Registry maps recognizer kinds and LLM provider names to their constructor
// functions. It is safe for concurrent use.
//
// The registry builds one backend per config block; chaining fallbacks and
// wrapping breakers around them is the caller's job.
type Registry struct {
	mu          sync.RWMutex
	recognizers map[RecognizerKind]RecognizerFactory
	llms        map[string]LLMFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		recognizers: make(map[RecognizerKind]RecognizerFactory),
		llms:        make(map[string]LLMFactory),
	}
}

// RegisterRecognizer registers a recognizer factory under kind.
// Subsequent calls with the same kind overwrite the previous registration.
func (r *Registry) RegisterRecognizer(kind RecognizerKind, factory RecognizerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recognizers[kind] = factory
}

// RegisterLLM registers an LLM provider factory under name.
func (r *Registry) RegisterLLM(name string, factory LLMFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llms[name] = factory
}

// CreateRecognizer instantiates a recognizer using the factory registered
// under cfg.Kind. Returns [ErrProviderNotRegistered] if no factory has been
// registered for that kind.
func (r *Registry) CreateRecognizer(cfg RecognizerConfig) (recognize.Recognizer, error) {
	r.mu.RLock()
	factory, ok := r.recognizers[cfg.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: recognizer/%q", ErrProviderNotRegistered, cfg.Kind)
	}
	return factory(cfg)
}

// CreateLLM instantiates an LLM provider using the factory registered under
// cfg.Provider.
func (r *Registry) CreateLLM(cfg LLMProviderConfig) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llms[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, cfg.Provider)
	}
	return factory(cfg)
}
