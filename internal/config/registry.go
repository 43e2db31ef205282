package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/havenline/havenline/pkg/provider/chat"
	"github.com/havenline/havenline/pkg/provider/geocode"
	"github.com/havenline/havenline/pkg/provider/search"
	"github.com/havenline/havenline/pkg/provider/sms"
	"github.com/havenline/havenline/pkg/provider/stt"
	"github.com/havenline/havenline/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// factories maps provider names to constructors for one provider kind.
type factories[T any] map[string]func(ProviderEntry) (T, error)

// Registry holds the provider factories for all six provider kinds. main
// registers the built-in vendors at startup; tests register fakes. Safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	chat    factories[chat.Provider]
	stt     factories[stt.Provider]
	tts     factories[tts.Provider]
	search  factories[search.Provider]
	sms     factories[sms.Provider]
	geocode factories[geocode.Provider]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		chat:    factories[chat.Provider]{},
		stt:     factories[stt.Provider]{},
		tts:     factories[tts.Provider]{},
		search:  factories[search.Provider]{},
		sms:     factories[sms.Provider]{},
		geocode: factories[geocode.Provider]{},
	}
}

// register and create carry the locking and lookup for every kind; they are
// package functions because methods cannot introduce type parameters. The
// map headers never change after NewRegistry, so reading them outside the
// lock is fine.

func register[T any](r *Registry, m factories[T], name string, factory func(ProviderEntry) (T, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m[name] = factory
}

func create[T any](r *Registry, m factories[T], kind string, entry ProviderEntry) (T, error) {
	r.mu.RLock()
	factory, ok := m[entry.Name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, entry.Name)
	}
	return factory(entry)
}

// RegisterChat registers a chat provider factory under name. Registering the
// same name again overwrites the previous factory.
func (r *Registry) RegisterChat(name string, factory func(ProviderEntry) (chat.Provider, error)) {
	register(r, r.chat, name, factory)
}

// RegisterSTT registers an STT provider factory under name.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	register(r, r.stt, name, factory)
}

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	register(r, r.tts, name, factory)
}

// RegisterSearch registers a search provider factory under name.
func (r *Registry) RegisterSearch(name string, factory func(ProviderEntry) (search.Provider, error)) {
	register(r, r.search, name, factory)
}

// RegisterSMS registers an SMS provider factory under name.
func (r *Registry) RegisterSMS(name string, factory func(ProviderEntry) (sms.Provider, error)) {
	register(r, r.sms, name, factory)
}

// RegisterGeocode registers a geocoding provider factory under name.
func (r *Registry) RegisterGeocode(name string, factory func(ProviderEntry) (geocode.Provider, error)) {
	register(r, r.geocode, name, factory)
}

// CreateChat instantiates the chat provider registered under entry.Name.
// Returns [ErrProviderNotRegistered] when the name is unknown.
func (r *Registry) CreateChat(entry ProviderEntry) (chat.Provider, error) {
	return create(r, r.chat, "chat", entry)
}

// CreateSTT instantiates the STT provider registered under entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	return create(r, r.stt, "stt", entry)
}

// CreateTTS instantiates the TTS provider registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	return create(r, r.tts, "tts", entry)
}

// CreateSearch instantiates the search provider registered under entry.Name.
func (r *Registry) CreateSearch(entry ProviderEntry) (search.Provider, error) {
	return create(r, r.search, "search", entry)
}

// CreateSMS instantiates the SMS provider registered under entry.Name.
func (r *Registry) CreateSMS(entry ProviderEntry) (sms.Provider, error) {
	return create(r, r.sms, "sms", entry)
}

// CreateGeocode instantiates the geocoding provider registered under entry.Name.
func (r *Registry) CreateGeocode(entry ProviderEntry) (geocode.Provider, error) {
	return create(r, r.geocode, "geocode", entry)
}
