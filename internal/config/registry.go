package config

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/earshot/pkg/provider/sink"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/provider/wakeword"
)

// ErrProviderNotRegistered is returned when a config names a backend no
// factory was registered for.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

type (
	WakewordFactory    func(ProviderEntry) (wakeword.Provider, error)
	TranscriberFactory func(ProviderEntry) (stt.Provider, error)
	// SinkFactory receives a context because some sinks connect on creation.
	SinkFactory func(context.Context, ProviderEntry) (sink.Sink, error)
)

// Registry maps backend names to factories, per provider kind. Registering
// a name twice replaces the first factory. Safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	wakeword    map[string]WakewordFactory
	transcriber map[string]TranscriberFactory
	sink        map[string]SinkFactory
}

func NewRegistry() *Registry {
	return &Registry{
		wakeword:    map[string]WakewordFactory{},
		transcriber: map[string]TranscriberFactory{},
		sink:        map[string]SinkFactory{},
	}
}

func (r *Registry) RegisterWakeword(name string, f WakewordFactory) { register(r, r.wakeword, name, f) }

func (r *Registry) RegisterTranscriber(name string, f TranscriberFactory) {
	register(r, r.transcriber, name, f)
}

func (r *Registry) RegisterSink(name string, f SinkFactory) { register(r, r.sink, name, f) }

func (r *Registry) CreateWakeword(e ProviderEntry) (wakeword.Provider, error) {
	f, err := lookup(r, r.wakeword, "wakeword", e.Name)
	if err != nil {
		return nil, err
	}
	return f(e)
}

func (r *Registry) CreateTranscriber(e ProviderEntry) (stt.Provider, error) {
	f, err := lookup(r, r.transcriber, "transcriber", e.Name)
	if err != nil {
		return nil, err
	}
	return f(e)
}

func (r *Registry) CreateSink(ctx context.Context, e ProviderEntry) (sink.Sink, error) {
	f, err := lookup(r, r.sink, "sink", e.Name)
	if err != nil {
		return nil, err
	}
	return f(ctx, e)
}

// Names lists the registered backends of kind "wakeword", "transcriber" or
// "sink" in sorted order.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case "wakeword":
		return slices.Sorted(maps.Keys(r.wakeword))
	case "transcriber":
		return slices.Sorted(maps.Keys(r.transcriber))
	case "sink":
		return slices.Sorted(maps.Keys(r.sink))
	}
	return nil
}

func register[F any](r *Registry, m map[string]F, name string, f F) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m[name] = f
}

func lookup[F any](r *Registry, m map[string]F, kind, name string) (F, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := m[name]
	if !ok {
		known := strings.Join(slices.Sorted(maps.Keys(m)), ", ")
		return f, fmt.Errorf("%w: %s %q (registered: %s)", ErrProviderNotRegistered, kind, name, known)
	}
	return f, nil
}
