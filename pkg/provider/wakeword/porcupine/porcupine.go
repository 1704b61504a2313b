// Package porcupine provides a wake-word Provider backed by Picovoice
// Porcupine.
//
// Porcupine runs on-device from a shared library bundled with the Go binding.
// Each Spotter is a separate Porcupine instance; instances are cheap but hold
// native memory until Close.
//
// Usage:
//
//	p, err := porcupine.New(accessKey,
//	    porcupine.WithKeywordPaths("hey-robot_en_linux.ppn"),
//	    porcupine.WithSensitivity(0.7),
//	)
//	sp, err := p.NewSpotter(ctx)
//	idx, err := sp.Process(frame)
//	sp.Close()
package porcupine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	pv "github.com/Picovoice/porcupine/binding/go/v3"

	"github.com/MrWong99/earshot/pkg/provider/wakeword"
)

// DefaultSensitivity is the per-keyword sensitivity used when none is set.
// Porcupine accepts [0, 1]; higher values trade false rejects for false
// accepts.
const DefaultSensitivity = 1.0

var (
	_ wakeword.Provider = (*Provider)(nil)
	_ wakeword.Spotter  = (*Spotter)(nil)
)

// Option is a functional option for Provider.
type Option func(*Provider)

// WithKeywordPaths sets the custom keyword model files (.ppn).
func WithKeywordPaths(paths ...string) Option {
	return func(p *Provider) { p.keywordPaths = append(p.keywordPaths, paths...) }
}

// WithBuiltinKeywords adds Porcupine's bundled keywords (e.g. "jarvis").
// They are indexed after any keyword paths.
func WithBuiltinKeywords(names ...string) Option {
	return func(p *Provider) { p.builtins = append(p.builtins, names...) }
}

// WithSensitivity applies one sensitivity to every keyword.
func WithSensitivity(s float32) Option {
	return func(p *Provider) { p.sensitivity = s }
}

// WithModelPath overrides the Porcupine acoustic model (for non-English
// keyword files).
func WithModelPath(path string) Option {
	return func(p *Provider) { p.modelPath = path }
}

// Provider creates Porcupine spotters with a fixed keyword set.
type Provider struct {
	accessKey    string
	modelPath    string
	keywordPaths []string
	builtins     []string
	sensitivity  float32
}

// New validates the configuration and probes one Porcupine instance so that
// bad credentials or keyword files fail at startup rather than on the first
// connection.
func New(accessKey string, opts ...Option) (*Provider, error) {
	if accessKey == "" {
		return nil, errors.New("porcupine: access key must not be empty")
	}
	p := &Provider{accessKey: accessKey, sensitivity: DefaultSensitivity}
	for _, o := range opts {
		o(p)
	}
	if len(p.keywordPaths) == 0 && len(p.builtins) == 0 {
		return nil, errors.New("porcupine: at least one keyword path or builtin keyword is required")
	}
	if p.sensitivity < 0 || p.sensitivity > 1 {
		return nil, fmt.Errorf("porcupine: sensitivity %.2f out of range [0, 1]", p.sensitivity)
	}
	for _, name := range p.builtins {
		if !pv.BuiltInKeyword(name).IsValid() {
			return nil, fmt.Errorf("porcupine: unknown builtin keyword %q", name)
		}
	}

	probe, err := p.NewSpotter(context.Background())
	if err != nil {
		return nil, err
	}
	_ = probe.Close()
	return p, nil
}

// NewSpotter initialises a fresh Porcupine instance.
func (p *Provider) NewSpotter(ctx context.Context) (wakeword.Spotter, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("porcupine: %w", err)
	}

	keywords := len(p.keywordPaths) + len(p.builtins)
	sens := make([]float32, keywords)
	for i := range sens {
		sens[i] = p.sensitivity
	}

	engine := pv.Porcupine{
		AccessKey:     p.accessKey,
		ModelPath:     p.modelPath,
		KeywordPaths:  p.keywordPaths,
		Sensitivities: sens,
	}
	for _, name := range p.builtins {
		engine.BuiltInKeywords = append(engine.BuiltInKeywords, pv.BuiltInKeyword(name))
	}
	if err := engine.Init(); err != nil {
		return nil, fmt.Errorf("porcupine: init: %w", err)
	}
	return &Spotter{engine: &engine}, nil
}

// Spotter is one Porcupine instance.
type Spotter struct {
	mu     sync.Mutex
	engine *pv.Porcupine
}

// SampleRate reports the rate Porcupine was built for (16 kHz).
func (s *Spotter) SampleRate() int { return pv.SampleRate }

// FrameLength reports the number of samples per Process call (512).
func (s *Spotter) FrameLength() int { return pv.FrameLength }

// Process runs keyword detection on one frame.
func (s *Spotter) Process(frame []int16) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine == nil {
		return wakeword.NoMatch, errors.New("porcupine: spotter is closed")
	}
	idx, err := s.engine.Process(frame)
	if err != nil {
		return wakeword.NoMatch, fmt.Errorf("porcupine: process: %w", err)
	}
	return idx, nil
}

// Close frees the native instance.
func (s *Spotter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine == nil {
		return nil
	}
	err := s.engine.Delete()
	s.engine = nil
	if err != nil {
		return fmt.Errorf("porcupine: delete: %w", err)
	}
	return nil
}
