// Package leopard provides an on-device transcriber backed by Picovoice
// Leopard.
//
// One Leopard instance is loaded at startup and shared by every connection.
// The engine is not safe for concurrent use, so Transcribe calls from
// different connections are serialised on a mutex.
package leopard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lp "github.com/Picovoice/leopard/binding/go/v2"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/stt"
)

var (
	_ stt.Provider    = (*Provider)(nil)
	_ stt.Transcriber = (*transcriber)(nil)
)

// Option is a functional option for Provider.
type Option func(*lp.Leopard)

// WithModelPath selects a non-default (e.g. non-English) Leopard model.
func WithModelPath(path string) Option {
	return func(l *lp.Leopard) { l.ModelPath = path }
}

// WithoutPunctuation disables automatic punctuation and truecasing.
func WithoutPunctuation() Option {
	return func(l *lp.Leopard) { l.EnableAutomaticPunctuation = false }
}

// Provider owns the shared Leopard engine.
type Provider struct {
	mu     sync.Mutex
	engine *lp.Leopard
}

// New initialises Leopard with accessKey. The caller must Close the provider.
func New(accessKey string, opts ...Option) (*Provider, error) {
	if accessKey == "" {
		return nil, errors.New("leopard: access key must not be empty")
	}
	engine := lp.NewLeopard(accessKey)
	engine.EnableAutomaticPunctuation = true
	for _, o := range opts {
		o(&engine)
	}
	if err := engine.Init(); err != nil {
		return nil, fmt.Errorf("leopard: init: %w", err)
	}
	return &Provider{engine: &engine}, nil
}

// Close releases the engine.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.engine == nil {
		return nil
	}
	err := p.engine.Delete()
	p.engine = nil
	if err != nil {
		return fmt.Errorf("leopard: delete: %w", err)
	}
	return nil
}

// NewTranscriber returns a handle over the shared engine.
func (p *Provider) NewTranscriber(ctx context.Context) (stt.Transcriber, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("leopard: %w", err)
	}
	return &transcriber{p: p}, nil
}

func (p *Provider) process(ctx context.Context, samples []int16) (stt.Transcript, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.engine == nil {
		return stt.Transcript{}, errors.New("leopard: provider is closed")
	}
	// Waiting for the lock may have outlived the caller.
	if err := ctx.Err(); err != nil {
		return stt.Transcript{}, fmt.Errorf("leopard: %w", err)
	}

	text, words, err := p.engine.Process(samples)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("leopard: process: %w", err)
	}

	out := stt.Transcript{Text: strings.TrimSpace(text)}
	if len(words) == 0 {
		return out, nil
	}
	var conf float64
	out.Words = make([]stt.WordDetail, 0, len(words))
	for _, w := range words {
		out.Words = append(out.Words, stt.WordDetail{
			Word:       w.Word,
			Start:      seconds(w.StartSec),
			End:        seconds(w.EndSec),
			Confidence: float64(w.Confidence),
		})
		conf += float64(w.Confidence)
	}
	out.Confidence = conf / float64(len(words))
	return out, nil
}

func seconds(s float32) time.Duration {
	return time.Duration(float64(s) * float64(time.Second))
}

type transcriber struct {
	p      *Provider
	closed atomic.Bool
}

// Transcribe resamples to Leopard's rate and runs the shared engine.
func (t *transcriber) Transcribe(ctx context.Context, samples []int16, sampleRate int) (stt.Transcript, error) {
	if t.closed.Load() {
		return stt.Transcript{}, stt.ErrClosed
	}
	return t.p.process(ctx, audio.Resample(samples, sampleRate, lp.SampleRate))
}

func (t *transcriber) Close() error {
	t.closed.Store(true)
	return nil
}
