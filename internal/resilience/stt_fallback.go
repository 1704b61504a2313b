package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/earshot/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with automatic failover across multiple
// transcription backends. Breakers are shared by every connection, so a
// backend that keeps failing is skipped for all of them.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var (
	_ stt.Provider    = (*STTFallback)(nil)
	_ stt.Transcriber = (*fallbackTranscriber)(nil)
)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional transcription backend.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Each reports every backend with its breaker state.
func (f *STTFallback) Each(fn func(name string, state State)) {
	f.group.Each(func(name string, _ stt.Provider, state State) { fn(name, state) })
}

// NewTranscriber opens a transcriber on every backend. Backends that fail to
// open are left out of this connection; it is an error only if none open.
func (f *STTFallback) NewTranscriber(ctx context.Context) (stt.Transcriber, error) {
	ft := &fallbackTranscriber{
		group:        f.group,
		transcribers: make([]stt.Transcriber, f.group.Len()),
	}
	var errs []error
	opened := 0
	i := 0
	f.group.Each(func(name string, p stt.Provider, _ State) {
		idx := i
		i++
		tr, err := p.NewTranscriber(ctx)
		if err != nil {
			slog.Warn("stt fallback: backend unavailable for connection", "provider", name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		ft.transcribers[idx] = tr
		opened++
	})
	if opened == 0 {
		return nil, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
	}
	return ft, nil
}

type fallbackTranscriber struct {
	group        *FallbackGroup[stt.Provider]
	transcribers []stt.Transcriber
}

var errNotOpened = errors.New("backend not opened for this connection")

// Transcribe tries each backend in order until one succeeds.
func (t *fallbackTranscriber) Transcribe(ctx context.Context, samples []int16, sampleRate int) (stt.Transcript, error) {
	return Do(t.group, func(i int, _ stt.Provider) (stt.Transcript, error) {
		tr := t.transcribers[i]
		if tr == nil {
			return stt.Transcript{}, errNotOpened
		}
		return tr.Transcribe(ctx, samples, sampleRate)
	})
}

// Close closes every opened transcriber.
func (t *fallbackTranscriber) Close() error {
	var errs []error
	for _, tr := range t.transcribers {
		if tr != nil {
			errs = append(errs, tr.Close())
		}
	}
	return errors.Join(errs...)
}
