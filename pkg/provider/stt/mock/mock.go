// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to count connections and hand out a shared Transcriber. Use
// Transcriber to script results and inspect the exact audio each call
// received.
//
// Example:
//
//	tr := &mock.Transcriber{Result: stt.Transcript{Text: "lights on"}}
//	p := &mock.Provider{Transcriber: tr}
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/earshot/pkg/provider/stt"
)

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Transcriber is returned by NewTranscriber. If nil, each call returns a
	// new default Transcriber.
	Transcriber stt.Transcriber

	// NewTranscriberErr, if non-nil, is returned from NewTranscriber.
	NewTranscriberErr error

	// NewTranscriberCallCount is the number of NewTranscriber calls.
	NewTranscriberCallCount int
}

// NewTranscriber records the call and returns Transcriber, NewTranscriberErr.
func (p *Provider) NewTranscriber(_ context.Context) (stt.Transcriber, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.NewTranscriberCallCount++
	if p.NewTranscriberErr != nil {
		return nil, p.NewTranscriberErr
	}
	if p.Transcriber != nil {
		return p.Transcriber, nil
	}
	return &Transcriber{}, nil
}

var _ stt.Provider = (*Provider)(nil)

// TranscribeCall records a single invocation of Transcriber.Transcribe.
type TranscribeCall struct {
	// Samples is a copy of the audio passed in.
	Samples []int16
	// SampleRate is the rate passed in.
	SampleRate int
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Result is returned by every Transcribe call unless ResultFunc is set.
	Result stt.Transcript

	// ResultFunc, if set, computes the result per call.
	ResultFunc func(ctx context.Context, samples []int16, sampleRate int) (stt.Transcript, error)

	// TranscribeErr, if non-nil, is returned by every Transcribe call.
	TranscribeErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// TranscribeCalls records every call to Transcribe in order.
	TranscribeCalls []TranscribeCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Transcribe records the call and returns the scripted result.
func (t *Transcriber) Transcribe(ctx context.Context, samples []int16, sampleRate int) (stt.Transcript, error) {
	t.mu.Lock()
	t.TranscribeCalls = append(t.TranscribeCalls, TranscribeCall{Samples: slices.Clone(samples), SampleRate: sampleRate})
	fn, res, err := t.ResultFunc, t.Result, t.TranscribeErr
	t.mu.Unlock()

	if err != nil {
		return stt.Transcript{}, err
	}
	if fn != nil {
		return fn(ctx, samples, sampleRate)
	}
	return res, nil
}

// Close records the call and returns CloseErr.
func (t *Transcriber) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.CloseCallCount++
	return t.CloseErr
}

// Calls returns a snapshot of TranscribeCalls. Thread-safe.
func (t *Transcriber) Calls() []TranscribeCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.TranscribeCalls)
}

// Closed reports whether Close was called. Thread-safe.
func (t *Transcriber) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.CloseCallCount > 0
}

var _ stt.Transcriber = (*Transcriber)(nil)
