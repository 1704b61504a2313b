// Package stt defines the batch speech-to-text capability used to transcribe
// finished utterances.
//
// A Transcriber receives one complete utterance (mono int16 PCM plus its
// sample rate) and returns the recognised text. Engines that need a different
// sample rate resample internally, so callers always pass audio at the rate it
// was captured.
//
// Each client connection gets its own Transcriber from a Provider. Backends
// that share an expensive model across connections (whisper.cpp, Leopard)
// hold it in the Provider and hand out light per-connection handles.
package stt

import (
	"context"
	"errors"
)

// ErrClosed is returned by Transcribe after Close.
var ErrClosed = errors.New("stt: transcriber is closed")

// Transcriber converts a complete utterance into text. A Transcriber is used
// by one connection at a time; implementations need not support concurrent
// Transcribe calls on the same value.
type Transcriber interface {
	// Transcribe recognises samples captured at sampleRate Hz. An empty Text
	// with a nil error means the engine heard nothing intelligible.
	Transcribe(ctx context.Context, samples []int16, sampleRate int) (Transcript, error)

	// Close releases per-connection resources. Calling Close more than once
	// is safe.
	Close() error
}

// Provider creates Transcribers. Implementations must be safe for concurrent
// use.
type Provider interface {
	// NewTranscriber returns a handle for one connection.
	NewTranscriber(ctx context.Context) (Transcriber, error)
}
