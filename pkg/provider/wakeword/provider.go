// Package wakeword defines the keyword-spotting capability used to arm
// recording.
//
// A Spotter wraps a frame-level keyword detector (e.g. Picovoice Porcupine).
// The detector dictates the audio format: callers must feed it frames of
// exactly FrameLength samples at SampleRate Hz, mono int16.
//
// Spotters usually hold native resources and keep internal state between
// frames, so each client connection gets its own Spotter from a Provider and
// must Close it when the connection ends.
package wakeword

import "context"

// NoMatch is the keyword index Process returns when no keyword was heard.
const NoMatch = -1

// Spotter is a stateful keyword detector for a single audio stream. It is not
// safe for concurrent use.
type Spotter interface {
	// SampleRate is the audio sample rate in Hz the spotter requires.
	SampleRate() int

	// FrameLength is the number of samples Process expects per call.
	FrameLength() int

	// Process analyses one frame and returns the index of the detected keyword
	// in the configured keyword list, or NoMatch.
	Process(frame []int16) (int, error)

	// Close releases the detector. Calling Close more than once is safe.
	Close() error
}

// Provider creates Spotters. Implementations must be safe for concurrent use
// because connections are accepted in parallel.
type Provider interface {
	// NewSpotter allocates a detector for one stream. An error here means the
	// keyword models or credentials are unusable.
	NewSpotter(ctx context.Context) (Spotter, error)
}
