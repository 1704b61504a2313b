// Package voice is the per-connection audio pipeline: wake word gating,
// utterance recording with a volume VAD, and dispatch of finished utterances
// to a transcriber and a result sink.
//
// Nothing in this package is safe for concurrent use unless stated; a
// connection owns one [Gate], one [Recorder] and one [Dispatcher] and drives
// them from a single goroutine.
package voice

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the recording parameters of one connection. It is fixed for
// the lifetime of the connection.
type Config struct {
	// SampleRate and FrameLength are dictated by the keyword spotter.
	SampleRate  int
	FrameLength int

	// SilenceThreshold is the RMS amplitude at or below which a chunk counts
	// as silence.
	SilenceThreshold float64

	// SilenceDuration plus SecondaryGracePeriod is how long silence must last
	// after the last voiced chunk before the utterance ends.
	SilenceDuration      time.Duration
	SecondaryGracePeriod time.Duration

	// GracePeriod after the wake word is always treated as voiced.
	GracePeriod time.Duration

	// MaxDuration ends a recording regardless of VAD state.
	MaxDuration time.Duration
}

// DefaultConfig returns the recording defaults for a 16 kHz spotter with
// 512-sample frames.
func DefaultConfig() Config {
	return Config{
		SampleRate:           16000,
		FrameLength:          512,
		SilenceThreshold:     60,
		SilenceDuration:      500 * time.Millisecond,
		SecondaryGracePeriod: 500 * time.Millisecond,
		GracePeriod:          750 * time.Millisecond,
		MaxDuration:          10 * time.Second,
	}
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("voice: sample rate must be positive, got %d", c.SampleRate))
	}
	if c.FrameLength <= 0 {
		errs = append(errs, fmt.Errorf("voice: frame length must be positive, got %d", c.FrameLength))
	}
	if c.SilenceThreshold < 0 {
		errs = append(errs, fmt.Errorf("voice: silence threshold must not be negative, got %v", c.SilenceThreshold))
	}
	if c.SilenceDuration < 0 || c.SecondaryGracePeriod < 0 || c.GracePeriod < 0 {
		errs = append(errs, errors.New("voice: silence duration and grace periods must not be negative"))
	}
	if c.MaxDuration <= 0 {
		errs = append(errs, fmt.Errorf("voice: max duration must be positive, got %s", c.MaxDuration))
	}
	return errors.Join(errs...)
}
