// Package energy provides a pure-Go wake-word Provider that fires on the
// onset of loud audio instead of a spoken keyword.
//
// It needs no model files or credentials, which makes it useful for local
// development, CI and hardware without Picovoice support: clap, say anything
// loudly, or tap the microphone to arm recording. The only keyword index it
// ever reports is 0.
//
// Detection uses RMS hysteresis: OnsetFrames consecutive frames at or above
// Threshold fire once, then the spotter stays latched until ReleaseFrames
// consecutive frames fall below Threshold/2.
package energy

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/wakeword"
)

const (
	// DefaultSampleRate matches Porcupine so clients need no reconfiguration.
	DefaultSampleRate = 16000
	// DefaultFrameLength is 32 ms at 16 kHz.
	DefaultFrameLength = 512
	// DefaultThreshold is the RMS level (int16 scale) treated as loud.
	DefaultThreshold = 3000.0
	// DefaultOnsetFrames is ~96 ms of sustained energy.
	DefaultOnsetFrames = 3
	// DefaultReleaseFrames is ~320 ms of quiet before another onset can fire.
	DefaultReleaseFrames = 10
)

var (
	_ wakeword.Provider = (*Provider)(nil)
	_ wakeword.Spotter  = (*Spotter)(nil)
)

// Config tunes the detector. Zero fields take the package defaults.
type Config struct {
	SampleRate    int
	FrameLength   int
	Threshold     float64
	OnsetFrames   int
	ReleaseFrames int
}

func (c Config) withDefaults() Config {
	if c.SampleRate == 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.FrameLength == 0 {
		c.FrameLength = DefaultFrameLength
	}
	if c.Threshold == 0 {
		c.Threshold = DefaultThreshold
	}
	if c.OnsetFrames == 0 {
		c.OnsetFrames = DefaultOnsetFrames
	}
	if c.ReleaseFrames == 0 {
		c.ReleaseFrames = DefaultReleaseFrames
	}
	return c
}

// Provider creates energy spotters sharing one Config.
type Provider struct {
	cfg Config
}

// New validates cfg after applying defaults.
func New(cfg Config) (*Provider, error) {
	cfg = cfg.withDefaults()
	switch {
	case cfg.SampleRate < 0:
		return nil, fmt.Errorf("energy: sample rate must be positive, got %d", cfg.SampleRate)
	case cfg.FrameLength < 0:
		return nil, fmt.Errorf("energy: frame length must be positive, got %d", cfg.FrameLength)
	case cfg.Threshold < 0 || cfg.Threshold > 32768:
		return nil, fmt.Errorf("energy: threshold %.1f out of range [0, 32768]", cfg.Threshold)
	case cfg.OnsetFrames < 0 || cfg.ReleaseFrames < 0:
		return nil, errors.New("energy: frame counts must not be negative")
	}
	return &Provider{cfg: cfg}, nil
}

// NewSpotter returns an unlatched spotter.
func (p *Provider) NewSpotter(_ context.Context) (wakeword.Spotter, error) {
	return &Spotter{cfg: p.cfg}, nil
}

// Spotter tracks the hysteresis state for one stream.
type Spotter struct {
	cfg     Config
	latched bool
	loud    int
	quiet   int
	closed  bool
}

// SampleRate returns the configured rate.
func (s *Spotter) SampleRate() int { return s.cfg.SampleRate }

// FrameLength returns the configured frame size.
func (s *Spotter) FrameLength() int { return s.cfg.FrameLength }

// Process updates the hysteresis state and reports keyword 0 on an onset.
func (s *Spotter) Process(frame []int16) (int, error) {
	if s.closed {
		return wakeword.NoMatch, errors.New("energy: spotter is closed")
	}
	if len(frame) != s.cfg.FrameLength {
		return wakeword.NoMatch, fmt.Errorf("energy: frame has %d samples, want %d", len(frame), s.cfg.FrameLength)
	}

	level := audio.SampleRMS(frame)

	if s.latched {
		if level < s.cfg.Threshold/2 {
			s.quiet++
			if s.quiet >= s.cfg.ReleaseFrames {
				s.latched = false
				s.quiet = 0
			}
		} else {
			s.quiet = 0
		}
		return wakeword.NoMatch, nil
	}

	if level < s.cfg.Threshold {
		s.loud = 0
		return wakeword.NoMatch, nil
	}
	s.loud++
	if s.loud < s.cfg.OnsetFrames {
		return wakeword.NoMatch, nil
	}
	s.loud = 0
	s.latched = true
	return 0, nil
}

// Close marks the spotter unusable.
func (s *Spotter) Close() error {
	s.closed = true
	return nil
}
