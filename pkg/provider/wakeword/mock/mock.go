// Package mock provides test doubles for the wakeword package interfaces.
//
// Spotter reports matches from a script keyed by frame number, or from a
// custom MatchFunc. Every processed frame is recorded so tests can assert
// exactly what reached the detector.
//
// Example:
//
//	sp := &mock.Spotter{Matches: map[int]int{3: 0}} // keyword 0 on the 4th frame
//	prov := &mock.Provider{Spotter: sp}
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/earshot/pkg/provider/wakeword"
)

// Provider is a mock implementation of wakeword.Provider.
type Provider struct {
	mu sync.Mutex

	// Spotter is returned by NewSpotter. If nil, each call returns a new
	// default Spotter.
	Spotter wakeword.Spotter

	// NewSpotterErr, if non-nil, is returned from NewSpotter.
	NewSpotterErr error

	// NewSpotterCallCount is the number of NewSpotter calls.
	NewSpotterCallCount int

	// Created holds every Spotter handed out, in order.
	Created []wakeword.Spotter
}

// NewSpotter records the call and returns Spotter, NewSpotterErr.
func (p *Provider) NewSpotter(_ context.Context) (wakeword.Spotter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.NewSpotterCallCount++
	if p.NewSpotterErr != nil {
		return nil, p.NewSpotterErr
	}
	sp := p.Spotter
	if sp == nil {
		sp = &Spotter{}
	}
	p.Created = append(p.Created, sp)
	return sp, nil
}

var _ wakeword.Provider = (*Provider)(nil)

// Spotter is a mock implementation of wakeword.Spotter.
type Spotter struct {
	mu sync.Mutex

	// Rate is returned by SampleRate. Zero means 16000.
	Rate int

	// Length is returned by FrameLength. Zero means 512.
	Length int

	// Matches maps a zero-based frame number to the keyword index reported
	// for that frame. Ignored when MatchFunc is set.
	Matches map[int]int

	// MatchFunc, if set, decides the result for every frame.
	MatchFunc func(n int, frame []int16) int

	// ProcessErr, if non-nil, is returned by every Process call.
	ProcessErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// Frames holds a copy of every frame passed to Process.
	Frames [][]int16

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// SampleRate returns Rate or 16000.
func (s *Spotter) SampleRate() int {
	if s.Rate == 0 {
		return 16000
	}
	return s.Rate
}

// FrameLength returns Length or 512.
func (s *Spotter) FrameLength() int {
	if s.Length == 0 {
		return 512
	}
	return s.Length
}

// Process records the frame and returns the scripted result.
func (s *Spotter) Process(frame []int16) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.Frames)
	s.Frames = append(s.Frames, slices.Clone(frame))
	if s.ProcessErr != nil {
		return wakeword.NoMatch, s.ProcessErr
	}
	if s.MatchFunc != nil {
		return s.MatchFunc(n, frame), nil
	}
	if idx, ok := s.Matches[n]; ok {
		return idx, nil
	}
	return wakeword.NoMatch, nil
}

// Close records the call and returns CloseErr.
func (s *Spotter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// FrameCount returns the number of frames processed. Thread-safe.
func (s *Spotter) FrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Frames)
}

// Closed reports whether Close was called at least once. Thread-safe.
func (s *Spotter) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount > 0
}

var _ wakeword.Spotter = (*Spotter)(nil)
