// Package mock provides a test double for sink.Sink that records every
// delivered result.
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/earshot/pkg/provider/sink"
)

// Sink is a mock implementation of sink.Sink.
type Sink struct {
	mu sync.Mutex

	// DeliverErr, if non-nil, is returned by every Deliver call.
	DeliverErr error

	// DeliverFunc, if set, runs on every call before recording; its error is
	// returned.
	DeliverFunc func(ctx context.Context, r sink.Result) error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// Delivered holds every result passed to Deliver, in order.
	Delivered []sink.Result

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	notify chan struct{}
}

// Deliver records r and returns DeliverErr.
func (s *Sink) Deliver(ctx context.Context, r sink.Result) error {
	s.mu.Lock()
	fn := s.DeliverFunc
	s.mu.Unlock()

	var err error
	if fn != nil {
		err = fn(ctx, r)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.Delivered = append(s.Delivered, r)
	if s.notify != nil {
		select {
		case s.notify <- struct{}{}:
		default:
		}
	}
	if err != nil {
		return err
	}
	return s.DeliverErr
}

// Close records the call and returns CloseErr.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// Results returns a snapshot of Delivered. Thread-safe.
func (s *Sink) Results() []sink.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.Delivered)
}

// Notify returns a channel that receives a value after each Deliver. Call it
// before the deliveries you want to wait for.
func (s *Sink) Notify() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notify == nil {
		s.notify = make(chan struct{}, 64)
	}
	return s.notify
}

var _ sink.Sink = (*Sink)(nil)
