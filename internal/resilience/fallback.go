package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when no entry of a [FallbackGroup] succeeded.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig is the breaker template applied to every entry. Each entry
// gets its own breaker named after the entry.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type member[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup is an ordered list of interchangeable backends. Entries must
// all be added before the group is shared between goroutines.
type FallbackGroup[T any] struct {
	cfg     FallbackConfig
	members []member[T]
}

// NewFallbackGroup returns a group whose first entry is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	g := &FallbackGroup[T]{cfg: cfg}
	g.AddFallback(primaryName, primary)
	return g
}

// AddFallback appends an entry tried after all earlier ones.
func (g *FallbackGroup[T]) AddFallback(name string, v T) {
	bc := g.cfg.CircuitBreaker
	bc.Name = name
	g.members = append(g.members, member[T]{name: name, value: v, breaker: NewCircuitBreaker(bc)})
}

// Len is the number of entries.
func (g *FallbackGroup[T]) Len() int { return len(g.members) }

// Each reports every entry in order with the state of its breaker.
func (g *FallbackGroup[T]) Each(fn func(name string, v T, state State)) {
	for _, m := range g.members {
		fn(m.name, m.value, m.breaker.State())
	}
}

// Do calls fn on each entry in order, through the entry's breaker, and
// returns the first success. fn receives the entry's index so callers can
// keep per-entry state beside the group. When every entry fails the error
// wraps [ErrAllFailed] and each entry's error.
func Do[T, R any](g *FallbackGroup[T], fn func(i int, v T) (R, error)) (R, error) {
	errs := make([]error, 0, len(g.members))
	for i, m := range g.members {
		var res R
		err := m.breaker.Execute(func() (err error) {
			res, err = fn(i, m.value)
			return err
		})
		if err == nil {
			if i > 0 {
				slog.Info("fallback provider succeeded", "provider", m.name, "skipped", i)
			}
			return res, nil
		}
		if !errors.Is(err, ErrCircuitOpen) {
			slog.Warn("provider failed", "provider", m.name, "err", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", m.name, err))
	}
	var zero R
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}
