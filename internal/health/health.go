// Package health serves the liveness and readiness probes.
//
//   - /healthz always answers 200 while the process serves HTTP.
//   - /readyz answers 200 only when every registered [Checker] passes: the
//     sink backend answers, at least one transcription engine has a closed
//     or half-open circuit, and the session hub has room for another device.
//
// Both respond with {"status": "ok"|"fail", "checks": {name: result}}.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/earshot/internal/resilience"
	"github.com/MrWong99/earshot/pkg/provider/sink"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when healthy.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction.
type Handler struct {
	checkers []Checker
}

// New returns a Handler evaluating checkers on every /readyz request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs all checkers concurrently, each with a [checkTimeout]
// deadline derived from the request.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu     sync.Mutex
		checks = make(map[string]string, len(h.checkers))
		failed bool
	)

	var g errgroup.Group
	for _, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				failed = true
			} else {
				checks[c.Name] = "ok"
			}
			return nil
		})
	}
	_ = g.Wait()

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if failed {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// SinkCheck pings s when it implements [sink.Pinger]. Sinks without a
// remote backend always pass.
func SinkCheck(s sink.Sink) Checker {
	return Checker{Name: "sink", Check: func(ctx context.Context) error {
		p, ok := s.(sink.Pinger)
		if !ok {
			return nil
		}
		return p.Ping(ctx)
	}}
}

// TranscriberCheck fails when the circuit of every transcription engine in
// f is open.
func TranscriberCheck(f *resilience.STTFallback) Checker {
	return Checker{Name: "transcriber", Check: func(context.Context) error {
		var open []string
		total := 0
		f.Each(func(name string, state resilience.State) {
			total++
			if state == resilience.StateOpen {
				open = append(open, name)
			}
		})
		if total > 0 && len(open) == total {
			return fmt.Errorf("all engines unavailable: %v", open)
		}
		return nil
	}}
}

// ErrFull is reported by [CapacityCheck] when no session slot is free.
var ErrFull = errors.New("no free session slots")

// CapacityCheck fails when capacity reports every slot taken. A max of zero
// means unlimited.
func CapacityCheck(capacity func() (active, max int)) Checker {
	return Checker{Name: "sessions", Check: func(context.Context) error {
		active, max := capacity()
		if max > 0 && active >= max {
			return fmt.Errorf("%w (%d/%d)", ErrFull, active, max)
		}
		return nil
	}}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
