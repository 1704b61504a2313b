package transcript

import (
	"context"
	"sync/atomic"

	"github.com/MrWong99/earshot/pkg/provider/stt"
)

// Swappable forwards to a [Corrector] that can be replaced while sessions
// are running. With no corrector set the transcript passes through unchanged.
type Swappable struct {
	cur atomic.Pointer[holder]
}

type holder struct{ c Corrector }

var _ Corrector = (*Swappable)(nil)

// NewSwappable returns a Swappable starting with c, which may be nil.
func NewSwappable(c Corrector) *Swappable {
	s := &Swappable{}
	s.Set(c)
	return s
}

// Set replaces the corrector. Calls already in flight finish with the old one.
func (s *Swappable) Set(c Corrector) {
	s.cur.Store(&holder{c: c})
}

// Correct implements [Corrector].
func (s *Swappable) Correct(ctx context.Context, t stt.Transcript) (*Corrected, error) {
	h := s.cur.Load()
	if h == nil || h.c == nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return &Corrected{Original: t, Text: t.Text, Corrections: []Correction{}}, nil
	}
	return h.c.Correct(ctx, t)
}
