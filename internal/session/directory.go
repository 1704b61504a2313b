package session

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
)

// ErrUnknownClient is returned when a connection id is not in the directory.
var ErrUnknownClient = errors.New("session: unknown client")

// Directory maps connection ids to live sessions. It is used only for
// out-of-band signalling; sessions never look each other up.
//
// All methods are safe for concurrent use.
type Directory struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewDirectory returns an empty directory.
func NewDirectory() *Directory {
	return &Directory{sessions: make(map[string]*Session)}
}

func (d *Directory) add(s *Session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions[s.ID()] = s
}

func (d *Directory) remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sessions, id)
}

// Get returns the session for id.
func (d *Directory) Get(id string) (*Session, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.sessions[id]
	return s, ok
}

// Len returns the number of live sessions.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sessions)
}

// List returns every connected client, oldest first.
func (d *Directory) List() []Info {
	d.mu.RLock()
	out := make([]Info, 0, len(d.sessions))
	for _, s := range d.sessions {
		out = append(out, s.Info())
	}
	d.mu.RUnlock()

	slices.SortFunc(out, func(a, b Info) int {
		if c := a.ConnectedAt.Compare(b.ConnectedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Signal sends msg to the client with the given id.
func (d *Directory) Signal(ctx context.Context, id, msg string) error {
	s, ok := d.Get(id)
	if !ok {
		return ErrUnknownClient
	}
	return s.Signal(ctx, msg)
}
