// Package sink defines where finished transcripts go.
//
// A Sink receives one Result per transcribed utterance. Delivery is best
// effort: callers bound every Deliver with a timeout, log failures and never
// retry. Sinks are shared by all connections and must be safe for concurrent
// use.
package sink

import (
	"context"
	"time"

	"github.com/MrWong99/earshot/pkg/provider/stt"
)

// Result is a transcribed voice command ready for a downstream consumer.
type Result struct {
	// ConnectionID identifies the client connection the command came from.
	ConnectionID string

	// Text is the transcript after vocabulary correction. This is what
	// consumers should act on.
	Text string

	// RawText is the transcript exactly as the engine returned it.
	RawText string

	// KeywordIndex is the index of the wake word that armed the recording.
	KeywordIndex int

	// AudioDuration is the length of the recorded utterance.
	AudioDuration time.Duration

	// Language is the transcript language, when known.
	Language string

	// Words holds per-word timing when the engine provides it.
	Words []stt.WordDetail

	// CompletedAt is when transcription finished.
	CompletedAt time.Time
}

// Sink delivers results to a downstream consumer.
type Sink interface {
	// Deliver hands r to the consumer. An error means r was dropped.
	Deliver(ctx context.Context, r Result) error

	// Close flushes and releases the sink.
	Close() error
}

// Entry is a stored Result as returned by a History.
type Entry struct {
	ID int64
	Result
}

// History is implemented by sinks that keep results and can list them back.
type History interface {
	// Recent returns up to limit entries, newest first. An empty
	// connectionID matches every connection.
	Recent(ctx context.Context, connectionID string, limit int) ([]Entry, error)

	// Search returns up to limit entries whose text matches query, newest
	// first.
	Search(ctx context.Context, query string, limit int) ([]Entry, error)
}

// Pinger is implemented by sinks whose backend reachability can be checked
// for readiness probes.
type Pinger interface {
	Ping(ctx context.Context) error
}
