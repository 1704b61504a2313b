// Package logsink writes transcripts to a structured logger. It is the
// default sink when no downstream consumer is configured.
package logsink

import (
	"context"
	"log/slog"

	"github.com/MrWong99/earshot/pkg/provider/sink"
)

var _ sink.Sink = (*Sink)(nil)

// Sink logs each result at info level.
type Sink struct {
	log *slog.Logger
}

// New returns a Sink writing to log. A nil logger means slog.Default().
func New(log *slog.Logger) *Sink {
	if log == nil {
		log = slog.Default()
	}
	return &Sink{log: log}
}

// Deliver logs r.
func (s *Sink) Deliver(ctx context.Context, r sink.Result) error {
	s.log.InfoContext(ctx, "transcript",
		"conn_id", r.ConnectionID,
		"text", r.Text,
		"raw_text", r.RawText,
		"keyword_index", r.KeywordIndex,
		"audio_duration", r.AudioDuration,
		"words", len(r.Words),
	)
	return nil
}

// Close is a no-op.
func (s *Sink) Close() error { return nil }
