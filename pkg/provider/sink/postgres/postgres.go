// Package postgres stores transcripts in PostgreSQL.
//
// Every delivered result becomes one row in the transcripts table. The sink
// also implements sink.History, backing the transcript listing and
// full-text search endpoints of the admin API.
//
// Usage:
//
//	s, err := postgres.New(ctx, dsn)
//	defer s.Close()
//	_ = s.Deliver(ctx, result)
//	recent, _ := s.Recent(ctx, "", 20)
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/earshot/pkg/provider/sink"
	"github.com/MrWong99/earshot/pkg/provider/stt"
)

var (
	_ sink.Sink    = (*Sink)(nil)
	_ sink.History = (*Sink)(nil)
	_ sink.Pinger  = (*Sink)(nil)
)

// Sink is safe for concurrent use.
type Sink struct {
	pool *pgxpool.Pool
}

// New connects to dsn, verifies the connection and runs [Migrate].
func New(ctx context.Context, dsn string) (*Sink, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres sink: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres sink: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres sink: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres sink: %w", err)
	}
	return &Sink{pool: pool}, nil
}

// word is the JSON shape of one stt.WordDetail in the words column.
type word struct {
	Word       string  `json:"word"`
	StartMS    int64   `json:"start_ms"`
	EndMS      int64   `json:"end_ms"`
	Confidence float64 `json:"confidence"`
}

// Deliver inserts r.
func (s *Sink) Deliver(ctx context.Context, r sink.Result) error {
	const q = `
		INSERT INTO transcripts
		    (connection_id, text, raw_text, keyword_index, language, audio_ns, words, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	words := make([]word, 0, len(r.Words))
	for _, w := range r.Words {
		words = append(words, word{
			Word:       w.Word,
			StartMS:    w.Start.Milliseconds(),
			EndMS:      w.End.Milliseconds(),
			Confidence: w.Confidence,
		})
	}
	wordsJSON, err := json.Marshal(words)
	if err != nil {
		return fmt.Errorf("postgres sink: encode words: %w", err)
	}

	completed := r.CompletedAt
	if completed.IsZero() {
		completed = time.Now()
	}

	_, err = s.pool.Exec(ctx, q,
		r.ConnectionID,
		r.Text,
		r.RawText,
		r.KeywordIndex,
		r.Language,
		r.AudioDuration.Nanoseconds(),
		wordsJSON,
		completed,
	)
	if err != nil {
		return fmt.Errorf("postgres sink: insert: %w", err)
	}
	return nil
}

const selectColumns = `SELECT id, connection_id, text, raw_text, keyword_index, language, audio_ns, words, completed_at
FROM   transcripts`

// Recent implements [sink.History].
func (s *Sink) Recent(ctx context.Context, connectionID string, limit int) ([]sink.Entry, error) {
	args := []any{}
	q := selectColumns
	if connectionID != "" {
		args = append(args, connectionID)
		q += "\nWHERE  connection_id = $1"
	}
	q += "\nORDER  BY completed_at DESC, id DESC"
	if limit > 0 {
		args = append(args, limit)
		q += fmt.Sprintf("\nLIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres sink: recent: %w", err)
	}
	return collectEntries(rows)
}

// Search implements [sink.History] with PostgreSQL full-text search. The
// query is passed to plainto_tsquery so no operator syntax is required.
func (s *Sink) Search(ctx context.Context, query string, limit int) ([]sink.Entry, error) {
	args := []any{query}
	q := selectColumns + `
WHERE  to_tsvector('simple', text) @@ plainto_tsquery('simple', $1)
ORDER  BY completed_at DESC, id DESC`
	if limit > 0 {
		args = append(args, limit)
		q += "\nLIMIT $2"
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres sink: search: %w", err)
	}
	return collectEntries(rows)
}

// Ping checks that the database is reachable.
func (s *Sink) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *Sink) Close() error {
	s.pool.Close()
	return nil
}

// collectEntries scans pgx rows into entries.
func collectEntries(rows pgx.Rows) ([]sink.Entry, error) {
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (sink.Entry, error) {
		var (
			e         sink.Entry
			audioNS   int64
			wordsJSON []byte
		)
		if err := row.Scan(
			&e.ID,
			&e.ConnectionID,
			&e.Text,
			&e.RawText,
			&e.KeywordIndex,
			&e.Language,
			&audioNS,
			&wordsJSON,
			&e.CompletedAt,
		); err != nil {
			return sink.Entry{}, err
		}
		e.AudioDuration = time.Duration(audioNS)

		var words []word
		if err := json.Unmarshal(wordsJSON, &words); err != nil {
			return sink.Entry{}, fmt.Errorf("decode words: %w", err)
		}
		for _, w := range words {
			e.Words = append(e.Words, stt.WordDetail{
				Word:       w.Word,
				Start:      time.Duration(w.StartMS) * time.Millisecond,
				End:        time.Duration(w.EndMS) * time.Millisecond,
				Confidence: w.Confidence,
			})
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres sink: scan rows: %w", err)
	}
	if entries == nil {
		entries = []sink.Entry{}
	}
	return entries, nil
}
