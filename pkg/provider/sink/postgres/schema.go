package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlTranscripts = `
CREATE TABLE IF NOT EXISTS transcripts (
    id             BIGSERIAL    PRIMARY KEY,
    connection_id  TEXT         NOT NULL,
    text           TEXT         NOT NULL,
    raw_text       TEXT         NOT NULL DEFAULT '',
    keyword_index  INTEGER      NOT NULL DEFAULT 0,
    language       TEXT         NOT NULL DEFAULT '',
    audio_ns       BIGINT       NOT NULL DEFAULT 0,
    words          JSONB        NOT NULL DEFAULT '[]',
    completed_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcripts_connection_id
    ON transcripts (connection_id);

CREATE INDEX IF NOT EXISTS idx_transcripts_completed_at
    ON transcripts (completed_at);

CREATE INDEX IF NOT EXISTS idx_transcripts_fts
    ON transcripts USING GIN (to_tsvector('simple', text));
`

// Migrate creates the transcripts table and its indexes. It is idempotent
// and safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlTranscripts); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
