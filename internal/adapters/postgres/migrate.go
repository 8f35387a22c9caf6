package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate applies the job store schema. Statements are idempotent so
// running them at startup on every process is safe.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS jobs (
	job_id        text PRIMARY KEY,
	fingerprint   text NOT NULL DEFAULT '',
	subject       text NOT NULL,
	tier          text NOT NULL,
	priority      integer NOT NULL DEFAULT 0,
	prompt        text NOT NULL,
	params        jsonb NOT NULL DEFAULT '{}'::jsonb,
	callback_url  text NOT NULL DEFAULT '',
	state         text NOT NULL,
	attempts      integer NOT NULL DEFAULT 0,
	last_error    text NOT NULL DEFAULT '',
	not_before    timestamptz NOT NULL DEFAULT to_timestamp(0),
	seq           bigserial,
	result        jsonb,
	created_at    timestamptz NOT NULL,
	started_at    timestamptz,
	completed_at  timestamptz
);
CREATE INDEX IF NOT EXISTS jobs_dequeue_idx
	ON jobs (priority DESC, seq ASC)
	WHERE state = 'QUEUED';
CREATE INDEX IF NOT EXISTS jobs_state_completed_idx
	ON jobs (state, completed_at);
`
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("apply job store schema: %w", err)
	}
	return nil
}
