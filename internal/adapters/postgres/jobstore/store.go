package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/glyphic-ai/render-api/internal/domain"
	"github.com/glyphic-ai/render-api/internal/ports/out/jobstore"
)

// Store is a Postgres implementation of jobstore.Store.
//
// Dequeue claims use FOR UPDATE SKIP LOCKED so concurrent workers never
// receive the same job; effective priority (base + age boost) is
// computed in SQL at claim time so the ordering matches the in-memory
// adapter.
type Store struct {
	pool     *pgxpool.Pool
	maxDepth int
}

func NewStore(pool *pgxpool.Pool, maxDepth int) *Store {
	return &Store{pool: pool, maxDepth: maxDepth}
}

const jobColumns = `
	job_id, fingerprint, subject, tier, priority, prompt, params,
	callback_url, state, attempts, last_error, not_before, seq, result,
	created_at, started_at, completed_at`

func (s *Store) Enqueue(ctx context.Context, j domain.Job) error {
	if s.pool == nil {
		return errors.New("nil postgres pool")
	}
	params, err := json.Marshal(j.Payload.Params)
	if err != nil {
		return fmt.Errorf("encode job params: %w", err)
	}

	// The depth guard rides inside the INSERT so two concurrent
	// enqueues cannot both slip past a separately-read count.
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (
			job_id, fingerprint, subject, tier, priority, prompt, params,
			callback_url, state, attempts, not_before, created_at
		)
		SELECT $1,$2,$3,$4,$5,$6,$7,$8,'QUEUED',0,$9,$10
		WHERE (SELECT count(*) FROM jobs WHERE state IN ('QUEUED','RUNNING')) < $11
	`,
		string(j.ID),
		string(j.Fingerprint),
		string(j.Subject),
		string(j.Tier),
		j.Priority,
		j.Payload.Prompt,
		params,
		j.CallbackURL,
		j.NotBefore.UTC(),
		j.CreatedAt.UTC(),
		s.maxDepth,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return jobstore.ErrSaturated
	}
	return nil
}

func (s *Store) DequeueNext(ctx context.Context, now time.Time) (domain.Job, bool, error) {
	if s.pool == nil {
		return domain.Job{}, false, errors.New("nil postgres pool")
	}
	agingSecs := int64(domain.AgingStep / time.Second)
	row := s.pool.QueryRow(ctx, `
		WITH next AS (
			SELECT job_id FROM jobs
			WHERE state = 'QUEUED' AND not_before <= $1
			ORDER BY
				priority + floor(extract(epoch FROM ($1::timestamptz - created_at)) / $2)::int DESC,
				seq ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE jobs j
		SET state = 'RUNNING', attempts = j.attempts + 1, started_at = $1
		FROM next
		WHERE j.job_id = next.job_id
		RETURNING `+jobColumns,
		now.UTC(), agingSecs,
	)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Job{}, false, nil
		}
		return domain.Job{}, false, err
	}
	return j, true, nil
}

func (s *Store) Complete(ctx context.Context, id domain.JobID, result domain.Artifact) (domain.Job, error) {
	res, err := json.Marshal(result)
	if err != nil {
		return domain.Job{}, fmt.Errorf("encode job result: %w", err)
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE jobs
		SET state = 'SUCCEEDED', result = $2, last_error = '', completed_at = now()
		WHERE job_id = $1 AND state = 'RUNNING'
		RETURNING `+jobColumns,
		string(id), res,
	)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Job{}, s.classifyMissing(ctx, id)
		}
		return domain.Job{}, err
	}
	return j, nil
}

func (s *Store) Fail(ctx context.Context, id domain.JobID, cause string, kind jobstore.FailKind, policy jobstore.RetryPolicy) (domain.Job, error) {
	// Read attempts under the running-state precondition so the
	// retry/deadletter decision and the transition apply atomically.
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Job{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var attempts int
	err = tx.QueryRow(ctx, `
		SELECT attempts FROM jobs
		WHERE job_id = $1 AND state = 'RUNNING'
		FOR UPDATE
	`, string(id)).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Job{}, s.classifyMissing(ctx, id)
		}
		return domain.Job{}, err
	}

	retryable := kind == jobstore.FailTransient && attempts < policy.MaxAttempts
	var row pgx.Row
	if retryable {
		delay := time.Duration(0)
		if policy.Backoff != nil {
			delay = policy.Backoff(attempts)
		}
		row = tx.QueryRow(ctx, `
			UPDATE jobs
			SET state = 'QUEUED', last_error = $2, not_before = now() + make_interval(secs => $3)
			WHERE job_id = $1
			RETURNING `+jobColumns,
			string(id), cause, delay.Seconds(),
		)
	} else {
		row = tx.QueryRow(ctx, `
			UPDATE jobs
			SET state = 'DEAD_LETTERED', last_error = $2, completed_at = now()
			WHERE job_id = $1
			RETURNING `+jobColumns,
			string(id), cause,
		)
	}
	j, err := scanJob(row)
	if err != nil {
		return domain.Job{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Job{}, err
	}
	return j, nil
}

func (s *Store) Cancel(ctx context.Context, id domain.JobID) (domain.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE jobs
		SET state = 'CANCELLED', completed_at = now()
		WHERE job_id = $1 AND state = 'QUEUED'
		RETURNING `+jobColumns,
		string(id),
	)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Job{}, s.classifyMissing(ctx, id)
		}
		return domain.Job{}, err
	}
	return j, nil
}

func (s *Store) Get(ctx context.Context, id domain.JobID) (domain.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = $1`, string(id))
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Job{}, jobstore.ErrNotFound
		}
		return domain.Job{}, err
	}
	return j, nil
}

func (s *Store) ListDeadLettered(ctx context.Context, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE state = 'DEAD_LETTERED'
		ORDER BY completed_at DESC, seq DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Job, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Store) PurgeTerminal(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM jobs
		WHERE state IN ('SUCCEEDED','DEAD_LETTERED','CANCELLED')
		  AND completed_at < $1
	`, olderThan.UTC())
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) Depth(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM jobs WHERE state IN ('QUEUED','RUNNING')
	`).Scan(&n)
	return n, err
}

// classifyMissing distinguishes "no such job" from "job exists but the
// transition is illegal from its current state".
func (s *Store) classifyMissing(ctx context.Context, id domain.JobID) error {
	var state string
	err := s.pool.QueryRow(ctx, `SELECT state FROM jobs WHERE job_id = $1`, string(id)).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return jobstore.ErrNotFound
	}
	if err != nil {
		return err
	}
	return jobstore.ErrIllegalTransition
}

func scanJob(row pgx.Row) (domain.Job, error) {
	var (
		j           domain.Job
		id          string
		fingerprint string
		subject     string
		tier        string
		state       string
		params      []byte
		result      []byte
		notBefore   time.Time
		createdAt   time.Time
		startedAt   *time.Time
		completedAt *time.Time
	)
	err := row.Scan(
		&id, &fingerprint, &subject, &tier, &j.Priority, &j.Payload.Prompt,
		&params, &j.CallbackURL, &state, &j.Attempts, &j.LastError,
		&notBefore, &j.Seq, &result, &createdAt, &startedAt, &completedAt,
	)
	if err != nil {
		return domain.Job{}, err
	}

	j.ID = domain.JobID(id)
	j.Fingerprint = domain.Fingerprint(fingerprint)
	j.Subject = domain.SubjectID(subject)
	j.Tier = domain.Tier(tier)
	j.State = domain.JobState(state)
	j.NotBefore = notBefore.UTC()
	j.CreatedAt = createdAt.UTC()
	if startedAt != nil {
		t := startedAt.UTC()
		j.StartedAt = &t
	}
	if completedAt != nil {
		t := completedAt.UTC()
		j.CompletedAt = &t
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &j.Payload.Params); err != nil {
			return domain.Job{}, fmt.Errorf("decode job params: %w", err)
		}
	}
	if len(result) > 0 {
		var a domain.Artifact
		if err := json.Unmarshal(result, &a); err != nil {
			return domain.Job{}, fmt.Errorf("decode job result: %w", err)
		}
		j.Result = &a
	}
	return j, nil
}
