package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// SQLiteStore persists jobs in the scheduler_jobs table. It shares the
// database handle with the application store but owns its table exclusively.
type SQLiteStore struct{ db *sql.DB }

// NewSQLiteStore wraps an open database. The table itself is created by the
// store migrations.
func NewSQLiteStore(db *sql.DB) *SQLiteStore { return &SQLiteStore{db: db} }

func (s *SQLiteStore) InsertJob(ctx context.Context, j *Job) error {
	if j == nil {
		return errors.New("nil job")
	}
	payload, err := json.Marshal(j.Payload)
	if err != nil {
		return err
	}

	var runAt sql.NullInt64
	if !j.RunAt.IsZero() {
		runAt = sql.NullInt64{Int64: j.RunAt.UTC().Unix(), Valid: true}
	}
	var spec sql.NullString
	if j.Spec != "" {
		spec = sql.NullString{String: j.Spec, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scheduler_jobs (id, trigger, run_at, cron_spec, tz, next_fire_at, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, string(j.Kind), runAt, spec, j.TZ,
		j.NextFire.UTC().Unix(), string(payload), j.CreatedAt.UTC().Unix(),
	)
	return err
}

func (s *SQLiteStore) DeleteJob(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM scheduler_jobs WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, trigger, run_at, cron_spec, tz, next_fire_at, payload, created_at
		FROM scheduler_jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return j, err
}

func (s *SQLiteStore) ListDueJobs(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, trigger, run_at, cron_spec, tz, next_fire_at, payload, created_at
		FROM scheduler_jobs
		WHERE next_fire_at <= ?
		ORDER BY next_fire_at ASC
		LIMIT ?`,
		now.UTC().Unix(), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *j)
	}
	return res, rows.Err()
}

func (s *SQLiteStore) SetNextFire(ctx context.Context, id string, next time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scheduler_jobs SET next_fire_at = ? WHERE id = ?`,
		next.UTC().Unix(), id)
	return err
}

type rowScanner interface{ Scan(dest ...any) error }

func scanJob(row rowScanner) (*Job, error) {
	var (
		j       Job
		kind    string
		runAt   sql.NullInt64
		spec    sql.NullString
		next    int64
		payload string
		created int64
	)
	if err := row.Scan(&j.ID, &kind, &runAt, &spec, &j.TZ, &next, &payload, &created); err != nil {
		return nil, err
	}
	j.Kind = TriggerKind(kind)
	if runAt.Valid {
		j.RunAt = time.Unix(runAt.Int64, 0).UTC()
	}
	j.Spec = spec.String
	j.NextFire = time.Unix(next, 0).UTC()
	j.CreatedAt = time.Unix(created, 0).UTC()
	if err := json.Unmarshal([]byte(payload), &j.Payload); err != nil {
		return nil, err
	}
	return &j, nil
}
