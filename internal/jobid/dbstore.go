package jobid

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/flowdesk-io/flowdesk/internal/database"
)

// DBStore keeps exactly one row per prefix in job_counters and increments
// it with a dialect-specific atomic UPSERT:
//
//	Postgres: INSERT ... ON CONFLICT(prefix) DO UPDATE SET counter = job_counters.counter + EXCLUDED.counter RETURNING counter
//	MySQL:    INSERT ... ON DUPLICATE KEY UPDATE counter = LAST_INSERT_ID(counter + VALUES(counter))
//	SQLite:   INSERT ... ON CONFLICT(prefix) DO UPDATE SET counter = counter + excluded.counter RETURNING counter
//
// The increment-and-read is a single statement on every dialect, which is
// what makes allocations linearizable across processes.
type DBStore struct {
	db *sqlx.DB
}

// NewDBStore returns a CounterStore over the shared database handle.
func NewDBStore(db *sqlx.DB) *DBStore {
	return &DBStore{db: db}
}

// Add implements CounterStore.
func (s *DBStore) Add(ctx context.Context, prefix string, offset int64) (int64, error) {
	if offset < 1 {
		return 0, errors.New("jobid: offset must be >= 1")
	}
	if database.IsMySQL() {
		// LAST_INSERT_ID is read from the Exec result to stay on the same
		// connection instead of a follow-up SELECT that might hit another
		// pooled session.
		q := `INSERT INTO job_counters (prefix, counter, created_at)
		      VALUES (?, ?, NOW())
		      ON DUPLICATE KEY UPDATE counter = LAST_INSERT_ID(counter + VALUES(counter))`
		res, err := s.db.ExecContext(ctx, q, prefix, offset)
		if err != nil {
			return 0, err
		}
		return res.LastInsertId()
	}
	q := `INSERT INTO job_counters (prefix, counter, created_at)
	      VALUES ($1, $2, $3)
	      ON CONFLICT (prefix) DO UPDATE SET counter = job_counters.counter + EXCLUDED.counter
	      RETURNING counter`
	var c int64
	if err := s.db.QueryRowContext(ctx, database.ConvertPlaceholders(q), prefix, offset, time.Now().UTC()).Scan(&c); err != nil {
		return 0, err
	}
	return c, nil
}

// Current implements CounterStore. A missing row reads as zero.
func (s *DBStore) Current(ctx context.Context, prefix string) (int64, error) {
	var c int64
	q := database.ConvertPlaceholders(`SELECT counter FROM job_counters WHERE prefix = $1`)
	err := s.db.GetContext(ctx, &c, q, prefix)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return c, nil
}

// Seed implements CounterStore.
func (s *DBStore) Seed(ctx context.Context, prefix string, value int64) error {
	if database.IsMySQL() {
		q := `INSERT INTO job_counters (prefix, counter, created_at)
		      VALUES (?, ?, NOW())
		      ON DUPLICATE KEY UPDATE counter = VALUES(counter)`
		_, err := s.db.ExecContext(ctx, q, prefix, value)
		return err
	}
	q := `INSERT INTO job_counters (prefix, counter, created_at)
	      VALUES ($1, $2, $3)
	      ON CONFLICT (prefix) DO UPDATE SET counter = EXCLUDED.counter`
	_, err := s.db.ExecContext(ctx, database.ConvertPlaceholders(q), prefix, value, time.Now().UTC())
	return err
}
