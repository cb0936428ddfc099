package results

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"harvestflow/internal/domain"
)

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS task_results (
  id TEXT PRIMARY KEY,
  task_name TEXT NOT NULL,
  status TEXT NOT NULL CHECK(status IN ('success','failure','skipped')),
  value BLOB,
  error_kind TEXT,
  error_message TEXT,
  completed_at INTEGER NOT NULL,
  expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_task_results_expires ON task_results(expires_at);
CREATE INDEX IF NOT EXISTS idx_task_results_completed ON task_results(completed_at DESC);
`
	_, err := db.Exec(schema)
	return err
}

// SQLite keeps results in a local database file. A janitor goroutine purges
// rows past their retention.
type SQLite struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time

	done chan struct{}
	wg   sync.WaitGroup
}

func OpenSQLite(path string, ttl time.Duration) (*SQLite, error) {
	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open results db: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite single writer
	if err := EnsureSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	s := NewSQLite(db, ttl)
	s.startJanitor(time.Minute)
	return s, nil
}

func NewSQLite(db *sql.DB, ttl time.Duration) *SQLite {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &SQLite{db: db, ttl: ttl, now: time.Now, done: make(chan struct{})}
}

func (s *SQLite) Store(ctx context.Context, r domain.Result) error {
	var kind, msg sql.NullString
	if r.Error != nil {
		kind = sql.NullString{String: string(r.Error.Kind), Valid: true}
		msg = sql.NullString{String: r.Error.Message, Valid: true}
	}
	expires := s.now().Add(s.ttl)
	_, err := s.db.ExecContext(ctx, `
INSERT OR IGNORE INTO task_results (id,task_name,status,value,error_kind,error_message,completed_at,expires_at)
VALUES (?,?,?,?,?,?,?,?)
`, r.TaskID.String(), r.TaskName, string(r.Status), []byte(r.Value), kind, msg, r.CompletedAt.UnixNano(), expires.UnixNano())
	return err
}

func (s *SQLite) Get(ctx context.Context, id uuid.UUID) (domain.Result, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id,task_name,status,value,error_kind,error_message,completed_at
FROM task_results WHERE id=? AND expires_at > ?`, id.String(), s.now().UnixNano())
	r, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Result{}, ErrNotFound
	}
	return r, err
}

// ListRecent returns the latest unexpired results, newest first.
func (s *SQLite) ListRecent(ctx context.Context, limit int) ([]domain.Result, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id,task_name,status,value,error_kind,error_message,completed_at
FROM task_results WHERE expires_at > ? ORDER BY completed_at DESC LIMIT ?`, s.now().UnixNano(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Result
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PurgeExpired deletes results whose retention has elapsed.
func (s *SQLite) PurgeExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM task_results WHERE expires_at <= ?`, s.now().UnixNano())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLite) startJanitor(interval time.Duration) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(interval)
		for {
			select {
			case <-s.done:
				timer.Stop()
				return
			case <-timer.C:
				if n, err := s.PurgeExpired(context.Background()); err != nil {
					log.Error().Err(err).Msg("failed to purge expired results")
				} else if n > 0 {
					log.Debug().Int("purged", n).Msg("purged expired results")
				}
				timer.Reset(interval)
			}
		}
	}()
}

func (s *SQLite) Close() error {
	close(s.done)
	s.wg.Wait()
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResult(sc scanner) (domain.Result, error) {
	var (
		r         domain.Result
		id        string
		status    string
		value     []byte
		kind, msg sql.NullString
		completed int64
	)
	if err := sc.Scan(&id, &r.TaskName, &status, &value, &kind, &msg, &completed); err != nil {
		return domain.Result{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return domain.Result{}, fmt.Errorf("corrupt result id %q: %w", id, err)
	}
	r.TaskID = parsed
	r.Status = domain.Status(status)
	if len(value) > 0 {
		r.Value = value
	}
	if kind.Valid {
		r.Error = &domain.TaskError{Kind: domain.ErrorKind(kind.String), Message: msg.String}
	}
	r.CompletedAt = time.Unix(0, completed).UTC()
	return r, nil
}
