package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"nudge/src/internal/reminders"
)

const taskSchemaSQL = `
CREATE TABLE IF NOT EXISTS tasks (
	id                  TEXT PRIMARY KEY,
	owner_id            TEXT NOT NULL,
	title               TEXT NOT NULL,
	notes               TEXT NOT NULL DEFAULT '',
	due_at              TEXT,
	completed           BOOLEAN NOT NULL DEFAULT FALSE,
	archived            BOOLEAN NOT NULL DEFAULT FALSE,
	priority            TEXT NOT NULL DEFAULT 'none',
	category            TEXT NOT NULL DEFAULT 'other',
	subcategory         TEXT NOT NULL DEFAULT '',
	recurrence_enabled  BOOLEAN NOT NULL DEFAULT FALSE,
	recurrence_interval TEXT NOT NULL DEFAULT '',
	source              TEXT NOT NULL DEFAULT '',
	created_at          TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_owner ON tasks(owner_id, created_at);
`

const taskColumns = `id, owner_id, title, notes, due_at, completed, archived, priority, category,
	subcategory, recurrence_enabled, recurrence_interval, source, created_at`

// Fixed width so created_at sorts lexically in both dialects.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// TaskStore is a reminders.Store on database/sql. It speaks sqlite3 and
// postgres; statements are written with ? and rebound for postgres.
type TaskStore struct {
	reminders.Broadcaster

	conn     *sql.DB
	postgres bool
}

var _ reminders.Store = (*TaskStore)(nil)

// OpenTaskStore opens the database for the given reminders driver
// ("sqlite" or "postgres") and applies the schema. For sqlite the dsn is a
// file path.
func OpenTaskStore(driver, dsn string) (*TaskStore, error) {
	var conn *sql.DB
	var err error
	switch driver {
	case "sqlite", "sqlite3":
		conn, err = sql.Open("sqlite3", sqliteDSN(dsn))
	case "postgres":
		conn, err = sql.Open("postgres", dsn)
	default:
		return nil, fmt.Errorf("taskstore: unsupported driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("taskstore: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("taskstore: ping: %w", err)
	}
	if _, err := conn.Exec(taskSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("taskstore: apply schema: %w", err)
	}
	return &TaskStore{conn: conn, postgres: driver == "postgres"}, nil
}

// sqliteDSN adds the connection options to a file path or to a dsn that
// already carries its own query.
func sqliteDSN(dsn string) string {
	const opts = "_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	if strings.Contains(dsn, "?") {
		if strings.HasSuffix(dsn, "?") || strings.HasSuffix(dsn, "&") {
			return dsn + opts
		}
		return dsn + "&" + opts
	}
	return dsn + "?" + opts
}

func (s *TaskStore) Close() error {
	return s.conn.Close()
}

// rebind rewrites ? placeholders as $1..$n for postgres.
func (s *TaskStore) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func taskArgs(t reminders.Task) []any {
	var due sql.NullString
	if t.Due != nil {
		due = sql.NullString{String: formatTime(*t.Due), Valid: true}
	}
	var recEnabled bool
	var recInterval string
	if t.Recurrence != nil {
		recEnabled, recInterval = t.Recurrence.Enabled, string(t.Recurrence.Interval)
	}
	return []any{
		t.ID, t.OwnerID, t.Title, t.Notes, due, t.Completed, t.Archived, string(t.Priority),
		string(t.Category), t.Subcategory, recEnabled, recInterval, t.Source, formatTime(t.CreatedAt),
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (reminders.Task, error) {
	var (
		t           reminders.Task
		due         sql.NullString
		priority    string
		category    string
		recEnabled  bool
		recInterval string
		createdAt   string
	)
	if err := row.Scan(&t.ID, &t.OwnerID, &t.Title, &t.Notes, &due, &t.Completed, &t.Archived,
		&priority, &category, &t.Subcategory, &recEnabled, &recInterval, &t.Source, &createdAt); err != nil {
		return reminders.Task{}, err
	}
	t.Priority = reminders.Priority(priority)
	t.Category = reminders.Category(category)
	if due.Valid {
		d, err := parseTime(due.String)
		if err != nil {
			return reminders.Task{}, fmt.Errorf("taskstore: bad due_at %q: %w", due.String, err)
		}
		t.Due = &d
	}
	if recEnabled || recInterval != "" {
		t.Recurrence = &reminders.Recurrence{Enabled: recEnabled, Interval: reminders.Interval(recInterval)}
	}
	created, err := parseTime(createdAt)
	if err != nil {
		return reminders.Task{}, fmt.Errorf("taskstore: bad created_at %q: %w", createdAt, err)
	}
	t.CreatedAt = created
	return t, nil
}

func (s *TaskStore) Create(ctx context.Context, t reminders.Task) (string, error) {
	t.ID = uuid.New().String()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	q := s.rebind(`INSERT INTO tasks (` + taskColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if _, err := s.conn.ExecContext(ctx, q, taskArgs(t)...); err != nil {
		return "", fmt.Errorf("taskstore: insert: %w", err)
	}
	s.Notify(t.OwnerID)
	return t.ID, nil
}

// Update reads, patches and rewrites the row in one transaction.
func (s *TaskStore) Update(ctx context.Context, id string, p reminders.Patch) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("taskstore: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	t, err := scanTask(tx.QueryRowContext(ctx, s.rebind(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return reminders.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("taskstore: load for update: %w", err)
	}
	p.Apply(&t)

	args := taskArgs(t)
	_, err = tx.ExecContext(ctx, s.rebind(`
		UPDATE tasks SET
			title = ?, notes = ?, due_at = ?, completed = ?, archived = ?, priority = ?,
			category = ?, subcategory = ?, recurrence_enabled = ?, recurrence_interval = ?
		WHERE id = ?`),
		args[2], args[3], args[4], args[5], args[6], args[7], args[8], args[9], args[10], args[11], id)
	if err != nil {
		return fmt.Errorf("taskstore: update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("taskstore: commit: %w", err)
	}
	s.Notify(t.OwnerID)
	return nil
}

func (s *TaskStore) Delete(ctx context.Context, id string) error {
	var owner string
	err := s.conn.QueryRowContext(ctx, s.rebind(`SELECT owner_id FROM tasks WHERE id = ?`), id).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return reminders.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("taskstore: lookup: %w", err)
	}
	res, err := s.conn.ExecContext(ctx, s.rebind(`DELETE FROM tasks WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("taskstore: delete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return reminders.ErrNotFound
	}
	s.Notify(owner)
	return nil
}

func (s *TaskStore) Get(ctx context.Context, id string) (reminders.Task, error) {
	t, err := scanTask(s.conn.QueryRowContext(ctx, s.rebind(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return reminders.Task{}, reminders.ErrNotFound
	}
	if err != nil {
		return reminders.Task{}, fmt.Errorf("taskstore: get: %w", err)
	}
	return t, nil
}

func (s *TaskStore) List(ctx context.Context, ownerID string) ([]reminders.Task, error) {
	return s.query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE owner_id = ? ORDER BY created_at, id`, ownerID)
}

func (s *TaskStore) ListAll(ctx context.Context) ([]reminders.Task, error) {
	return s.query(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY owner_id, created_at, id`)
}

func (s *TaskStore) query(ctx context.Context, q string, args ...any) ([]reminders.Task, error) {
	rows, err := s.conn.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("taskstore: list: %w", err)
	}
	defer rows.Close()

	var out []reminders.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *TaskStore) Subscribe(ctx context.Context, ownerID string) (<-chan []reminders.Task, error) {
	return s.Stream(ctx, ownerID, func(ctx context.Context) ([]reminders.Task, error) {
		return s.List(ctx, ownerID)
	})
}
