package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"devflow/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS entities (
	tbl     TEXT    NOT NULL,
	pk      TEXT    NOT NULL,
	rk      TEXT    NOT NULL,
	data    BLOB    NOT NULL,
	stamp   INTEGER NOT NULL DEFAULT 0,
	version INTEGER NOT NULL DEFAULT 1,
	PRIMARY KEY (tbl, pk, rk)
);

CREATE TABLE IF NOT EXISTS commands (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	body          TEXT    NOT NULL,
	visible_at    INTEGER NOT NULL,
	dequeue_count INTEGER NOT NULL DEFAULT 0,
	receipt       TEXT    NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_commands_visible ON commands(visible_at, id);
`

// defaultVisibilityTimeout matches the Azure queue default: a dequeued message
// reappears if it is not deleted within 30 seconds.
const defaultVisibilityTimeout = 30 * time.Second

// OpenSQLite opens (and migrates) a SQLite database at path. Use ":memory:"
// for an ephemeral store.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)
	if err := migrateSQLite(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func migrateSQLite(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

type sqliteTables struct {
	db *sql.DB
}

func (s *sqliteTables) get(ctx context.Context, table, pk, rk string) (*row, error) {
	var r row
	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT pk, rk, data, stamp, version FROM entities WHERE tbl = ? AND pk = ? AND rk = ?`,
		table, pk, rk).Scan(&r.PartitionKey, &r.RowKey, &r.Data, &r.Stamp, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", table, rk, err)
	}
	r.ETag = strconv.FormatInt(version, 10)
	return &r, nil
}

func (s *sqliteTables) list(ctx context.Context, table, pk, after string, limit int) ([]row, error) {
	q := `SELECT pk, rk, data, stamp, version FROM entities WHERE tbl = ? AND pk = ? AND rk > ? ORDER BY rk`
	args := []any{table, pk, after}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rs, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", table, err)
	}
	defer rs.Close()

	rows := []row{}
	for rs.Next() {
		var r row
		var version int64
		if err := rs.Scan(&r.PartitionKey, &r.RowKey, &r.Data, &r.Stamp, &version); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", table, err)
		}
		r.ETag = strconv.FormatInt(version, 10)
		rows = append(rows, r)
	}
	return rows, rs.Err()
}

func (s *sqliteTables) insert(ctx context.Context, table string, r row) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO entities (tbl, pk, rk, data, stamp) VALUES (?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`,
		table, r.PartitionKey, r.RowKey, r.Data, r.Stamp)
	if err != nil {
		return fmt.Errorf("failed to insert %s/%s: %w", table, r.RowKey, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errEntityExists
	}
	return nil
}

func (s *sqliteTables) upsert(ctx context.Context, table string, r row) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entities (tbl, pk, rk, data, stamp) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (tbl, pk, rk) DO UPDATE SET
			data = excluded.data,
			stamp = excluded.stamp,
			version = entities.version + 1`,
		table, r.PartitionKey, r.RowKey, r.Data, r.Stamp)
	if err != nil {
		return fmt.Errorf("failed to upsert %s/%s: %w", table, r.RowKey, err)
	}
	return nil
}

func (s *sqliteTables) replace(ctx context.Context, table string, r row, etag string) error {
	version, err := strconv.ParseInt(etag, 10, 64)
	if err != nil {
		return domain.ErrConcurrencyConflict
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE entities SET data = ?, stamp = ?, version = version + 1
		WHERE tbl = ? AND pk = ? AND rk = ? AND version = ?`,
		r.Data, r.Stamp, table, r.PartitionKey, r.RowKey, version)
	if err != nil {
		return fmt.Errorf("failed to update %s/%s: %w", table, r.RowKey, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	cur, err := s.get(ctx, table, r.PartitionKey, r.RowKey)
	if err != nil {
		return err
	}
	if cur == nil {
		return domain.ErrNotFound
	}
	return domain.ErrConcurrencyConflict
}

func (s *sqliteTables) remove(ctx context.Context, table, pk, rk string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entities WHERE tbl = ? AND pk = ? AND rk = ?`, table, pk, rk)
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", table, rk, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// createTable ensures the schema exists. Every logical table shares entities.
func (s *sqliteTables) createTable(ctx context.Context, table string) error {
	return migrateSQLite(ctx, s.db)
}

type sqliteQueue struct {
	db         *sql.DB
	visibility time.Duration
	now        func() time.Time
}

func (q *sqliteQueue) enqueue(ctx context.Context, body string) error {
	_, err := q.db.ExecContext(ctx, `INSERT INTO commands (body, visible_at) VALUES (?, ?)`, body, q.now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to enqueue command: %w", err)
	}
	return nil
}

func (q *sqliteQueue) dequeue(ctx context.Context) (*QueueMessage, error) {
	now := q.now()
	receipt := domain.NewID()
	var id int64
	msg := &QueueMessage{Receipt: receipt}
	err := q.db.QueryRowContext(ctx, `
		UPDATE commands
		SET visible_at = ?, dequeue_count = dequeue_count + 1, receipt = ?
		WHERE id = (SELECT id FROM commands WHERE visible_at <= ? ORDER BY id LIMIT 1)
		RETURNING id, body, dequeue_count`,
		now.Add(q.visibility).UnixNano(), receipt, now.UnixNano()).Scan(&id, &msg.Body, &msg.DequeueCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue command: %w", err)
	}
	msg.ID = strconv.FormatInt(id, 10)
	return msg, nil
}

func (q *sqliteQueue) remove(ctx context.Context, id, receipt string) error {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid message id %q", id)
	}
	res, err := q.db.ExecContext(ctx, `DELETE FROM commands WHERE id = ? AND receipt = ?`, n, receipt)
	if err != nil {
		return fmt.Errorf("failed to delete command: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (q *sqliteQueue) create(ctx context.Context) error {
	return migrateSQLite(ctx, q.db)
}
