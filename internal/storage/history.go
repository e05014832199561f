// Package storage keeps the local action history in SQLite.
package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/benmeehan/debloat-agent/internal/models"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	_ "modernc.org/sqlite"
)

const defaultHistoryLimit = 100

const historySchema = `
CREATE TABLE IF NOT EXISTS action_history (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	action        TEXT NOT NULL,
	device_serial TEXT NOT NULL DEFAULT '',
	package_name  TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL,
	message       TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_action_history_created ON action_history(created_at);
CREATE INDEX IF NOT EXISTS idx_action_history_package ON action_history(package_name);
`

// HistoryFilter narrows List. Zero values match everything.
type HistoryFilter struct {
	PackageName  string
	DeviceSerial string
	Action       string
	Limit        int
}

// Recorder is the write side used by services.
type Recorder interface {
	Record(ctx context.Context, rec models.ActionRecord) error
}

// History is the SQLite-backed action log.
type History struct {
	db     *sql.DB
	insert *sql.Stmt
	logger zerolog.Logger
	now    func() time.Time
	mu     sync.Mutex
}

// OpenHistory opens (creating when missing) the database at path.
func OpenHistory(path string, logger zerolog.Logger) (*History, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrap(err, "create history directory failed")
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite history database failed")
	}
	if err := configureSQLite(db); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(historySchema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ensure history schema failed")
	}
	insert, err := db.Prepare(`INSERT INTO action_history (action, device_serial, package_name, status, message, created_at) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "prepare history insert failed")
	}
	return &History{db: db, insert: insert, logger: logger, now: time.Now}, nil
}

func configureSQLite(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return errors.Wrapf(err, "execute sqlite pragma %s failed", stmt)
		}
	}
	db.SetMaxOpenConns(1)
	return nil
}

// Record appends one action. CreatedAt defaults to now.
func (h *History) Record(ctx context.Context, rec models.ActionRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = h.now()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.insert.ExecContext(ctx, rec.Action, rec.DeviceSerial, rec.PackageName, rec.Status, rec.Message, rec.CreatedAt.UTC().UnixMilli())
	if err != nil {
		return errors.Wrap(err, "insert history record failed")
	}
	h.logger.Debug().Str("action", rec.Action).Str("package", rec.PackageName).Str("status", rec.Status).Msg("Recorded action")
	return nil
}

// List returns matching records, newest first.
func (h *History) List(ctx context.Context, f HistoryFilter) ([]models.ActionRecord, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	rows, err := h.db.QueryContext(ctx, `
SELECT id, action, device_serial, package_name, status, message, created_at
FROM action_history
WHERE (? = '' OR package_name = ?)
  AND (? = '' OR device_serial = ?)
  AND (? = '' OR action = ?)
ORDER BY created_at DESC, id DESC
LIMIT ?`,
		f.PackageName, f.PackageName, f.DeviceSerial, f.DeviceSerial, f.Action, f.Action, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query history failed")
	}
	defer rows.Close()

	records := make([]models.ActionRecord, 0)
	for rows.Next() {
		var rec models.ActionRecord
		var created int64
		if err := rows.Scan(&rec.ID, &rec.Action, &rec.DeviceSerial, &rec.PackageName, &rec.Status, &rec.Message, &created); err != nil {
			return nil, errors.Wrap(err, "scan history row failed")
		}
		rec.CreatedAt = time.UnixMilli(created).UTC()
		records = append(records, rec)
	}
	return records, errors.Wrap(rows.Err(), "iterate history rows failed")
}

// Start satisfies the service lifecycle; the database is opened eagerly.
func (h *History) Start() error {
	return h.db.Ping()
}

// Stop closes the database.
func (h *History) Stop() error {
	return h.Close()
}

// Close releases the prepared statement and the database.
func (h *History) Close() error {
	if h.insert != nil {
		h.insert.Close()
	}
	return h.db.Close()
}
