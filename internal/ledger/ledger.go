// Package ledger keeps a local SQLite history of published objects so the
// CLI can list what was converted, from which file and into which
// workspace.
package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kilupskalvis/geoconv/internal/models"
)

const currentSchemaVersion = 1

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Entry is one published object version.
type Entry struct {
	ID          int64
	Workspace   string
	ObjectID    string
	VersionID   string
	Name        string
	Path        string
	Schema      string
	Source      string
	PublishedAt time.Time
}

// Filter narrows a history query. Zero fields match everything.
type Filter struct {
	Workspace string
	ObjectID  string
	// Name matches entries whose name starts with the value.
	Name  string
	Limit int
}

// Ledger represents the history database.
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the ledger at dbPath.
func Open(dbPath string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	l := &Ledger{db: db, now: time.Now}
	if err := l.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS publishes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		workspace TEXT NOT NULL,
		object_id TEXT NOT NULL,
		version_id TEXT NOT NULL,
		name TEXT NOT NULL,
		path TEXT NOT NULL,
		schema_name TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		published_at TEXT NOT NULL,
		UNIQUE(workspace, object_id, version_id)
	);

	CREATE TABLE IF NOT EXISTS ledger_schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE INDEX IF NOT EXISTS idx_publishes_object ON publishes(workspace, object_id);
	CREATE INDEX IF NOT EXISTS idx_publishes_name ON publishes(name);
	`
	if _, err := l.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create ledger schema: %w", err)
	}
	_, err := l.db.Exec("INSERT OR REPLACE INTO ledger_schema_version (version) VALUES (?)", currentSchemaVersion)
	if err != nil {
		return fmt.Errorf("failed to set ledger schema version: %w", err)
	}
	return nil
}

// Record stores a publish. Recording the same workspace, object and
// version again refreshes the entry instead of duplicating it.
func (l *Ledger) Record(workspace, source string, meta *models.ObjectMetadata) error {
	if meta == nil || meta.ObjectID == "" {
		return errors.New("ledger: metadata without object id")
	}
	at := meta.CreatedAt
	if at.IsZero() {
		at = l.now()
	}
	_, err := l.db.Exec(`
		INSERT INTO publishes (workspace, object_id, version_id, name, path, schema_name, source, published_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(workspace, object_id, version_id) DO UPDATE SET
			name = excluded.name,
			path = excluded.path,
			schema_name = excluded.schema_name,
			source = excluded.source,
			published_at = excluded.published_at`,
		workspace, meta.ObjectID, meta.VersionID, meta.Name, meta.Path, meta.SchemaName, source,
		at.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("ledger: record %s: %w", meta.ObjectID, err)
	}
	return nil
}

// Entries returns matching entries, most recent first.
func (l *Ledger) Entries(f Filter) ([]Entry, error) {
	var where []string
	var args []any
	if f.Workspace != "" {
		where = append(where, "workspace = ?")
		args = append(args, f.Workspace)
	}
	if f.ObjectID != "" {
		where = append(where, "object_id = ?")
		args = append(args, f.ObjectID)
	}
	if f.Name != "" {
		where = append(where, "name LIKE ? ESCAPE '\\'")
		args = append(args, escapeLike(f.Name)+"%")
	}

	query := `SELECT id, workspace, object_id, version_id, name, path, schema_name, source, published_at FROM publishes`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY published_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var at string
		if err := rows.Scan(&e.ID, &e.Workspace, &e.ObjectID, &e.VersionID, &e.Name, &e.Path, &e.Schema, &e.Source, &at); err != nil {
			return nil, err
		}
		e.PublishedAt = parseTimestamp(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count returns the number of recorded publishes.
func (l *Ledger) Count() (int, error) {
	var n int
	err := l.db.QueryRow("SELECT COUNT(*) FROM publishes").Scan(&n)
	return n, err
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(s)
}

func parseTimestamp(s string) time.Time {
	for _, f := range []string{timeLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(f, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
