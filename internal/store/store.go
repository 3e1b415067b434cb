// Package store persists memories, links, categories and compaction records in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/rcliao/memgraph/internal/model"
	"github.com/rcliao/memgraph/internal/taxonomy"
	"github.com/rcliao/memgraph/internal/tokens"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore is the source of truth for every memory component.
type SQLiteStore struct {
	db      *sql.DB
	path    string
	counter tokens.Counter
	now     func() time.Time
}

// Open opens or creates the database at dbPath and applies the schema.
func Open(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	dsn := dbPath + "?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{
		db:      db,
		path:    dbPath,
		counter: tokens.Approx,
		now:     func() time.Time { return time.Now().UTC() },
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := s.seedCategories(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("seed categories: %w", err)
	}
	return s, nil
}

// Path returns the database file location.
func (s *SQLiteStore) Path() string { return s.path }

// SetClock replaces the time source. Tests use it to pin timestamps.
func (s *SQLiteStore) SetClock(now func() time.Time) {
	s.now = func() time.Time { return now().UTC() }
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func newID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy()).String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id                 TEXT PRIMARY KEY,
		owner_id           TEXT NOT NULL,
		content            TEXT NOT NULL,
		categories         TEXT NOT NULL,
		valence            REAL NOT NULL DEFAULT 0,
		arousal            REAL NOT NULL DEFAULT 0,
		dominance          REAL NOT NULL DEFAULT 0,
		keywords           TEXT NOT NULL DEFAULT '[]',
		tags               TEXT NOT NULL DEFAULT '[]',
		importance         REAL NOT NULL,
		parent_id          TEXT REFERENCES memories(id),
		root_id            TEXT NOT NULL,
		version            INTEGER NOT NULL DEFAULT 1,
		stamp              INTEGER NOT NULL DEFAULT 1,
		trigger            TEXT NOT NULL DEFAULT '',
		status             TEXT NOT NULL DEFAULT 'active',
		archive_reason     TEXT NOT NULL DEFAULT '',
		enrichment_pending INTEGER NOT NULL DEFAULT 0,
		access_count       INTEGER NOT NULL DEFAULT 0,
		last_accessed_at   TEXT,
		created_at         TEXT NOT NULL,
		updated_at         TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_memories_owner ON memories(owner_id, status);
	CREATE INDEX IF NOT EXISTS idx_memories_root ON memories(root_id, version);
	CREATE INDEX IF NOT EXISTS idx_memories_pending ON memories(enrichment_pending, status);

	CREATE TABLE IF NOT EXISTS chunks (
		id        TEXT PRIMARY KEY,
		memory_id TEXT NOT NULL REFERENCES memories(id),
		seq       INTEGER NOT NULL,
		text      TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_memory ON chunks(memory_id);

	CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
		text,
		content=chunks,
		content_rowid=rowid
	);

	CREATE TABLE IF NOT EXISTS memory_links (
		source_id  TEXT NOT NULL REFERENCES memories(id),
		target_id  TEXT NOT NULL REFERENCES memories(id),
		link_type  TEXT NOT NULL,
		strength   REAL NOT NULL,
		reason     TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL,
		status     TEXT NOT NULL DEFAULT 'active',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (source_id, target_id, link_type),
		CHECK (source_id <> target_id)
	);
	CREATE INDEX IF NOT EXISTS idx_links_target ON memory_links(target_id);

	CREATE TABLE IF NOT EXISTS categories (
		full_path      TEXT PRIMARY KEY,
		domain         TEXT NOT NULL,
		name           TEXT NOT NULL,
		importance_min REAL NOT NULL,
		importance_max REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS compaction_records (
		id                  TEXT PRIMARY KEY,
		owner_id            TEXT NOT NULL,
		absorbed_memory_ids TEXT NOT NULL,
		resulting_memory_id TEXT NOT NULL REFERENCES memories(id),
		triggered_at        TEXT NOT NULL,
		token_count_before  INTEGER NOT NULL,
		token_count_after   INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_compactions_owner ON compaction_records(owner_id, triggered_at);

	CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON chunks BEGIN
		INSERT INTO chunks_fts(rowid, text) VALUES (new.rowid, new.text);
	END;
	CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON chunks BEGIN
		INSERT INTO chunks_fts(chunks_fts, rowid, text) VALUES('delete', old.rowid, old.text);
	END;
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) seedCategories(ctx context.Context) error {
	tax, err := taxonomy.Default()
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, c := range tax.All() {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO categories (full_path, domain, name, importance_min, importance_max)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(full_path) DO UPDATE SET importance_min = excluded.importance_min,
			                                      importance_max = excluded.importance_max`,
			c.FullPath, string(c.Domain), c.Name, c.ImportanceMin, c.ImportanceMax)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Categories returns the persisted taxonomy ordered by path.
func (s *SQLiteStore) Categories(ctx context.Context) ([]model.Category, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT domain, name, full_path, importance_min, importance_max FROM categories ORDER BY full_path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Category
	for rows.Next() {
		var c model.Category
		var domain string
		if err := rows.Scan(&domain, &c.Name, &c.FullPath, &c.ImportanceMin, &c.ImportanceMax); err != nil {
			return nil, err
		}
		c.Domain = model.Domain(domain)
		out = append(out, c)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func marshalJSON(v any) string {
	b, _ := json.Marshal(v)
	if string(b) == "null" {
		return "[]"
	}
	return string(b)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
