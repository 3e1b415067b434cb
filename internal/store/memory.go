package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rcliao/memgraph/internal/chunker"
	"github.com/rcliao/memgraph/internal/model"
)

const memoryColumns = `id, owner_id, content, categories, valence, arousal, dominance, keywords, tags,
	importance, parent_id, root_id, version, stamp, trigger, status, archive_reason,
	enrichment_pending, access_count, last_accessed_at, created_at, updated_at`

// InsertMemory writes m as a new active record. ID, RootID, Version, Stamp and
// timestamps are assigned here and written back into m.
func (s *SQLiteStore) InsertMemory(ctx context.Context, m *model.Memory) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.insertMemoryTx(ctx, tx, m); err != nil {
		return err
	}
	return tx.Commit()
}

// SupersedeMemory archives the record oldID, provided its stamp still equals
// oldStamp, and inserts next as its successor in the same transaction. A stale
// stamp or an already archived record yields ErrConflict and changes nothing.
func (s *SQLiteStore) SupersedeMemory(ctx context.Context, oldID string, oldStamp int64, next *model.Memory) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := s.now()
	res, err := tx.ExecContext(ctx,
		`UPDATE memories SET status = 'archived', archive_reason = ?, stamp = stamp + 1, updated_at = ?
		 WHERE id = ? AND stamp = ? AND status = 'active'`,
		"superseded", formatTime(now), oldID, oldStamp)
	if err != nil {
		return fmt.Errorf("archive previous version: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Conflictf("memory %s changed concurrently", oldID)
	}

	if err := s.insertMemoryTx(ctx, tx, next); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) insertMemoryTx(ctx context.Context, tx *sql.Tx, m *model.Memory) error {
	now := s.now()
	m.ID = newID(now)
	if m.RootID == "" {
		m.RootID = m.ID
	}
	if m.Version == 0 {
		m.Version = 1
	}
	m.Stamp = 1
	m.Status = model.StatusActive
	m.ArchiveReason = ""
	m.AccessCount = 0
	m.LastAccessedAt = nil
	m.CreatedAt = now
	m.UpdatedAt = now

	var parent *string
	if m.ParentID != "" {
		parent = &m.ParentID
	}

	_, err := tx.ExecContext(ctx,
		`INSERT INTO memories (`+memoryColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, NULL, ?, ?)`,
		m.ID, m.OwnerID, m.Content, marshalJSON(m.Categories),
		m.VAD.Valence, m.VAD.Arousal, m.VAD.Dominance,
		marshalJSON(m.Keywords), marshalJSON(m.Tags), m.Importance,
		parent, m.RootID, m.Version, m.Stamp, m.Trigger, string(m.Status), m.ArchiveReason,
		boolInt(m.EnrichmentPending), formatTime(now), formatTime(now))
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}

	for _, c := range chunker.Split(m.Content, chunker.DefaultMaxTokens, s.counter) {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO chunks (id, memory_id, seq, text) VALUES (?, ?, ?, ?)`,
			fmt.Sprintf("%s-%d", m.ID, c.Seq), m.ID, c.Seq, c.Text)
		if err != nil {
			return fmt.Errorf("insert chunk: %w", err)
		}
	}
	return nil
}

// GetMemory loads one record by id without touching its access counters.
func (s *SQLiteStore) GetMemory(ctx context.Context, id string) (*model.Memory, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFoundf("memory %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	return m, nil
}

// Touch records a read: access_count is incremented in SQL so concurrent
// readers never overwrite content or stamp. It returns the access time.
func (s *SQLiteStore) Touch(ctx context.Context, id string) (time.Time, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET access_count = access_count + 1, last_accessed_at = ? WHERE id = ?`,
		formatTime(now), id)
	if err != nil {
		return time.Time{}, fmt.Errorf("touch memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return time.Time{}, model.NotFoundf("memory %s", id)
	}
	return now, nil
}

// ArchiveMemory marks id archived with reason. It reports whether the record
// changed; archiving an archived record is not an error.
func (s *SQLiteStore) ArchiveMemory(ctx context.Context, id, reason string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET status = 'archived', archive_reason = ?, stamp = stamp + 1, updated_at = ?
		 WHERE id = ? AND status = 'active'`,
		reason, formatTime(s.now()), id)
	if err != nil {
		return false, fmt.Errorf("archive memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM memories WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, model.NotFoundf("memory %s", id)
	}
	return false, err
}

// VersionChain returns every version sharing rootID, oldest first.
func (s *SQLiteStore) VersionChain(ctx context.Context, rootID string) ([]*model.Memory, error) {
	return s.queryMemories(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE root_id = ? ORDER BY version`, rootID)
}

// ListActive returns the owner's active records, oldest first.
func (s *SQLiteStore) ListActive(ctx context.Context, ownerID string) ([]*model.Memory, error) {
	return s.queryMemories(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE owner_id = ? AND status = 'active'
		 ORDER BY created_at, id`, ownerID)
}

// ListPendingEnrichment returns active records whose attribute extraction failed.
func (s *SQLiteStore) ListPendingEnrichment(ctx context.Context, limit int) ([]*model.Memory, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryMemories(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE enrichment_pending = 1 AND status = 'active'
		 ORDER BY created_at, id LIMIT ?`, limit)
}

// UpdateAttributes rewrites the enrichment annotations of a record in place.
// Content, version and stamp are left alone.
func (s *SQLiteStore) UpdateAttributes(ctx context.Context, id string, vad model.VAD, keywords, tags []string, pending bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET valence = ?, arousal = ?, dominance = ?, keywords = ?, tags = ?,
		        enrichment_pending = ?, updated_at = ?
		 WHERE id = ?`,
		vad.Valence, vad.Arousal, vad.Dominance, marshalJSON(keywords), marshalJSON(tags),
		boolInt(pending), formatTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("update attributes: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.NotFoundf("memory %s", id)
	}
	return nil
}

// GetMemories loads the given ids, skipping unknown ones, in input order.
func (s *SQLiteStore) GetMemories(ctx context.Context, ids []string) ([]*model.Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	found, err := s.queryMemories(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE id IN (SELECT value FROM json_each(?))`,
		marshalJSON(ids))
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*model.Memory, len(found))
	for _, m := range found {
		byID[m.ID] = m
	}
	out := make([]*model.Memory, 0, len(found))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *SQLiteStore) queryMemories(ctx context.Context, query string, args ...any) ([]*model.Memory, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMemory(row scanner) (*model.Memory, error) {
	var m model.Memory
	var categories, keywords, tags, status, createdAt, updatedAt string
	var parent, lastAccessed sql.NullString
	var pending int

	err := row.Scan(
		&m.ID, &m.OwnerID, &m.Content, &categories,
		&m.VAD.Valence, &m.VAD.Arousal, &m.VAD.Dominance,
		&keywords, &tags, &m.Importance, &parent, &m.RootID, &m.Version, &m.Stamp,
		&m.Trigger, &status, &m.ArchiveReason, &pending, &m.AccessCount,
		&lastAccessed, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(categories), &m.Categories); err != nil {
		return nil, fmt.Errorf("decode categories of %s: %w", m.ID, err)
	}
	json.Unmarshal([]byte(keywords), &m.Keywords)
	json.Unmarshal([]byte(tags), &m.Tags)
	m.Status = model.Status(status)
	m.EnrichmentPending = pending != 0
	m.ParentID = parent.String
	if lastAccessed.Valid {
		t := parseTime(lastAccessed.String)
		m.LastAccessedAt = &t
	}
	m.CreatedAt = parseTime(createdAt)
	m.UpdatedAt = parseTime(updatedAt)
	return &m, nil
}
