package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rcliao/memgraph/internal/model"
)

const linkColumns = `source_id, target_id, link_type, strength, reason, created_by, status, created_at, updated_at`

// UpsertLink creates the (source, target, type) link or, when it already
// exists, replaces its strength, reason and author and re-activates it.
func (s *SQLiteStore) UpsertLink(ctx context.Context, l model.MemoryLink) (*model.MemoryLink, error) {
	now := formatTime(s.now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_links (`+linkColumns+`) VALUES (?, ?, ?, ?, ?, ?, 'active', ?, ?)
		 ON CONFLICT(source_id, target_id, link_type) DO UPDATE SET
			strength = excluded.strength,
			reason = excluded.reason,
			created_by = excluded.created_by,
			status = 'active',
			updated_at = excluded.updated_at`,
		l.SourceID, l.TargetID, string(l.Type), l.Strength, l.Reason, l.CreatedBy, now, now)
	if err != nil {
		return nil, fmt.Errorf("upsert link: %w", err)
	}
	return s.GetLink(ctx, l.SourceID, l.TargetID, l.Type)
}

// GetLink loads a single link regardless of status.
func (s *SQLiteStore) GetLink(ctx context.Context, sourceID, targetID string, typ model.LinkType) (*model.MemoryLink, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+linkColumns+` FROM memory_links WHERE source_id = ? AND target_id = ? AND link_type = ?`,
		sourceID, targetID, string(typ))
	l, err := scanLink(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFoundf("link %s -[%s]-> %s", sourceID, typ, targetID)
	}
	return l, err
}

// Outgoing returns the active links leaving id, strongest first.
func (s *SQLiteStore) Outgoing(ctx context.Context, id string) ([]model.MemoryLink, error) {
	return s.queryLinks(ctx,
		`SELECT `+linkColumns+` FROM memory_links WHERE source_id = ? AND status = 'active'
		 ORDER BY strength DESC, created_at DESC, target_id`, id)
}

// Incoming returns the active links arriving at id, strongest first.
func (s *SQLiteStore) Incoming(ctx context.Context, id string) ([]model.MemoryLink, error) {
	return s.queryLinks(ctx,
		`SELECT `+linkColumns+` FROM memory_links WHERE target_id = ? AND status = 'active'
		 ORDER BY strength DESC, created_at DESC, source_id`, id)
}

func (s *SQLiteStore) queryLinks(ctx context.Context, query string, args ...any) ([]model.MemoryLink, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []model.MemoryLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, *l)
	}
	return links, rows.Err()
}

func scanLink(row scanner) (*model.MemoryLink, error) {
	var l model.MemoryLink
	var typ, status, createdAt, updatedAt string
	if err := row.Scan(&l.SourceID, &l.TargetID, &typ, &l.Strength, &l.Reason, &l.CreatedBy,
		&status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	l.Type = model.LinkType(typ)
	l.Status = model.Status(status)
	l.CreatedAt = parseTime(createdAt)
	l.UpdatedAt = parseTime(updatedAt)
	return &l, nil
}
