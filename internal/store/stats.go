package store

import (
	"context"
	"os"
)

// Stats holds database statistics.
type Stats struct {
	DBPath           string       `json:"db_path"`
	DBSizeBytes      int64        `json:"db_size_bytes"`
	TotalMemories    int          `json:"total_memories"`
	ActiveMemories   int          `json:"active_memories"`
	ArchivedMemories int          `json:"archived_memories"`
	PendingMemories  int          `json:"enrichment_pending"`
	ActiveLinks      int          `json:"active_links"`
	TotalChunks      int          `json:"total_chunks"`
	Compactions      int          `json:"compactions"`
	Owners           []OwnerStats `json:"owners"`
}

// OwnerStats holds per-owner counts.
type OwnerStats struct {
	OwnerID  string `json:"owner_id"`
	Active   int    `json:"active"`
	Archived int    `json:"archived"`
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{DBPath: s.path}

	if info, err := os.Stat(s.path); err == nil {
		st.DBSizeBytes = info.Size()
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(status = 'active'), 0),
		       COALESCE(SUM(status = 'archived'), 0),
		       COALESCE(SUM(enrichment_pending = 1 AND status = 'active'), 0)
		FROM memories`).Scan(&st.TotalMemories, &st.ActiveMemories, &st.ArchivedMemories, &st.PendingMemories)
	if err != nil {
		return nil, err
	}
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_links WHERE status = 'active'`).Scan(&st.ActiveLinks)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&st.TotalChunks)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM compaction_records`).Scan(&st.Compactions)

	rows, err := s.db.QueryContext(ctx, `
		SELECT owner_id, SUM(status = 'active') AS active, SUM(status = 'archived')
		FROM memories GROUP BY owner_id ORDER BY active DESC, owner_id`)
	if err != nil {
		return st, err
	}
	defer rows.Close()

	for rows.Next() {
		var o OwnerStats
		if err := rows.Scan(&o.OwnerID, &o.Active, &o.Archived); err != nil {
			return st, err
		}
		st.Owners = append(st.Owners, o)
	}
	return st, rows.Err()
}
