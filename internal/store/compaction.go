package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rcliao/memgraph/internal/model"
)

// CommitCompaction archives the absorbed records into successorID, moves
// their links onto the successor and writes rec, all in one transaction.
// If any absorbed record is no longer active the whole commit is rolled back
// with ErrConflict.
func (s *SQLiteStore) CommitCompaction(ctx context.Context, successorID string, rec *model.CompactionRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := formatTime(s.now())
	reason := "compacted into " + successorID
	for _, id := range rec.AbsorbedMemoryIDs {
		res, err := tx.ExecContext(ctx,
			`UPDATE memories SET status = 'archived', archive_reason = ?, stamp = stamp + 1, updated_at = ?
			 WHERE id = ? AND status = 'active'`, reason, now, id)
		if err != nil {
			return fmt.Errorf("archive absorbed memory: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return model.Conflictf("memory %s is no longer active", id)
		}
	}

	if err := repointLinks(ctx, tx, rec.AbsorbedMemoryIDs, successorID, now); err != nil {
		return err
	}

	absorbed, _ := json.Marshal(rec.AbsorbedMemoryIDs)
	_, err = tx.ExecContext(ctx,
		`INSERT INTO compaction_records (id, owner_id, absorbed_memory_ids, resulting_memory_id,
		                                 triggered_at, token_count_before, token_count_after)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.OwnerID, string(absorbed), successorID,
		formatTime(rec.TriggeredAt), rec.TokenCountBefore, rec.TokenCountAfter)
	if err != nil {
		return fmt.Errorf("insert compaction record: %w", err)
	}
	rec.ResultingMemoryID = successorID
	return tx.Commit()
}

type linkKey struct {
	source, target string
	typ            model.LinkType
}

// repointLinks archives every active link touching an absorbed record and
// recreates it on the successor. Links between two absorbed records would
// become self-links and are dropped. Links that collapse onto the same key
// keep the highest strength and join their reasons.
func repointLinks(ctx context.Context, tx *sql.Tx, absorbed []string, successorID, now string) error {
	ids := marshalJSON(absorbed)
	rows, err := tx.QueryContext(ctx,
		`SELECT `+linkColumns+` FROM memory_links
		 WHERE status = 'active'
		   AND (source_id IN (SELECT value FROM json_each(?)) OR target_id IN (SELECT value FROM json_each(?)))
		 ORDER BY created_at, source_id, target_id, link_type`, ids, ids)
	if err != nil {
		return fmt.Errorf("load links: %w", err)
	}
	var old []model.MemoryLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			rows.Close()
			return err
		}
		old = append(old, *l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	inSet := make(map[string]bool, len(absorbed))
	for _, id := range absorbed {
		inSet[id] = true
	}
	moved := map[linkKey]*model.MemoryLink{}
	var order []linkKey
	for _, l := range old {
		_, err := tx.ExecContext(ctx,
			`UPDATE memory_links SET status = 'archived', updated_at = ?
			 WHERE source_id = ? AND target_id = ? AND link_type = ?`,
			now, l.SourceID, l.TargetID, string(l.Type))
		if err != nil {
			return fmt.Errorf("archive link: %w", err)
		}

		src, dst := l.SourceID, l.TargetID
		if inSet[src] {
			src = successorID
		}
		if inSet[dst] {
			dst = successorID
		}
		if src == dst {
			continue
		}
		k := linkKey{src, dst, l.Type}
		if m, ok := moved[k]; ok {
			m.Strength = max(m.Strength, l.Strength)
			m.Reason = joinReasons(m.Reason, l.Reason)
			continue
		}
		nl := l
		nl.SourceID, nl.TargetID = src, dst
		moved[k] = &nl
		order = append(order, k)
	}

	for _, k := range order {
		l := moved[k]
		_, err := tx.ExecContext(ctx,
			`INSERT INTO memory_links (`+linkColumns+`) VALUES (?, ?, ?, ?, ?, ?, 'active', ?, ?)
			 ON CONFLICT(source_id, target_id, link_type) DO UPDATE SET
				strength = MAX(memory_links.strength, excluded.strength),
				reason = CASE WHEN memory_links.reason = '' THEN excluded.reason
				              ELSE memory_links.reason || '; ' || excluded.reason END,
				status = 'active',
				updated_at = excluded.updated_at`,
			l.SourceID, l.TargetID, string(l.Type), l.Strength, l.Reason, l.CreatedBy, now, now)
		if err != nil {
			return fmt.Errorf("repoint link: %w", err)
		}
	}
	return nil
}

func joinReasons(a, b string) string {
	switch {
	case b == "" || a == b || strings.Contains(a, b):
		return a
	case a == "":
		return b
	}
	return a + "; " + b
}

// ListCompactions returns the owner's compaction runs, newest first.
func (s *SQLiteStore) ListCompactions(ctx context.Context, ownerID string) ([]model.CompactionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, absorbed_memory_ids, resulting_memory_id, triggered_at,
		        token_count_before, token_count_after
		 FROM compaction_records WHERE owner_id = ?
		 ORDER BY triggered_at DESC, id DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.CompactionRecord
	for rows.Next() {
		var r model.CompactionRecord
		var absorbed, triggered string
		if err := rows.Scan(&r.ID, &r.OwnerID, &absorbed, &r.ResultingMemoryID, &triggered,
			&r.TokenCountBefore, &r.TokenCountAfter); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(absorbed), &r.AbsorbedMemoryIDs); err != nil {
			return nil, fmt.Errorf("decode compaction %s: %w", r.ID, err)
		}
		r.TriggeredAt = parseTime(triggered)
		out = append(out, r)
	}
	return out, rows.Err()
}
