package store

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/rcliao/memgraph/internal/model"
)

// Range is an inclusive numeric interval.
type Range struct {
	Min, Max float64
}

// Filter selects candidate records for retrieval. All set fields are ANDed.
type Filter struct {
	OwnerID         string
	Category        string // "domain/name"
	Importance      *Range
	Valence         *Range
	Arousal         *Range
	Dominance       *Range
	Query           string // any term matching content chunks or keywords
	IncludeArchived bool
}

// QueryTerms lower-cases query and splits it into index terms.
func QueryTerms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return model.NormalizeTerms(fields)
}

// Candidates returns the ids of records matching f, ordered by id.
func (s *SQLiteStore) Candidates(ctx context.Context, f Filter) ([]string, error) {
	if f.OwnerID == "" {
		return nil, model.Validationf("owner id is required")
	}
	where := []string{"m.owner_id = ?"}
	args := []any{f.OwnerID}

	if !f.IncludeArchived {
		where = append(where, "m.status = 'active'")
	}
	if f.Category != "" {
		ref, ok := model.ParseCategoryRef(f.Category)
		if !ok {
			return nil, model.Validationf("malformed category %q", f.Category)
		}
		where = append(where, `EXISTS (SELECT 1 FROM json_each(m.categories) c
			WHERE json_extract(c.value, '$.domain') = ? AND json_extract(c.value, '$.name') = ?)`)
		args = append(args, string(ref.Domain), ref.Name)
	}
	for _, r := range []struct {
		col string
		rng *Range
	}{
		{"m.importance", f.Importance},
		{"m.valence", f.Valence},
		{"m.arousal", f.Arousal},
		{"m.dominance", f.Dominance},
	} {
		if r.rng == nil {
			continue
		}
		if !model.Finite(r.rng.Min) || !model.Finite(r.rng.Max) {
			return nil, model.Validationf("%s range bounds must be finite", strings.TrimPrefix(r.col, "m."))
		}
		if r.rng.Min > r.rng.Max {
			return nil, model.Validationf("%s range min %.2f > max %.2f", strings.TrimPrefix(r.col, "m."), r.rng.Min, r.rng.Max)
		}
		where = append(where, r.col+" BETWEEN ? AND ?")
		args = append(args, r.rng.Min, r.rng.Max)
	}
	if terms := QueryTerms(f.Query); len(terms) > 0 {
		quoted := make([]string, len(terms))
		for i, t := range terms {
			quoted[i] = `"` + t + `"`
		}
		where = append(where, `(m.id IN (SELECT c.memory_id FROM chunks_fts
				JOIN chunks c ON c.rowid = chunks_fts.rowid WHERE chunks_fts MATCH ?)
			OR EXISTS (SELECT 1 FROM json_each(m.keywords) k WHERE k.value IN (SELECT value FROM json_each(?))))`)
		args = append(args, strings.Join(quoted, " OR "), marshalJSON(terms))
	}

	query := fmt.Sprintf(`SELECT m.id FROM memories m WHERE %s ORDER BY m.id`, strings.Join(where, " AND "))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
