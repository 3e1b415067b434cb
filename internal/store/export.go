package store

import (
	"context"

	"github.com/rcliao/memgraph/internal/model"
)

// Export is a full dump of one owner's records and the links between them.
type Export struct {
	OwnerID     string                   `json:"owner_id"`
	Memories    []*model.Memory          `json:"memories"`
	Links       []model.MemoryLink       `json:"links"`
	Compactions []model.CompactionRecord `json:"compactions"`
}

// ExportOwner returns every record of the owner, active and archived, in
// creation order, with the links leaving them and the compaction history.
func (s *SQLiteStore) ExportOwner(ctx context.Context, ownerID string) (*Export, error) {
	mems, err := s.queryMemories(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE owner_id = ? ORDER BY created_at, id`, ownerID)
	if err != nil {
		return nil, err
	}
	links, err := s.queryLinks(ctx,
		`SELECT `+linkColumns+` FROM memory_links
		 WHERE source_id IN (SELECT id FROM memories WHERE owner_id = ?)
		 ORDER BY created_at, source_id, target_id, link_type`, ownerID)
	if err != nil {
		return nil, err
	}
	comps, err := s.ListCompactions(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return &Export{OwnerID: ownerID, Memories: mems, Links: links, Compactions: comps}, nil
}
