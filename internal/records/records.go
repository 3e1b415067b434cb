// Package records is the Record Store: validated, versioned memory records with
// best-effort enrichment and a read-through cache.
package records

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/rcliao/memgraph/internal/cache"
	"github.com/rcliao/memgraph/internal/model"
	"github.com/rcliao/memgraph/internal/observe"
	"github.com/rcliao/memgraph/internal/reasoner"
	"github.com/rcliao/memgraph/internal/taxonomy"
)

// Store is the persistence the Record Store needs.
type Store interface {
	InsertMemory(ctx context.Context, m *model.Memory) error
	SupersedeMemory(ctx context.Context, oldID string, oldStamp int64, next *model.Memory) error
	GetMemory(ctx context.Context, id string) (*model.Memory, error)
	Touch(ctx context.Context, id string) (time.Time, error)
	ArchiveMemory(ctx context.Context, id, reason string) (bool, error)
	VersionChain(ctx context.Context, rootID string) ([]*model.Memory, error)
	ListActive(ctx context.Context, ownerID string) ([]*model.Memory, error)
	ListPendingEnrichment(ctx context.Context, limit int) ([]*model.Memory, error)
	UpdateAttributes(ctx context.Context, id string, vad model.VAD, keywords, tags []string, pending bool) error
}

// Service implements the Record Store operations.
type Service struct {
	store    Store
	tax      *taxonomy.Taxonomy
	reasoner reasoner.Reasoner
	cache    cache.Cache
	obs      *observe.Observer
}

// New wires a Record Store. A nil reasoner leaves every record pending
// enrichment; a nil cache disables caching.
func New(st Store, tax *taxonomy.Taxonomy, r reasoner.Reasoner, c cache.Cache, obs *observe.Observer) *Service {
	if c == nil {
		c = cache.Nop{}
	}
	return &Service{store: st, tax: tax, reasoner: r, cache: c, obs: observe.OrDiscard(obs)}
}

// CreateParams describes a new memory. Nil VAD, Keywords or Tags are filled by
// attribute extraction.
type CreateParams struct {
	OwnerID    string
	Content    string
	Categories []model.CategoryRef
	Importance float64
	VAD        *model.VAD
	Keywords   []string
	Tags       []string
	Trigger    string
	// EnrichmentPending skips extraction and stores the record as pending.
	EnrichmentPending bool
}

// CreateMemory validates and stores a new record.
func (s *Service) CreateMemory(ctx context.Context, p CreateParams) (*model.Memory, error) {
	if strings.TrimSpace(p.OwnerID) == "" {
		return nil, model.Validationf("owner id is required")
	}
	if strings.TrimSpace(p.Content) == "" {
		return nil, model.Validationf("content must not be empty")
	}
	if err := s.tax.Validate(p.Categories, p.Importance); err != nil {
		return nil, err
	}
	if p.VAD != nil && !p.VAD.Finite() {
		return nil, model.Validationf("vad must be finite, got %+v", *p.VAD)
	}

	m := &model.Memory{
		OwnerID:           p.OwnerID,
		Content:           p.Content,
		Categories:        model.UnionCategories(p.Categories),
		Importance:        p.Importance,
		Keywords:          model.NormalizeTerms(p.Keywords),
		Tags:              model.NormalizeTerms(p.Tags),
		Trigger:           p.Trigger,
		EnrichmentPending: p.EnrichmentPending,
	}
	if p.VAD != nil {
		m.VAD = p.VAD.Clamp()
	}
	if !p.EnrichmentPending && (p.VAD == nil || p.Keywords == nil || p.Tags == nil) {
		s.enrich(ctx, m, p.VAD == nil, p.Keywords == nil, p.Tags == nil)
	}

	if err := s.store.InsertMemory(ctx, m); err != nil {
		return nil, err
	}
	s.obs.Log().Info().
		Str("id", m.ID).
		Str("owner", m.OwnerID).
		Str("enrichment_pending", strconv.FormatBool(m.EnrichmentPending)).
		Msg("memory created")
	return m, nil
}

// enrich fills the requested attributes from the reasoner. Failure leaves the
// record pending with a neutral VAD.
func (s *Service) enrich(ctx context.Context, m *model.Memory, vad, keywords, tags bool) {
	if s.reasoner == nil {
		m.EnrichmentPending = true
		return
	}
	attrs, err := s.reasoner.ExtractAttributes(ctx, m.Content)
	if err != nil {
		s.obs.Log().Warn().Err(err).Str("owner", m.OwnerID).Msg("enrichment degraded")
		m.EnrichmentPending = true
		if vad {
			m.VAD = model.VAD{}
		}
		return
	}
	if vad {
		m.VAD = attrs.VAD.Clamp()
	}
	if keywords {
		m.Keywords = model.NormalizeTerms(attrs.Keywords)
	}
	if tags {
		m.Tags = model.NormalizeTerms(attrs.Tags)
	}
}

// Overrides replace fields of the previous version in CreateVersion.
type Overrides struct {
	Categories []model.CategoryRef
	Importance *float64
	VAD        *model.VAD
	Keywords   []string
	Tags       []string
}

// CreateVersion archives the active record id and stores newContent as its
// successor. Fields not overridden are copied. A concurrent version of the same
// record is retried once before ErrConflict.
func (s *Service) CreateVersion(ctx context.Context, id, newContent, trigger string, o Overrides) (*model.Memory, error) {
	if strings.TrimSpace(newContent) == "" {
		return nil, model.Validationf("content must not be empty")
	}

	for attempt := 0; attempt < 2; attempt++ {
		cur, err := s.store.GetMemory(ctx, id)
		if err != nil {
			return nil, err
		}
		if !cur.Active() {
			if attempt > 0 {
				return nil, model.Conflictf("memory %s was superseded concurrently", id)
			}
			return nil, model.NotFoundf("active memory %s", id)
		}

		next, err := s.successor(cur, newContent, trigger, o)
		if err != nil {
			return nil, err
		}
		err = s.store.SupersedeMemory(ctx, cur.ID, cur.Stamp, next)
		if errors.Is(err, model.ErrConflict) {
			s.obs.Log().Warn().Str("id", id).Int("attempt", attempt+1).Msg("version conflict")
			continue
		}
		if err != nil {
			return nil, err
		}

		s.cache.Invalidate(cur.ID)
		s.obs.Log().Info().
			Str("id", next.ID).
			Str("parent", cur.ID).
			Int("version", next.Version).
			Str("trigger", trigger).
			Msg("memory versioned")
		return next, nil
	}
	return nil, model.Conflictf("memory %s changed concurrently twice", id)
}

func (s *Service) successor(cur *model.Memory, content, trigger string, o Overrides) (*model.Memory, error) {
	next := cur.Clone()
	next.Content = content
	next.ParentID = cur.ID
	next.RootID = cur.RootID
	next.Version = cur.Version + 1
	next.Trigger = trigger

	if o.Categories != nil {
		next.Categories = model.UnionCategories(o.Categories)
	}
	if o.Importance != nil {
		next.Importance = *o.Importance
	}
	if o.Categories != nil || o.Importance != nil {
		if err := s.tax.Validate(next.Categories, next.Importance); err != nil {
			return nil, err
		}
	}
	if o.VAD != nil {
		if !o.VAD.Finite() {
			return nil, model.Validationf("vad must be finite, got %+v", *o.VAD)
		}
		next.VAD = o.VAD.Clamp()
	}
	if o.Keywords != nil {
		next.Keywords = model.NormalizeTerms(o.Keywords)
	}
	if o.Tags != nil {
		next.Tags = model.NormalizeTerms(o.Tags)
	}
	return next, nil
}

// GetMemory returns a record and counts the read. The cache is consulted
// first; the access counter update is best effort.
func (s *Service) GetMemory(ctx context.Context, id string) (*model.Memory, error) {
	gen := s.cache.Generation(id)
	if m, ok := s.cache.Get(id); ok {
		at, err := s.store.Touch(ctx, id)
		if errors.Is(err, model.ErrNotFound) {
			s.cache.Invalidate(id)
			return nil, err
		}
		if err != nil {
			s.obs.Log().Warn().Err(err).Str("id", id).Msg("access count not recorded")
			return m, nil
		}
		m.AccessCount++
		m.LastAccessedAt = &at
		s.cache.Set(m, gen)
		return m, nil
	}

	if _, err := s.store.Touch(ctx, id); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, err
		}
		s.obs.Log().Warn().Err(err).Str("id", id).Msg("access count not recorded")
	}
	m, err := s.store.GetMemory(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Set(m, gen)
	return m, nil
}

// Peek loads a record, cache first, without counting the read.
func (s *Service) Peek(ctx context.Context, id string) (*model.Memory, error) {
	gen := s.cache.Generation(id)
	if m, ok := s.cache.Get(id); ok {
		return m, nil
	}
	m, err := s.store.GetMemory(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Set(m, gen)
	return m, nil
}

// GetVersionChain returns every version of the memory containing id, oldest first.
func (s *Service) GetVersionChain(ctx context.Context, id string) ([]*model.Memory, error) {
	m, err := s.store.GetMemory(ctx, id)
	if err != nil {
		return nil, err
	}
	chain, err := s.store.VersionChain(ctx, m.RootID)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, model.NotFoundf("version chain of %s", id)
	}
	return chain, nil
}

// ArchiveMemory soft-deletes a record. Archiving an archived record is a no-op.
func (s *Service) ArchiveMemory(ctx context.Context, id, reason string) error {
	changed, err := s.store.ArchiveMemory(ctx, id, reason)
	s.cache.Invalidate(id)
	if err != nil {
		return err
	}
	if changed {
		s.obs.Log().Info().Str("id", id).Str("reason", reason).Msg("memory archived")
	}
	return nil
}

// ListActive returns the owner's active records.
func (s *Service) ListActive(ctx context.Context, ownerID string) ([]*model.Memory, error) {
	return s.store.ListActive(ctx, ownerID)
}

// RetryEnrichment re-runs attribute extraction for up to limit pending records
// and reports how many were enriched. Records that fail again stay pending.
func (s *Service) RetryEnrichment(ctx context.Context, limit int) (int, error) {
	if s.reasoner == nil {
		return 0, model.External("extract attributes", errors.New("no reasoner configured"))
	}
	pending, err := s.store.ListPendingEnrichment(ctx, limit)
	if err != nil {
		return 0, err
	}

	enriched := 0
	for _, m := range pending {
		if err := ctx.Err(); err != nil {
			return enriched, err
		}
		attrs, err := s.reasoner.ExtractAttributes(ctx, m.Content)
		if err != nil {
			s.obs.Log().Warn().Err(err).Str("id", m.ID).Msg("enrichment retry failed")
			continue
		}
		vad := m.VAD
		if vad == (model.VAD{}) {
			vad = attrs.VAD.Clamp()
		}
		keywords := model.NormalizeTerms(append(m.Keywords, attrs.Keywords...))
		tags := model.NormalizeTerms(append(m.Tags, attrs.Tags...))
		if err := s.store.UpdateAttributes(ctx, m.ID, vad, keywords, tags, false); err != nil {
			return enriched, err
		}
		s.cache.Invalidate(m.ID)
		enriched++
	}
	s.obs.Log().Info().Int("enriched", enriched).Int("pending", len(pending)).Msg("enrichment retried")
	return enriched, nil
}
