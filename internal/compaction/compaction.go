// Package compaction keeps an owner's active memories under a token budget by
// merging the least valuable records into a summarized successor.
package compaction

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/rcliao/memgraph/internal/cache"
	"github.com/rcliao/memgraph/internal/model"
	"github.com/rcliao/memgraph/internal/observe"
	"github.com/rcliao/memgraph/internal/reasoner"
	"github.com/rcliao/memgraph/internal/records"
	"github.com/rcliao/memgraph/internal/tokens"
)

// DefaultBudget is the token budget used when none is configured.
const DefaultBudget = 4000

// maxRounds bounds how often selection is retried with a larger reserve.
const maxRounds = 3

// minGroup is the smallest number of records merged in one run.
const minGroup = 2

// Phase is the compaction state of one owner.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseSelecting   Phase = "selecting"
	PhaseSummarizing Phase = "summarizing"
	PhaseCommitting  Phase = "committing"
)

// Records is the Record Store surface compaction uses.
type Records interface {
	ListActive(ctx context.Context, ownerID string) ([]*model.Memory, error)
	CreateMemory(ctx context.Context, p records.CreateParams) (*model.Memory, error)
	ArchiveMemory(ctx context.Context, id, reason string) error
}

// Store commits compaction runs atomically.
type Store interface {
	CommitCompaction(ctx context.Context, successorID string, rec *model.CompactionRecord) error
	ListCompactions(ctx context.Context, ownerID string) ([]model.CompactionRecord, error)
}

// Options tune a single run.
type Options struct {
	// Budget in tokens; zero or less uses the engine default.
	Budget int
}

// Result describes the outcome of a trigger.
type Result struct {
	Compacted    bool                    `json:"compacted"`
	Record       *model.CompactionRecord `json:"record,omitempty"`
	TokensBefore int                     `json:"tokens_before"`
	TokensAfter  int                     `json:"tokens_after"`
	Reason       string                  `json:"reason,omitempty"`
	// Shared is set when the result came from a run started by another caller.
	Shared bool `json:"shared"`
}

// Engine runs compactions, at most one at a time per owner.
type Engine struct {
	records  Records
	store    Store
	cache    cache.Cache
	reasoner reasoner.Reasoner
	counter  tokens.Counter
	budget   int
	obs      *observe.Observer
	now      func() time.Time

	group  singleflight.Group
	mu     sync.Mutex
	phases map[string]Phase
}

// New wires a Compaction Engine. A nil counter uses tokens.Approx.
func New(recs Records, st Store, c cache.Cache, r reasoner.Reasoner, counter tokens.Counter, budget int, obs *observe.Observer) *Engine {
	if c == nil {
		c = cache.Nop{}
	}
	if counter == nil {
		counter = tokens.Approx
	}
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Engine{
		records:  recs,
		store:    st,
		cache:    c,
		reasoner: r,
		counter:  counter,
		budget:   budget,
		obs:      observe.OrDiscard(obs),
		now:      func() time.Time { return time.Now().UTC() },
		phases:   map[string]Phase{},
	}
}

// Phase reports where the owner's current run is.
func (e *Engine) Phase(ownerID string) Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.phases[ownerID]; ok {
		return p
	}
	return PhaseIdle
}

func (e *Engine) setPhase(ownerID string, p Phase) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p == PhaseIdle {
		delete(e.phases, ownerID)
	} else {
		e.phases[ownerID] = p
	}
	e.obs.Log().Debug().Str("owner", ownerID).Str("phase", string(p)).Msg("compaction phase")
}

// TriggerCompaction compacts the owner's active records if they exceed the
// budget. Concurrent triggers for the same owner share one run.
func (e *Engine) TriggerCompaction(ctx context.Context, ownerID string, opts Options) (*Result, error) {
	if ownerID == "" {
		return nil, model.Validationf("owner id is required")
	}
	budget := opts.Budget
	if budget <= 0 {
		budget = e.budget
	}

	v, err, shared := e.group.Do(ownerID, func() (any, error) {
		return e.run(ctx, ownerID, budget)
	})
	if err != nil {
		return nil, err
	}
	res := *v.(*Result)
	res.Shared = shared
	return &res, nil
}

// MaybeCompact is the pipeline hook: it returns at once when the owner is
// within budget and triggers a run otherwise.
func (e *Engine) MaybeCompact(ctx context.Context, ownerID string, opts Options) (*Result, error) {
	budget := opts.Budget
	if budget <= 0 {
		budget = e.budget
	}
	active, err := e.records.ListActive(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	total := 0
	for _, m := range active {
		total += e.counter.Count(m.Content)
	}
	if total <= budget {
		return &Result{TokensBefore: total, TokensAfter: total, Reason: "under budget"}, nil
	}
	return e.TriggerCompaction(ctx, ownerID, Options{Budget: budget})
}

// ListCompactions returns the owner's runs, newest first.
func (e *Engine) ListCompactions(ctx context.Context, ownerID string) ([]model.CompactionRecord, error) {
	return e.store.ListCompactions(ctx, ownerID)
}

type candidate struct {
	m         *model.Memory
	tokens    int
	retention float64
}

func (e *Engine) run(ctx context.Context, ownerID string, budget int) (res *Result, err error) {
	ctx, span := e.obs.StartSpan(ctx, "compaction.Trigger", "owner", ownerID)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "compaction failed")
			e.obs.Log().Error().Err(err).Str("owner", ownerID).Msg("compaction aborted")
		}
		span.End()
	}()
	defer e.setPhase(ownerID, PhaseIdle)

	triggeredAt := e.now()
	e.setPhase(ownerID, PhaseSelecting)
	active, err := e.records.ListActive(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	cands := make([]candidate, len(active))
	total := 0
	for i, m := range active {
		n := e.counter.Count(m.Content)
		cands[i] = candidate{m: m, tokens: n, retention: Retention(m, triggeredAt)}
		total += n
	}
	if total <= budget {
		return &Result{TokensBefore: total, TokensAfter: total, Reason: "under budget"}, nil
	}
	if len(cands) < minGroup {
		return &Result{TokensBefore: total, TokensAfter: total, Reason: "nothing to merge"}, nil
	}
	sortByRetention(cands)

	reserve := 0
	for round := 0; round < maxRounds; round++ {
		e.setPhase(ownerID, PhaseSelecting)
		group, removed := selectPrefix(cands, total, budget, reserve)

		e.setPhase(ownerID, PhaseSummarizing)
		summary, err := e.summarize(ctx, group)
		if err != nil {
			return nil, err
		}
		summaryTokens := e.counter.Count(summary)
		after := total - removed + summaryTokens
		if after <= budget {
			e.setPhase(ownerID, PhaseCommitting)
			return e.commit(ctx, ownerID, group, summary, triggeredAt, total, after)
		}
		if len(group) == len(cands) || summaryTokens <= reserve {
			break
		}
		reserve = summaryTokens
	}
	return nil, model.External("summarize", fmt.Errorf("summary too large to fit budget of %d tokens", budget))
}

// Retention scores how much a record is worth keeping: importance decayed by
// days since last use, weighted by how often it was read.
func Retention(m *model.Memory, now time.Time) float64 {
	days := now.Sub(m.LastTouched()).Hours() / 24
	if days < 0 {
		days = 0
	}
	return m.Importance * math.Exp(-0.1*days) * math.Log1p(float64(m.AccessCount))
}

func sortByRetention(cands []candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		switch {
		case a.retention != b.retention:
			return a.retention < b.retention
		case !a.m.CreatedAt.Equal(b.m.CreatedAt):
			return a.m.CreatedAt.Before(b.m.CreatedAt)
		}
		return a.m.ID < b.m.ID
	})
}

// selectPrefix returns the shortest prefix, at least minGroup long, whose
// removal brings the remainder plus reserve within budget. When no prefix is
// enough, every record is selected.
func selectPrefix(cands []candidate, total, budget, reserve int) ([]candidate, int) {
	removed := 0
	for i, c := range cands {
		removed += c.tokens
		if i+1 >= minGroup && total-removed+reserve <= budget {
			return cands[:i+1], removed
		}
	}
	return cands, removed
}

func (e *Engine) summarize(ctx context.Context, group []candidate) (string, error) {
	if e.reasoner == nil {
		return "", model.External("summarize", errors.New("no reasoner configured"))
	}
	texts := make([]string, len(group))
	for i, c := range group {
		texts[i] = c.m.Content
	}
	summary, err := e.reasoner.Summarize(ctx, texts)
	if err != nil {
		return "", model.External("summarize", err)
	}
	if summary == "" {
		return "", model.External("summarize", errors.New("empty summary"))
	}
	return summary, nil
}

// commit stores the successor first, then archives the group, moves links and
// writes the audit record in one transaction. It ignores caller cancellation.
func (e *Engine) commit(ctx context.Context, ownerID string, group []candidate, summary string, triggeredAt time.Time, before, after int) (*Result, error) {
	ctx = context.WithoutCancel(ctx)

	p := merge(ownerID, group, summary)
	successor, err := e.records.CreateMemory(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("create successor: %w", err)
	}

	rec := &model.CompactionRecord{
		ID:               uuid.NewString(),
		OwnerID:          ownerID,
		TriggeredAt:      triggeredAt,
		TokenCountBefore: before,
		TokenCountAfter:  after,
	}
	for _, c := range group {
		rec.AbsorbedMemoryIDs = append(rec.AbsorbedMemoryIDs, c.m.ID)
	}

	if err := e.store.CommitCompaction(ctx, successor.ID, rec); err != nil {
		if aerr := e.records.ArchiveMemory(ctx, successor.ID, "compaction aborted"); aerr != nil {
			e.obs.Log().Error().Err(aerr).Str("id", successor.ID).Msg("orphaned compaction successor")
		}
		return nil, fmt.Errorf("commit compaction: %w", err)
	}
	for _, id := range rec.AbsorbedMemoryIDs {
		e.cache.Invalidate(id)
	}

	e.obs.Log().Info().
		Str("owner", ownerID).
		Str("successor", successor.ID).
		Int("absorbed", len(group)).
		Int("tokens_before", before).
		Int("tokens_after", after).
		Msg("compaction committed")
	return &Result{
		Compacted:    true,
		Record:       rec,
		TokensBefore: before,
		TokensAfter:  after,
	}, nil
}

// merge builds the successor: union of categories, keywords and tags, mean VAD
// and the highest importance of the group.
func merge(ownerID string, group []candidate, summary string) records.CreateParams {
	var (
		cats       [][]model.CategoryRef
		keywords   = []string{}
		tags       = []string{}
		vad        model.VAD
		importance float64
		pending    = true
	)
	for _, c := range group {
		m := c.m
		cats = append(cats, m.Categories)
		keywords = append(keywords, m.Keywords...)
		tags = append(tags, m.Tags...)
		vad.Valence += m.VAD.Valence
		vad.Arousal += m.VAD.Arousal
		vad.Dominance += m.VAD.Dominance
		importance = max(importance, m.Importance)
		pending = pending && m.EnrichmentPending
	}
	n := float64(len(group))
	vad = model.VAD{Valence: vad.Valence / n, Arousal: vad.Arousal / n, Dominance: vad.Dominance / n}

	return records.CreateParams{
		OwnerID:           ownerID,
		Content:           summary,
		Categories:        model.UnionCategories(cats...),
		Importance:        importance,
		VAD:               &vad,
		Keywords:          keywords,
		Tags:              tags,
		Trigger:           "compaction",
		EnrichmentPending: pending,
	}
}
