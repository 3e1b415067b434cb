// Package retrieval answers filtered, ranked searches over an owner's memories.
package retrieval

import (
	"context"
	"errors"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/gobwas/glob"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/memgraph/internal/cache"
	"github.com/rcliao/memgraph/internal/model"
	"github.com/rcliao/memgraph/internal/observe"
	"github.com/rcliao/memgraph/internal/reasoner"
	"github.com/rcliao/memgraph/internal/store"
)

// DefaultLimit caps results when the query sets no limit.
const DefaultLimit = 20

// relevanceConcurrency bounds in-flight SemanticRelevance calls per search.
const relevanceConcurrency = 4

// Store supplies candidate ids and records.
type Store interface {
	Candidates(ctx context.Context, f store.Filter) ([]string, error)
	GetMemories(ctx context.Context, ids []string) ([]*model.Memory, error)
}

// Weights combine the ranking signals.
type Weights struct {
	Relevance  float64
	Importance float64
	Recency    float64
	// HalfLife is the age at which the recency signal halves.
	HalfLife time.Duration
}

// DefaultWeights favour relevance, then importance, then recency.
func DefaultWeights() Weights {
	return Weights{Relevance: 0.5, Importance: 0.3, Recency: 0.2, HalfLife: 7 * 24 * time.Hour}
}

// Engine implements Search.
type Engine struct {
	store    Store
	cache    cache.Cache
	reasoner reasoner.Reasoner
	weights  Weights
	obs      *observe.Observer
}

// New wires a Retrieval Engine. A nil cache disables caching.
func New(st Store, c cache.Cache, r reasoner.Reasoner, w Weights, obs *observe.Observer) *Engine {
	if c == nil {
		c = cache.Nop{}
	}
	if w.HalfLife <= 0 {
		w.HalfLife = DefaultWeights().HalfLife
	}
	return &Engine{store: st, cache: c, reasoner: r, weights: w, obs: observe.OrDiscard(obs)}
}

// Query holds the search filters. Every set field narrows the result.
type Query struct {
	OwnerID    string
	Category   string // "domain/name"
	Importance *store.Range
	Valence    *store.Range
	Arousal    *store.Range
	Dominance  *store.Range
	// Tags matches records carrying any of them; entries may be globs like "proj-*".
	Tags            []string
	Text            string
	IncludeArchived bool
	Limit           int
}

// Result is one ranked hit.
type Result struct {
	Memory    *model.Memory `json:"memory"`
	Score     float64       `json:"score"`
	Relevance float64       `json:"relevance"`
	Recency   float64       `json:"recency"`
}

// Search returns records matching q ordered by score, then relevance,
// importance, newest creation and id. It never counts the reads.
func (e *Engine) Search(ctx context.Context, q Query) (results []Result, err error) {
	ctx, span := e.obs.StartSpan(ctx, "retrieval.Search", "owner", q.OwnerID)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "search failed")
		}
		span.End()
	}()

	patterns, err := compileTags(q.Tags)
	if err != nil {
		return nil, err
	}

	ids, err := e.store.Candidates(ctx, store.Filter{
		OwnerID:         q.OwnerID,
		Category:        q.Category,
		Importance:      q.Importance,
		Valence:         q.Valence,
		Arousal:         q.Arousal,
		Dominance:       q.Dominance,
		Query:           q.Text,
		IncludeArchived: q.IncludeArchived,
	})
	if err != nil {
		return nil, err
	}
	mems, err := e.hydrate(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(patterns) > 0 {
		mems = filterTags(mems, patterns)
	}

	relevance, err := e.relevance(ctx, q.Text, mems)
	if err != nil {
		return nil, err
	}

	var newest time.Time
	for _, m := range mems {
		if t := m.LastTouched(); t.After(newest) {
			newest = t
		}
	}

	results = make([]Result, len(mems))
	for i, m := range mems {
		rec := e.recency(newest.Sub(m.LastTouched()))
		results[i] = Result{
			Memory:    m,
			Relevance: relevance[i],
			Recency:   rec,
			Score:     e.weights.Relevance*relevance[i] + e.weights.Importance*m.Importance + e.weights.Recency*rec,
		}
	}
	sort.Slice(results, func(i, j int) bool { return less(results[i], results[j]) })

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if len(results) > limit {
		results = results[:limit]
	}
	e.obs.Log().Debug().
		Str("owner", q.OwnerID).
		Int("candidates", len(ids)).
		Int("results", len(results)).
		Msg("search")
	return results, nil
}

func less(a, b Result) bool {
	switch {
	case a.Score != b.Score:
		return a.Score > b.Score
	case a.Relevance != b.Relevance:
		return a.Relevance > b.Relevance
	case a.Memory.Importance != b.Memory.Importance:
		return a.Memory.Importance > b.Memory.Importance
	case !a.Memory.CreatedAt.Equal(b.Memory.CreatedAt):
		return a.Memory.CreatedAt.After(b.Memory.CreatedAt)
	}
	return a.Memory.ID < b.Memory.ID
}

func (e *Engine) recency(age time.Duration) float64 {
	if age <= 0 {
		return 1
	}
	return math.Exp(-math.Ln2 * float64(age) / float64(e.weights.HalfLife))
}

// hydrate loads ids cache first, falling back to the store for misses.
func (e *Engine) hydrate(ctx context.Context, ids []string) ([]*model.Memory, error) {
	out := make([]*model.Memory, 0, len(ids))
	var misses []string
	gens := map[string]uint64{}
	for _, id := range ids {
		gen := e.cache.Generation(id)
		if m, ok := e.cache.Get(id); ok {
			out = append(out, m)
			continue
		}
		gens[id] = gen
		misses = append(misses, id)
	}
	if len(misses) == 0 {
		return out, nil
	}
	loaded, err := e.store.GetMemories(ctx, misses)
	if err != nil {
		return nil, err
	}
	for _, m := range loaded {
		e.cache.Set(m, gens[m.ID])
	}
	return append(out, loaded...), nil
}

func (e *Engine) relevance(ctx context.Context, text string, mems []*model.Memory) ([]float64, error) {
	scores := make([]float64, len(mems))
	if text == "" || len(mems) == 0 {
		return scores, nil
	}
	if e.reasoner == nil {
		return nil, model.External("semantic relevance", errors.New("no reasoner configured"))
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(relevanceConcurrency)
	for i, m := range mems {
		eg.Go(func() error {
			r, err := e.reasoner.SemanticRelevance(egCtx, text, m.Content)
			if err != nil {
				return model.External("semantic relevance", err)
			}
			scores[i] = model.Clamp01(r)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return scores, nil
}

func compileTags(tags []string) ([]glob.Glob, error) {
	var out []glob.Glob
	for _, t := range model.NormalizeTerms(tags) {
		g, err := glob.Compile(t)
		if err != nil {
			return nil, model.Validationf("tag pattern %s: %v", strconv.Quote(t), err)
		}
		out = append(out, g)
	}
	return out, nil
}

func filterTags(mems []*model.Memory, patterns []glob.Glob) []*model.Memory {
	var out []*model.Memory
	for _, m := range mems {
		if anyTagMatches(m.Tags, patterns) {
			out = append(out, m)
		}
	}
	return out
}

func anyTagMatches(tags []string, patterns []glob.Glob) bool {
	for _, t := range tags {
		for _, p := range patterns {
			if p.Match(t) {
				return true
			}
		}
	}
	return false
}
