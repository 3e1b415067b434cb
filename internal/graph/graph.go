// Package graph manages the directed, typed and weighted links between memories.
package graph

import (
	"context"
	"errors"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/rcliao/memgraph/internal/model"
	"github.com/rcliao/memgraph/internal/observe"
	"github.com/rcliao/memgraph/internal/reasoner"
)

// MinSuggestStrength is the lowest score SuggestLinks returns.
const MinSuggestStrength = 0.5

// DefaultCreator is recorded when a link has no explicit author.
const DefaultCreator = "system"

// Records resolves memories without counting the read.
type Records interface {
	Peek(ctx context.Context, id string) (*model.Memory, error)
}

// Store persists links.
type Store interface {
	UpsertLink(ctx context.Context, l model.MemoryLink) (*model.MemoryLink, error)
	Outgoing(ctx context.Context, id string) ([]model.MemoryLink, error)
	Incoming(ctx context.Context, id string) ([]model.MemoryLink, error)
}

// Graph implements the Link Graph operations.
type Graph struct {
	records  Records
	store    Store
	reasoner reasoner.Reasoner
	obs      *observe.Observer
}

// New wires a Link Graph.
func New(records Records, st Store, r reasoner.Reasoner, obs *observe.Observer) *Graph {
	return &Graph{records: records, store: st, reasoner: r, obs: observe.OrDiscard(obs)}
}

// LinkParams describes a link to create. A nil Strength or Reason is computed
// by the reasoner.
type LinkParams struct {
	SourceID  string
	TargetID  string
	Type      model.LinkType
	Strength  *float64
	Reason    *string
	CreatedBy string
}

// CreateLink creates or updates the (source, target, type) link.
func (g *Graph) CreateLink(ctx context.Context, p LinkParams) (*model.MemoryLink, error) {
	if p.SourceID == p.TargetID {
		return nil, model.Validationf("self-link on %s", p.SourceID)
	}
	if !model.ValidLinkTypes[p.Type] {
		return nil, model.Validationf("unknown link type %q", p.Type)
	}
	if p.Strength != nil && !model.Finite(*p.Strength) {
		return nil, model.Validationf("strength must be finite, got %v", *p.Strength)
	}
	src, err := g.activeMemory(ctx, p.SourceID)
	if err != nil {
		return nil, err
	}
	dst, err := g.activeMemory(ctx, p.TargetID)
	if err != nil {
		return nil, err
	}

	l := model.MemoryLink{
		SourceID:  p.SourceID,
		TargetID:  p.TargetID,
		Type:      p.Type,
		CreatedBy: p.CreatedBy,
	}
	if l.CreatedBy == "" {
		l.CreatedBy = DefaultCreator
	}
	if p.Strength != nil {
		l.Strength = *p.Strength
	}
	if p.Reason != nil {
		l.Reason = *p.Reason
	}
	if p.Strength == nil || p.Reason == nil {
		score, err := g.score(ctx, src.Content, dst.Content)
		if err != nil {
			return nil, err
		}
		if p.Strength == nil {
			l.Strength = score.Strength
		}
		if p.Reason == nil {
			l.Reason = score.Reason
		}
	}
	l.Strength = model.Clamp01(l.Strength)

	saved, err := g.store.UpsertLink(ctx, l)
	if err != nil {
		return nil, err
	}
	g.obs.Log().Info().
		Str("source", l.SourceID).
		Str("target", l.TargetID).
		Str("type", string(l.Type)).
		Msg("link upserted")
	return saved, nil
}

func (g *Graph) activeMemory(ctx context.Context, id string) (*model.Memory, error) {
	m, err := g.records.Peek(ctx, id)
	if err != nil {
		return nil, err
	}
	if !m.Active() {
		return nil, model.NotFoundf("active memory %s", id)
	}
	return m, nil
}

func (g *Graph) score(ctx context.Context, a, b string) (reasoner.LinkScore, error) {
	if g.reasoner == nil {
		return reasoner.LinkScore{}, model.External("score link", errors.New("no reasoner configured"))
	}
	s, err := g.reasoner.ScoreLink(ctx, a, b)
	if err != nil {
		return reasoner.LinkScore{}, model.External("score link", err)
	}
	return s, nil
}

// Outgoing returns active links leaving id, strongest first.
func (g *Graph) Outgoing(ctx context.Context, id string) ([]model.MemoryLink, error) {
	return g.store.Outgoing(ctx, id)
}

// Incoming returns active links arriving at id, strongest first.
func (g *Graph) Incoming(ctx context.Context, id string) ([]model.MemoryLink, error) {
	return g.store.Incoming(ctx, id)
}

// Suggestion is a scored but unsaved link candidate.
type Suggestion struct {
	TargetID string  `json:"target_id"`
	Strength float64 `json:"strength"`
	Reason   string  `json:"reason"`
}

// SuggestLinks scores id against each active candidate and returns those at or
// above MinSuggestStrength, strongest first. Nothing is persisted.
func (g *Graph) SuggestLinks(ctx context.Context, id string, candidates []string) ([]Suggestion, error) {
	src, err := g.records.Peek(ctx, id)
	if err != nil {
		return nil, err
	}

	var pool []*model.Memory
	seen := map[string]bool{id: true}
	for _, cid := range candidates {
		if seen[cid] {
			continue
		}
		seen[cid] = true
		m, err := g.records.Peek(ctx, cid)
		if errors.Is(err, model.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if m.Active() {
			pool = append(pool, m)
		}
	}

	scores := make([]reasoner.LinkScore, len(pool))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(4)
	for i, m := range pool {
		eg.Go(func() error {
			s, err := g.score(egCtx, src.Content, m.Content)
			scores[i] = s
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	var out []Suggestion
	for i, m := range pool {
		s := model.Clamp01(scores[i].Strength)
		if s < MinSuggestStrength {
			continue
		}
		out = append(out, Suggestion{TargetID: m.ID, Strength: s, Reason: strings.TrimSpace(scores[i].Reason)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Strength != out[j].Strength {
			return out[i].Strength > out[j].Strength
		}
		return out[i].TargetID < out[j].TargetID
	})
	return out, nil
}
