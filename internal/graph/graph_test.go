package graph

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/memgraph/internal/cache"
	"github.com/rcliao/memgraph/internal/model"
	"github.com/rcliao/memgraph/internal/reasoner"
	"github.com/rcliao/memgraph/internal/records"
	"github.com/rcliao/memgraph/internal/store"
	"github.com/rcliao/memgraph/internal/taxonomy"
)

// fixedScorer scores by the first word of the target text, e.g. "0.8 ...".
type fixedScorer struct {
	*reasoner.Local
	calls atomic.Int32
	err   error
}

func (f *fixedScorer) ScoreLink(_ context.Context, _, b string) (reasoner.LinkScore, error) {
	f.calls.Add(1)
	if f.err != nil {
		return reasoner.LinkScore{}, f.err
	}
	var s float64
	switch strings.Fields(b)[0] {
	case "high":
		s = 0.9
	case "mid":
		s = 0.6
	case "edge":
		s = 0.5
	default:
		s = 0.2
	}
	return reasoner.LinkScore{Strength: s, Reason: "scored " + b}, nil
}

type fixture struct {
	g      *Graph
	recs   *records.Service
	scorer *fixedScorer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	scorer := &fixedScorer{Local: reasoner.NewLocal()}
	recs := records.New(st, taxonomy.MustDefault(), reasoner.NewLocal(), cache.Nop{}, nil)
	return &fixture{g: New(recs, st, scorer, nil), recs: recs, scorer: scorer}
}

func (f *fixture) mem(t *testing.T, content string) *model.Memory {
	t.Helper()
	m, err := f.recs.CreateMemory(context.Background(), records.CreateParams{
		OwnerID: "u1", Content: content, Importance: 0.5,
		Categories: []model.CategoryRef{{Domain: model.DomainKnowledge, Name: "facts"}},
	})
	require.NoError(t, err)
	return m
}

func ptr[T any](v T) *T { return &v }

func TestCreateLinkRejectsSelfLink(t *testing.T) {
	f := newFixture(t)
	a := f.mem(t, "a")
	_, err := f.g.CreateLink(context.Background(), LinkParams{SourceID: a.ID, TargetID: a.ID, Type: model.LinkRelated})
	assert.True(t, errors.Is(err, model.ErrValidation))
}

func TestCreateLinkIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, b := f.mem(t, "a"), f.mem(t, "b")

	_, err := f.g.CreateLink(ctx, LinkParams{SourceID: a.ID, TargetID: b.ID, Type: model.LinkRelated, Strength: ptr(0.3), Reason: ptr("first")})
	require.NoError(t, err)
	l, err := f.g.CreateLink(ctx, LinkParams{SourceID: a.ID, TargetID: b.ID, Type: model.LinkRelated, Strength: ptr(0.9), Reason: ptr("second")})
	require.NoError(t, err)
	assert.Equal(t, 0.9, l.Strength)
	assert.Equal(t, DefaultCreator, l.CreatedBy)
	assert.Zero(t, f.scorer.calls.Load())

	out, err := f.g.Outgoing(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 0.9, out[0].Strength)
	assert.Equal(t, "second", out[0].Reason)
}

func TestCreateLinkScoresMissingValues(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, b := f.mem(t, "a"), f.mem(t, "high overlap")

	l, err := f.g.CreateLink(ctx, LinkParams{SourceID: a.ID, TargetID: b.ID, Type: model.LinkElaborates, Reason: ptr("mine"), CreatedBy: "admin"})
	require.NoError(t, err)
	assert.Equal(t, 0.9, l.Strength)
	assert.Equal(t, "mine", l.Reason)
	assert.Equal(t, "admin", l.CreatedBy)
	assert.EqualValues(t, 1, f.scorer.calls.Load())

	in, err := f.g.Incoming(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, in, 1)
}

func TestCreateLinkClampsStrength(t *testing.T) {
	f := newFixture(t)
	a, b := f.mem(t, "a"), f.mem(t, "b")
	l, err := f.g.CreateLink(context.Background(), LinkParams{SourceID: a.ID, TargetID: b.ID, Type: model.LinkCauses, Strength: ptr(1.7), Reason: ptr("")})
	require.NoError(t, err)
	assert.Equal(t, 1.0, l.Strength)
}

func TestCreateLinkErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, b := f.mem(t, "a"), f.mem(t, "b")

	_, err := f.g.CreateLink(ctx, LinkParams{SourceID: a.ID, TargetID: b.ID, Type: "likes"})
	assert.True(t, errors.Is(err, model.ErrValidation))

	_, err = f.g.CreateLink(ctx, LinkParams{SourceID: a.ID, TargetID: b.ID, Type: model.LinkRelated, Strength: ptr(math.NaN())})
	assert.True(t, errors.Is(err, model.ErrValidation))

	_, err = f.g.CreateLink(ctx, LinkParams{SourceID: a.ID, TargetID: "missing", Type: model.LinkRelated})
	assert.True(t, errors.Is(err, model.ErrNotFound))

	require.NoError(t, f.recs.ArchiveMemory(ctx, b.ID, "gone"))
	_, err = f.g.CreateLink(ctx, LinkParams{SourceID: a.ID, TargetID: b.ID, Type: model.LinkRelated, Strength: ptr(0.5), Reason: ptr("")})
	assert.True(t, errors.Is(err, model.ErrNotFound))

	c := f.mem(t, "c")
	f.scorer.err = errors.New("unreachable")
	_, err = f.g.CreateLink(ctx, LinkParams{SourceID: a.ID, TargetID: c.ID, Type: model.LinkRelated})
	assert.True(t, errors.Is(err, model.ErrExternalService))
}

func TestSuggestLinks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	src := f.mem(t, "source")
	high, mid, edge, low := f.mem(t, "high one"), f.mem(t, "mid one"), f.mem(t, "edge one"), f.mem(t, "low one")
	gone := f.mem(t, "high but archived")
	require.NoError(t, f.recs.ArchiveMemory(ctx, gone.ID, "gone"))

	got, err := f.g.SuggestLinks(ctx, src.ID, []string{low.ID, edge.ID, src.ID, mid.ID, high.ID, gone.ID, "missing", high.ID})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, high.ID, got[0].TargetID)
	assert.Equal(t, mid.ID, got[1].TargetID)
	assert.Equal(t, edge.ID, got[2].TargetID)
	assert.Equal(t, 0.5, got[2].Strength)
	assert.EqualValues(t, 4, f.scorer.calls.Load())

	out, err := f.g.Outgoing(ctx, src.ID)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestSuggestLinksUnreachableScorer(t *testing.T) {
	f := newFixture(t)
	src, other := f.mem(t, "source"), f.mem(t, "high")
	f.scorer.err = errors.New("timeout")
	g := New(f.recs, nil, reasoner.Guard(f.scorer, time.Second, nil), nil)

	_, err := g.SuggestLinks(context.Background(), src.ID, []string{other.ID})
	assert.True(t, errors.Is(err, model.ErrExternalService))
}
