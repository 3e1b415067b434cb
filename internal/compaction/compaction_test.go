package compaction

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
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
	"github.com/rcliao/memgraph/internal/tokens"
)

var (
	facts = []model.CategoryRef{{Domain: model.DomainKnowledge, Name: "facts"}}
	words = tokens.CounterFunc(func(s string) int { return len(strings.Fields(s)) })
	t0    = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

// slowSummarizer blocks Summarize until release is closed.
type slowSummarizer struct {
	*reasoner.Local
	release chan struct{}
}

func (s *slowSummarizer) Summarize(ctx context.Context, texts []string) (string, error) {
	<-s.release
	return s.Local.Summarize(ctx, texts)
}

type failingSummarizer struct{ *reasoner.Local }

func (failingSummarizer) Summarize(context.Context, []string) (string, error) {
	return "", errors.New("model overloaded")
}

// verboseSummarizer returns a summary longer than anything that fits.
type verboseSummarizer struct{ *reasoner.Local }

func (verboseSummarizer) Summarize(context.Context, []string) (string, error) {
	return strings.Repeat("word ", 5000), nil
}

// failingCommit wraps a store whose commit always fails.
type failingCommit struct{ *store.SQLiteStore }

func (failingCommit) CommitCompaction(context.Context, string, *model.CompactionRecord) error {
	return errors.New("disk full")
}

type fixture struct {
	st   *store.SQLiteStore
	recs *records.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return &fixture{st: st, recs: records.New(st, taxonomy.MustDefault(), reasoner.NewLocal(), cache.Nop{}, nil)}
}

func (f *fixture) engine(r reasoner.Reasoner, st Store) *Engine {
	if st == nil {
		st = f.st
	}
	return New(f.recs, st, nil, r, words, 4000, nil)
}

// seed creates n records of size words each, one hour apart.
func (f *fixture) seed(t *testing.T, n, size int) []*model.Memory {
	t.Helper()
	var out []*model.Memory
	for i := 0; i < n; i++ {
		at := t0.Add(time.Duration(i) * time.Hour)
		f.st.SetClock(func() time.Time { return at })
		filler := strings.TrimSpace(strings.Repeat("filler ", size-2))
		m, err := f.recs.CreateMemory(context.Background(), records.CreateParams{
			OwnerID: "u1", Content: fmt.Sprintf("Fact %d. %s", i, filler),
			Categories: facts, Importance: 0.5,
			VAD: &model.VAD{Valence: float64(i) / 10}, Keywords: []string{fmt.Sprintf("k%d", i)}, Tags: []string{"t"},
		})
		require.NoError(t, err)
		out = append(out, m)
	}
	f.st.SetClock(time.Now)
	return out
}

func activeTokens(t *testing.T, f *fixture) int {
	t.Helper()
	active, err := f.recs.ListActive(context.Background(), "u1")
	require.NoError(t, err)
	total := 0
	for _, m := range active {
		total += words.Count(m.Content)
	}
	return total
}

func TestCompactionBudgetInvariant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seeded := f.seed(t, 10, 500)
	require.Equal(t, 5000, activeTokens(t, f))

	res, err := f.engine(reasoner.NewLocal(), nil).TriggerCompaction(ctx, "u1", Options{Budget: 4000})
	require.NoError(t, err)
	require.True(t, res.Compacted)
	assert.Equal(t, 5000, res.TokensBefore)
	assert.LessOrEqual(t, res.TokensAfter, 4000)
	assert.LessOrEqual(t, activeTokens(t, f), 4000)
	assert.Equal(t, activeTokens(t, f), res.TokensAfter)

	// The oldest records go first when nothing has been read.
	rec := res.Record
	require.NotNil(t, rec)
	assert.Equal(t, []string{seeded[0].ID, seeded[1].ID, seeded[2].ID}, rec.AbsorbedMemoryIDs)
	for _, id := range rec.AbsorbedMemoryIDs {
		m, err := f.st.GetMemory(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.StatusArchived, m.Status)
		assert.Equal(t, "compacted into "+rec.ResultingMemoryID, m.ArchiveReason)
	}

	succ, err := f.st.GetMemory(ctx, rec.ResultingMemoryID)
	require.NoError(t, err)
	assert.Equal(t, "Fact 0. Fact 1. Fact 2.", succ.Content)
	assert.Equal(t, "compaction", succ.Trigger)
	assert.Equal(t, []string{"k0", "k1", "k2"}, succ.Keywords)
	assert.Equal(t, []string{"t"}, succ.Tags)
	assert.InDelta(t, 0.1, succ.VAD.Valence, 1e-9)
	assert.Equal(t, 0.5, succ.Importance)
	assert.False(t, succ.EnrichmentPending)

	recs, err := f.st.ListCompactions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, rec.ID, recs[0].ID)
}

func TestCompactionKeepsFrequentlyReadRecords(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seeded := f.seed(t, 10, 500)
	for i := 0; i < 5; i++ {
		_, err := f.recs.GetMemory(ctx, seeded[0].ID)
		require.NoError(t, err)
	}

	res, err := f.engine(reasoner.NewLocal(), nil).TriggerCompaction(ctx, "u1", Options{Budget: 4000})
	require.NoError(t, err)
	require.True(t, res.Compacted)
	assert.NotContains(t, res.Record.AbsorbedMemoryIDs, seeded[0].ID)
}

func TestCompactionUnderBudgetIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, 3, 100)
	e := f.engine(reasoner.NewLocal(), nil)

	res, err := e.TriggerCompaction(ctx, "u1", Options{})
	require.NoError(t, err)
	assert.False(t, res.Compacted)
	assert.Equal(t, 300, res.TokensBefore)

	res, err = e.MaybeCompact(ctx, "u1", Options{})
	require.NoError(t, err)
	assert.False(t, res.Compacted)
	assert.Equal(t, "under budget", res.Reason)
}

func TestMaybeCompactTriggersOverBudget(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 4, 100)
	res, err := f.engine(reasoner.NewLocal(), nil).MaybeCompact(context.Background(), "u1", Options{Budget: 250})
	require.NoError(t, err)
	assert.True(t, res.Compacted)
	assert.LessOrEqual(t, activeTokens(t, f), 250)
}

func TestConcurrentTriggersShareOneRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, 10, 500)
	slow := &slowSummarizer{Local: reasoner.NewLocal(), release: make(chan struct{})}
	e := f.engine(slow, nil)

	var wg sync.WaitGroup
	results := make([]*Result, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = e.TriggerCompaction(ctx, "u1", Options{})
		}(i)
	}
	require.Eventually(t, func() bool { return e.Phase("u1") == PhaseSummarizing }, 5*time.Second, 5*time.Millisecond)
	// Give the second trigger time to join the in-flight run.
	time.Sleep(50 * time.Millisecond)
	close(slow.release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	recs, err := f.st.ListCompactions(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
	assert.Equal(t, PhaseIdle, e.Phase("u1"))
}

func TestSummarizeFailureArchivesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, 10, 500)
	e := f.engine(reasoner.Guard(failingSummarizer{reasoner.NewLocal()}, time.Second, nil), nil)

	_, err := e.TriggerCompaction(ctx, "u1", Options{})
	assert.True(t, errors.Is(err, model.ErrExternalService))

	active, err := f.recs.ListActive(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, active, 10)
	recs, _ := f.st.ListCompactions(ctx, "u1")
	assert.Empty(t, recs)
}

func TestOversizedSummaryAborts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, 10, 500)

	_, err := f.engine(verboseSummarizer{reasoner.NewLocal()}, nil).TriggerCompaction(ctx, "u1", Options{})
	assert.True(t, errors.Is(err, model.ErrExternalService))
	assert.Equal(t, 5000, activeTokens(t, f))
}

func TestCommitFailureLeavesOriginalsActive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, 10, 500)

	_, err := f.engine(reasoner.NewLocal(), failingCommit{f.st}).TriggerCompaction(ctx, "u1", Options{})
	require.Error(t, err)

	active, err := f.recs.ListActive(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, active, 10)
	assert.Equal(t, 5000, activeTokens(t, f))
}

func TestCompactionRepointsLinks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seeded := f.seed(t, 10, 500)
	keep := seeded[9]

	for _, l := range []model.MemoryLink{
		{SourceID: seeded[0].ID, TargetID: keep.ID, Type: model.LinkRelated, Strength: 0.3, Reason: "r0", CreatedBy: "system"},
		{SourceID: seeded[1].ID, TargetID: keep.ID, Type: model.LinkRelated, Strength: 0.8, Reason: "r1", CreatedBy: "system"},
		{SourceID: seeded[0].ID, TargetID: seeded[1].ID, Type: model.LinkCauses, Strength: 0.9, Reason: "inner", CreatedBy: "system"},
	} {
		_, err := f.st.UpsertLink(ctx, l)
		require.NoError(t, err)
	}

	res, err := f.engine(reasoner.NewLocal(), nil).TriggerCompaction(ctx, "u1", Options{})
	require.NoError(t, err)
	require.True(t, res.Compacted)

	out, err := f.st.Outgoing(ctx, res.Record.ResultingMemoryID)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, keep.ID, out[0].TargetID)
	assert.Equal(t, 0.8, out[0].Strength)
	assert.Equal(t, "r0; r1", out[0].Reason)

	in, err := f.st.Incoming(ctx, keep.ID)
	require.NoError(t, err)
	assert.Len(t, in, 1)
}

func TestRetention(t *testing.T) {
	now := t0.Add(10 * 24 * time.Hour)
	never := &model.Memory{Importance: 0.9, CreatedAt: t0}
	assert.Zero(t, Retention(never, now))

	read := &model.Memory{Importance: 0.5, AccessCount: 3, CreatedAt: t0, LastAccessedAt: &now}
	assert.InDelta(t, 0.5*1.3862943611, Retention(read, now), 1e-9)

	stale := &model.Memory{Importance: 0.5, AccessCount: 3, CreatedAt: t0}
	assert.Less(t, Retention(stale, now), Retention(read, now))
}
