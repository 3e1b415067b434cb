package reasoner

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/memgraph/internal/config"
	"github.com/rcliao/memgraph/internal/model"
)

// stubReasoner returns fixed values, or blocks until released.
type stubReasoner struct {
	attrs   Attributes
	score   LinkScore
	summary string
	rel     float64
	err     error
	block   chan struct{}
}

func (s *stubReasoner) wait() {
	if s.block != nil {
		<-s.block
	}
}

func (s *stubReasoner) ExtractAttributes(context.Context, string) (Attributes, error) {
	s.wait()
	return s.attrs, s.err
}

func (s *stubReasoner) ScoreLink(context.Context, string, string) (LinkScore, error) {
	s.wait()
	return s.score, s.err
}

func (s *stubReasoner) Summarize(context.Context, []string) (string, error) {
	s.wait()
	return s.summary, s.err
}

func (s *stubReasoner) SemanticRelevance(context.Context, string, string) (float64, error) {
	s.wait()
	return s.rel, s.err
}

func TestGuardClampsValues(t *testing.T) {
	g := Guard(&stubReasoner{
		attrs: Attributes{VAD: model.VAD{Valence: 3, Arousal: -2, Dominance: 0.5}, Keywords: []string{" Go ", "go"}},
		score: LinkScore{Strength: 1.7, Reason: "r"},
		rel:   -0.2,
	}, time.Second, nil)
	ctx := context.Background()

	a, err := g.ExtractAttributes(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, model.VAD{Valence: 1, Arousal: -1, Dominance: 0.5}, a.VAD)
	assert.Equal(t, []string{"go"}, a.Keywords)

	s, err := g.ScoreLink(ctx, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, 1.0, s.Strength)

	r, err := g.SemanticRelevance(ctx, "q", "t")
	require.NoError(t, err)
	assert.Equal(t, 0.0, r)
}

func TestGuardZeroesNaN(t *testing.T) {
	g := Guard(&stubReasoner{
		attrs: Attributes{VAD: model.VAD{Valence: math.NaN(), Arousal: 0.5}},
		score: LinkScore{Strength: math.NaN()},
		rel:   math.NaN(),
	}, time.Second, nil)
	ctx := context.Background()

	a, err := g.ExtractAttributes(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, model.VAD{Arousal: 0.5}, a.VAD)

	s, err := g.ScoreLink(ctx, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, 0.0, s.Strength)

	r, err := g.SemanticRelevance(ctx, "q", "t")
	require.NoError(t, err)
	assert.Equal(t, 0.0, r)
}

func TestGuardMapsErrors(t *testing.T) {
	g := Guard(&stubReasoner{err: errors.New("boom")}, time.Second, nil)

	_, err := g.Summarize(context.Background(), []string{"a"})
	assert.True(t, errors.Is(err, model.ErrExternalService))
}

func TestGuardRejectsEmptySummary(t *testing.T) {
	g := Guard(&stubReasoner{summary: ""}, time.Second, nil)
	_, err := g.Summarize(context.Background(), []string{"a"})
	assert.True(t, errors.Is(err, model.ErrExternalService))
}

func TestGuardTimesOutBlockingBackend(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	g := Guard(&stubReasoner{block: release}, 30*time.Millisecond, nil)

	start := time.Now()
	_, err := g.ScoreLink(context.Background(), "a", "b")
	assert.True(t, errors.Is(err, model.ErrExternalService))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), time.Second)
}

func TestLocalExtractAttributes(t *testing.T) {
	l := NewLocal()
	a, err := l.ExtractAttributes(context.Background(), "I love hiking in the mountains! Mountains are great. #outdoors")
	require.NoError(t, err)

	assert.Greater(t, a.VAD.Valence, 0.0)
	assert.Greater(t, a.VAD.Arousal, 0.0)
	assert.Equal(t, "mountains", a.Keywords[0])
	assert.Equal(t, []string{"outdoors"}, a.Tags)
}

func TestLocalScoreLink(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	s, err := l.ScoreLink(ctx, "Alice works at the bakery downtown", "The bakery downtown sells bread")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, s.Strength, 0.5)
	assert.Contains(t, s.Reason, "bakery")

	s, err = l.ScoreLink(ctx, "quantum physics lecture", "chocolate cake recipe")
	require.NoError(t, err)
	assert.Equal(t, 0.0, s.Strength)
}

func TestLocalSummarize(t *testing.T) {
	out, err := NewLocal().Summarize(context.Background(), []string{
		"Bob likes tea. He drinks it daily.",
		"bob likes tea.",
		"Carol moved to Lisbon",
	})
	require.NoError(t, err)
	assert.Equal(t, "Bob likes tea. Carol moved to Lisbon", out)
}

func TestLocalSemanticRelevance(t *testing.T) {
	r, err := NewLocal().SemanticRelevance(context.Background(), "coffee preferences", "Prefers coffee black")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, r, 1e-9)
}

// fakeCompleter replays a canned reply.
type fakeCompleter struct{ reply string }

func (f fakeCompleter) Complete(context.Context, string, string) (string, error) {
	return f.reply, nil
}

func TestLLMParsesFencedJSON(t *testing.T) {
	l := NewLLM(fakeCompleter{reply: "```json\n{\"strength\":0.8,\"reason\":\"same topic\"}\n```"}, nil)
	s, err := l.ScoreLink(context.Background(), "a", "b")
	require.NoError(t, err)
	assert.Equal(t, 0.8, s.Strength)
	assert.Equal(t, "same topic", s.Reason)
}

func TestLLMRejectsProse(t *testing.T) {
	l := NewLLM(fakeCompleter{reply: "I cannot help with that"}, nil)
	_, err := l.ExtractAttributes(context.Background(), "a")
	assert.Error(t, err)
}

func TestLLMRelevanceFromNumber(t *testing.T) {
	l := NewLLM(fakeCompleter{reply: " 0.25\n"}, nil)
	r, err := l.SemanticRelevance(context.Background(), "q", "t")
	require.NoError(t, err)
	assert.Equal(t, 0.25, r)
}

func TestLLMRejectsNonFiniteRelevance(t *testing.T) {
	for _, reply := range []string{"NaN", "+Inf"} {
		l := NewLLM(fakeCompleter{reply: reply}, nil)
		_, err := l.SemanticRelevance(context.Background(), "q", "t")
		assert.Error(t, err, reply)
	}
}

func TestFromConfig(t *testing.T) {
	g, err := FromConfig(config.ReasonerConfig{Provider: "local"}, nil)
	require.NoError(t, err)
	assert.NotNil(t, g)

	_, err = FromConfig(config.ReasonerConfig{Provider: "anthropic"}, nil)
	assert.Error(t, err, "missing API key")

	_, err = FromConfig(config.ReasonerConfig{Provider: "nope"}, nil)
	assert.Error(t, err)
}
