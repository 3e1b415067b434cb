package cli

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/memgraph/internal/config"
	"github.com/rcliao/memgraph/internal/model"
	"github.com/rcliao/memgraph/internal/store"
)

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b ,"))
	assert.Equal(t, []string{}, splitList(""))
}

func TestParseCategories(t *testing.T) {
	refs, err := parseCategories("knowledge/facts, self/identity")
	require.NoError(t, err)
	assert.Equal(t, []model.CategoryRef{
		{Domain: model.DomainKnowledge, Name: "facts"},
		{Domain: model.DomainSelf, Name: "identity"},
	}, refs)

	_, err = parseCategories("facts")
	assert.True(t, errors.Is(err, model.ErrValidation))
}

func TestParseVAD(t *testing.T) {
	v, err := parseVAD("0.5,-0.2,1")
	require.NoError(t, err)
	assert.Equal(t, model.VAD{Valence: 0.5, Arousal: -0.2, Dominance: 1}, *v)

	_, err = parseVAD("0.5,0.1")
	assert.True(t, errors.Is(err, model.ErrValidation))
	_, err = parseVAD("a,b,c")
	assert.True(t, errors.Is(err, model.ErrValidation))
	_, err = parseVAD("NaN,0,0")
	assert.True(t, errors.Is(err, model.ErrValidation))
}

func TestParseRange(t *testing.T) {
	r, err := parseRange("")
	require.NoError(t, err)
	assert.Nil(t, r)

	r, err = parseRange("0.2:0.8")
	require.NoError(t, err)
	assert.Equal(t, &store.Range{Min: 0.2, Max: 0.8}, r)

	_, err = parseRange("0.2")
	assert.True(t, errors.Is(err, model.ErrValidation))
	_, err = parseRange("x:1")
	assert.True(t, errors.Is(err, model.ErrValidation))
	_, err = parseRange("NaN:1")
	assert.True(t, errors.Is(err, model.ErrValidation))
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "one", firstLine("one\ntwo"))
	long := firstLine(strings.Repeat("x", 100))
	assert.Len(t, long, 80)
	assert.True(t, strings.HasSuffix(long, "..."))
}

func TestCompactAfterPut(t *testing.T) {
	cfg := config.Default()
	assert.False(t, compactAfterPut(cfg, false), "local reasoner summarizes lossily")
	assert.True(t, compactAfterPut(cfg, true))

	cfg.Reasoner.Provider = "openai"
	assert.True(t, compactAfterPut(cfg, false))
}
