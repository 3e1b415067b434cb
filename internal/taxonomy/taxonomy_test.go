package taxonomy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/memgraph/internal/model"
)

func TestDefaultCoversEveryDomain(t *testing.T) {
	tax, err := Default()
	require.NoError(t, err)

	for d := range model.ValidDomains {
		assert.NotEmpty(t, tax.ListByDomain(d), "domain %s has no categories", d)
	}
	assert.Len(t, tax.All(), 19)
}

func TestResolve(t *testing.T) {
	tax := MustDefault()

	c, err := tax.Resolve("knowledge/facts")
	require.NoError(t, err)
	assert.Equal(t, model.DomainKnowledge, c.Domain)
	assert.Equal(t, "facts", c.Name)
	assert.Equal(t, "knowledge/facts", c.FullPath)
	assert.True(t, c.Allows(0.5))

	_, err = tax.Resolve("knowledge/gossip")
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestValidate(t *testing.T) {
	tax := MustDefault()
	facts := model.CategoryRef{Domain: model.DomainKnowledge, Name: "facts"}
	identity := model.CategoryRef{Domain: model.DomainSelf, Name: "identity"}

	tests := []struct {
		name       string
		refs       []model.CategoryRef
		importance float64
		wantErr    bool
	}{
		{"in range", []model.CategoryRef{facts}, 0.5, false},
		{"empty", nil, 0.5, true},
		{"unknown", []model.CategoryRef{{Domain: model.DomainMeta, Name: "nope"}}, 0.5, true},
		{"outside only range", []model.CategoryRef{facts}, 0.9, true},
		{"inside one of two", []model.CategoryRef{facts, identity}, 0.9, false},
		{"range edge", []model.CategoryRef{facts}, 0.7, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tax.Validate(tt.refs, tt.importance)
			if tt.wantErr {
				assert.True(t, errors.Is(err, model.ErrValidation), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseRejectsBadDefinitions(t *testing.T) {
	_, err := Parse([]byte("cosmic:\n  - {name: stars, min: 0, max: 1}\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("self:\n  - {name: x, min: 0.9, max: 0.1}\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("self:\n  - {name: x, min: 0, max: 1}\n  - {name: x, min: 0, max: 1}\n"))
	assert.Error(t, err)
}
