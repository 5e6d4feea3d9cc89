package formula

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sascha1337/wasmd-indexer/internal/apperr"
	"github.com/sascha1337/wasmd-indexer/internal/model"
)

func TestRegistryLookupUnknownFormula(t *testing.T) {
	r := NewRegistry()
	_, err := r.Lookup("does_not_exist")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrUnknownFormula)
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	r.Register("identity", func(ctx context.Context, env *Environment, args Args) (any, error) {
		return args["x"], nil
	})
	f, err := r.Lookup("identity")
	require.NoError(t, err)
	out, err := f(context.Background(), nil, Args{"x": "42"})
	require.NoError(t, err)
	assert.Equal(t, "42", out)
}

func TestDedupDepsPreservesFirstOccurrenceOrder(t *testing.T) {
	in := []model.Dependency{
		{Kind: model.DependencyPoint, Contract: "c1", KeyOrPfx: "a"},
		{Kind: model.DependencyPoint, Contract: "c1", KeyOrPfx: "b"},
		{Kind: model.DependencyPoint, Contract: "c1", KeyOrPfx: "a"},
	}
	out := dedupDeps(in)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].KeyOrPfx)
	assert.Equal(t, "b", out[1].KeyOrPfx)
}

func TestDedupDepsEmptyInput(t *testing.T) {
	assert.Nil(t, dedupDeps(nil))
}
