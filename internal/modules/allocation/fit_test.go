package allocation

import (
	"context"
	"errors"
	"testing"

	"github.com/aristath/quantlab/internal/domain"
	testingpkg "github.com/aristath/quantlab/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStrategy_Fit(t *testing.T) {
	s, err := NewDefaultRegistry().Get(NameEqualWeight)
	require.NoError(t, err)

	weights, err := s.Fit(context.Background(), testingpkg.NewDefaultUniverseFixtures(60), nil)
	require.NoError(t, err)
	assert.Len(t, weights, 4)
	for symbol, w := range weights {
		assert.InDelta(t, 0.25, w, 1e-12, symbol)
	}
}

func TestStrategy_FitMergesParams(t *testing.T) {
	var got domain.Params
	s := Strategy{
		Name:       "recording",
		BaseParams: domain.Params{"a": 1.0, "b": 2.0},
		Func: func(_ context.Context, returns [][]float64, params domain.Params) (*domain.Allocation, error) {
			got = params
			return &domain.Allocation{Weights: domain.EqualWeights(len(returns))}, nil
		},
	}

	_, err := s.Fit(context.Background(), testingpkg.NewDefaultUniverseFixtures(30), domain.Params{"b": 3.0})
	require.NoError(t, err)
	assert.Equal(t, domain.Params{"a": 1.0, "b": 3.0}, got)
}

func TestStrategy_FitErrors(t *testing.T) {
	failing := Strategy{
		Name: "failing",
		Func: func(context.Context, [][]float64, domain.Params) (*domain.Allocation, error) {
			return nil, errors.New("singular")
		},
	}
	_, err := failing.Fit(context.Background(), testingpkg.NewDefaultUniverseFixtures(30), nil)
	assert.ErrorContains(t, err, "strategy failing")

	empty := Strategy{
		Name: "empty",
		Func: func(context.Context, [][]float64, domain.Params) (*domain.Allocation, error) {
			return nil, nil
		},
	}
	_, err = empty.Fit(context.Background(), testingpkg.NewDefaultUniverseFixtures(30), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidWeights)

	short := testingpkg.NewDefaultUniverseFixtures(1)
	s, err := NewDefaultRegistry().Get(NameEqualWeight)
	require.NoError(t, err)
	_, err = s.Fit(context.Background(), short, nil)
	assert.ErrorIs(t, err, domain.ErrInsufficientHistory)
}
