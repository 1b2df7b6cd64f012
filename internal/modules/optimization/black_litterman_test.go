package optimization

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlackLitterman_Defaults(t *testing.T) {
	bl := NewBlackLitterman(0, -1)
	assert.Equal(t, 2.5, bl.RiskAversion)
	assert.Equal(t, 0.05, bl.Tau)
}

func TestBlackLitterman_NoViewsReturnsImplied(t *testing.T) {
	cov := [][]float64{
		{0.04, 0.01},
		{0.01, 0.03},
	}
	mkt := []float64{0.6, 0.4}
	bl := NewBlackLitterman(2.5, 0.05)

	pi := bl.ImpliedReturns(cov, mkt)
	assert.InDelta(t, 2.5*(0.04*0.6+0.01*0.4), pi[0], 1e-12)
	assert.InDelta(t, 2.5*(0.01*0.6+0.03*0.4), pi[1], 1e-12)

	posterior, err := bl.PosteriorReturns(cov, mkt, nil)
	require.NoError(t, err)
	assert.Equal(t, pi, posterior)
}

func TestBlackLitterman_FullConfidencePinsView(t *testing.T) {
	cov := [][]float64{
		{0.04, 0},
		{0, 0.03},
	}
	mkt := []float64{0.5, 0.5}
	bl := NewBlackLitterman(2.5, 0.05)
	pi := bl.ImpliedReturns(cov, mkt)

	posterior, err := bl.PosteriorReturns(cov, mkt, []View{AbsoluteView(2, 0, 0.20, 1)})
	require.NoError(t, err)
	assert.InDelta(t, 0.20, posterior[0], 1e-6)
	// uncorrelated asset is unaffected by the view
	assert.InDelta(t, pi[1], posterior[1], 1e-9)
}

func TestBlackLitterman_PartialConfidenceBlends(t *testing.T) {
	cov := [][]float64{
		{0.04, 0.01},
		{0.01, 0.03},
	}
	mkt := []float64{0.5, 0.5}
	bl := NewBlackLitterman(2.5, 0.05)
	pi := bl.ImpliedReturns(cov, mkt)

	posterior, err := bl.PosteriorReturns(cov, mkt, []View{AbsoluteView(2, 0, 0.20, 0.5)})
	require.NoError(t, err)
	assert.Greater(t, posterior[0], pi[0])
	assert.Less(t, posterior[0], 0.20)
	// positive correlation pulls the other asset up too
	assert.Greater(t, posterior[1], pi[1])
}

func TestBlackLitterman_InvalidViews(t *testing.T) {
	cov := [][]float64{{0.04, 0}, {0, 0.03}}
	mkt := []float64{0.5, 0.5}
	bl := NewBlackLitterman(2.5, 0.05)

	_, err := bl.PosteriorReturns(cov, mkt, []View{{Pick: []float64{1}, Return: 0.1, Confidence: 0.5}})
	assert.Error(t, err)

	_, err = bl.PosteriorReturns(cov, mkt, []View{AbsoluteView(2, 0, 0.1, 0)})
	assert.Error(t, err)

	_, err = bl.PosteriorReturns(cov, []float64{1}, nil)
	assert.Error(t, err)

	_, err = bl.PosteriorReturns(nil, nil, nil)
	assert.Error(t, err)
}
