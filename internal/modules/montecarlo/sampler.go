package montecarlo

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/aristath/quantlab/internal/domain"
	"gonum.org/v1/gonum/stat/distuv"
)

// BlockBootstrapSampler resamples contiguous blocks of a series so that
// volatility clustering and short-range autocorrelation survive.
type BlockBootstrapSampler struct {
	BlockLength int
}

// NewBlockBootstrapSampler creates a sampler drawing blocks of blockLength periods.
func NewBlockBootstrapSampler(blockLength int) (*BlockBootstrapSampler, error) {
	if blockLength < 1 {
		return nil, domain.ValidationErrors{{Field: "block_length", Message: fmt.Sprintf("must be at least 1, got %d", blockLength)}}
	}
	return &BlockBootstrapSampler{BlockLength: blockLength}, nil
}

// Sample draws blocks at offsets uniform in [0, n-blockLength] and
// concatenates them until length values are produced; the last block is
// truncated. A block length of n or more always starts at offset 0.
func (s *BlockBootstrapSampler) Sample(rng *rand.Rand, series []float64, length int) []float64 {
	out := s.SampleMatrix(rng, [][]float64{series}, length)
	if len(out) == 0 {
		return []float64{}
	}
	return out[0]
}

// SampleMatrix resamples a [asset][period] matrix using the same block
// offsets for every asset, which keeps cross-sectional correlation.
func (s *BlockBootstrapSampler) SampleMatrix(rng *rand.Rand, matrix [][]float64, length int) [][]float64 {
	n := periods(matrix)
	out := make([][]float64, len(matrix))
	for i := range out {
		out[i] = make([]float64, 0, max(length, 0))
	}
	if n == 0 || length <= 0 {
		return out
	}

	block := s.BlockLength
	if block > n {
		block = n
	}
	for produced := 0; produced < length; {
		offset := 0
		if block < n {
			offset = rng.IntN(n - block + 1)
		}
		take := min(block, length-produced)
		for i, row := range matrix {
			out[i] = append(out[i], row[offset:offset+take]...)
		}
		produced += take
	}
	return out
}

// ShuffleMatrix permutes the periods of a matrix, applying the same
// permutation to every asset.
func ShuffleMatrix(rng *rand.Rand, matrix [][]float64) [][]float64 {
	n := periods(matrix)
	perm := rng.Perm(n)
	out := make([][]float64, len(matrix))
	for i, row := range matrix {
		out[i] = make([]float64, n)
		for t, p := range perm {
			out[i][t] = row[p]
		}
	}
	return out
}

// ParameterPerturbation jitters numeric strategy parameters.
type ParameterPerturbation struct {
	Magnitude float64
}

// NewParameterPerturbation creates a perturbation with magnitude in [0, 1).
func NewParameterPerturbation(magnitude float64) (*ParameterPerturbation, error) {
	if magnitude < 0 || magnitude >= 1 || math.IsNaN(magnitude) {
		return nil, domain.ValidationErrors{{Field: "perturbation_magnitude", Message: fmt.Sprintf("must be in [0, 1), got %v", magnitude)}}
	}
	return &ParameterPerturbation{Magnitude: magnitude}, nil
}

// Perturb multiplies each numeric parameter by 1+U with U uniform in
// [-Magnitude, +Magnitude] and returns the new set with the U applied per
// parameter. Integer parameters stay integers (rounded); other kinds are
// copied untouched. Keys are visited in sorted order so a seeded rng gives
// reproducible draws.
func (p *ParameterPerturbation) Perturb(rng *rand.Rand, params domain.Params) (domain.Params, map[string]float64) {
	out := params.Clone()
	applied := make(map[string]float64)
	if p.Magnitude == 0 {
		return out, applied
	}

	uniform := distuv.Uniform{Min: -p.Magnitude, Max: p.Magnitude, Src: rngSource{rng}}
	for _, k := range params.Keys() {
		v, ok := domain.AsFloat(params[k])
		if !ok {
			continue
		}
		u := uniform.Rand()
		applied[k] = u
		scaled := v * (1 + u)

		switch params[k].(type) {
		case int:
			out[k] = int(math.Round(scaled))
		case int64:
			out[k] = int64(math.Round(scaled))
		case int32:
			out[k] = int32(math.Round(scaled))
		case float32:
			out[k] = float32(scaled)
		default:
			out[k] = scaled
		}
	}
	return out, applied
}

// rngSource lets gonum distributions draw from a trial's generator.
type rngSource struct {
	rng *rand.Rand
}

func (s rngSource) Uint64() uint64 { return s.rng.Uint64() }

func (s rngSource) Seed(uint64) {}

func periods(matrix [][]float64) int {
	if len(matrix) == 0 {
		return 0
	}
	n := len(matrix[0])
	for _, row := range matrix[1:] {
		n = min(n, len(row))
	}
	return n
}
