package optimization

import (
	"fmt"
	"math"

	"github.com/aristath/quantlab/pkg/formulas"
)

// Linkage selects how distances between clusters are measured.
type Linkage string

const (
	LinkageSingle   Linkage = "single"
	LinkageComplete Linkage = "complete"
	LinkageAverage  Linkage = "average"
)

// HRPOptimizer performs Hierarchical Risk Parity allocation.
type HRPOptimizer struct{}

// NewHRPOptimizer creates a new HRP optimizer.
func NewHRPOptimizer() *HRPOptimizer {
	return &HRPOptimizer{}
}

type cluster struct {
	left    *cluster
	right   *cluster
	leaves  []int
	minLeaf int
}

func (c *cluster) isLeaf() bool {
	return c.left == nil && c.right == nil
}

// Optimize allocates by:
// 1) correlation distance d_ij = sqrt(2·(1 - ρ_ij))
// 2) agglomerative clustering with deterministic tie-break
// 3) quasi-diagonal leaf order from the dendrogram
// 4) recursive bisection weighted by inverse cluster variance
func (hrp *HRPOptimizer) Optimize(cov [][]float64, linkage Linkage) ([]float64, error) {
	n := len(cov)
	if n == 0 {
		return nil, fmt.Errorf("empty covariance matrix")
	}
	if n == 1 {
		return []float64{1}, nil
	}
	for i := range cov {
		if len(cov[i]) != n {
			return nil, fmt.Errorf("covariance matrix is not square")
		}
	}

	corr, err := formulas.CorrelationMatrixFromCovariance(cov)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate correlation matrix from covariance: %w", err)
	}
	dist := formulas.CorrelationToDistance(corr)

	if linkage == "" {
		linkage = LinkageSingle
	}

	order := leafOrder(buildDendrogram(dist, linkage))
	if len(order) != n {
		return nil, fmt.Errorf("invalid HRP order length %d", len(order))
	}

	weights := make([]float64, n)
	for i := range weights {
		weights[i] = 1
	}
	bisect(weights, cov, order)

	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return nil, fmt.Errorf("invalid HRP weight sum: %v", sum)
	}
	for i := range weights {
		weights[i] /= sum
	}
	return weights, nil
}

func buildDendrogram(dist [][]float64, linkage Linkage) *cluster {
	clusters := make([]*cluster, len(dist))
	for i := range dist {
		clusters[i] = &cluster{leaves: []int{i}, minLeaf: i}
	}

	for len(clusters) > 1 {
		bestI, bestJ := 0, 1
		bestD := clusterDistance(dist, clusters[0], clusters[1], linkage)
		for i := 0; i < len(clusters); i++ {
			for j := i + 1; j < len(clusters); j++ {
				d := clusterDistance(dist, clusters[i], clusters[j], linkage)
				if d < bestD || (d == bestD && pairLess(clusters[i], clusters[j], clusters[bestI], clusters[bestJ])) {
					bestD, bestI, bestJ = d, i, j
				}
			}
		}

		left, right := clusters[bestI], clusters[bestJ]
		if right.minLeaf < left.minLeaf {
			left, right = right, left
		}
		merged := &cluster{
			left:    left,
			right:   right,
			leaves:  append(append([]int{}, left.leaves...), right.leaves...),
			minLeaf: left.minLeaf,
		}

		next := make([]*cluster, 0, len(clusters)-1)
		for k, c := range clusters {
			if k != bestI && k != bestJ {
				next = append(next, c)
			}
		}
		clusters = append(next, merged)
	}
	return clusters[0]
}

// pairLess orders candidate merges by their sorted (minLeaf, minLeaf) pair.
func pairLess(a1, b1, a2, b2 *cluster) bool {
	x1, y1 := a1.minLeaf, b1.minLeaf
	if y1 < x1 {
		x1, y1 = y1, x1
	}
	x2, y2 := a2.minLeaf, b2.minLeaf
	if y2 < x2 {
		x2, y2 = y2, x2
	}
	if x1 != x2 {
		return x1 < x2
	}
	return y1 < y2
}

func clusterDistance(dist [][]float64, a, b *cluster, linkage Linkage) float64 {
	switch linkage {
	case LinkageComplete:
		worst := 0.0
		for _, i := range a.leaves {
			for _, j := range b.leaves {
				worst = math.Max(worst, dist[i][j])
			}
		}
		return worst
	case LinkageAverage:
		var sum float64
		for _, i := range a.leaves {
			for _, j := range b.leaves {
				sum += dist[i][j]
			}
		}
		return sum / float64(len(a.leaves)*len(b.leaves))
	default:
		best := math.Inf(1)
		for _, i := range a.leaves {
			for _, j := range b.leaves {
				best = math.Min(best, dist[i][j])
			}
		}
		return best
	}
}

func leafOrder(node *cluster) []int {
	if node == nil {
		return nil
	}
	if node.isLeaf() {
		return []int{node.leaves[0]}
	}
	return append(leafOrder(node.left), leafOrder(node.right)...)
}

func bisect(weights []float64, cov [][]float64, order []int) {
	if len(order) <= 1 {
		return
	}
	split := len(order) / 2
	left, right := order[:split], order[split:]

	vLeft := clusterVariance(cov, left)
	vRight := clusterVariance(cov, right)

	alpha := 0.5
	if vLeft+vRight > 0 {
		alpha = clamp(1-vLeft/(vLeft+vRight), 0, 1)
	}
	for _, i := range left {
		weights[i] *= alpha
	}
	for _, i := range right {
		weights[i] *= 1 - alpha
	}

	bisect(weights, cov, left)
	bisect(weights, cov, right)
}

// clusterVariance is the variance of the inverse-variance portfolio of idxs.
func clusterVariance(cov [][]float64, idxs []int) float64 {
	if len(idxs) == 1 {
		return math.Max(cov[idxs[0]][idxs[0]], 0)
	}

	variances := make([]float64, len(idxs))
	for k, i := range idxs {
		variances[k] = math.Max(cov[i][i], 1e-12)
	}
	ivp := formulas.InverseVarianceWeights(variances)

	sub := make([][]float64, len(idxs))
	for a, i := range idxs {
		sub[a] = make([]float64, len(idxs))
		for b, j := range idxs {
			sub[a][b] = cov[i][j]
		}
	}
	return math.Max(quadForm(ivp, sub), 0)
}
