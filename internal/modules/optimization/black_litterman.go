package optimization

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// View is an investor view: Σ Pick[i]·μ[i] = Return, held with Confidence in (0, 1].
type View struct {
	Pick       []float64 `json:"pick"`
	Return     float64   `json:"return"`
	Confidence float64   `json:"confidence"`
}

// AbsoluteView states that asset i will return r.
func AbsoluteView(n, i int, r, confidence float64) View {
	pick := make([]float64, n)
	pick[i] = 1
	return View{Pick: pick, Return: r, Confidence: confidence}
}

// BlackLitterman blends market-implied equilibrium returns with views.
type BlackLitterman struct {
	RiskAversion float64
	Tau          float64
}

// NewBlackLitterman creates a model with the conventional δ = 2.5 and τ = 0.05.
func NewBlackLitterman(riskAversion, tau float64) *BlackLitterman {
	if riskAversion <= 0 {
		riskAversion = 2.5
	}
	if tau <= 0 {
		tau = 0.05
	}
	return &BlackLitterman{RiskAversion: riskAversion, Tau: tau}
}

// ImpliedReturns returns π = δ·Σ·w_mkt.
func (bl *BlackLitterman) ImpliedReturns(cov [][]float64, marketWeights []float64) []float64 {
	n := len(cov)
	pi := make([]float64, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			pi[i] += bl.RiskAversion * cov[i][j] * marketWeights[j]
		}
	}
	return pi
}

// PosteriorReturns computes
//
//	μ = [(τΣ)⁻¹ + P'Ω⁻¹P]⁻¹ · [(τΣ)⁻¹π + P'Ω⁻¹Q]
//
// with a diagonal Ω_k = (1/c_k - 1)·p_k'τΣp_k, so confidence 1 pins the view.
// Without views the posterior equals π.
func (bl *BlackLitterman) PosteriorReturns(cov [][]float64, marketWeights []float64, views []View) ([]float64, error) {
	n := len(cov)
	if n == 0 {
		return nil, fmt.Errorf("empty covariance matrix")
	}
	if len(marketWeights) != n {
		return nil, fmt.Errorf("market weights have %d entries for %d assets", len(marketWeights), n)
	}

	pi := bl.ImpliedReturns(cov, marketWeights)
	if len(views) == 0 {
		return pi, nil
	}

	tauSigma := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			tauSigma.Set(i, j, bl.Tau*cov[i][j])
		}
	}

	var tauSigmaInv mat.Dense
	if err := tauSigmaInv.Inverse(tauSigma); err != nil && !isConditionWarning(err) {
		return nil, fmt.Errorf("covariance matrix is singular: %w", err)
	}

	k := len(views)
	P := mat.NewDense(k, n, nil)
	Q := mat.NewVecDense(k, nil)
	omegaInv := mat.NewDiagDense(k, nil)
	for v, view := range views {
		if len(view.Pick) != n {
			return nil, fmt.Errorf("view %d picks %d assets, expected %d", v, len(view.Pick), n)
		}
		if view.Confidence <= 0 || view.Confidence > 1 {
			return nil, fmt.Errorf("view %d confidence %v outside (0, 1]", v, view.Confidence)
		}
		for i, p := range view.Pick {
			P.Set(v, i, p)
		}
		Q.SetVec(v, view.Return)

		pv := mat.NewVecDense(n, view.Pick)
		var tmp mat.VecDense
		tmp.MulVec(tauSigma, pv)
		variance := mat.Dot(pv, &tmp)
		omega := (1/view.Confidence - 1) * variance
		if omega < 1e-12 {
			omega = 1e-12
		}
		omegaInv.SetDiag(v, 1/omega)
	}

	// A = (τΣ)⁻¹ + P'Ω⁻¹P
	var ptOmegaInv, ptOmegaInvP, a mat.Dense
	ptOmegaInv.Mul(P.T(), omegaInv)
	ptOmegaInvP.Mul(&ptOmegaInv, P)
	a.Add(&tauSigmaInv, &ptOmegaInvP)

	// b = (τΣ)⁻¹π + P'Ω⁻¹Q
	var b1, b2, b mat.VecDense
	b1.MulVec(&tauSigmaInv, mat.NewVecDense(n, pi))
	b2.MulVec(&ptOmegaInv, Q)
	b.AddVec(&b1, &b2)

	var mu mat.VecDense
	if err := mu.SolveVec(&a, &b); err != nil && !isConditionWarning(err) {
		return nil, fmt.Errorf("failed to solve posterior returns: %w", err)
	}

	out := make([]float64, n)
	for i := range out {
		out[i] = mu.AtVec(i)
	}
	return out, nil
}

// isConditionWarning reports whether err only flags an ill-conditioned
// matrix; gonum still returns a usable result in that case.
func isConditionWarning(err error) bool {
	var cond mat.Condition
	return errors.As(err, &cond)
}
