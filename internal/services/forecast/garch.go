package forecast

import (
	"fmt"
	"math"
)

// returnScale moves returns into percent units while fitting; the likelihood surface of
// raw hourly returns is too flat for the simplex.
const returnScale = 100.0

// persistenceCap bounds alpha+beta strictly below one so the process stays stationary.
const persistenceCap = 0.999

// GARCHParams are zero-mean GARCH(1,1) coefficients in raw return units:
// sigma2[t+1] = Omega + Alpha*r[t]^2 + Beta*sigma2[t].
type GARCHParams struct {
	Omega         float64 `json:"omega"`
	Alpha         float64 `json:"alpha"`
	Beta          float64 `json:"beta"`
	LogLikelihood float64 `json:"log_likelihood"`
}

// fitGARCH estimates parameters by Gaussian maximum likelihood.
func fitGARCH(returns []float64) (*GARCHParams, error) {
	if len(returns) < 2 {
		return nil, fmt.Errorf("garch fit: need at least 2 returns")
	}
	x := make([]float64, len(returns))
	var sumSq float64
	for i, r := range returns {
		if math.IsNaN(r) || math.IsInf(r, 0) {
			return nil, fmt.Errorf("garch fit: non-finite return at %d", i)
		}
		x[i] = r * returnScale
		sumSq += x[i] * x[i]
	}
	sampleVar := sumSq / float64(len(x))
	if sampleVar <= 0 {
		return nil, fmt.Errorf("garch fit: zero variance series")
	}

	nll := func(theta []float64) float64 {
		omega, alpha, beta := unpackGARCH(theta)
		return garchNegLogLik(x, omega, alpha, beta, sampleVar)
	}

	const alpha0, beta0 = 0.05, 0.90
	theta0 := packGARCH(sampleVar*(1-alpha0-beta0), alpha0, beta0)
	best, val := nelderMead(nll, theta0, 0.5, 4000, 1e-10)
	if math.IsInf(val, 1) {
		return nil, fmt.Errorf("garch fit: likelihood did not converge")
	}

	omega, alpha, beta := unpackGARCH(best)
	return &GARCHParams{
		Omega:         omega / (returnScale * returnScale),
		Alpha:         alpha,
		Beta:          beta,
		LogLikelihood: -val,
	}, nil
}

func garchNegLogLik(x []float64, omega, alpha, beta, backcast float64) float64 {
	const log2pi = 1.8378770664093453
	s2 := backcast
	total := 0.0
	for t, xt := range x {
		if t > 0 {
			s2 = omega + alpha*x[t-1]*x[t-1] + beta*s2
		}
		if s2 <= 0 || math.IsNaN(s2) {
			return math.Inf(1)
		}
		total += 0.5 * (log2pi + math.Log(s2) + xt*xt/s2)
	}
	return total
}

// packGARCH maps constrained parameters to the unconstrained search space.
func packGARCH(omega, alpha, beta float64) []float64 {
	d := 1 / (1 - (alpha+beta)/persistenceCap)
	a := alpha * d / persistenceCap
	b := beta * d / persistenceCap
	return []float64{math.Log(omega), math.Log(a), math.Log(b)}
}

func unpackGARCH(theta []float64) (omega, alpha, beta float64) {
	omega = math.Exp(theta[0])
	a, b := math.Exp(theta[1]), math.Exp(theta[2])
	d := 1 + a + b
	return omega, persistenceCap * a / d, persistenceCap * b / d
}

// UnconditionalVariance is omega / (1 - alpha - beta).
func (p *GARCHParams) UnconditionalVariance() float64 {
	return p.Omega / (1 - p.Alpha - p.Beta)
}

// NextVariance filters the conditional variance through returns, starting from the
// unconditional variance, and returns the one-step-ahead variance after the last return.
func (p *GARCHParams) NextVariance(returns []float64) (float64, error) {
	if len(returns) == 0 {
		return 0, fmt.Errorf("garch forecast: empty window")
	}
	if p.Alpha+p.Beta >= 1 || p.Omega <= 0 {
		return 0, fmt.Errorf("garch forecast: non-stationary parameters")
	}
	s2 := p.UnconditionalVariance()
	for _, r := range returns {
		s2 = p.Omega + p.Alpha*r*r + p.Beta*s2
	}
	return s2, nil
}
