package uq

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// FitRequest describes the requested model for one variable in a joint fit.
// NaN limits mean unbounded. Censor limits are detection limits: the raw
// sample excludes censored rows, and the caller reports how many were
// removed through FitDistributionToSample's censoredCount argument.
type FitRequest struct {
	Name          string
	Family        Family
	CensorLower   float64
	CensorUpper   float64
	TruncateLower float64
	TruncateUpper float64
}

// FitResult carries the fitted parameters of one marginal. Theta follows the
// family convention (normal: mean/std, lognormal: median/log-std). Empirical
// variables keep NaN parameters; their raw data is retained by the caller.
type FitResult struct {
	Name   string
	Family Family
	Theta  [2]float64
}

// FitDistributionToSample estimates marginal parameters and a copula-space
// correlation matrix from raw joint observations (one slice per variable,
// rows aligned across variables). Resampling from the fitted model
// approximately reproduces the observed marginals and dependence.
func FitDistributionToSample(samples [][]float64, reqs []FitRequest, censoredCount int) ([]FitResult, *mat.SymDense, error) {
	if len(samples) != len(reqs) {
		return nil, nil, fmt.Errorf("fit: %d sample columns but %d requests", len(samples), len(reqs))
	}
	if len(reqs) == 0 {
		return nil, nil, fmt.Errorf("fit: no variables requested")
	}
	if censoredCount < 0 {
		return nil, nil, fmt.Errorf("fit: censored count must be non-negative, got %d", censoredCount)
	}

	k := len(reqs)
	results := make([]FitResult, k)
	// Standard-normal images of the fitted marginals, used for the
	// correlation estimate. Empirical columns stay nil.
	zImages := make([][]float64, k)

	for i, req := range reqs {
		res, z, err := fitMarginal(samples[i], req, censoredCount)
		if err != nil {
			return nil, nil, fmt.Errorf("fit %s: %w", req.Name, err)
		}
		results[i] = res
		zImages[i] = z
	}

	corr := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		corr.SetSym(i, i, 1)
		for j := i + 1; j < k; j++ {
			if zImages[i] == nil || zImages[j] == nil {
				continue
			}
			rho := stat.Correlation(zImages[i], zImages[j], nil)
			if math.IsNaN(rho) {
				rho = 0
			}
			corr.SetSym(i, j, rho)
		}
	}
	return results, corr, nil
}

func fitMarginal(sample []float64, req FitRequest, censoredCount int) (FitResult, []float64, error) {
	if len(sample) < 2 {
		return FitResult{}, nil, fmt.Errorf("needs at least two observations, got %d", len(sample))
	}

	switch req.Family {
	case FamilyEmpirical, FamilyCoupledEmpirical:
		// No fitting: raw values are retained verbatim for resampling.
		return FitResult{Name: req.Name, Family: req.Family,
			Theta: [2]float64{math.NaN(), math.NaN()}}, nil, nil

	case FamilyNormal:
		theta, z, err := fitNormal(sample, req, censoredCount)
		if err != nil {
			return FitResult{}, nil, err
		}
		return FitResult{Name: req.Name, Family: FamilyNormal, Theta: theta}, z, nil

	case FamilyLognormal:
		logged := make([]float64, len(sample))
		for i, v := range sample {
			if v <= 0 {
				return FitResult{}, nil, fmt.Errorf("lognormal fit requires positive data, got %v", v)
			}
			logged[i] = math.Log(v)
		}
		logReq := req
		logReq.CensorLower = logLimit(req.CensorLower)
		logReq.CensorUpper = logLimit(req.CensorUpper)
		logReq.TruncateLower = logLimit(req.TruncateLower)
		logReq.TruncateUpper = logLimit(req.TruncateUpper)
		theta, z, err := fitNormal(logged, logReq, censoredCount)
		if err != nil {
			return FitResult{}, nil, err
		}
		return FitResult{Name: req.Name, Family: FamilyLognormal,
			Theta: [2]float64{math.Exp(theta[0]), theta[1]}}, z, nil
	}

	return FitResult{}, nil, fmt.Errorf("family %s cannot be fitted", req.Family)
}

func logLimit(v float64) float64 {
	if math.IsNaN(v) {
		return v
	}
	if v <= 0 {
		return math.NaN()
	}
	return math.Log(v)
}

// fitNormal runs a maximum-likelihood fit of a (possibly truncated,
// possibly censored) normal distribution and returns (mean, std) along with
// the standard-normal image of the data under the fitted model.
func fitNormal(sample []float64, req FitRequest, censoredCount int) ([2]float64, []float64, error) {
	if !math.IsNaN(req.TruncateLower) && !math.IsNaN(req.TruncateUpper) &&
		req.TruncateUpper <= req.TruncateLower {
		return [2]float64{}, nil, fmt.Errorf("truncation limits [%v, %v] are contradictory",
			req.TruncateLower, req.TruncateUpper)
	}
	for _, v := range sample {
		if (!math.IsNaN(req.TruncateLower) && v < req.TruncateLower) ||
			(!math.IsNaN(req.TruncateUpper) && v > req.TruncateUpper) {
			return [2]float64{}, nil, fmt.Errorf("observation %v lies outside truncation limits [%v, %v]",
				v, req.TruncateLower, req.TruncateUpper)
		}
	}

	mean, std := stat.MeanStdDev(sample, nil)
	if !(std > 0) {
		return [2]float64{}, nil, fmt.Errorf("sample has zero variance")
	}

	hasCensoring := censoredCount > 0 &&
		(!math.IsNaN(req.CensorLower) || !math.IsNaN(req.CensorUpper))
	hasTruncation := !math.IsNaN(req.TruncateLower) || !math.IsNaN(req.TruncateUpper)

	// The closed-form estimator is exact without censoring or truncation.
	if !hasCensoring && !hasTruncation {
		return [2]float64{mean, std}, normalImage(sample, mean, std, req), nil
	}

	negLL := func(x []float64) float64 {
		mu, sigma := x[0], math.Exp(x[1])
		d := distuv.Normal{Mu: mu, Sigma: sigma}

		lo, hi := 0.0, 1.0
		if !math.IsNaN(req.TruncateLower) {
			lo = d.CDF(req.TruncateLower)
		}
		if !math.IsNaN(req.TruncateUpper) {
			hi = d.CDF(req.TruncateUpper)
		}
		mass := hi - lo
		if !(mass > 0) {
			return math.Inf(1)
		}

		ll := 0.0
		for _, v := range sample {
			ll += d.LogProb(v)
		}
		ll -= float64(len(sample)) * math.Log(mass)

		if hasCensoring {
			// Probability of an observation escaping the detection range,
			// conditional on the truncated support.
			dLo, dHi := lo, hi
			if !math.IsNaN(req.CensorLower) {
				dLo = math.Max(dLo, d.CDF(req.CensorLower))
			}
			if !math.IsNaN(req.CensorUpper) {
				dHi = math.Min(dHi, d.CDF(req.CensorUpper))
			}
			pDetect := (dHi - dLo) / mass
			if pDetect <= 0 || pDetect >= 1 {
				return math.Inf(1)
			}
			ll += float64(censoredCount) * math.Log(1-pDetect)
		}
		return -ll
	}

	result, err := optimize.Minimize(
		optimize.Problem{Func: negLL},
		[]float64{mean, math.Log(std)},
		nil,
		&optimize.NelderMead{},
	)
	if err != nil {
		return [2]float64{}, nil, fmt.Errorf("maximum likelihood fit did not converge: %w", err)
	}
	if err := result.Status.Err(); err != nil {
		return [2]float64{}, nil, fmt.Errorf("maximum likelihood fit did not converge: %w", err)
	}
	mu, sigma := result.X[0], math.Exp(result.X[1])
	if math.IsNaN(mu) || !(sigma > 0) || math.IsInf(result.F, 0) {
		return [2]float64{}, nil, fmt.Errorf("maximum likelihood fit produced invalid parameters (mu=%v, sigma=%v)", mu, sigma)
	}
	return [2]float64{mu, sigma}, normalImage(sample, mu, sigma, req), nil
}

// normalImage maps observations through the fitted (truncated) CDF and back
// through the standard-normal quantile, giving the copula-space coordinates
// used for correlation estimation.
func normalImage(sample []float64, mu, sigma float64, req FitRequest) []float64 {
	d := distuv.Normal{Mu: mu, Sigma: sigma}
	lo, hi := 0.0, 1.0
	if !math.IsNaN(req.TruncateLower) {
		lo = d.CDF(req.TruncateLower)
	}
	if !math.IsNaN(req.TruncateUpper) {
		hi = d.CDF(req.TruncateUpper)
	}
	z := make([]float64, len(sample))
	for i, v := range sample {
		u := (d.CDF(v) - lo) / (hi - lo)
		z[i] = stdNormal.Quantile(clampProb(u))
	}
	return z
}
