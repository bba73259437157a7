package ipfit

import (
	"math"

	"github.com/gomlx/ipfit/types/dense"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
	"k8s.io/klog/v2"
)

// Report describes what the engine did for one Run invocation.
type Report struct {
	// Iterations actually performed. 0 when MaxIter is 0 and the
	// initialization factors are returned as is.
	Iterations int

	// Crit is the largest absolute factor change of the last iteration,
	// NaN if no iteration ran.
	Crit float64

	// Converged reports whether Crit fell below the tolerance.
	Converged bool

	// ProportionsApplied reports that the margin totals disagreed, so the
	// seed and the targets were normalized to proportions.
	ProportionsApplied bool

	// OverlapAveraged reports that the margins disagreed on shared
	// dimension subsets and were averaged into consistency (only with
	// WithForceConsistency).
	OverlapAveraged bool
}

// Run is the iterative proportional fitting engine: it computes the
// ArrayFactors that adjust the seed so its margins match the targets, and
// reports how the iteration went.
//
// A nil seed means an all-ones array of the shape inferred from the
// margins. The seed is never mutated. The element type F is the
// computation precision.
//
// Target handling before iterating:
//   - If the margins' totals disagree, the seed and the margins are
//     normalized to proportions (logged as info).
//   - If the margins then still disagree on a shared dimension subset, Run
//     fails with ErrInconsistentOverlap -- unless WithForceConsistency is
//     set, in which case the margins are averaged into consistency
//     (logged as a warning).
//
// Non-convergence within MaxIter iterations is not an error: the last
// factors are returned and a warning is logged, see Report.Converged.
func Run[F constraints.Float](seed *dense.Tensor[F], margins *ArrayMargins[F], opts ...Option) (*ArrayFactors[F], Report, error) {
	var report Report
	cfg := newConfig(opts...)
	tol := max(cfg.tol, machineEpsilon[F]())

	if seed == nil {
		seed = dense.Ones[F](margins.Size().Dimensions...)
	}
	if seed.Rank() != margins.DimIndices().Rank() {
		return nil, report, errors.Wrapf(ErrShapeMismatch, "seed of rank %d fitted to margins over dimension indices %s of rank %d",
			seed.Rank(), margins.DimIndices(), margins.DimIndices().Rank())
	}
	if !seed.Shape().Equal(margins.Size()) {
		return nil, report, errors.Wrapf(ErrShapeMismatch, "seed of shape %s fitted to margins of size %s",
			seed.Shape(), margins.Size())
	}

	x, mar := seed, margins
	if !mar.ScalarConsistent(tol) {
		klog.Infof("ipfit: margin totals differ, normalizing seed and targets to proportions")
		x = seed.Clone()
		x.Scale(1 / x.Sum())
		mar = mar.ToProportions()
		report.ProportionsApplied = true
	}
	if !mar.OverlapConsistent(tol) {
		if !cfg.forceConsistency {
			return nil, report, errors.Wrap(ErrInconsistentOverlap,
				"margins cannot all be matched; average them with WithForceConsistency(true) to proceed")
		}
		klog.Warningf("ipfit: margins disagree on shared dimension subsets, averaging them into consistency")
		var err error
		mar, err = mar.MakeOverlapConsistent()
		if err != nil {
			return nil, report, err
		}
		report.OverlapAveraged = true
	}

	targets, err := mar.Aligned()
	if err != nil {
		return nil, report, err
	}
	di := mar.DimIndices()
	numFactors := di.Count()
	complements := make([][]int, numFactors)
	for jj := range complements {
		axes := di.Complement(jj)
		complements[jj] = make([]int, len(axes))
		for ii, axis := range axes {
			complements[jj][ii] = axis - 1
		}
	}

	// Initialization: each factor is the aligned target over the seed's
	// own aligned margin.
	factors := make([]*dense.Tensor[F], numFactors)
	for jj := range factors {
		seedMargin, err := x.SumAxes(complements[jj], true)
		if err != nil {
			return nil, report, err
		}
		factors[jj], err = factorDivide(targets[jj], seedMargin)
		if err != nil {
			return nil, report, errors.WithMessagef(err, "initializing factor #%d", jj)
		}
	}

	report.Crit = math.NaN()
	previous := make([]*dense.Tensor[F], numFactors)
	for iter := 1; iter <= cfg.maxIter; iter++ {
		for jj := range factors {
			previous[jj] = factors[jj].Clone()
		}
		for jj := range factors {
			// Margin of the seed scaled by every other factor.
			scaled := x.Clone()
			for kk := range factors {
				if kk == jj {
					continue
				}
				if err = scaled.MulBroadcast(factors[kk]); err != nil {
					return nil, report, err
				}
			}
			margin, err := scaled.SumAxes(complements[jj], true)
			if err != nil {
				return nil, report, err
			}
			factors[jj], err = factorDivide(targets[jj], margin)
			if err != nil {
				return nil, report, errors.WithMessagef(err, "updating factor #%d on iteration %d", jj, iter)
			}
		}

		crit := 0.0
		for jj := range factors {
			diff, err := factors[jj].MaxAbsDiff(previous[jj])
			if err != nil {
				return nil, report, err
			}
			crit = max(crit, diff)
		}
		report.Iterations = iter
		report.Crit = crit
		if crit < tol {
			report.Converged = true
			break
		}
	}
	if cfg.maxIter > 0 {
		if report.Converged {
			klog.Infof("ipfit: converged in %d iterations (crit=%g)", report.Iterations, report.Crit)
		} else {
			klog.Warningf("ipfit: did not converge after %d iterations, crit=%g", report.Iterations, report.Crit)
		}
	}

	// Squeeze the aligned factors back to their declared shapes, restoring
	// the declared axis order for unsorted groups.
	declared := make([]*dense.Tensor[F], numFactors)
	for jj := range factors {
		declared[jj], err = unalign(factors[jj], di.groups[jj], mar.Size())
		if err != nil {
			return nil, report, err
		}
	}
	result, err := NewArrayFactors(declared, di)
	if err != nil {
		return nil, report, err
	}
	return result, report, nil
}

// factorDivide divides target by margin elementwise (same shapes), with
// the IPF zero rules: a 0/0 entry contributes nothing and becomes 0, a
// non-zero target over a zero margin has no factor and is
// ErrDegenerateSeed.
func factorDivide[F constraints.Float](target, margin *dense.Tensor[F]) (*dense.Tensor[F], error) {
	out := target.Clone()
	outData, marginData := out.Data(), margin.Data()
	for ii, t := range outData {
		m := marginData[ii]
		if m == 0 {
			if t == 0 {
				continue // 0/0 -> 0, the entry does not contribute.
			}
			return nil, errors.Wrapf(ErrDegenerateSeed, "target entry %g at flat position %d", float64(t), ii)
		}
		outData[ii] = t / m
	}
	return out, nil
}

// machineEpsilon returns the machine epsilon of the floating point type F:
// the smallest eps such that 1+eps != 1.
func machineEpsilon[F constraints.Float]() float64 {
	one := F(1)
	eps := F(1)
	for one+eps/2 != one {
		eps /= 2
	}
	return float64(eps)
}
