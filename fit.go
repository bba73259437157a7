package ipfit

import (
	"fmt"
	"math"

	"github.com/gomlx/ipfit/types/dense"
	"golang.org/x/exp/constraints"
)

// Defaults for the engine parameters, see the With* options.
const (
	DefaultMaxIter = 1000
	DefaultTol     = 1e-10
)

type config struct {
	maxIter          int
	tol              float64
	forceConsistency bool
}

// Option customizes a Fit/Run invocation.
type Option func(*config)

func newConfig(opts ...Option) config {
	cfg := config{
		maxIter: DefaultMaxIter,
		tol:     DefaultTol,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithMaxIter bounds the number of iterations. 0 returns the
// initialization factors untouched. It panics on a negative value, a
// programmer error.
func WithMaxIter(maxIter int) Option {
	if maxIter < 0 {
		panic(fmt.Sprintf("ipfit: WithMaxIter(%d), it must not be negative", maxIter))
	}
	return func(cfg *config) {
		cfg.maxIter = maxIter
	}
}

// WithTol sets the convergence tolerance: iteration stops once the largest
// absolute factor change falls below it. It is clamped from below to the
// machine epsilon of the computation precision, so 0 means "run to
// MaxIter". It panics on a negative or NaN value.
func WithTol(tol float64) Option {
	if tol < 0 || math.IsNaN(tol) {
		panic(fmt.Sprintf("ipfit: WithTol(%g), it must be a non-negative number", tol))
	}
	return func(cfg *config) {
		cfg.tol = tol
	}
}

// WithForceConsistency makes the engine average margins that disagree on
// shared dimension subsets instead of failing, see Run.
func WithForceConsistency(force bool) Option {
	return func(cfg *config) {
		cfg.forceConsistency = force
	}
}

// Fit computes the array factors that adjust the seed so its margins match
// the targets. It is Run without the report.
//
// A nil seed means an all-ones array of the shape inferred from the
// margins.
func Fit[F constraints.Float](seed *dense.Tensor[F], margins *ArrayMargins[F], opts ...Option) (*ArrayFactors[F], error) {
	factors, _, err := Run(seed, margins, opts...)
	return factors, err
}

// FitVectors fits the seed to a flat list of 1-D targets, one per axis in
// order. A nil seed means an all-ones array.
func FitVectors[F constraints.Float](seed *dense.Tensor[F], vectors [][]F, opts ...Option) (*ArrayFactors[F], error) {
	margins, err := MarginsFromVectors(vectors)
	if err != nil {
		return nil, err
	}
	return Fit(seed, margins, opts...)
}

// FitMargins fits an all-ones seed of the inferred shape to the targets.
func FitMargins[F constraints.Float](margins *ArrayMargins[F], opts ...Option) (*ArrayFactors[F], error) {
	return Fit[F](nil, margins, opts...)
}
