// Package ipfit implements multidimensional iterative proportional fitting
// (IPF), also known as RAS, raking or matrix scaling.
//
// Given a non-negative seed array X and target marginal sums over (possibly
// overlapping) subsets of its axes, it computes multiplicative array
// factors whose outer product adjusts X into an array Z whose marginals
// match the targets.
//
// Among its features:
//
//   - Margins over arbitrary axis subsets, including overlapping ones, in
//     any declared axis order (see DimIndices).
//   - Consistency checking of the targets (scalar totals and reductions
//     onto shared axis subsets), with optional averaging to force
//     consistency.
//   - float32 or float64 computation, chosen with the type parameter;
//     integer and float16 inputs are widened on entry (see the dense
//     package).
//   - Written purely in Go, no C/C++ external dependencies.
//
// The usual entry point is Fit, or one of its convenience forms such as
// FitVectors for one 1-D target per axis:
//
//	x := must(dense.FromAnyValue[float64]([][]int{{40, 30, 20, 10}, {35, 50, 100, 75}, {30, 80, 70, 120}, {20, 30, 40, 50}}))
//	factors, err := ipfit.FitVectors(x, [][]float64{{150, 300, 400, 150}, {200, 300, 400, 100}})
//	...
//	z := x.Clone()
//	err = factors.ApplyInPlace(z) // z now has the target row and column sums.
//
// Fitted factors are returned as an ArrayFactors, which can be materialized
// into a full-rank array or applied in place to the seed.
package ipfit
