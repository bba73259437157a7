package ipfit

import (
	"errors"
	"math"
	"testing"

	"github.com/gomlx/ipfit/types/dense"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// seed44 is the classic two-way contingency table used across the engine
// tests.
func seed44(t *testing.T) *dense.Tensor[float64] {
	t.Helper()
	x, err := dense.FromAnyValue[float64]([][]int{
		{40, 30, 20, 10},
		{35, 50, 100, 75},
		{30, 80, 70, 120},
		{20, 30, 40, 50},
	})
	require.NoError(t, err)
	return x
}

func TestFitTwoAxis(t *testing.T) {
	x := seed44(t)
	u := []float64{150, 300, 400, 150}
	v := []float64{200, 300, 400, 100}

	factors, report, err := Run(x, must(MarginsFromVectors([][]float64{u, v})))
	require.NoError(t, err)
	assert.True(t, report.Converged, "crit=%g after %d iterations", report.Crit, report.Iterations)
	assert.False(t, report.ProportionsApplied)

	z := x.Clone()
	require.NoError(t, factors.ApplyInPlace(z))

	// Cross-check the marginals with gonum.
	zm := mat.NewDense(4, 4, z.Data())
	for i := range 4 {
		assert.InDelta(t, u[i], floats.Sum(mat.Row(nil, i, zm)), 1e-6, "row %d", i)
		assert.InDelta(t, v[i], floats.Sum(mat.Col(nil, i, zm)), 1e-6, "column %d", i)
	}

	// Reference value from the literature for this table.
	assert.InDelta(t, 64.5585, z.At(0, 0), 1e-3)

	// Rank-1 factor form: Z/X equals the materialized factors exactly.
	materialized := must(factors.Materialize())
	for ii, zv := range z.Data() {
		assert.InDelta(t, materialized.Data()[ii], zv/x.Data()[ii], 1e-12)
	}
}

func TestFitThreeAxis(t *testing.T) {
	data := make([]float64, 12)
	floats.Span(data, 1, 12)
	x := must(dense.FromFlat(data, 2, 3, 2))
	targets := [][]float64{{48, 60}, {28, 36, 44}, {34, 74}}

	factors, err := FitVectors(x, targets)
	require.NoError(t, err)

	z := x.Clone()
	require.NoError(t, factors.ApplyInPlace(z))
	zm := must(MarginsOf(z, factors.DimIndices()))
	for jj, target := range targets {
		assert.InDeltaSlice(t, target, zm.Margin(jj).Data(), 1e-6, "margin %d", jj)
	}
}

func TestFitInconsistentTotalsNormalizesToProportions(t *testing.T) {
	x := seed44(t)
	w := []float64{15, 30, 40, 15}    // totals 100 ...
	v := []float64{200, 300, 400, 100} // ... vs 1000

	factors, report, err := Run(x, must(MarginsFromVectors([][]float64{w, v})))
	require.NoError(t, err)
	assert.True(t, report.ProportionsApplied)
	assert.True(t, report.Converged)

	z := x.Clone()
	require.NoError(t, factors.ApplyInPlace(z))
	z.Scale(1 / z.Sum())

	zm := must(MarginsOf(z, factors.DimIndices()))
	for i := range 4 {
		assert.InDelta(t, w[i]/100, zm.Margin(0).At(i), 1e-8, "row proportion %d", i)
		assert.InDelta(t, v[i]/1000, zm.Margin(1).At(i), 1e-8, "column proportion %d", i)
	}
}

func TestFitOverlappingMargins(t *testing.T) {
	di := must(NewDimIndices([]int{1, 3}, []int{2, 3}))

	// Derive overlapping targets from a positive reference array, so their
	// shared axis-3 reductions are consistent by construction.
	reference := dense.New[float64](2, 3, 4)
	for ii := range reference.Data() {
		reference.Data()[ii] = float64(ii%7) + 1
	}
	targets := must(MarginsOf(reference, di))

	x := dense.Ones[float64](2, 3, 4)
	factors, err := Fit(x, targets)
	require.NoError(t, err)

	z := x.Clone()
	require.NoError(t, factors.ApplyInPlace(z))
	zm := must(MarginsOf(z, di))
	assert.True(t, zm.EqualApprox(targets, 1e-6),
		"fitted margins %s do not match targets %s", zm, targets)
}

func TestFitUnorderedIndices(t *testing.T) {
	di := must(NewDimIndices([]int{1}, []int{3, 2}))
	x := must(dense.FromFlat([]float64{3, 1, 4, 1, 5, 9, 2, 6, 5, 3, 5, 8}, 2, 3, 2))

	reference := dense.New[float64](2, 3, 2)
	for ii := range reference.Data() {
		reference.Data()[ii] = float64(ii) + 1
	}
	targets := must(MarginsOf(reference, di))
	require.NoError(t, targets.Margin(1).Shape().CheckDims(2, 3), "declared shape is (n3, n2)")

	factors, err := Fit(x, targets)
	require.NoError(t, err)

	// The returned factor reflects the declared (n3, n2) axis order.
	require.NoError(t, factors.Factor(1).Shape().CheckDims(2, 3))

	z := x.Clone()
	require.NoError(t, factors.ApplyInPlace(z))
	zm := must(MarginsOf(z, di))
	assert.True(t, zm.EqualApprox(targets, 1e-6))
}

func TestFitDegenerateSeed(t *testing.T) {
	// Row 0 of the seed is all zeros, but its row target is non-zero.
	x := must(dense.FromFlat([]float64{0, 0, 3, 5}, 2, 2))
	_, err := FitVectors(x, [][]float64{{1, 7}, {4, 4}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDegenerateSeed), "got %v", err)

	// A zero marginal with a zero target is fine: 0/0 contributes nothing.
	_, err = FitVectors(x, [][]float64{{0, 8}, {4, 4}})
	require.NoError(t, err)
}

func TestFitInconsistentOverlapFailsUnlessForced(t *testing.T) {
	di := must(NewDimIndices([]int{1, 2}, []int{2, 3}))
	a := must(dense.FromFlat([]float64{2, 4, 6, 4, 8, 12}, 2, 3))
	b := must(dense.FromFlat([]float64{3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3}, 3, 4))
	margins := must(NewArrayMargins([]*dense.Tensor[float64]{a, b}, di))
	x := dense.Ones[float64](2, 3, 4)

	_, err := Fit(x, margins)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInconsistentOverlap), "got %v", err)

	factors, report, err := Run(x, margins, WithForceConsistency(true))
	require.NoError(t, err)
	assert.True(t, report.OverlapAveraged)

	// The fitted margins match the averaged targets.
	averaged := must(margins.MakeOverlapConsistent())
	z := x.Clone()
	require.NoError(t, factors.ApplyInPlace(z))
	zm := must(MarginsOf(z, di))
	assert.True(t, zm.EqualApprox(averaged, 1e-6))
}

func TestFitMaxIterZeroReturnsInitialization(t *testing.T) {
	x := must(dense.FromFlat([]float64{1, 1, 1, 1}, 2, 2))
	margins := must(MarginsFromVectors([][]float64{{2, 2}, {1, 3}}))

	factors, report, err := Run(x, margins, WithMaxIter(0))
	require.NoError(t, err)
	assert.Equal(t, 0, report.Iterations)
	assert.False(t, report.Converged)
	assert.True(t, math.IsNaN(report.Crit))

	// Initialization factors are target/seed-margin, untouched by any
	// iteration.
	assert.InDeltaSlice(t, []float64{1, 1}, factors.Factor(0).Data(), 1e-12)
	assert.InDeltaSlice(t, []float64{0.5, 1.5}, factors.Factor(1).Data(), 1e-12)
}

func TestFitTolZeroRunsToMaxIter(t *testing.T) {
	x := seed44(t)
	margins := must(MarginsFromVectors([][]float64{
		{150, 300, 400, 150}, {200, 300, 400, 100},
	}))
	factors, report, err := Run(x, margins, WithTol(0), WithMaxIter(3))
	require.NoError(t, err)
	require.NotNil(t, factors)
	assert.Equal(t, 3, report.Iterations)
	assert.False(t, report.Converged)

	// The non-converged factors are still valid and nearly fit.
	z := x.Clone()
	require.NoError(t, factors.ApplyInPlace(z))
	assert.InDelta(t, 1000, z.Sum(), 1)
}

func TestFitIdempotent(t *testing.T) {
	// Fitting an array to its own margins converges immediately with
	// all-ones factors.
	x := seed44(t)
	di := must(NewDimIndices([]int{1}, []int{2}))
	margins := must(MarginsOf(x, di))

	factors, report, err := Run(x, margins)
	require.NoError(t, err)
	assert.True(t, report.Converged)
	assert.LessOrEqual(t, report.Iterations, 2)
	for jj := range factors.Count() {
		assert.InDeltaSlice(t, []float64{1, 1, 1, 1}, factors.Factor(jj).Data(), 1e-12)
	}
}

func TestFitProportionInvariance(t *testing.T) {
	x := seed44(t)
	u := []float64{150, 300, 400, 150}
	v := []float64{200, 300, 400, 100}
	scaled := func(vector []float64, c float64) []float64 {
		out := make([]float64, len(vector))
		for ii, value := range vector {
			out[ii] = value * c
		}
		return out
	}

	base, err := FitVectors(x, [][]float64{u, v})
	require.NoError(t, err)
	times3, err := FitVectors(x, [][]float64{scaled(u, 3), scaled(v, 3)})
	require.NoError(t, err)

	zBase := x.Clone()
	require.NoError(t, base.ApplyInPlace(zBase))
	zBase.Scale(1 / zBase.Sum())
	z3 := x.Clone()
	require.NoError(t, times3.ApplyInPlace(z3))
	z3.Scale(1 / z3.Sum())
	diff, err := zBase.MaxAbsDiff(z3)
	require.NoError(t, err)
	assert.Less(t, diff, 1e-9, "normalized fits must not depend on the targets' scale")
}

func TestFitPermutationEquivariance(t *testing.T) {
	x := seed44(t)
	u := must(dense.FromFlat([]float64{150, 300, 400, 150}, 4))
	v := must(dense.FromFlat([]float64{200, 300, 400, 100}, 4))

	forward := must(NewArrayMargins([]*dense.Tensor[float64]{u, v},
		must(NewDimIndices([]int{1}, []int{2}))))
	reversed := must(NewArrayMargins([]*dense.Tensor[float64]{v, u},
		must(NewDimIndices([]int{2}, []int{1}))))

	factorsForward, err := Fit(x, forward)
	require.NoError(t, err)
	factorsReversed, err := Fit(x, reversed)
	require.NoError(t, err)

	mForward := must(factorsForward.Materialize())
	mReversed := must(factorsReversed.Materialize())
	diff, err := mForward.MaxAbsDiff(mReversed)
	require.NoError(t, err)
	assert.Less(t, diff, 1e-9)
}

func TestFitMarginsOnesSeed(t *testing.T) {
	margins := must(MarginsFromVectors([][]float64{{2, 2}, {1, 3}}))
	factors, err := FitMargins(margins)
	require.NoError(t, err)
	z := must(factors.Materialize())
	zm := must(MarginsOf(z, margins.DimIndices()))
	assert.True(t, zm.EqualApprox(margins, 1e-8))
}

func TestFitFloat32Precision(t *testing.T) {
	x := must(dense.FromAnyValue[float32]([][]int{
		{40, 30, 20, 10},
		{35, 50, 100, 75},
		{30, 80, 70, 120},
		{20, 30, 40, 50},
	}))
	// The default tolerance is below float32's epsilon; the engine clamps
	// it, but ask for a comfortably reachable one.
	factors, report, err := Run(x, must(MarginsFromVectors([][]float32{
		{150, 300, 400, 150}, {200, 300, 400, 100},
	})), WithTol(1e-4))
	require.NoError(t, err)
	assert.True(t, report.Converged)
	z := x.Clone()
	require.NoError(t, factors.ApplyInPlace(z))
	assert.InDelta(t, 64.5585, float64(z.At(0, 0)), 1e-2)
}

func TestFitShapeErrors(t *testing.T) {
	x := dense.Ones[float64](2, 3)
	margins := must(MarginsFromVectors([][]float64{{1, 1}, {1, 1}}))
	_, err := Fit(x, margins)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrShapeMismatch))

	_, err = Fit(dense.Ones[float64](2), margins)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrShapeMismatch))
}

func TestOptionsValidate(t *testing.T) {
	assert.Panics(t, func() { WithMaxIter(-1) })
	assert.Panics(t, func() { WithTol(-0.1) })
	assert.Panics(t, func() { WithTol(math.NaN()) })
	assert.NotPanics(t, func() { WithTol(0) })
}
