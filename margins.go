package ipfit

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/ipfit/internal/utils"
	"github.com/gomlx/ipfit/types/dense"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
	"k8s.io/klog/v2"
)

// ArrayMargins bundles the J target marginal-sum arrays with the
// DimIndices declaring which axes of the full array each one covers.
//
// The margins own their arrays: constructors deep-copy their inputs, and
// accessors return internal arrays that must be treated as read-only.
type ArrayMargins[F constraints.Float] struct {
	di     *DimIndices
	arrays []*dense.Tensor[F]

	// size is the derived full shape: size[d-1] is the extent every margin
	// covering axis d agrees on.
	size dense.Shape
}

// NewArrayMargins builds an ArrayMargins from the given arrays and
// dimension indices, validating that array #j has one axis per entry of
// the j-th group and that all arrays agree on the extent of every axis
// they share. Violations are ErrShapeMismatch.
func NewArrayMargins[F constraints.Float](arrays []*dense.Tensor[F], di *DimIndices) (*ArrayMargins[F], error) {
	if len(arrays) != di.Count() {
		return nil, errors.Wrapf(ErrShapeMismatch, "%d margin arrays given for %d dimension groups %s",
			len(arrays), di.Count(), di)
	}
	m := &ArrayMargins[F]{
		di:     di.Clone(),
		arrays: make([]*dense.Tensor[F], len(arrays)),
	}
	sizes := make([]int, di.Rank())
	for jj, array := range arrays {
		group := di.groups[jj]
		if array.Rank() != len(group) {
			return nil, errors.Wrapf(ErrShapeMismatch, "margin #%d has shape %s, but its dimension group %v needs rank %d",
				jj, array.Shape(), group, len(group))
		}
		for position, axis := range group {
			extent := array.Shape().Dimensions[position]
			if sizes[axis-1] == 0 {
				sizes[axis-1] = extent
			} else if sizes[axis-1] != extent {
				return nil, errors.Wrapf(ErrShapeMismatch, "margin #%d reports extent %d for axis %d, another margin reported %d",
					jj, extent, axis, sizes[axis-1])
			}
		}
		m.arrays[jj] = array.Clone()
	}
	m.size = dense.MakeShape(sizes...)
	return m, nil
}

// NewArrayMarginsDefault builds an ArrayMargins with the default dimension
// indices: non-overlapping axes assigned in traversal order, each margin
// contributing its rank in consecutive axes.
func NewArrayMarginsDefault[F constraints.Float](arrays []*dense.Tensor[F]) (*ArrayMargins[F], error) {
	ranks := make([]int, len(arrays))
	for jj, array := range arrays {
		ranks[jj] = array.Rank()
	}
	di, err := DefaultDimIndices(ranks...)
	if err != nil {
		return nil, err
	}
	return NewArrayMargins(arrays, di)
}

// MarginsFromVectors builds an ArrayMargins from a flat list of 1-D
// targets, one per axis in order.
func MarginsFromVectors[F constraints.Float](vectors [][]F) (*ArrayMargins[F], error) {
	arrays := make([]*dense.Tensor[F], len(vectors))
	for jj, vector := range vectors {
		var err error
		arrays[jj], err = dense.FromFlat(vector, len(vector))
		if err != nil {
			return nil, errors.WithMessagef(err, "margin vector #%d", jj)
		}
	}
	return NewArrayMarginsDefault(arrays)
}

// MarginsOf computes the margins of the given full array for each group of
// di: the sum of x over the group's complement axes, with axes permuted to
// the group's declared order when it is not ascending.
func MarginsOf[F constraints.Float](x *dense.Tensor[F], di *DimIndices) (*ArrayMargins[F], error) {
	if x.Rank() != di.Rank() {
		return nil, errors.Wrapf(ErrShapeMismatch, "array of rank %d margined with dimension indices %s of rank %d",
			x.Rank(), di, di.Rank())
	}
	arrays := make([]*dense.Tensor[F], di.Count())
	for jj := range di.groups {
		complement := di.Complement(jj)
		axes := make([]int, len(complement))
		for ii, axis := range complement {
			axes[ii] = axis - 1
		}
		reduced, err := x.SumAxes(axes, false)
		if err != nil {
			return nil, err
		}
		group := di.groups[jj]
		if !slices.IsSorted(group) {
			reduced, err = reduced.Transpose(utils.InversePermutation(utils.ArgSort(group)))
			if err != nil {
				return nil, err
			}
		}
		arrays[jj] = reduced
	}
	return NewArrayMargins(arrays, di)
}

// DimIndices returns the margins' dimension indices. It is immutable.
func (m *ArrayMargins[F]) DimIndices() *DimIndices { return m.di }

// Count returns the number of margins J.
func (m *ArrayMargins[F]) Count() int { return len(m.arrays) }

// Margin returns the j-th margin array, in its declared axis order.
// The returned tensor is owned by the margins, treat it as read-only.
func (m *ArrayMargins[F]) Margin(j int) *dense.Tensor[F] { return m.arrays[j] }

// Size returns the full shape derived from the margins: one extent per
// axis from 1 to D.
func (m *ArrayMargins[F]) Size() dense.Shape { return m.size }

// Total returns the scalar sum of the j-th margin.
func (m *ArrayMargins[F]) Total(j int) F { return m.arrays[j].Sum() }

// Totals returns the scalar sum of every margin.
func (m *ArrayMargins[F]) Totals() []F {
	totals := make([]F, len(m.arrays))
	for jj := range m.arrays {
		totals[jj] = m.arrays[jj].Sum()
	}
	return totals
}

// ScalarConsistent returns whether all margins have the same scalar sum,
// within the given absolute tolerance.
func (m *ArrayMargins[F]) ScalarConsistent(tol float64) bool {
	totals := m.Totals()
	minTotal, maxTotal := totals[0], totals[0]
	for _, total := range totals[1:] {
		minTotal = min(minTotal, total)
		maxTotal = max(maxTotal, total)
	}
	return float64(maxTotal)-float64(minTotal) < tol
}

// ToProportions returns new margins with each margin divided by its own
// sum, so that every margin sums to 1.
func (m *ArrayMargins[F]) ToProportions() *ArrayMargins[F] {
	p := m.Clone()
	for _, array := range p.arrays {
		array.Scale(1 / array.Sum())
	}
	return p
}

// reduceOnto sums the j-th margin onto the given subset of its axes
// (subset in ascending order), returning an array with the subset's axes
// in ascending order.
func (m *ArrayMargins[F]) reduceOnto(j int, subset []int) (*dense.Tensor[F], error) {
	group := m.di.groups[j]
	inSubset := utils.SetWith(subset...)
	var reducePositions []int
	var keptLabels []int
	for position, axis := range group {
		if inSubset.Has(axis) {
			keptLabels = append(keptLabels, axis)
		} else {
			reducePositions = append(reducePositions, position)
		}
	}
	reduced, err := m.arrays[j].SumAxes(reducePositions, false)
	if err != nil {
		return nil, err
	}
	if slices.IsSorted(keptLabels) {
		return reduced, nil
	}
	return reduced.Transpose(utils.ArgSort(keptLabels))
}

// overlapParticipants returns the margins whose group covers the subset.
func (m *ArrayMargins[F]) overlapParticipants(subset []int) []int {
	var participants []int
	for jj := range m.di.groups {
		covers := true
		for _, axis := range subset {
			if !m.di.Contains(jj, axis) {
				covers = false
				break
			}
		}
		if covers {
			participants = append(participants, jj)
		}
	}
	return participants
}

// OverlapConsistent returns whether all margins agree on every shared
// dimension subset: for each subset, the reductions of the margins
// covering it must be elementwise equal within the given absolute
// tolerance. Each disagreeing subset is reported as a warning.
func (m *ArrayMargins[F]) OverlapConsistent(tol float64) bool {
	consistent := true
	for _, subset := range m.di.SharedSubsets() {
		participants := m.overlapParticipants(subset)
		if len(participants) < 2 {
			continue
		}
		first, err := m.reduceOnto(participants[0], subset)
		if err != nil {
			klog.Errorf("reducing margin #%d onto subset %v: %v", participants[0], subset, err)
			return false
		}
		for _, jj := range participants[1:] {
			reduction, err := m.reduceOnto(jj, subset)
			if err != nil {
				klog.Errorf("reducing margin #%d onto subset %v: %v", jj, subset, err)
				return false
			}
			diff, err := first.MaxAbsDiff(reduction)
			if err != nil || diff >= tol {
				klog.Warningf("margins #%d and #%d disagree on shared dimension subset %v (max difference %g)",
					participants[0], jj, subset, diff)
				consistent = false
			}
		}
	}
	return consistent
}

// MakeOverlapConsistent returns new margins adjusted so that all margins
// agree on every shared dimension subset: for each subset the reductions
// of the participating margins are averaged, and each margin is rescaled
// along the rest of its axes so its reduction matches the average.
//
// It is idempotent on already-consistent margins. When the margins'
// totals agree, the total mass is preserved.
func (m *ArrayMargins[F]) MakeOverlapConsistent() (*ArrayMargins[F], error) {
	result := m.Clone()
	for _, subset := range m.di.SharedSubsets() {
		participants := result.overlapParticipants(subset)
		if len(participants) < 2 {
			continue
		}
		reductions := make([]*dense.Tensor[F], len(participants))
		for ii, jj := range participants {
			var err error
			reductions[ii], err = result.reduceOnto(jj, subset)
			if err != nil {
				return nil, err
			}
		}
		mean := reductions[0].Clone()
		for _, reduction := range reductions[1:] {
			for ii, v := range reduction.Data() {
				mean.Data()[ii] += v
			}
		}
		mean.Scale(1 / F(len(participants)))

		for ii, jj := range participants {
			// ratio rescales margin #jj so its reduction becomes the mean.
			// A zero reduction entry means the whole slice is zero and
			// cannot be rescaled, leave it alone.
			ratio := mean.Clone()
			for kk, v := range reductions[ii].Data() {
				if v == 0 {
					ratio.Data()[kk] = 1
				} else {
					ratio.Data()[kk] /= v
				}
			}
			group := result.di.groups[jj]
			positions := make([]int, len(subset))
			for kk, axis := range subset {
				positions[kk] = slices.Index(group, axis) + 1
			}
			aligned, err := Align(ratio, positions, result.arrays[jj].Shape())
			if err != nil {
				return nil, err
			}
			err = result.arrays[jj].MulBroadcast(aligned)
			if err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}

// Aligned returns the margins as full-rank broadcast views, one per
// margin, with the extent of the full shape on the covered axes and
// extent 1 everywhere else.
func (m *ArrayMargins[F]) Aligned() ([]*dense.Tensor[F], error) {
	return alignAll(m.arrays, m.di, m.size)
}

// Clone returns a deep copy.
func (m *ArrayMargins[F]) Clone() *ArrayMargins[F] {
	arrays := make([]*dense.Tensor[F], len(m.arrays))
	for jj := range m.arrays {
		arrays[jj] = m.arrays[jj].Clone()
	}
	return &ArrayMargins[F]{
		di:     m.di.Clone(),
		arrays: arrays,
		size:   m.size.Clone(),
	}
}

// EqualApprox returns whether the two bundles have the same dimension
// indices and elementwise equal margins within the given absolute
// tolerance.
func (m *ArrayMargins[F]) EqualApprox(other *ArrayMargins[F], tol float64) bool {
	if !m.di.Equal(other.di) || len(m.arrays) != len(other.arrays) {
		return false
	}
	for jj := range m.arrays {
		diff, err := m.arrays[jj].MaxAbsDiff(other.arrays[jj])
		if err != nil || diff > tol {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer.
func (m *ArrayMargins[F]) String() string {
	parts := make([]string, len(m.arrays))
	for jj, array := range m.arrays {
		parts[jj] = fmt.Sprintf("%v:%s", m.di.groups[jj], array.Shape())
	}
	return "ArrayMargins{" + strings.Join(parts, ", ") + "}"
}
