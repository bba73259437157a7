package ipfit

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/ipfit/internal/utils"
	"github.com/pkg/errors"
)

// DimIndices declares which axes of the full D-rank array each margin (or
// factor) ranges over, and in which internal axis order.
//
// It is an ordered sequence of groups, each group a non-empty list of
// 1-based axis numbers. Every axis from 1 to D (D being the largest axis
// mentioned) must appear in at least one group; no axis may repeat inside
// one group; and no two groups may cover the same set of axes, but partial
// overlap between groups is fine, e.g. [[1 3] [2 3]].
//
// A group may list its axes out of ascending order, e.g. [3 2]: the
// corresponding margin and factor arrays then carry their axes in that
// declared order.
//
// DimIndices values are immutable after construction. The ArrayMargins and
// ArrayFactors built with them each keep their own copy.
type DimIndices struct {
	groups [][]int
	rank   int
}

// NewDimIndices builds a DimIndices from the given groups of 1-based axis
// numbers, validating them.
//
// Errors wrap ErrInvalidDimIndices and name the missing axis or the
// offending group.
func NewDimIndices(groups ...[]int) (*DimIndices, error) {
	if len(groups) == 0 {
		return nil, errors.Wrap(ErrInvalidDimIndices, "no dimension groups given")
	}
	di := &DimIndices{groups: make([][]int, len(groups))}
	covered := utils.MakeSet[int]()
	for jj, group := range groups {
		if len(group) == 0 {
			return nil, errors.Wrapf(ErrInvalidDimIndices, "group #%d is empty", jj)
		}
		inGroup := utils.MakeSet[int](len(group))
		for _, axis := range group {
			if axis < 1 {
				return nil, errors.Wrapf(ErrInvalidDimIndices, "group #%d holds axis %d, axes are numbered from 1", jj, axis)
			}
			if inGroup.Has(axis) {
				return nil, errors.Wrapf(ErrInvalidDimIndices, "group #%d repeats axis %d", jj, axis)
			}
			inGroup.Insert(axis)
			covered.Insert(axis)
			di.rank = max(di.rank, axis)
		}
		di.groups[jj] = slices.Clone(group)
	}

	// No two groups may cover the same axis set, whatever their order.
	for jj := range di.groups {
		for kk := jj + 1; kk < len(di.groups); kk++ {
			if di.groupSet(jj).Equal(di.groupSet(kk)) {
				return nil, errors.Wrapf(ErrInvalidDimIndices, "groups #%d (%v) and #%d (%v) cover the same axes",
					jj, di.groups[jj], kk, di.groups[kk])
			}
		}
	}

	// Completeness: every axis 1..D must be covered.
	var missing []int
	for axis := 1; axis <= di.rank; axis++ {
		if !covered.Has(axis) {
			missing = append(missing, axis)
		}
	}
	if len(missing) > 0 {
		return nil, errors.Wrapf(ErrInvalidDimIndices, "axes %v are not covered by any group", missing)
	}
	return di, nil
}

// DimIndicesFromAny builds a DimIndices accepting each element as either a
// single axis number (int) or a group of axes ([]int). Single axes are
// promoted to one-axis groups.
func DimIndicesFromAny(raw ...any) (*DimIndices, error) {
	groups := make([][]int, len(raw))
	for jj, element := range raw {
		switch v := element.(type) {
		case int:
			groups[jj] = []int{v}
		case []int:
			groups[jj] = v
		default:
			return nil, errors.Wrapf(ErrInvalidDimIndices, "element #%d has type %T, wanted int or []int", jj, element)
		}
	}
	return NewDimIndices(groups...)
}

// DefaultDimIndices builds the DimIndices used when the user gives no
// explicit grouping: non-overlapping axes assigned in traversal order, the
// j-th margin contributing ranks[j] consecutive axes. So ranks (1, 2) gives
// [[1] [2 3]].
func DefaultDimIndices(ranks ...int) (*DimIndices, error) {
	groups := make([][]int, len(ranks))
	axis := 1
	for jj, rank := range ranks {
		if rank < 1 {
			return nil, errors.Wrapf(ErrInvalidDimIndices, "margin #%d has rank %d, wanted at least 1", jj, rank)
		}
		group := make([]int, rank)
		for ii := range group {
			group[ii] = axis
			axis++
		}
		groups[jj] = group
	}
	return NewDimIndices(groups...)
}

// Rank returns D, the rank of the full array the indices refer to.
func (di *DimIndices) Rank() int { return di.rank }

// Count returns J, the number of margins/factors declared.
func (di *DimIndices) Count() int { return len(di.groups) }

// Group returns a copy of the j-th group of axes, in declared order.
func (di *DimIndices) Group(j int) []int {
	return slices.Clone(di.groups[j])
}

// Groups returns a deep copy of all groups.
func (di *DimIndices) Groups() [][]int {
	groups := make([][]int, len(di.groups))
	for jj := range di.groups {
		groups[jj] = slices.Clone(di.groups[jj])
	}
	return groups
}

// groupSet returns the axes of group j as a set.
func (di *DimIndices) groupSet(j int) utils.Set[int] {
	return utils.SetWith(di.groups[j]...)
}

// Contains returns whether group j covers the given axis.
func (di *DimIndices) Contains(j int, axis int) bool {
	return slices.Contains(di.groups[j], axis)
}

// Complement returns the axes from 1 to D not in group j, ascending.
func (di *DimIndices) Complement(j int) []int {
	all := utils.MakeSet[int](di.rank)
	for axis := 1; axis <= di.rank; axis++ {
		all.Insert(axis)
	}
	outside := all.Sub(di.groupSet(j))
	complement := make([]int, 0, len(outside))
	for axis := 1; axis <= di.rank; axis++ {
		if outside.Has(axis) {
			complement = append(complement, axis)
		}
	}
	return complement
}

// SharedSubsets returns every dimension subset shared between margins: all
// the one-axis subsets [d] for d in 1..D, together with every non-empty
// pairwise intersection of two groups. Subsets are in ascending axis order
// and deduplicated.
//
// These are the subsets on which overlapping margins must agree, see
// ArrayMargins.OverlapConsistent.
func (di *DimIndices) SharedSubsets() [][]int {
	var subsets [][]int
	seen := utils.MakeSet[string]()
	add := func(subset []int) {
		key := fmt.Sprint(subset)
		if seen.Has(key) {
			return
		}
		seen.Insert(key)
		subsets = append(subsets, subset)
	}
	for axis := 1; axis <= di.rank; axis++ {
		add([]int{axis})
	}
	for jj := range di.groups {
		for kk := jj + 1; kk < len(di.groups); kk++ {
			other := di.groupSet(kk)
			var intersection []int
			for _, axis := range di.groups[jj] {
				if other.Has(axis) {
					intersection = append(intersection, axis)
				}
			}
			if len(intersection) == 0 {
				continue
			}
			slices.Sort(intersection)
			add(intersection)
		}
	}
	return subsets
}

// Clone returns a deep copy.
func (di *DimIndices) Clone() *DimIndices {
	return &DimIndices{groups: di.Groups(), rank: di.rank}
}

// Equal compares the declared groups, including their order.
func (di *DimIndices) Equal(other *DimIndices) bool {
	if di.rank != other.rank || len(di.groups) != len(other.groups) {
		return false
	}
	for jj := range di.groups {
		if !slices.Equal(di.groups[jj], other.groups[jj]) {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer, e.g. "[[1 3] [2 3]]".
func (di *DimIndices) String() string {
	parts := make([]string, len(di.groups))
	for jj, group := range di.groups {
		parts[jj] = fmt.Sprint(group)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
