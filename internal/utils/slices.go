package utils

import (
	"slices"

	"golang.org/x/exp/constraints"
)

// ArgSort returns the permutation that sorts the given slice in ascending
// order: values[perm[0]] <= values[perm[1]] <= ...
// The input slice is not modified.
func ArgSort[T constraints.Ordered](values []T) []int {
	perm := make([]int, len(values))
	for ii := range perm {
		perm[ii] = ii
	}
	slices.SortStableFunc(perm, func(a, b int) int {
		if values[a] < values[b] {
			return -1
		}
		if values[a] > values[b] {
			return 1
		}
		return 0
	})
	return perm
}

// InversePermutation returns the permutation q such that q[perm[i]] == i.
func InversePermutation(perm []int) []int {
	inverse := make([]int, len(perm))
	for ii, p := range perm {
		inverse[p] = ii
	}
	return inverse
}

// Prod returns the product of the elements of the slice, or 1 for an empty
// slice.
func Prod[T constraints.Integer](values []T) T {
	result := T(1)
	for _, v := range values {
		result *= v
	}
	return result
}
