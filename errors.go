package ipfit

import "errors"

// Sentinel errors for the failure classes of the library. Constructors and
// the engine attach positional context (which margin, which axis) on top,
// so branch on them with errors.Is.
var (
	// ErrShapeMismatch indicates an array whose rank or extents disagree
	// with its DimIndices or with the other arrays of the bundle.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrInvalidDimIndices indicates dimension groups that leave an axis
	// uncovered, repeat an axis inside a group, or repeat a whole group.
	ErrInvalidDimIndices = errors.New("invalid dimension indices")

	// ErrInconsistentOverlap indicates target margins that disagree on a
	// shared dimension subset, with consistency forcing not requested.
	ErrInconsistentOverlap = errors.New("margins disagree on a shared dimension subset")

	// ErrDegenerateSeed indicates a seed with a zero marginal where the
	// corresponding target is non-zero, so no factor can match it.
	ErrDegenerateSeed = errors.New("zero seed marginal with non-zero target")
)
