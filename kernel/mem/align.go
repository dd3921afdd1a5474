package mem

import "golang.org/x/exp/constraints"

// AlignUp rounds v up to the next multiple of align, which must be a power
// of two. It is used throughout the pmm/vmm/heap packages to round requests
// expressed in arbitrary integer types to page or block boundaries.
func AlignUp[T constraints.Integer](v, align T) T {
	return (v + align - 1) &^ (align - 1)
}

// AlignDown rounds v down to the previous multiple of align, which must be a
// power of two.
func AlignDown[T constraints.Integer](v, align T) T {
	return v &^ (align - 1)
}

// Pages returns the number of PageSize-sized pages required to cover size
// bytes.
func Pages(size Size) Size {
	return AlignUp(size, PageSize) >> PageShift
}
