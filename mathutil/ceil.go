package mathutil

import (
	"golang.org/x/exp/constraints"
)

// DivCeil returns a/b rounded toward positive infinity.
func DivCeil[T constraints.Signed](a, b T) T {
	if b == 0 {
		panic("division by zero")
	}
	q, r := a/b, a%b
	if r != 0 && (r > 0) == (b > 0) {
		q++
	}
	return q
}

// ChunkCount returns the number of size-byte chunks needed to cover length
// bytes. Unknown or empty lengths yield zero.
func ChunkCount[T constraints.Signed](length, size T) T {
	if length <= 0 {
		return 0
	}

	return DivCeil(length, size)
}
