package metadata

import "golang.org/x/exp/constraints"

// GetAligned rounds operand up to a multiple of granularity, which must be a
// power of two.
func GetAligned[T constraints.Unsigned](operand, granularity T) T {
	if granularity == 0 {
		return operand
	}
	return (operand + (granularity - 1)) &^ (granularity - 1)
}

// CeilDiv is the integer quotient of a/b rounded up.
func CeilDiv[T constraints.Integer](a, b T) T {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

func Max[T constraints.Ordered](a, b T) T {
	if a > b {
		return a
	}
	return b
}
