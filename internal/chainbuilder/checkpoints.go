package chainbuilder

import "math/bits"

// checkpointIndices implements the checkpoint selection algorithm of
// spec.md §4.8: start at index 0 (genesis), repeatedly step forward by
// 2^floor(log2(remaining)-1), and record the index landed on, until one
// block remains. This yields O(log L) indices, denser near the head, and
// always includes both the first and last index of the chain.
func checkpointIndices(length int) []int {
	if length <= 1 {
		return []int{0}
	}

	indices := []int{0}
	i := 0
	for {
		remaining := length - 1 - i
		if remaining <= 1 {
			break
		}
		step := 1 << uint(bits.Len(uint(remaining))-2)
		if step < 1 {
			step = 1
		}
		i += step
		indices = append(indices, i)
	}
	if indices[len(indices)-1] != length-1 {
		indices = append(indices, length-1)
	}
	return indices
}
