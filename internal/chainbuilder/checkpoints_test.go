package chainbuilder

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckpointIndicesAlwaysIncludesGenesisAndTip(t *testing.T) {
	for _, length := range []int{1, 2, 3, 10, 17, 100, 1023, 1024, 4096} {
		idx := checkpointIndices(length)
		assert.Equal(t, 0, idx[0], "length %d", length)
		assert.Equal(t, length-1, idx[len(idx)-1], "length %d", length)
	}
}

func TestCheckpointIndicesAreStrictlyIncreasing(t *testing.T) {
	idx := checkpointIndices(1000)
	for i := 1; i < len(idx); i++ {
		assert.Greater(t, idx[i], idx[i-1])
	}
}

func TestCheckpointIndicesGrowLogarithmically(t *testing.T) {
	// O(log L) indices, not O(L): a chain of length 2^20 needs at most
	// 2*log2(L) = 40 checkpoints, not anywhere close to a million.
	idx := checkpointIndices(1 << 20)
	assert.LessOrEqual(t, len(idx), 40)
}

func TestCheckpointIndicesSingleBlock(t *testing.T) {
	assert.Equal(t, []int{0}, checkpointIndices(1))
}
