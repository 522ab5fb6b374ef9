package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuseBothListsRankFirst(t *testing.T) {
	f := newRRFFusion(60)

	// Program 2 appears in both rankings, 1 and 3 in one each
	out := f.fuse([]int64{1, 2}, []int64{2, 3})

	require.Len(t, out, 3)
	assert.Equal(t, int64(2), out[0].ProgramID)
	assert.True(t, out[0].InBoth)
	assert.Equal(t, float64(1), out[0].Score, "top score normalizes to 1")
}

func TestFuseEmptyInputs(t *testing.T) {
	f := newRRFFusion(0) // falls back to the default constant

	assert.Empty(t, f.fuse(nil, nil))

	out := f.fuse([]int64{5}, nil)
	require.Len(t, out, 1)
	assert.Equal(t, int64(5), out[0].ProgramID)
}

func TestFuseDeterministicTieBreak(t *testing.T) {
	f := newRRFFusion(60)

	// Two programs each in exactly one list at the same rank: tied
	// scores break by program id.
	out := f.fuse([]int64{9}, []int64{4})
	require.Len(t, out, 2)
	assert.Equal(t, int64(4), out[0].ProgramID)
	assert.Equal(t, int64(9), out[1].ProgramID)
	assert.Equal(t, out[0].Score, out[1].Score)
}
