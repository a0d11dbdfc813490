package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fusedIDs(f []Fused) []string {
	out := make([]string, len(f))
	for i, x := range f {
		out[i] = x.ID
	}
	return out
}

func TestFuseScores(t *testing.T) {
	out := Fuse(10, []string{"A", "B", "C"}, []string{"B", "A", "D"})
	require.Len(t, out, 4)

	assert.Equal(t, []string{"A", "B", "C", "D"}, fusedIDs(out))
	assert.InDelta(t, 1.0/61+1.0/62, out[0].Score, 1e-12)
	assert.Equal(t, out[0].Score, out[1].Score)
	assert.InDelta(t, 1.0/63, out[2].Score, 1e-12)
	assert.Equal(t, out[2].Score, out[3].Score)
}

func TestFuseTieBreakIsDeterministic(t *testing.T) {
	for i := 0; i < 50; i++ {
		out := Fuse(10, []string{"A", "B", "C"}, []string{"B", "A", "D"})
		assert.Equal(t, []string{"A", "B", "C", "D"}, fusedIDs(out))
	}

	// D and C tie on score; swapping list order swaps first appearance.
	out := Fuse(10, []string{"B", "A", "D"}, []string{"A", "B", "C"})
	assert.Equal(t, []string{"B", "A", "D", "C"}, fusedIDs(out))
}

func TestFuseBestRankBeforeAppearance(t *testing.T) {
	// X: rank 1 + rank 3, Y: rank 2 + rank 2. 1/61+1/63 > 2/62, so X wins on
	// score; both orders agree here and the tie rule is not needed.
	out := Fuse(10, []string{"X", "Y", "Z"}, []string{"W", "Y", "X"})
	assert.Equal(t, "X", out[0].ID)
	assert.Greater(t, out[0].Score, out[1].Score)
}

func TestFuseSingleListFallback(t *testing.T) {
	lexical := []string{"C", "A", "B", "E"}

	out := Fuse(3, lexical, nil)
	assert.Equal(t, []string{"C", "A", "B"}, fusedIDs(out))

	out = Fuse(10, nil, []string{"Q", "P"})
	assert.Equal(t, []string{"Q", "P"}, fusedIDs(out))
}

func TestFuseEmpty(t *testing.T) {
	out := Fuse(5, nil, []string{})
	assert.NotNil(t, out)
	assert.Empty(t, out)
	assert.Nil(t, Fuse(0, []string{"A"}))
}

func TestFuseDedupWithinList(t *testing.T) {
	// Second A in the lexical list is dropped, so B keeps rank 2.
	out := Fuse(10, []string{"A", "A", "B"}, []string{"C"})
	require.Len(t, out, 3)
	assert.InDelta(t, 1.0/62, out[2].Score, 1e-12)
	assert.Equal(t, "B", out[2].ID)

	single := Fuse(10, []string{"A", "A", "B"})
	assert.Equal(t, []string{"A", "B"}, fusedIDs(single))
}

func TestFuseTruncates(t *testing.T) {
	out := Fuse(2, []string{"A", "B", "C"}, []string{"C", "B", "A"})
	assert.Len(t, out, 2)
}
