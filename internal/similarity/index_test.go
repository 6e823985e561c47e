package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unit(dim, axis int) []float32 {
	vec := make([]float32, dim)
	vec[axis] = 1
	return vec
}

func TestIndexSearchOrdersByDistance(t *testing.T) {
	ix := NewIndex(4)
	require.NoError(t, ix.Add(1, []float32{1, 0, 0, 0}))
	require.NoError(t, ix.Add(2, []float32{0.8, 0.6, 0, 0}))
	require.NoError(t, ix.Add(3, []float32{0, 1, 0, 0}))

	got := ix.Search([]float32{1, 0, 0, 0}, 10, 2, 0)
	require.Len(t, got, 3)
	assert.Equal(t, uint64(1), got[0].Key)
	assert.InDelta(t, 0, got[0].Distance, 1e-6)
	assert.Equal(t, uint64(2), got[1].Key)
	assert.Equal(t, uint64(3), got[2].Key)
	assert.Less(t, got[1].Distance, got[2].Distance)
}

func TestIndexSearchExcludesSelf(t *testing.T) {
	ix := NewIndex(4)
	require.NoError(t, ix.Add(1, unit(4, 0)))
	require.NoError(t, ix.Add(2, unit(4, 0)))

	got := ix.Search(unit(4, 0), 10, 2, 1)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(2), got[0].Key)
}

func TestIndexSearchAppliesCutoffAndK(t *testing.T) {
	ix := NewIndex(2)
	require.NoError(t, ix.Add(1, []float32{1, 0}))
	require.NoError(t, ix.Add(2, []float32{0, 1}))

	// Orthogonal vectors sit at distance 1; a 0.5 cutoff drops them.
	got := ix.Search([]float32{1, 0}, 10, 0.5, 0)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(1), got[0].Key)

	got = ix.Search([]float32{1, 0}, 1, 2, 0)
	assert.Len(t, got, 1)
}

func TestIndexRemoveSwapsLastRow(t *testing.T) {
	ix := NewIndex(2)
	require.NoError(t, ix.Add(1, []float32{1, 0}))
	require.NoError(t, ix.Add(2, []float32{0, 1}))
	require.NoError(t, ix.Add(3, []float32{1, 0}))

	assert.True(t, ix.Remove(1))
	assert.False(t, ix.Remove(1))
	assert.Equal(t, 2, ix.Len())

	// The survivors still answer correctly.
	got := ix.Search([]float32{1, 0}, 10, 0.5, 0)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(3), got[0].Key)
}

func TestIndexRejectsWrongDimension(t *testing.T) {
	ix := NewIndex(3)
	assert.Error(t, ix.Add(1, []float32{1, 0}))
}
