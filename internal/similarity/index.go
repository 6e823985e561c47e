package similarity

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// Index is a flat in-memory cosine index over unit vectors. Rows live
// in one contiguous float32 buffer; keys are the 16-hex embedding ids
// parsed as 64-bit integers, so removal needs no secondary map.
type Index struct {
	mu   sync.RWMutex
	dim  int
	keys []uint64
	data []float32
}

// Neighbor is one search hit, distance ascending.
type Neighbor struct {
	Key      uint64
	Distance float32
}

func NewIndex(dim int) *Index {
	return &Index{dim: dim}
}

// Len returns the number of indexed vectors.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.keys)
}

// Add appends a vector under the given key. The vector must already be
// L2-normalised.
func (ix *Index) Add(key uint64, vec []float32) error {
	if len(vec) != ix.dim {
		return fmt.Errorf("vector has dimension %d, index expects %d", len(vec), ix.dim)
	}
	ix.mu.Lock()
	ix.keys = append(ix.keys, key)
	ix.data = append(ix.data, vec...)
	ix.mu.Unlock()
	return nil
}

// Remove deletes a key, swapping the last row into its slot. Reports
// whether the key was present.
func (ix *Index) Remove(key uint64) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for i, k := range ix.keys {
		if k != key {
			continue
		}
		last := len(ix.keys) - 1
		ix.keys[i] = ix.keys[last]
		ix.keys = ix.keys[:last]
		copy(ix.data[i*ix.dim:(i+1)*ix.dim], ix.data[last*ix.dim:(last+1)*ix.dim])
		ix.data = ix.data[:last*ix.dim]
		return true
	}
	return false
}

// Search returns up to k nearest neighbors of the query under cosine
// distance, ascending, dropping the excluded key and anything past
// maxDistance.
func (ix *Index) Search(query []float32, k int, maxDistance float32, exclude uint64) []Neighbor {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	qnorm := float32(0)
	for _, v := range query {
		qnorm += v * v
	}
	qnorm = float32(math.Sqrt(float64(qnorm)))
	if qnorm == 0 {
		return nil
	}

	neighbors := make([]Neighbor, 0, len(ix.keys))
	for i, key := range ix.keys {
		if key == exclude {
			continue
		}
		dot := float32(0)
		row := ix.data[i*ix.dim : (i+1)*ix.dim]
		for j, v := range row {
			dot += v * query[j]
		}
		dist := 1 - dot/qnorm
		if dist > maxDistance {
			continue
		}
		neighbors = append(neighbors, Neighbor{Key: key, Distance: dist})
	}

	sort.Slice(neighbors, func(a, b int) bool {
		return neighbors[a].Distance < neighbors[b].Distance
	})
	if len(neighbors) > k {
		neighbors = neighbors[:k]
	}
	return neighbors
}
