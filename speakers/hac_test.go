package speakers

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func unit(deg float64) []float32 {
	r := deg * math.Pi / 180
	return []float32{float32(math.Cos(r)), float32(math.Sin(r))}
}

func TestCosineDistance(t *testing.T) {
	assert.InDelta(t, 0, cosineDistance([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 1, cosineDistance([]float32{1, 0}, []float32{0, 3}), 1e-9)
	assert.InDelta(t, 2, cosineDistance([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 1.0, cosineDistance([]float32{0, 0}, []float32{1, 0}))
}

func TestAgglomerateTwoGroups(t *testing.T) {
	vectors := [][]float32{unit(0), unit(5), unit(90), unit(93), unit(2)}
	assert.Equal(t, []int{0, 0, 1, 1, 0}, agglomerate(vectors, 0.35))
}

func TestAgglomerateAverageLinkageDoesNotChain(t *testing.T) {
	// single linkage would chain all three at 0.3; the average distance from
	// {0°,40°} to 80° is about 0.53
	vectors := [][]float32{unit(0), unit(40), unit(80)}
	assert.Equal(t, []int{0, 0, 1}, agglomerate(vectors, 0.3))
	assert.Equal(t, []int{0, 0, 0}, agglomerate(vectors, 0.6))
}

func TestAgglomerateExtremes(t *testing.T) {
	vectors := [][]float32{unit(0), unit(0), unit(45)}
	assert.Equal(t, []int{0, 1, 2}, agglomerate(vectors, 0), "nothing is strictly below zero")
	assert.Equal(t, []int{0, 0, 0}, agglomerate(vectors, 2.1))
	assert.Equal(t, []int{0}, agglomerate(vectors[:1], 0.5))
	assert.Nil(t, agglomerate(nil, 0.5))
}

// naiveAverageLinkage repeatedly merges the closest pair of clusters by mean
// pairwise distance until none is below threshold.
func naiveAverageLinkage(vectors [][]float32, threshold float64) []int {
	clusters := make([][]int, len(vectors))
	for i := range clusters {
		clusters[i] = []int{i}
	}
	for len(clusters) > 1 {
		bi, bj, bd := -1, -1, math.Inf(1)
		for i := range clusters {
			for j := i + 1; j < len(clusters); j++ {
				sum := 0.0
				for _, a := range clusters[i] {
					for _, b := range clusters[j] {
						sum += cosineDistance(vectors[a], vectors[b])
					}
				}
				if d := sum / float64(len(clusters[i])*len(clusters[j])); d < bd {
					bi, bj, bd = i, j, d
				}
			}
		}
		if bd >= threshold {
			break
		}
		clusters[bi] = append(clusters[bi], clusters[bj]...)
		clusters = append(clusters[:bj], clusters[bj+1:]...)
	}
	owner := make([]int, len(vectors))
	for ci, members := range clusters {
		for _, p := range members {
			owner[p] = ci
		}
	}
	labels := make([]int, len(vectors))
	seen := map[int]int{}
	for i, o := range owner {
		if _, ok := seen[o]; !ok {
			seen[o] = len(seen)
		}
		labels[i] = seen[o]
	}
	return labels
}

func randomVectors(rng *rand.Rand, n, dim int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		for j := range v {
			v[j] = float32(rng.NormFloat64())
		}
		out[i] = v
	}
	return out
}

func TestAgglomerateMatchesNaive(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 20; trial++ {
		vectors := randomVectors(rng, 5+rng.Intn(25), 8)
		for _, thr := range []float64{0.3, 0.6, 0.9, 1.2} {
			assert.Equal(t, naiveAverageLinkage(vectors, thr), agglomerate(vectors, thr), "trial %d threshold %.1f", trial, thr)
		}
	}
}

func countLabels(labels []int) int {
	seen := map[int]bool{}
	for _, l := range labels {
		seen[l] = true
	}
	return len(seen)
}

func TestAgglomerateMonotoneInSimilarity(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for trial := 0; trial < 10; trial++ {
		vectors := randomVectors(rng, 40, 16)
		prev := 0
		for sim := 0.0; sim <= 1.0; sim += 0.05 {
			n := countLabels(agglomerate(vectors, 1-sim))
			assert.GreaterOrEqual(t, n, prev, "similarity %.2f", sim)
			prev = n
		}
	}
}
