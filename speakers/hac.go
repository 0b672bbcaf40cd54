package speakers

import "math"

// cosineDistance is 1 - cos(a, b). A zero vector is maximally distant.
func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		if i >= len(b) {
			break
		}
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1
	}
	d := 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
	if d < 0 {
		return 0
	}
	return d
}

type mergeStep struct {
	a, b   int
	height float64
}

// agglomerate clusters vectors with average linkage over cosine distance and
// cuts the dendrogram so that only merges strictly below threshold apply.
// Labels are numbered by first appearance in input order.
//
// The dendrogram is built with the nearest-neighbor chain algorithm, which is
// exact for average linkage and needs O(n^2) time.
func agglomerate(vectors [][]float32, threshold float64) []int {
	n := len(vectors)
	if n == 0 {
		return nil
	}

	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := cosineDistance(vectors[i], vectors[j])
			dist[i][j] = d
			dist[j][i] = d
		}
	}

	size := make([]int, n)
	active := make([]bool, n)
	for i := range size {
		size[i] = 1
		active[i] = true
	}

	merges := make([]mergeStep, 0, n-1)
	chain := make([]int, 0, n)
	for remaining := n; remaining > 1; {
		if len(chain) == 0 {
			for i, ok := range active {
				if ok {
					chain = append(chain, i)
					break
				}
			}
		}
		a := chain[len(chain)-1]
		prev := -1
		best, bestD := -1, math.Inf(1)
		if len(chain) > 1 {
			prev = chain[len(chain)-2]
			best, bestD = prev, dist[a][prev]
		}
		for k := 0; k < n; k++ {
			if !active[k] || k == a {
				continue
			}
			if dist[a][k] < bestD {
				best, bestD = k, dist[a][k]
			}
		}
		if best != prev {
			chain = append(chain, best)
			continue
		}

		// a and prev are reciprocal nearest neighbors
		chain = chain[:len(chain)-2]
		lo, hi := min(a, prev), max(a, prev)
		merges = append(merges, mergeStep{a: lo, b: hi, height: bestD})
		total := float64(size[a] + size[prev])
		for k := 0; k < n; k++ {
			if !active[k] || k == a || k == prev {
				continue
			}
			d := (float64(size[a])*dist[a][k] + float64(size[prev])*dist[prev][k]) / total
			dist[lo][k] = d
			dist[k][lo] = d
		}
		size[lo] += size[hi]
		active[hi] = false
		remaining--
	}

	// slot i always holds point i, so each merge joins the clusters of its
	// two slot points; average linkage heights are monotone, hence cutting is
	// a plain filter.
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	find := func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	for _, m := range merges {
		if m.height < threshold {
			ra, rb := find(m.a), find(m.b)
			if ra != rb {
				parent[rb] = ra
			}
		}
	}

	labels := make([]int, n)
	next := 0
	seen := make(map[int]int)
	for i := 0; i < n; i++ {
		r := find(i)
		l, ok := seen[r]
		if !ok {
			l = next
			seen[r] = l
			next++
		}
		labels[i] = l
	}
	return labels
}
