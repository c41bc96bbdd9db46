// Package vector holds the similarity math used by topic clustering and
// insight search.
package vector

import (
	"cmp"
	"slices"

	"gonum.org/v1/gonum/floats"
)

// Cosine returns the cosine similarity of a and b. Vectors of different
// length, empty vectors and zero vectors have similarity 0.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	na := floats.Norm(a, 2)
	nb := floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return floats.Dot(a, b) / (na * nb)
}

// Match is one search hit.
type Match struct {
	Index int
	Score float64
}

// TopK scores every candidate against query and returns the k best by
// descending similarity. Ties keep candidate order. Candidates scoring
// below minScore are skipped; k <= 0 returns all.
func TopK(query []float64, candidates [][]float64, k int, minScore float64) []Match {
	matches := make([]Match, 0, len(candidates))
	for i, c := range candidates {
		s := Cosine(query, c)
		if s < minScore {
			continue
		}
		matches = append(matches, Match{Index: i, Score: s})
	}
	slices.SortStableFunc(matches, func(a, b Match) int {
		return cmp.Compare(b.Score, a.Score)
	})
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

// GreedyCluster groups vectors in input order: each unassigned vector seeds
// a cluster, and every later unassigned vector whose similarity to the seed
// exceeds threshold joins it. Clusters hold indexes into vecs, in formation
// order.
func GreedyCluster(vecs [][]float64, threshold float64) [][]int {
	assigned := make([]bool, len(vecs))
	var clusters [][]int
	for i := range vecs {
		if assigned[i] {
			continue
		}
		assigned[i] = true
		cluster := []int{i}
		for j := i + 1; j < len(vecs); j++ {
			if !assigned[j] && Cosine(vecs[i], vecs[j]) > threshold {
				assigned[j] = true
				cluster = append(cluster, j)
			}
		}
		clusters = append(clusters, cluster)
	}
	return clusters
}
