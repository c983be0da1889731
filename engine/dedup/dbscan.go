package dedup

import "github.com/lifeexplorer230/newsdigest/engine/embedding"

// noiseLabel is DBSCAN's sentinel for a point that belongs to no cluster.
const noiseLabel = -1

// dbscan clusters points using cosine distance (1 - cosine similarity) as
// the metric, with the standard density-reachability rule: a point is a
// core point if at least minSamples points (including itself) lie within
// eps; clusters grow by transitively absorbing every point reachable from
// a core point. Small and self-contained enough that a clustering
// dependency would cost more than this direct, unexported implementation.
//
// Point counts in this pipeline are small (hundreds, not millions), so the
// O(n^2) neighbor search is not worth complicating with an index.
func dbscan(points [][]float32, eps float64, minSamples int) []int {
	n := len(points)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = noiseLabel
	}
	visited := make([]bool, n)

	neighbors := func(i int) []int {
		var out []int
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			if cosineDistance(points[i], points[j]) <= eps {
				out = append(out, j)
			}
		}
		return out
	}

	cluster := 0
	for i := 0; i < n; i++ {
		if visited[i] {
			continue
		}
		visited[i] = true

		nbrs := neighbors(i)
		if len(nbrs)+1 < minSamples {
			continue // stays noise unless later absorbed by another core point
		}

		labels[i] = cluster
		queue := append([]int{}, nbrs...)
		for k := 0; k < len(queue); k++ {
			j := queue[k]
			if !visited[j] {
				visited[j] = true
				jNbrs := neighbors(j)
				if len(jNbrs)+1 >= minSamples {
					queue = append(queue, jNbrs...)
				}
			}
			if labels[j] == noiseLabel {
				labels[j] = cluster
			}
		}
		cluster++
	}
	return labels
}

func cosineDistance(a, b []float32) float64 {
	return 1 - float64(embedding.CosineSimilarity(a, b))
}
