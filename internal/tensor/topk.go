package tensor

import "math"

// TopK writes the indices of the k largest scores into idx, best first.
// Equal scores keep the lowest index first, so the selection is stable.
// Entries that are -Inf are still selectable when fewer than k finite scores
// exist. best is scratch space of length >= k and may be nil.
func TopK(scores []float32, k int, idx []int, best []float32) {
	if k <= 0 {
		return
	}
	if k > len(idx) {
		panic("topk: index buffer too small")
	}
	if len(best) < k {
		best = make([]float32, k)
	}
	for i := 0; i < k; i++ {
		idx[i] = -1
		best[i] = float32(math.Inf(-1))
	}

	for i, score := range scores {
		insert := -1
		for j := 0; j < k; j++ {
			if score > best[j] || (score == best[j] && (idx[j] == -1 || i < idx[j])) {
				insert = j
				break
			}
		}
		if insert == -1 {
			continue
		}
		for j := k - 1; j > insert; j-- {
			best[j] = best[j-1]
			idx[j] = idx[j-1]
		}
		best[insert] = score
		idx[insert] = i
	}
}
