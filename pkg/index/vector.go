package index

import (
	"container/heap"
	"math"
)

// CosineSimilarity calculates the cosine similarity between two float32
// vectors. Returns 0 if vectors have different lengths, are empty, or
// either has zero magnitude.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Normalize returns v scaled to unit length, or nil for empty or
// zero-magnitude input.
func Normalize(v []float32) []float32 {
	if len(v) == 0 {
		return nil
	}
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	mag := math.Sqrt(sum)
	if mag == 0 {
		return nil
	}
	result := make([]float32, len(v))
	for i, x := range v {
		result[i] = float32(float64(x) / mag)
	}
	return result
}

// hitHeap is a min-heap over hits ordered by (score, recency), so the
// weakest candidate sits at the root while collecting top-k.
type hitHeap []Hit

func (h hitHeap) Len() int { return len(h) }
func (h hitHeap) Less(i, j int) bool {
	if h[i].Score != h[j].Score {
		return h[i].Score < h[j].Score
	}
	return h[i].At.Before(h[j].At)
}
func (h hitHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *hitHeap) Push(x any) { *h = append(*h, x.(Hit)) }

func (h *hitHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func (h hitHeap) weakerThan(hit Hit) bool {
	root := h[0]
	if root.Score != hit.Score {
		return root.Score < hit.Score
	}
	return root.At.Before(hit.At)
}

// topK keeps the k best hits out of a stream using an O(n log k) heap.
// The result is sorted descending by score, ties broken by recency.
func topK(hits []Hit, k int) []Hit {
	if k <= 0 || len(hits) == 0 {
		return nil
	}

	h := make(hitHeap, 0, k)
	heap.Init(&h)
	for _, hit := range hits {
		if h.Len() < k {
			heap.Push(&h, hit)
		} else if h.weakerThan(hit) {
			heap.Pop(&h)
			heap.Push(&h, hit)
		}
	}

	result := make([]Hit, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(&h).(Hit)
	}
	return result
}
