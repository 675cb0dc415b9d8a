package vfs

import (
	"container/heap"
	"math"

	"github.com/cuemby/agentnode/pkg/metrics"
	"github.com/cuemby/agentnode/pkg/types"
)

// Reader is a permission-checked read handle rooted at a path.
type Reader struct {
	vfs       *VFS
	requester string
	path      types.FSPath
}

// SearchResult is one hit from VectorSearch, carrying breadcrumb
// metadata so callers can cite the source path.
type SearchResult struct {
	Path  types.FSPath
	Score float64
	Node  types.VRNode
}

// GenerateQueryEmbedding delegates to the configured embedding model,
// truncating text by character length if it exceeds the model's max.
func (r *Reader) GenerateQueryEmbedding(text string) ([]float32, error) {
	max := r.vfs.embed.MaxChars()
	runes := []rune(text)
	if max > 0 && len(runes) > max {
		text = string(runes[:max])
	}
	return r.vfs.embed.Embed(text)
}

// VectorSearch computes cosine similarity between query and every leaf
// node in the subtree rooted at the reader's path, returning the top k
// by score. Ties break by lexicographic path.
func (r *Reader) VectorSearch(query []float32, k int) ([]SearchResult, error) {
	if k <= 0 {
		return nil, nil
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.VFSSearchDuration)

	r.vfs.mu.RLock()
	candidates := r.vfs.descendants(r.path)
	r.vfs.mu.RUnlock()

	h := &resultHeap{}
	heap.Init(h)

	for _, n := range candidates {
		if n.isFolder || n.resource == nil {
			continue
		}
		for _, leaf := range n.resource.Nodes {
			if len(leaf.Embedding) == 0 {
				continue
			}
			score, err := cosineSimilarity(query, leaf.Embedding)
			if err != nil {
				return nil, newError(n.path.String(), ErrDimMismatch, err)
			}
			candidate := SearchResult{Path: n.path, Score: score, Node: leaf}
			if h.Len() < k {
				heap.Push(h, candidate)
				continue
			}
			if better(candidate, (*h)[0]) {
				heap.Pop(h)
				heap.Push(h, candidate)
			}
		}
	}

	out := make([]SearchResult, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(SearchResult)
	}
	return out, nil
}

// better reports whether a ranks above b: higher score wins, ties
// break by lexicographic path (earlier path wins).
func better(a, b SearchResult) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Path.String() < b.Path.String()
}

// CosineSimilarity is exported so other components (e.g. the Job
// Manager, scoring job-local scope resources that never enter the
// shared VFS tree) can rank by the same metric without duplicating it.
func CosineSimilarity(a, b []float32) (float64, error) {
	return cosineSimilarity(a, b)
}

func cosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, newError("", ErrDimMismatch, nil)
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// resultHeap is a min-heap over SearchResult ordered by rank so the
// weakest of the current top-k sits at the root and can be evicted in
// O(log k) when a better candidate arrives.
type resultHeap []SearchResult

func (h resultHeap) Len() int { return len(h) }
func (h resultHeap) Less(i, j int) bool {
	// Min-heap on rank: the weakest result (by better()) sorts first.
	return better(h[j], h[i])
}
func (h resultHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *resultHeap) Push(x any) { *h = append(*h, x.(SearchResult)) }

func (h *resultHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
