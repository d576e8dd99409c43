package rag

import (
	"math"
	"sort"
)

// CosineDistance is 1 - cosine similarity, clamped to [0, 2]. Mismatched or
// zero-length vectors are maximally distant.
func CosineDistance(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 2
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA <= 0 || normB <= 0 {
		return 2
	}
	d := 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
	switch {
	case d < 0:
		return 0
	case d > 2:
		return 2
	}
	return d
}

// RankByDistance scores every record against query and keeps the topN
// closest, ties broken by chunk id so the order is stable.
func RankByDistance(query []float32, records []Record, topN int) []Result {
	results := make([]Result, len(records))
	for i, r := range records {
		results[i] = Result{Chunk: r.Chunk, Distance: CosineDistance(query, r.Embedding)}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ID < results[j].ID
	})
	if topN > 0 && len(results) > topN {
		results = results[:topN]
	}
	return results
}
