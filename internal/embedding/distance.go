package embedding

import (
	"fmt"
	"math"
)

// Metric identifies the distance function used to compare embeddings.
// The metric is fixed per deployment; mixing metrics across a store
// makes thresholds meaningless.
type Metric string

const (
	MetricCosine    Metric = "cosine"
	MetricEuclidean Metric = "euclidean"
	MetricManhattan Metric = "manhattan"
)

// ParseMetric validates a metric name from configuration.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case MetricCosine, MetricEuclidean, MetricManhattan:
		return Metric(s), nil
	}
	return "", fmt.Errorf("unknown distance metric %q", s)
}

// Distance computes the distance between two embeddings using the metric.
// Both embeddings must have the same dimensionality.
func (m Metric) Distance(a, b Embedding) (float64, error) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, fmt.Errorf("%w: got %d and %d", ErrDimensionMismatch, len(a), len(b))
	}
	switch m {
	case MetricEuclidean:
		return euclideanDistance(a, b), nil
	case MetricManhattan:
		return manhattanDistance(a, b), nil
	default:
		return CosineDistance(a, b), nil
	}
}

// CosineDistance computes the cosine distance between two vectors.
// Returns a value between 0 (identical direction) and 2 (opposite).
// Cosine distance = 1 - cosine similarity.
func CosineDistance(a, b Embedding) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2.0 // Maximum distance for invalid input
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 2.0 // Maximum distance for zero vectors
	}

	similarity := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to [-1, 1] to handle floating point errors
	if similarity > 1 {
		similarity = 1
	}
	if similarity < -1 {
		similarity = -1
	}

	return 1 - similarity
}

func euclideanDistance(a, b Embedding) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

func manhattanDistance(a, b Embedding) float64 {
	var sum float64
	for i := range a {
		sum += math.Abs(float64(a[i]) - float64(b[i]))
	}
	return sum
}

// Normalize returns an L2-normalized copy of the embedding. Normalizing
// before cosine comparison matches how the extraction models are trained.
// Zero vectors are returned unchanged.
func Normalize(e Embedding) Embedding {
	var norm float64
	for _, v := range e {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return e.Clone()
	}
	norm = math.Sqrt(norm)
	out := make(Embedding, len(e))
	for i, v := range e {
		out[i] = float32(float64(v) / norm)
	}
	return out
}

// Mean averages multiple embeddings into a single vector. All inputs must
// share the same dimensionality. Used by opt-in averaged enrollment.
func Mean(embeddings []Embedding) (Embedding, error) {
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("%w: no embeddings to average", ErrDimensionMismatch)
	}
	dim := len(embeddings[0])
	for _, e := range embeddings {
		if len(e) != dim {
			return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(e), dim)
		}
	}
	sums := make([]float64, dim)
	for _, e := range embeddings {
		for i, v := range e {
			sums[i] += float64(v)
		}
	}
	out := make(Embedding, dim)
	for i, s := range sums {
		out[i] = float32(s / float64(len(embeddings)))
	}
	return out, nil
}
