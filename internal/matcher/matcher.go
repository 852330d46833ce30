// Package matcher decides which enrolled identity, if any, a query face
// embedding belongs to. Matching is a linear scan over all stored
// embeddings with a best-of-N reduction per identity; an optional HNSW
// index accelerates candidate search for large stores.
package matcher

import (
	"fmt"
	"math"

	"github.com/eagleaccess/eagle/internal/embedding"
	"github.com/eagleaccess/eagle/internal/store"
)

// DefaultEpsilon is the absolute distance tolerance within which two
// different identities are considered equally close, making the match
// ambiguous rather than an arbitrary pick.
const DefaultEpsilon = 1e-9

// Result is the outcome of matching a query embedding against the
// enrolled set. "No match" is a normal value, not an error.
type Result struct {
	Matched   bool    `json:"matched"`
	Identity  string  `json:"identity,omitempty"`
	Distance  float64 `json:"distance"`
	Ambiguous bool    `json:"ambiguous,omitempty"`
	Compared  int     `json:"compared"` // number of embeddings scanned
}

// Matcher holds the deployment-fixed matching parameters.
type Matcher struct {
	metric    embedding.Metric
	threshold float64
	epsilon   float64
}

// New creates a matcher. The threshold is the maximum distance at which a
// query is considered the same identity as a stored embedding.
func New(metric embedding.Metric, threshold float64) *Matcher {
	return &Matcher{
		metric:    metric,
		threshold: threshold,
		epsilon:   DefaultEpsilon,
	}
}

// Metric returns the configured distance metric.
func (m *Matcher) Metric() embedding.Metric { return m.metric }

// Threshold returns the configured distance threshold.
func (m *Matcher) Threshold() float64 { return m.threshold }

// identityBest tracks the closest embedding seen so far for one identity.
type identityBest struct {
	identity string
	distance float64
}

// Match scans every enrollment and returns the closest identity under the
// threshold. An identity with multiple embeddings is represented by its
// single closest one (best-of-N), so one good enrolled sample is enough.
//
// The query's dimensionality is checked against the enrolled set before
// any distance is computed; a mismatch fails with
// embedding.ErrDimensionMismatch and no partial scan is performed.
func (m *Matcher) Match(query embedding.Embedding, enrollments []store.Enrollment) (Result, error) {
	if len(enrollments) == 0 {
		return Result{Matched: false, Distance: math.Inf(1)}, nil
	}
	for i := range enrollments {
		if len(enrollments[i].Embedding) != len(query) {
			return Result{}, fmt.Errorf("query vs enrollment %d: %w: got %d, want %d",
				enrollments[i].ID, embedding.ErrDimensionMismatch, len(query), len(enrollments[i].Embedding))
		}
	}

	// Reduce to the per-identity minimum first; each identity's minimum is
	// independent, which keeps the scan trivially parallelizable later.
	perIdentity := make(map[string]float64)
	for i := range enrollments {
		e := &enrollments[i]
		d, err := m.metric.Distance(query, e.Embedding)
		if err != nil {
			return Result{}, err
		}
		if best, ok := perIdentity[e.Identity]; !ok || d < best {
			perIdentity[e.Identity] = d
		}
	}

	bests := make([]identityBest, 0, len(perIdentity))
	for identity, d := range perIdentity {
		bests = append(bests, identityBest{identity: identity, distance: d})
	}
	return m.decide(bests, len(enrollments)), nil
}

// decide turns per-identity best distances into a match decision.
func (m *Matcher) decide(bests []identityBest, compared int) Result {
	min := math.Inf(1)
	winner := ""
	for _, b := range bests {
		if b.distance < min {
			min = b.distance
			winner = b.identity
		}
	}

	res := Result{Distance: min, Compared: compared}
	if min > m.threshold {
		return res
	}

	// A second identity within epsilon of the minimum makes the decision
	// ambiguous. Multiple embeddings of the winning identity do not.
	for _, b := range bests {
		if b.identity != winner && math.Abs(b.distance-min) <= m.epsilon {
			res.Ambiguous = true
			res.Distance = min
			return res
		}
	}

	res.Matched = true
	res.Identity = winner
	return res
}
