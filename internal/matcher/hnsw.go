package matcher

import (
	"math"
	"sync"

	"github.com/coder/hnsw"

	"github.com/eagleaccess/eagle/internal/embedding"
	"github.com/eagleaccess/eagle/internal/store"
)

// hnswMaxNeighbors is the M parameter of the HNSW graph.
const hnswMaxNeighbors = 16

// hnswCandidates is how many nearest neighbors are pulled from the graph
// per query. Exact distances are recomputed over this candidate set, so it
// must be wide enough to catch ambiguity between identities.
const hnswCandidates = 32

// Index is an in-memory HNSW index over all stored embeddings, keyed by
// enrollment row id. It trades exactness of the linear scan for sublinear
// search on large stores; the matcher recomputes exact distances over the
// returned candidates with the configured metric.
type Index struct {
	mu           sync.RWMutex
	graph        *hnsw.Graph[int64]
	idToEnrolled map[int64]*store.Enrollment
	metric       embedding.Metric
	dim          int
}

// NewIndex creates an empty HNSW index using the given metric for graph
// construction.
func NewIndex(metric embedding.Metric) *Index {
	return &Index{
		idToEnrolled: make(map[int64]*store.Enrollment),
		metric:       metric,
	}
}

func (ix *Index) distanceFunc() hnsw.DistanceFunc {
	switch ix.metric {
	case embedding.MetricEuclidean:
		return hnsw.EuclideanDistance
	case embedding.MetricManhattan:
		return manhattanDistance32
	default:
		return hnsw.CosineDistance
	}
}

func manhattanDistance32(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return sum
}

// Build replaces the index contents from a store snapshot.
func (ix *Index) Build(enrollments []store.Enrollment) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if len(enrollments) == 0 {
		ix.graph = nil
		ix.idToEnrolled = make(map[int64]*store.Enrollment)
		ix.dim = 0
		return nil
	}

	g := hnsw.NewGraph[int64]()
	g.M = hnswMaxNeighbors
	g.Ml = 1.0 / float64(hnswMaxNeighbors) // Standard HNSW formula
	g.Distance = ix.distanceFunc()

	ix.idToEnrolled = make(map[int64]*store.Enrollment, len(enrollments))
	ix.dim = 0

	for i := range enrollments {
		e := &enrollments[i]
		if len(e.Embedding) == 0 {
			continue
		}
		if ix.dim == 0 {
			ix.dim = e.Embedding.Dim()
		}
		g.Add(hnsw.MakeNode(e.ID, e.Embedding))
		ix.idToEnrolled[e.ID] = e
	}

	ix.graph = g
	return nil
}

// Add inserts a single enrollment into the index.
func (ix *Index) Add(e store.Enrollment) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if len(e.Embedding) == 0 {
		return nil
	}
	if ix.dim != 0 && e.Embedding.Dim() != ix.dim {
		return embedding.ErrDimensionMismatch
	}

	if ix.graph == nil {
		ix.graph = hnsw.NewGraph[int64]()
		ix.graph.M = hnswMaxNeighbors
		ix.graph.Ml = 1.0 / float64(hnswMaxNeighbors)
		ix.graph.Distance = ix.distanceFunc()
	}
	if ix.dim == 0 {
		ix.dim = e.Embedding.Dim()
	}

	ix.graph.Add(hnsw.MakeNode(e.ID, e.Embedding))
	ix.idToEnrolled[e.ID] = &e
	return nil
}

// Remove drops all enrollments owned by the identity from the index.
func (ix *Index) Remove(identity string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.graph == nil {
		return
	}
	for id, e := range ix.idToEnrolled {
		if e.Identity == identity {
			ix.graph.Delete(id)
			delete(ix.idToEnrolled, id)
		}
	}
}

// Count returns the number of indexed embeddings.
func (ix *Index) Count() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.idToEnrolled)
}

// MatchIndexed resolves a query against the index: candidate search on the
// graph, then the same per-identity reduction, threshold and ambiguity
// policy as the linear scan.
func (m *Matcher) MatchIndexed(query embedding.Embedding, ix *Index) (Result, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if ix.graph == nil || len(ix.idToEnrolled) == 0 {
		return Result{Matched: false, Distance: math.Inf(1)}, nil
	}
	if err := query.Validate(ix.dim); err != nil {
		return Result{}, err
	}

	k := hnswCandidates
	if n := len(ix.idToEnrolled); k > n {
		k = n
	}
	neighbors := ix.graph.Search(query, k)

	perIdentity := make(map[string]float64)
	for _, n := range neighbors {
		e, ok := ix.idToEnrolled[n.Key]
		if !ok {
			continue
		}
		// Recompute the exact distance with the configured metric; the
		// graph's own ordering is approximate.
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
	return m.decide(bests, len(neighbors)), nil
}
