// Package access wires the registry, embedding store, extractor and
// matcher into the two operations the system exists for: enrolling a user
// from face images and verifying a live-captured face against the
// enrolled set.
package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eagleaccess/eagle/internal/accesslog"
	"github.com/eagleaccess/eagle/internal/embedding"
	"github.com/eagleaccess/eagle/internal/extractor"
	"github.com/eagleaccess/eagle/internal/matcher"
	"github.com/eagleaccess/eagle/internal/registry"
	"github.com/eagleaccess/eagle/internal/store"
)

// ErrAccessLogWrite marks a verification that produced a valid decision
// but failed to record it. The decision returned alongside this error is
// still usable; callers must not conflate the two.
var ErrAccessLogWrite = errors.New("access log write failed")

// Decision is the user-facing outcome of a verification attempt.
type Decision struct {
	Status    accesslog.Status   `json:"status"`
	UserID    string             `json:"user_id,omitempty"`
	UserName  string             `json:"user_name,omitempty"`
	Distance  float64            `json:"distance"`
	Ambiguous bool               `json:"ambiguous,omitempty"`
	Scores    map[string]float64 `json:"scores,omitempty"`
	Time      time.Time          `json:"time"`
}

// Service owns the matching core's collaborators. Construct once at
// startup; multiple services over different stores are possible.
type Service struct {
	registry  *registry.Registry
	store     store.Store
	extractor extractor.Extractor
	matcher   *matcher.Matcher
	index     *matcher.Index // nil = linear scan
	log       *accesslog.Log // nil = decisions are not recorded
}

// Option configures optional service collaborators.
type Option func(*Service)

// WithIndex enables HNSW-accelerated matching. The index is built from
// the store and kept in sync on enroll/remove.
func WithIndex(ix *matcher.Index) Option {
	return func(s *Service) { s.index = ix }
}

// WithAccessLog records every verification decision.
func WithAccessLog(l *accesslog.Log) Option {
	return func(s *Service) { s.log = l }
}

// NewService creates the access service.
func NewService(reg *registry.Registry, st store.Store, ex extractor.Extractor, m *matcher.Matcher, opts ...Option) (*Service, error) {
	s := &Service{
		registry:  reg,
		store:     st,
		extractor: ex,
		matcher:   m,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.index != nil {
		enrollments, err := s.store.All(context.Background())
		if err != nil {
			return nil, fmt.Errorf("loading enrollments for index: %w", err)
		}
		if err := s.index.Build(enrollments); err != nil {
			return nil, fmt.Errorf("building match index: %w", err)
		}
	}
	return s, nil
}

// Registry exposes the user registry for listing and metadata queries.
func (s *Service) Registry() *registry.Registry { return s.registry }

// Store exposes the enrollment store for stats queries.
func (s *Service) Store() store.Store { return s.store }

// Enroll extracts an embedding from each image and stores them all for
// the user. With average set, the mean of all extracted embeddings is
// stored as a single vector instead. The progress callback, if non-nil,
// is invoked after each processed image.
func (s *Service) Enroll(ctx context.Context, userRef string, images [][]byte, sources []string, average bool, progress func(done int)) (int, error) {
	u, err := s.registry.Get(ctx, userRef)
	if err != nil {
		return 0, err
	}
	if len(images) == 0 {
		return 0, errors.New("no images to enroll")
	}

	embeddings := make([]embedding.Embedding, 0, len(images))
	refs := make([]string, 0, len(images))
	for i, img := range images {
		emb, err := s.extractor.Extract(ctx, img)
		if err != nil {
			subject := fmt.Sprintf("image %d", i+1)
			if i < len(sources) && sources[i] != "" {
				subject = sources[i]
			}
			return 0, fmt.Errorf("extracting %s: %w", subject, err)
		}
		embeddings = append(embeddings, emb)
		if i < len(sources) {
			refs = append(refs, sources[i])
		}
		if progress != nil {
			progress(i + 1)
		}
	}

	if average {
		mean, err := embedding.Mean(embeddings)
		if err != nil {
			return 0, err
		}
		embeddings = []embedding.Embedding{mean}
	}

	stored := 0
	for i, emb := range embeddings {
		source := ""
		if !average && i < len(refs) {
			source = refs[i]
		}
		e, err := s.store.Add(ctx, u.ID, emb, source)
		if err != nil {
			return stored, fmt.Errorf("storing embedding for %q: %w", u.Name, err)
		}
		stored++
		if s.index != nil {
			if err := s.index.Add(e); err != nil {
				return stored, fmt.Errorf("indexing embedding for %q: %w", u.Name, err)
			}
		}
	}

	if err := s.registry.AddImageRefs(ctx, u.ID, refs...); err != nil {
		return stored, err
	}
	return stored, nil
}

// Verify extracts a face embedding from the image and matches it against
// the enrolled set. "No match" is a denied decision, not an error. If an
// access log is configured and its write fails, the decision is returned
// together with an error wrapping ErrAccessLogWrite.
func (s *Service) Verify(ctx context.Context, imageData []byte) (Decision, error) {
	query, err := s.extractor.Extract(ctx, imageData)
	if err != nil {
		return Decision{}, err
	}
	return s.VerifyEmbedding(ctx, query)
}

// VerifyEmbedding matches an already-extracted embedding. Split out so
// consumers that receive embeddings directly (or tests with a stub
// extractor) can bypass image handling.
func (s *Service) VerifyEmbedding(ctx context.Context, query embedding.Embedding) (Decision, error) {
	var res matcher.Result
	var enrollments []store.Enrollment
	var err error

	if s.index != nil {
		res, err = s.matcher.MatchIndexed(query, s.index)
	} else {
		enrollments, err = s.store.All(ctx)
		if err != nil {
			return Decision{}, fmt.Errorf("loading enrollments: %w", err)
		}
		res, err = s.matcher.Match(query, enrollments)
	}
	if err != nil {
		return Decision{}, err
	}

	d := Decision{
		Status:    accesslog.StatusDenied,
		Distance:  res.Distance,
		Ambiguous: res.Ambiguous,
		Scores:    s.scores(query, res, enrollments),
		Time:      time.Now().UTC(),
	}
	if res.Matched {
		d.Status = accesslog.StatusGranted
		d.UserID = res.Identity
		if u, err := s.registry.Get(ctx, res.Identity); err == nil {
			d.UserName = u.Name
		}
	}

	if s.log != nil {
		entry := accesslog.Entry{
			Status:    d.Status,
			UserID:    d.UserID,
			UserName:  d.UserName,
			Distance:  d.Distance,
			Ambiguous: d.Ambiguous,
			Scores:    d.Scores,
			Time:      d.Time,
		}
		if err := s.log.Append(ctx, entry); err != nil {
			return d, fmt.Errorf("%w: %v", ErrAccessLogWrite, err)
		}
	}
	return d, nil
}

// RemoveUser deletes a user from the registry and removes all of their
// embeddings. A user that was registered but never enrolled is removed
// without error.
func (s *Service) RemoveUser(ctx context.Context, idOrName string) (registry.User, error) {
	u, err := s.registry.Remove(ctx, idOrName)
	if err != nil {
		return registry.User{}, err
	}

	if err := s.store.Remove(ctx, u.ID); err != nil && !errors.Is(err, store.ErrIdentityNotFound) {
		return u, fmt.Errorf("removing embeddings for %q: %w", u.Name, err)
	}
	if s.index != nil {
		s.index.Remove(u.ID)
	}
	return u, nil
}

// scores computes the distance under every supported metric between the
// query and the matched identity's closest embedding. The original system
// logged all three for threshold analysis; only the configured metric
// decides. With the HNSW path the snapshot is not loaded, so only the
// decision metric is reported.
func (s *Service) scores(query embedding.Embedding, res matcher.Result, enrollments []store.Enrollment) map[string]float64 {
	out := map[string]float64{string(s.matcher.Metric()): res.Distance}
	if !res.Matched || enrollments == nil {
		return out
	}

	var closest embedding.Embedding
	best := -1.0
	for i := range enrollments {
		e := &enrollments[i]
		if e.Identity != res.Identity {
			continue
		}
		d, err := s.matcher.Metric().Distance(query, e.Embedding)
		if err != nil {
			continue
		}
		if best < 0 || d < best {
			best = d
			closest = e.Embedding
		}
	}
	if closest == nil {
		return out
	}

	for _, m := range []embedding.Metric{embedding.MetricCosine, embedding.MetricEuclidean, embedding.MetricManhattan} {
		if d, err := m.Distance(query, closest); err == nil {
			out[string(m)] = d
		}
	}
	return out
}
