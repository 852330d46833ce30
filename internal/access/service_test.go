package access

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/eagleaccess/eagle/internal/accesslog"
	"github.com/eagleaccess/eagle/internal/embedding"
	"github.com/eagleaccess/eagle/internal/matcher"
	"github.com/eagleaccess/eagle/internal/registry"
	"github.com/eagleaccess/eagle/internal/store/mock"
)

// stubExtractor maps raw image bytes to a canned embedding, keyed by the
// image content as a string.
type stubExtractor struct {
	embeddings map[string]embedding.Embedding
	err        error
}

func (s *stubExtractor) Extract(ctx context.Context, imageData []byte) (embedding.Embedding, error) {
	if s.err != nil {
		return nil, s.err
	}
	emb, ok := s.embeddings[string(imageData)]
	if !ok {
		return nil, errors.New("no canned embedding for image")
	}
	return emb, nil
}

type fixture struct {
	svc      *Service
	registry *registry.Registry
	store    *mock.Store
	stub     *stubExtractor
}

func newFixture(t *testing.T, threshold float64, opts ...Option) *fixture {
	t.Helper()
	reg, err := registry.Open(filepath.Join(t.TempDir(), "users.json"))
	if err != nil {
		t.Fatalf("opening registry: %v", err)
	}
	st := mock.New()
	stub := &stubExtractor{embeddings: make(map[string]embedding.Embedding)}

	svc, err := NewService(reg, st, stub, matcher.New(embedding.MetricCosine, threshold), opts...)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return &fixture{svc: svc, registry: reg, store: st, stub: stub}
}

func TestEnroll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0.5)

	u, err := f.registry.Add(ctx, "Alice")
	if err != nil {
		t.Fatalf("registering user: %v", err)
	}
	f.stub.embeddings["img1"] = embedding.Embedding{1, 0, 0}
	f.stub.embeddings["img2"] = embedding.Embedding{0.9, 0.1, 0}

	var progressCalls int
	stored, err := f.svc.Enroll(ctx, "alice", [][]byte{[]byte("img1"), []byte("img2")},
		[]string{"img1.jpg", "img2.jpg"}, false, func(done int) { progressCalls++ })
	if err != nil {
		t.Fatalf("Enroll failed: %v", err)
	}
	if stored != 2 {
		t.Errorf("expected 2 stored embeddings, got %d", stored)
	}
	if progressCalls != 2 {
		t.Errorf("expected 2 progress calls, got %d", progressCalls)
	}

	count, _ := f.store.Count(ctx)
	if count != 2 {
		t.Errorf("store holds %d embeddings, want 2", count)
	}

	got, err := f.registry.Get(ctx, u.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got.ImageRefs) != 2 {
		t.Errorf("expected 2 image refs, got %v", got.ImageRefs)
	}
}

func TestEnrollAverage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0.5)

	if _, err := f.registry.Add(ctx, "Alice"); err != nil {
		t.Fatalf("registering user: %v", err)
	}
	f.stub.embeddings["img1"] = embedding.Embedding{1, 0}
	f.stub.embeddings["img2"] = embedding.Embedding{0, 1}

	stored, err := f.svc.Enroll(ctx, "alice", [][]byte{[]byte("img1"), []byte("img2")},
		[]string{"a.jpg", "b.jpg"}, true, nil)
	if err != nil {
		t.Fatalf("Enroll failed: %v", err)
	}
	if stored != 1 {
		t.Errorf("expected 1 averaged embedding, got %d", stored)
	}

	all, _ := f.store.All(ctx)
	if len(all) != 1 {
		t.Fatalf("store holds %d embeddings, want 1", len(all))
	}
	want := embedding.Embedding{0.5, 0.5}
	for i := range want {
		if all[0].Embedding[i] != want[i] {
			t.Errorf("averaged embedding = %v, want %v", all[0].Embedding, want)
			break
		}
	}
}

func TestEnrollUnknownUser(t *testing.T) {
	f := newFixture(t, 0.5)
	_, err := f.svc.Enroll(context.Background(), "nobody", [][]byte{[]byte("img1")}, nil, false, nil)
	if !errors.Is(err, registry.ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}

func TestEnrollNoImages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0.5)
	if _, err := f.registry.Add(ctx, "Alice"); err != nil {
		t.Fatalf("registering user: %v", err)
	}
	if _, err := f.svc.Enroll(ctx, "alice", nil, nil, false, nil); err == nil {
		t.Error("expected error for empty image list")
	}
}

func TestEnrollExtractionFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0.5)
	if _, err := f.registry.Add(ctx, "Alice"); err != nil {
		t.Fatalf("registering user: %v", err)
	}
	f.stub.err = errors.New("service unavailable")

	_, err := f.svc.Enroll(ctx, "alice", [][]byte{[]byte("img1")}, []string{"img1.jpg"}, false, nil)
	if err == nil {
		t.Fatal("expected extraction error")
	}
	count, _ := f.store.Count(ctx)
	if count != 0 {
		t.Errorf("no embeddings should be stored on extraction failure, got %d", count)
	}
}

func TestEnrollExtractionFailureWithoutSources(t *testing.T) {
	// With no source names the failure message names the image by its
	// position instead of rendering an empty subject.
	ctx := context.Background()
	f := newFixture(t, 0.5)
	if _, err := f.registry.Add(ctx, "Alice"); err != nil {
		t.Fatalf("registering user: %v", err)
	}
	f.stub.err = errors.New("service unavailable")

	_, err := f.svc.Enroll(ctx, "alice", [][]byte{[]byte("img1")}, nil, false, nil)
	if err == nil {
		t.Fatal("expected extraction error")
	}
	if !strings.Contains(err.Error(), "image 1") {
		t.Errorf("expected error to name image 1, got %q", err)
	}
}

func enrollAlice(t *testing.T, f *fixture, emb embedding.Embedding) registry.User {
	t.Helper()
	ctx := context.Background()
	u, err := f.registry.Add(ctx, "Alice")
	if err != nil {
		t.Fatalf("registering user: %v", err)
	}
	f.stub.embeddings["alice.jpg"] = emb
	if _, err := f.svc.Enroll(ctx, u.ID, [][]byte{[]byte("alice.jpg")}, []string{"alice.jpg"}, false, nil); err != nil {
		t.Fatalf("Enroll failed: %v", err)
	}
	return u
}

func TestVerifyGranted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0.5)
	u := enrollAlice(t, f, embedding.Embedding{1, 0, 0})

	f.stub.embeddings["probe.jpg"] = embedding.Embedding{0.99, 0.01, 0}
	d, err := f.svc.Verify(ctx, []byte("probe.jpg"))
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if d.Status != accesslog.StatusGranted {
		t.Errorf("expected granted, got %q (distance %v)", d.Status, d.Distance)
	}
	if d.UserID != u.ID {
		t.Errorf("matched user %q, want %q", d.UserID, u.ID)
	}
	if d.UserName != "Alice" {
		t.Errorf("expected resolved name Alice, got %q", d.UserName)
	}
	for _, metric := range []string{"cosine", "euclidean", "manhattan"} {
		if _, ok := d.Scores[metric]; !ok {
			t.Errorf("missing %s score in decision", metric)
		}
	}
}

func TestVerifyDenied(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0.1)
	enrollAlice(t, f, embedding.Embedding{1, 0, 0})

	d, err := f.svc.VerifyEmbedding(ctx, embedding.Embedding{0, 1, 0})
	if err != nil {
		t.Fatalf("VerifyEmbedding failed: %v", err)
	}
	if d.Status != accesslog.StatusDenied {
		t.Errorf("expected denied, got %q", d.Status)
	}
	if d.UserID != "" || d.UserName != "" {
		t.Errorf("denied decision should not name a user: %+v", d)
	}
}

func TestVerifyEmptyStore(t *testing.T) {
	f := newFixture(t, 0.5)
	d, err := f.svc.VerifyEmbedding(context.Background(), embedding.Embedding{1, 0})
	if err != nil {
		t.Fatalf("VerifyEmbedding failed: %v", err)
	}
	if d.Status != accesslog.StatusDenied {
		t.Errorf("expected denied, got %q", d.Status)
	}
	if !math.IsInf(d.Distance, 1) {
		t.Errorf("expected +Inf distance for empty store, got %v", d.Distance)
	}
}

func TestVerifyAmbiguous(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0.5)

	for _, name := range []string{"Bob", "Carol"} {
		u, err := f.registry.Add(ctx, name)
		if err != nil {
			t.Fatalf("registering %s: %v", name, err)
		}
		img := name + ".jpg"
		f.stub.embeddings[img] = embedding.Embedding{1, 0, 0}
		if _, err := f.svc.Enroll(ctx, u.ID, [][]byte{[]byte(img)}, []string{img}, false, nil); err != nil {
			t.Fatalf("Enroll failed: %v", err)
		}
	}

	d, err := f.svc.VerifyEmbedding(ctx, embedding.Embedding{1, 0, 0})
	if err != nil {
		t.Fatalf("VerifyEmbedding failed: %v", err)
	}
	if d.Status != accesslog.StatusDenied {
		t.Errorf("ambiguous match must be denied, got %q", d.Status)
	}
	if !d.Ambiguous {
		t.Error("expected decision to be flagged ambiguous")
	}
}

func TestVerifyWritesAccessLog(t *testing.T) {
	ctx := context.Background()
	logPath := filepath.Join(t.TempDir(), "access_log.json")
	f := newFixture(t, 0.5, WithAccessLog(accesslog.Open(logPath)))
	u := enrollAlice(t, f, embedding.Embedding{1, 0, 0})

	if _, err := f.svc.VerifyEmbedding(ctx, embedding.Embedding{1, 0, 0}); err != nil {
		t.Fatalf("VerifyEmbedding failed: %v", err)
	}
	if _, err := f.svc.VerifyEmbedding(ctx, embedding.Embedding{0, 0, 1}); err != nil {
		t.Fatalf("VerifyEmbedding failed: %v", err)
	}

	entries, err := accesslog.Open(logPath).Recent(ctx, 0)
	if err != nil {
		t.Fatalf("reading access log: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(entries))
	}
	if entries[0].Status != accesslog.StatusGranted || entries[0].UserID != u.ID {
		t.Errorf("first entry should record the grant: %+v", entries[0])
	}
	if entries[1].Status != accesslog.StatusDenied {
		t.Errorf("second entry should record the denial: %+v", entries[1])
	}
}

func TestVerifyLogWriteFailure(t *testing.T) {
	ctx := context.Background()

	// A log path under a regular file cannot be created, so the append
	// fails while the decision itself is fine.
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatalf("writing blocker file: %v", err)
	}
	logPath := filepath.Join(blocker, "access_log.json")

	f := newFixture(t, 0.5, WithAccessLog(accesslog.Open(logPath)))
	enrollAlice(t, f, embedding.Embedding{1, 0, 0})

	d, err := f.svc.VerifyEmbedding(ctx, embedding.Embedding{1, 0, 0})
	if !errors.Is(err, ErrAccessLogWrite) {
		t.Fatalf("expected ErrAccessLogWrite, got %v", err)
	}
	if d.Status != accesslog.StatusGranted {
		t.Errorf("decision should still be usable when logging fails, got %q", d.Status)
	}
}

func TestVerifyDimensionMismatch(t *testing.T) {
	f := newFixture(t, 0.5)
	enrollAlice(t, f, embedding.Embedding{1, 0, 0})

	_, err := f.svc.VerifyEmbedding(context.Background(), embedding.Embedding{1, 0})
	if !errors.Is(err, embedding.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestRemoveUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0.5)
	u := enrollAlice(t, f, embedding.Embedding{1, 0, 0})

	removed, err := f.svc.RemoveUser(ctx, "alice")
	if err != nil {
		t.Fatalf("RemoveUser failed: %v", err)
	}
	if removed.ID != u.ID {
		t.Errorf("removed user %q, want %q", removed.ID, u.ID)
	}

	count, _ := f.store.Count(ctx)
	if count != 0 {
		t.Errorf("embeddings should be gone, store holds %d", count)
	}
	if _, err := f.registry.Get(ctx, u.ID); !errors.Is(err, registry.ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound after removal, got %v", err)
	}
}

func TestRemoveUserWithoutEnrollments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0.5)
	if _, err := f.registry.Add(ctx, "Ghost"); err != nil {
		t.Fatalf("registering user: %v", err)
	}

	if _, err := f.svc.RemoveUser(ctx, "ghost"); err != nil {
		t.Errorf("removing a never-enrolled user should succeed, got %v", err)
	}
}

func TestServiceWithIndex(t *testing.T) {
	ctx := context.Background()

	reg, err := registry.Open(filepath.Join(t.TempDir(), "users.json"))
	if err != nil {
		t.Fatalf("opening registry: %v", err)
	}
	st := mock.New()
	stub := &stubExtractor{embeddings: map[string]embedding.Embedding{
		"alice.jpg": {1, 0, 0},
		"bob.jpg":   {0, 1, 0},
	}}

	ix := matcher.NewIndex(embedding.MetricCosine)
	svc, err := NewService(reg, st, stub, matcher.New(embedding.MetricCosine, 0.5), WithIndex(ix))
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	users := map[string]string{}
	for _, name := range []string{"Alice", "Bob"} {
		u, err := reg.Add(ctx, name)
		if err != nil {
			t.Fatalf("registering %s: %v", name, err)
		}
		users[name] = u.ID
		img := []byte(map[string]string{"Alice": "alice.jpg", "Bob": "bob.jpg"}[name])
		if _, err := svc.Enroll(ctx, u.ID, [][]byte{img}, nil, false, nil); err != nil {
			t.Fatalf("Enroll failed: %v", err)
		}
	}

	d, err := svc.VerifyEmbedding(ctx, embedding.Embedding{0.95, 0.05, 0})
	if err != nil {
		t.Fatalf("VerifyEmbedding failed: %v", err)
	}
	if d.Status != accesslog.StatusGranted || d.UserID != users["Alice"] {
		t.Errorf("expected Alice to be matched via the index, got %+v", d)
	}

	if _, err := svc.RemoveUser(ctx, "Alice"); err != nil {
		t.Fatalf("RemoveUser failed: %v", err)
	}
	d, err = svc.VerifyEmbedding(ctx, embedding.Embedding{0.95, 0.05, 0})
	if err != nil {
		t.Fatalf("VerifyEmbedding failed: %v", err)
	}
	if d.Status != accesslog.StatusDenied {
		t.Errorf("expected denial after removing the only close identity, got %+v", d)
	}
}
