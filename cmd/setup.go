package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/eagleaccess/eagle/internal/access"
	"github.com/eagleaccess/eagle/internal/accesslog"
	"github.com/eagleaccess/eagle/internal/config"
	"github.com/eagleaccess/eagle/internal/embedding"
	"github.com/eagleaccess/eagle/internal/extractor"
	"github.com/eagleaccess/eagle/internal/matcher"
	"github.com/eagleaccess/eagle/internal/registry"
	"github.com/eagleaccess/eagle/internal/store"
	"github.com/eagleaccess/eagle/internal/store/postgres"
)

// buildStore selects the enrollment store backend: PostgreSQL with
// pgvector when DATABASE_URL is set, the JSON file store otherwise.
func buildStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.Database.URL != "" {
		profile := cfg.ModelProfile()
		if profile.Dim == 0 {
			return nil, fmt.Errorf("model %q has no known dimensionality; the PostgreSQL store requires one", cfg.Extractor.Model)
		}
		pool, err := postgres.NewPool(&cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connecting to PostgreSQL: %w", err)
		}
		if err := pool.Migrate(ctx, profile.Dim); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
		return postgres.NewEnrollmentRepository(pool, profile.Dim), nil
	}

	s, err := store.OpenFileStore(cfg.Storage.EmbeddingsFile, cfg.Extractor.Model)
	if err != nil {
		return nil, fmt.Errorf("opening embedding store: %w", err)
	}
	return s, nil
}

// buildService wires the full access service from configuration. The
// returned cleanup closes the store.
func buildService(ctx context.Context, cfg *config.Config, withAccessLog bool) (*access.Service, func(), error) {
	metric, err := embedding.ParseMetric(cfg.Matching.Metric)
	if err != nil {
		return nil, nil, err
	}

	threshold := cfg.EffectiveThreshold()
	if threshold <= 0 {
		return nil, nil, fmt.Errorf("no matching threshold for model %q with metric %q; set EAGLE_THRESHOLD", cfg.Extractor.Model, metric)
	}

	policy, err := extractor.ParseFacePolicy(cfg.Extractor.FacePolicy)
	if err != nil {
		return nil, nil, err
	}

	reg, err := registry.Open(cfg.Storage.UsersFile)
	if err != nil {
		return nil, nil, fmt.Errorf("opening user registry: %w", err)
	}

	st, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	client := extractor.NewClient(cfg.Extractor.URL, cfg.Extractor.Model, policy, cfg.Extractor.MaxImageSize)
	m := matcher.New(metric, threshold)

	var opts []access.Option
	if cfg.Matching.HNSW {
		opts = append(opts, access.WithIndex(matcher.NewIndex(metric)))
	}
	if withAccessLog {
		opts = append(opts, access.WithAccessLog(accesslog.Open(cfg.Storage.AccessLogFile)))
	}

	svc, err := access.NewService(reg, st, client, m, opts...)
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	cleanup := func() {
		if err := st.Close(); err != nil && !errors.Is(err, context.Canceled) {
			fmt.Printf("Warning: closing store: %v\n", err)
		}
	}
	return svc, cleanup, nil
}
