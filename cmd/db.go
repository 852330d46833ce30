package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eagleaccess/eagle/internal/config"
	"github.com/eagleaccess/eagle/internal/store/postgres"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the PostgreSQL enrollment store",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the pgvector extension and enrollment tables",
	RunE:  runDBMigrate,
}

var dbIndexCmd = &cobra.Command{
	Use:   "index",
	Short: "Create the IVFFlat vector index for similarity search",
	Long: `Create the IVFFlat vector index on the enrollments table. Run this
after the table has some data; IVFFlat builds its lists from existing rows.`,
	RunE: runDBIndex,
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbIndexCmd)
}

func openPool(cfg *config.Config) (*postgres.Pool, error) {
	if cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL environment variable is required")
	}
	pool, err := postgres.NewPool(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connecting to PostgreSQL: %w", err)
	}
	return pool, nil
}

func runDBMigrate(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	profile := cfg.ModelProfile()
	if profile.Dim == 0 {
		return fmt.Errorf("model %q has no known dimensionality; cannot size the vector column", cfg.Extractor.Model)
	}

	pool, err := openPool(cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pool.Migrate(context.Background(), profile.Dim); err != nil {
		return err
	}
	fmt.Printf("Migrations applied (embedding dim %d)\n", profile.Dim)
	return nil
}

func runDBIndex(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	pool, err := openPool(cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pool.CreateVectorIndex(context.Background()); err != nil {
		return err
	}
	fmt.Println("Vector index created")
	return nil
}
