package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "eagle",
	Short: "Face-recognition access control from the command line",
	Long: `Eagle Access manages identity-by-face access control: it enrolls users
from face photos, stores the derived embeddings, and verifies a query
photo against the enrolled set to grant or deny access.

Embeddings are computed by an external face embedding service
(EAGLE_EXTRACTOR_URL); storage is a local JSON file by default, or
PostgreSQL with pgvector when DATABASE_URL is set.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
