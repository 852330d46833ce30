package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/eagleaccess/eagle/internal/access"
	"github.com/eagleaccess/eagle/internal/accesslog"
	"github.com/eagleaccess/eagle/internal/config"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <image>",
	Short: "Verify a face image against the enrolled set",
	Long: `Verify a captured face image against all enrolled users and print the
access decision. "Denied" is a normal outcome, not an error; the command
fails only when extraction or storage fails.

Every decision is appended to the access log (EAGLE_LOG_FILE).

Examples:
  # Verify a captured frame
  eagle verify frame.jpg

  # Stricter threshold than the model default
  eagle verify frame.jpg --threshold 0.35

  # Machine-readable output
  eagle verify frame.jpg --json`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().Float64("threshold", 0, "Maximum distance for a match (0 = configured default)")
	verifyCmd.Flags().Bool("json", false, "Output as JSON")
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg := config.Load()

	if t := mustGetFloat64(cmd, "threshold"); t > 0 {
		cfg.Matching.Threshold = t
	}

	imageData, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}

	svc, cleanup, err := buildService(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer cleanup()

	decision, err := svc.Verify(ctx, imageData)
	if err != nil && !errors.Is(err, access.ErrAccessLogWrite) {
		return err
	}
	logErr := err

	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(decision); err != nil {
			return err
		}
	} else {
		printDecision(decision)
	}

	if logErr != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", logErr)
	}
	return nil
}

func printDecision(d access.Decision) {
	switch {
	case d.Ambiguous:
		fmt.Printf("Access DENIED (ambiguous match, distance %.4f)\n", d.Distance)
		fmt.Println("Two or more enrolled users are equally close to this face; re-capture and retry.")
	case d.Status == accesslog.StatusGranted:
		fmt.Printf("Access GRANTED: %s (id=%s, distance %.4f)\n", d.UserName, d.UserID, d.Distance)
	default:
		fmt.Printf("Access DENIED (distance %.4f)\n", d.Distance)
	}

	if len(d.Scores) > 1 {
		fmt.Printf("Scores:")
		for _, m := range []string{"cosine", "euclidean", "manhattan"} {
			if v, ok := d.Scores[m]; ok {
				fmt.Printf(" %s=%.4f", m, v)
			}
		}
		fmt.Println()
	}
}
