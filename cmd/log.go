package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/eagleaccess/eagle/internal/accesslog"
	"github.com/eagleaccess/eagle/internal/config"
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show recent access decisions",
	RunE:  runLog,
}

func init() {
	rootCmd.AddCommand(logCmd)

	logCmd.Flags().Int("limit", 20, "Number of entries to show (0 = all)")
	logCmd.Flags().Bool("json", false, "Output as JSON")
}

func runLog(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	entries, err := accesslog.Open(cfg.Storage.AccessLogFile).Recent(context.Background(), mustGetInt(cmd, "limit"))
	if err != nil {
		return err
	}

	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	if len(entries) == 0 {
		fmt.Println("No access decisions logged")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tSTATUS\tUSER\tDISTANCE")
	for _, e := range entries {
		user := e.UserName
		if user == "" {
			user = "-"
		}
		status := string(e.Status)
		if e.Ambiguous {
			status += " (ambiguous)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.4f\n", e.Time.Format("2006-01-02 15:04:05"), status, user, e.Distance)
	}
	return w.Flush()
}
