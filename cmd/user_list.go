package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/eagleaccess/eagle/internal/config"
	"github.com/eagleaccess/eagle/internal/registry"
)

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered users",
	RunE:  runUserList,
}

func init() {
	userCmd.AddCommand(userListCmd)

	userListCmd.Flags().Bool("json", false, "Output as JSON")
}

func runUserList(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	reg, err := registry.Open(cfg.Storage.UsersFile)
	if err != nil {
		return fmt.Errorf("opening user registry: %w", err)
	}

	users, err := reg.List(context.Background())
	if err != nil {
		return err
	}

	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(users)
	}

	if len(users) == 0 {
		fmt.Println("No users registered")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tREGISTERED\tIMAGES")
	for _, u := range users {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", u.ID, u.Name, u.CreatedAt.Format("2006-01-02"), len(u.ImageRefs))
	}
	return w.Flush()
}
