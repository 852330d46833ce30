package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eagleaccess/eagle/internal/config"
)

var userRemoveCmd = &cobra.Command{
	Use:   "remove <name-or-id>",
	Short: "Delete a user and all of their enrolled embeddings",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserRemove,
}

func init() {
	userCmd.AddCommand(userRemoveCmd)
}

func runUserRemove(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg := config.Load()

	svc, cleanup, err := buildService(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer cleanup()

	u, err := svc.RemoveUser(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Deleted user %q (id=%s) and their embeddings\n", u.Name, u.ID)
	return nil
}
