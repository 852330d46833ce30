package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eagleaccess/eagle/internal/config"
	"github.com/eagleaccess/eagle/internal/registry"
)

var userAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Register a new user",
	Long: `Register a new user in the registry. Names must be unique; comparison
ignores case and diacritics, so "Jiří" and "jiri" collide.

Registering a user does not enroll any face data - run "eagle enroll"
with captured photos afterwards.`,
	Args: cobra.ExactArgs(1),
	RunE: runUserAdd,
}

func init() {
	userCmd.AddCommand(userAddCmd)
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	reg, err := registry.Open(cfg.Storage.UsersFile)
	if err != nil {
		return fmt.Errorf("opening user registry: %w", err)
	}

	u, err := reg.Add(context.Background(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Created user %q (id=%s)\n", u.Name, u.ID)
	fmt.Printf("Enroll face data with: eagle enroll %s <images...>\n", u.ID)
	return nil
}
