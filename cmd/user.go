package cmd

import (
	"github.com/spf13/cobra"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage registered users",
}

func init() {
	rootCmd.AddCommand(userCmd)
}
