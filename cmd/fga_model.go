/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>

*/
package cmd

import (
	"fmt"

	"github.com/mautops/branch-ops/internal/auth"
	"github.com/spf13/cobra"
)

// fgaModelCmd represents the fga-model command
var fgaModelCmd = &cobra.Command{
	Use:   "fga-model",
	Short: "Print the OpenFGA authorization model",
	Long: `Print the OpenFGA authorization model (DSL) used for branch and
department relations. Pipe it into "fga model write --file -" to load
it into a store.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), auth.GetPermissionModel())
		return err
	},
}

func init() {
	rootCmd.AddCommand(fgaModelCmd)
}
