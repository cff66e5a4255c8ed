package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCleanupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete archived crawl files and digest exports past retention",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnvironment("cleanup")
			if err != nil {
				return err
			}
			defer env.close()

			a, err := env.app(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			deleted, err := a.Exports.Cleanup(0)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d file(s)\n", len(deleted))
			return nil
		},
	}
}
