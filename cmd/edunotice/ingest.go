package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newIngestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <crawl.csv>",
		Short: "Ingest a crawl file and send the resulting notifications",
		Long: `Ingest stores every snapshot in the crawl file, then sends registration, update, usage and expiry notices.
The exit code is non-zero when the file is malformed or a subscription could not be stored; failed deliveries
are reported but do not change the exit code.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnvironment("ingest")
			if err != nil {
				return err
			}
			defer env.close()

			ctx := cmd.Context()
			a, err := env.app(ctx)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			run, err := a.Runs.RunFile(ctx, args[0])
			if run != nil {
				out, _ := json.MarshalIndent(run, "", "  ")
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
			}
			if err != nil {
				env.log.Error("ingest failed", zap.String("file", args[0]), zap.Error(err))
				return fmt.Errorf("ingest %s: %w", args[0], err)
			}
			return nil
		},
	}
}
