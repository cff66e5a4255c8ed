package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/noah-isme/edunotice/internal/models"
	"github.com/noah-isme/edunotice/internal/service"
)

func newSummaryCommand() *cobra.Command {
	var exportFormat string
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Email the activity digest since the previous one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var format models.ExportFormat
			if exportFormat != "" {
				parsed, err := service.ParseFormat(exportFormat)
				if err != nil {
					return err
				}
				format = parsed
			}

			env, err := loadEnvironment("summary")
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

			result, err := a.Summary.Send(ctx, time.Now().UTC(), format)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "digest sent: %d new, %d updated, %d notices\n",
				len(result.Digest.New), len(result.Digest.Updated), len(result.Digest.Notices))
			if result.Export != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "export written to %s\n", result.Export.RelativePath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&exportFormat, "export", "", "Also export the digest (csv or pdf)")
	return cmd
}
