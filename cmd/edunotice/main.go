package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// @title EduNotice ops API
// @version 1.0.0
// @description Crawl ingestion, notification runs and activity digests for lab cloud subscriptions
// @BasePath /
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "edunotice",
		Short:         "EduNotice ingests crawl snapshots and notifies subscription owners",
		Long:          `EduNotice stores periodic crawls of lab cloud subscriptions, detects new, updated, nearly exhausted and nearly expired subscriptions, and emails the people involved.`,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(
		newIngestCommand(),
		newSummaryCommand(),
		newMigrateCommand(),
		newServeCommand(),
		newTokenCommand(),
		newCleanupCommand(),
		newVersionCommand(),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
