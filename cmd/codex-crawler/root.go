package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	applog "github.com/Sriram-PR/codex-crawler/pkg/log"
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "codex-crawler",
		Short: "Bounded-concurrency crawler for paginated codex sites",
		Long: `codex-crawler discovers the pages of a site with a fixed pool of workers,
then extracts one record per selected page in every configured locale and
exports the records as CSV or XLSX.

Sites are described in a YAML config file (see configs/codex.yaml).`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringP("config", "c", "config.yaml", "Path to YAML config file")
	cmd.PersistentFlags().String("loglevel", "info", "Log level (trace, debug, info, warn, error)")
	cmd.PersistentFlags().Bool("log-json", false, "Emit logs as JSON")

	cmd.AddCommand(NewCrawlCmd())
	cmd.AddCommand(NewRecordsCmd())
	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewWatchCmd())
	cmd.AddCommand(NewValidateCmd())
	cmd.AddCommand(NewListSitesCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newLogger builds the process logger from the persistent flags
func newLogger(cmd *cobra.Command) *logrus.Logger {
	level, _ := cmd.Flags().GetString("loglevel")
	jsonFormat, _ := cmd.Flags().GetBool("log-json")
	return applog.NewLogger(level, cmd.ErrOrStderr(), jsonFormat)
}

func configPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	return path
}
