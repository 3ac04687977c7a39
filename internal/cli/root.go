// Package cli defines the cobra commands of the scheduler binary.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "dev" // set via ldflags at build time

// rootOptions holds the global flags. A flag overrides its environment
// variable only when it is set explicitly.
type rootOptions struct {
	storage     string
	sqliteDSN   string
	databaseURL string
	policyFile  string
	logLevel    string
	logFormat   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Negotiate and book meeting slots across participant calendars",
		Long: `scheduler searches participant calendars for free slots, ranks them
against the requested time and commits the chosen slot as a meeting on
every calendar at once.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.storage, "storage", "sqlite", "Storage backend: sqlite, postgres or memory (SCHEDULER_STORAGE)")
	flags.StringVar(&opts.sqliteDSN, "sqlite-dsn", "file:scheduler.db", "SQLite data source (SCHEDULER_SQLITE_DSN)")
	flags.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (SCHEDULER_DATABASE_URL)")
	flags.StringVar(&opts.policyFile, "policy", "", "YAML search policy file (SCHEDULER_POLICY_FILE)")
	flags.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn or error (SCHEDULER_LOG_LEVEL)")
	flags.StringVar(&opts.logFormat, "log-format", "auto", "Log format: auto, json or text (SCHEDULER_LOG_FORMAT)")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newNegotiateCmd(opts))
	cmd.AddCommand(newScheduleCmd(opts))
	cmd.AddCommand(newSeedCmd(opts))
	cmd.AddCommand(newMigrateCmd(opts))
	return cmd
}

// Execute runs the root command. Called from main. An interrupt or SIGTERM
// cancels the command context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
