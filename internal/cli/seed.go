package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/negotiation-scheduler/internal/seed"
)

type seedOptions struct {
	day   string
	days  int
	weeks int
}

func newSeedCmd(root *rootOptions) *cobra.Command {
	opts := &seedOptions{}
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load demo participants and calendars",
		Long: `Create the demo participants alice, bob and charlie with focus time,
breaks, flexible blocks and recurring standups starting at the first
working day on or after --day. Existing blocks are left untouched, so the
command can be rerun safely.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context(), cmd, root)
			if err != nil {
				return err
			}
			defer rt.Close()

			loc := rt.policy.Location
			day := time.Now().In(loc)
			if opts.day != "" {
				day, err = time.ParseInLocation("2006-01-02", opts.day, loc)
				if err != nil {
					return fmt.Errorf("--day は YYYY-MM-DD 形式で指定してください: %s", opts.day)
				}
			}

			dataset, err := seed.Demo(day, loc, seed.Options{Days: opts.days, StandupWeeks: opts.weeks})
			if err != nil {
				return err
			}
			summary, err := seed.Apply(cmd.Context(), rt.store, dataset)
			if err != nil {
				return err
			}
			rt.logger.Info("demo data seeded",
				"participants", summary.Participants,
				"blocks", summary.Blocks,
				"skipped", summary.Skipped,
			)
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d participants, %d blocks (%d already present)\n",
				summary.Participants, summary.Blocks, summary.Skipped)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.day, "day", "", "Reference day as YYYY-MM-DD; today when empty")
	cmd.Flags().IntVar(&opts.days, "days", 3, "Working days of one-off blocks")
	cmd.Flags().IntVar(&opts.weeks, "standup-weeks", 2, "Weeks of recurring standups")
	return cmd
}

func newMigrateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply storage migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, root)
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if err := store.Ping(cmd.Context()); err != nil {
				_ = store.Close()
				return fmt.Errorf("ping %s: %w", cfg.Storage, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s storage is up to date\n", cfg.Storage)
			return store.Close()
		},
	}
}
