package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/negotiation-scheduler/internal/negotiation"
)

// requestFlags are the meeting request flags shared by negotiate and schedule.
type requestFlags struct {
	title        string
	date         string
	clock        string
	duration     int
	participants []string
	output       string
}

func (f *requestFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.title, "title", "", "Meeting title")
	flags.StringVar(&f.date, "date", "", "Preferred date as YYYY-MM-DD")
	flags.StringVar(&f.clock, "time", "", "Preferred start time as HH:MM")
	flags.IntVar(&f.duration, "duration", 30, "Meeting length in minutes")
	flags.StringSliceVar(&f.participants, "participants", nil, "Participant ids; every active participant when empty")
	flags.StringVarP(&f.output, "output", "o", outputAuto, "Output format: auto, table or json")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("date")
	_ = cmd.MarkFlagRequired("time")
}

func (f *requestFlags) input() negotiation.RequestInput {
	return negotiation.RequestInput{
		Title:           f.title,
		PreferredDate:   f.date,
		PreferredTime:   f.clock,
		DurationMinutes: f.duration,
		Participants:    f.participants,
	}
}

func newNegotiateCmd(root *rootOptions) *cobra.Command {
	req := &requestFlags{}
	cmd := &cobra.Command{
		Use:   "negotiate",
		Short: "Rank candidate slots for a meeting request",
		Long: `Search every participant's calendar around the preferred time and print
the ranked candidates. Nothing is booked; pass the session id and a slot
index to "scheduler schedule" to commit one.`,
		Example: `  scheduler negotiate --title "Design review" --date 2025-10-21 --time 10:00 --duration 30 --participants alice,bob`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := resolveOutput(req.output, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			rt, err := newRuntime(cmd.Context(), cmd, root)
			if err != nil {
				return err
			}
			defer rt.Close()

			request, err := negotiation.ParseRequest(req.input(), rt.policy.Location)
			if err != nil {
				return describeError(err)
			}
			result, err := rt.coordinator.Negotiate(cmd.Context(), request)
			if err != nil {
				return describeError(err)
			}
			return renderNegotiation(cmd.OutOrStdout(), format, result)
		},
	}
	req.register(cmd)
	return cmd
}

type scheduleFlags struct {
	requestFlags
	slot      int
	sessionID string
}

func newScheduleCmd(root *rootOptions) *cobra.Command {
	opts := &scheduleFlags{}
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Commit one ranked slot as a meeting",
		Long: `Commit the slot at --slot (0-based) from the ranked list of a negotiation.
Without --session the latest negotiation of the same request is reused, or
a fresh one is run. Repeating a successful commit reports the existing
meeting instead of booking twice.`,
		Example: `  scheduler schedule --title "Design review" --date 2025-10-21 --time 10:00 --participants alice,bob --slot 0`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := resolveOutput(opts.output, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			rt, err := newRuntime(cmd.Context(), cmd, root)
			if err != nil {
				return err
			}
			defer rt.Close()

			request, err := negotiation.ParseRequest(opts.input(), rt.policy.Location)
			if err != nil {
				return describeError(err)
			}
			result, err := rt.coordinator.Schedule(cmd.Context(), negotiation.ScheduleRequest{
				Request:   request,
				SlotIndex: opts.slot,
				SessionID: opts.sessionID,
			})
			if err != nil {
				return describeError(err)
			}
			if err := renderSchedule(cmd.OutOrStdout(), format, result); err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("schedule failed: %s", result.Outcome)
			}
			return nil
		},
	}
	opts.register(cmd)
	cmd.Flags().IntVar(&opts.slot, "slot", 0, "Index of the ranked slot to commit")
	cmd.Flags().StringVar(&opts.sessionID, "session", "", "Negotiation session to commit from")
	_ = cmd.MarkFlagRequired("slot")
	return cmd
}
