package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	tasklinesdk "taskline/sdk/go"
)

func configureCmd() *cobra.Command {
	var req tasklinesdk.ConfigureRequest
	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Set round interval, claim window, revocation delay and ledger",
		Long:  "Unset values keep the defaults from taskline.yml. A ledger URL is checked against the sheet before it is accepted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := remoteClient()
			if err != nil {
				return err
			}
			settings, err := c.Configure(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSONOrTable(settings, func(w io.Writer) {
				fmt.Fprintf(w, "Configured: every %g min, %g s window, revoke after %g h\n", settings.IntervalMinutes, settings.WindowSeconds, settings.RevocationHours)
				if settings.LedgerURL != "" {
					fmt.Fprintf(w, "Ledger: %s\n", settings.LedgerURL)
				}
			})
		},
	}
	cmd.Flags().IntVar(&req.IntervalMinutes, "interval", 0, "minutes between rounds")
	cmd.Flags().IntVar(&req.WindowSeconds, "window", 0, "claim window in seconds (1-60)")
	cmd.Flags().IntVar(&req.RevocationHours, "revocation-hours", 0, "hours before the task privilege is revoked (1-168)")
	cmd.Flags().StringVar(&req.PingTarget, "ping", "", "privilege or group mentioned in announcements")
	cmd.Flags().StringVar(&req.LedgerURL, "ledger-url", "", "spreadsheet URL containing /d/<sheet id>")
	return cmd
}

func startCmd() *cobra.Command {
	var req tasklinesdk.StartRequest
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Reset the cursor and begin running rounds",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := remoteClient()
			if err != nil {
				return err
			}
			st, err := c.Start(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSONOrTable(st, func(w io.Writer) { renderStatus(w, st) })
		},
	}
	cmd.Flags().IntVar(&req.TotalTasks, "tasks", 0, "number of tasks to hand out")
	cmd.Flags().StringVar(&req.TaskType, "type", "", "task type: post, upvote, comment or poll vote")
	cmd.Flags().IntVar(&req.WinnersPerRound, "winners", 0, "winners per round (1-20)")
	_ = cmd.MarkFlagRequired("tasks")
	return cmd
}

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the allocation loop; pending revocations still fire",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := remoteClient()
			if err != nil {
				return err
			}
			st, err := c.Stop(cmd.Context())
			if err != nil {
				return err
			}
			return printJSONOrTable(st, func(w io.Writer) { renderStatus(w, st) })
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show cursor, settings, rounds and pending revocations",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := remoteClient()
			if err != nil {
				return err
			}
			st, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			return printJSONOrTable(st, func(w io.Writer) { renderStatus(w, st) })
		},
	}
}

func claimCmd() *cobra.Command {
	var at string
	var bot bool
	cmd := &cobra.Command{
		Use:   "claim <round-id> <participant-id>",
		Short: "Report a claim on a round announcement",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var observed *time.Time
			if at != "" {
				t, err := time.Parse(time.RFC3339Nano, at)
				if err != nil {
					return fmt.Errorf("--at must be RFC3339: %w", err)
				}
				observed = &t
			}
			c, err := remoteClient()
			if err != nil {
				return err
			}
			res, err := c.RegisterClaim(cmd.Context(), args[0], args[1], observed, bot)
			if err != nil {
				return err
			}
			return printJSONOrTable(res, func(w io.Writer) {
				if res.Ignored {
					fmt.Fprintf(w, "Ignored: %s\n", res.Reason)
					return
				}
				fmt.Fprintf(w, "Claim %s by %s at %s\n", res.Claim.RoundID, res.Claim.ParticipantID, res.Claim.ObservedAt.Format(time.RFC3339Nano))
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "observed time (RFC3339); defaults to now on the server")
	cmd.Flags().BoolVar(&bot, "bot", false, "claim came from a bot account")
	return cmd
}

func verifyCmd() *cobra.Command {
	var participant string
	cmd := &cobra.Command{
		Use:   "verify <username>",
		Short: "Check reputation and grant the verified privilege",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := remoteClient()
			if err != nil {
				return err
			}
			res, err := c.Verify(cmd.Context(), participant, args[0])
			if err != nil {
				return err
			}
			return printJSONOrTable(res, func(w io.Writer) { renderVerification(w, res) })
		},
	}
	cmd.Flags().StringVar(&participant, "participant", "", "participant to verify (defaults to the calling actor)")
	return cmd
}
