// Package main provides the palmctl CLI for driving a palmd instance.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-palm/internal/log"
	"github.com/teslashibe/go-palm/pkg/client"
	"github.com/teslashibe/go-palm/pkg/history"
	"github.com/teslashibe/go-palm/pkg/protocol"
)

var (
	serverURL string
	follow    bool

	historyLimit   int
	historyUser    string
	historyOutcome string
	historyMode    string
)

// errFinished ends a watch after a terminal event.
var errFinished = errors.New("scan finished")

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "palmctl",
		Short:        "Control a palm scan daemon",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			log.Init(os.Getenv("LOG_LEVEL"))
		},
	}

	defaultServer := client.DefaultServer
	if v := os.Getenv("PALM_SERVER"); v != "" {
		defaultServer = v
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultServer, "palmd base URL (env PALM_SERVER)")

	rootCmd.AddCommand(newRegisterCmd())
	rootCmd.AddCommand(newMatchCmd())
	rootCmd.AddCommand(newStopCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newSubjectsCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newWatchCmd())

	return rootCmd
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newRegisterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register <user>",
		Short: "Enroll a user's palm",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			c := client.New(serverURL)
			resp, err := c.StartEnroll(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registration started for %s (session %s)\n", resp.User, resp.SessionID)

			if !follow {
				return nil
			}
			return watchUntilResult(ctx, c, resp.SessionID, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "stream status until the scan finishes")
	return cmd
}

func newMatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "match [user]",
		Short: "Verify a palm against an enrolled user",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			var user string
			if len(args) == 1 {
				user = args[0]
			}

			c := client.New(serverURL)
			resp, err := c.StartVerify(ctx, user)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "matching started against %s (session %s)\n", resp.User, resp.SessionID)

			if !follow {
				return nil
			}
			return watchUntilResult(ctx, c, resp.SessionID, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "stream status until the scan finishes")
	return cmd
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the active scan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stopped, err := client.New(serverURL).Stop(cmd.Context())
			if err != nil {
				return err
			}
			if stopped {
				fmt.Fprintln(cmd.OutOrStdout(), "stopped")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "no scan running")
			}
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the active scan and the last result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := client.New(serverURL).Status(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if st.Active && st.Session != nil {
				fmt.Fprintf(out, "active:  %s %s (session %s, since %s)\n",
					st.Session.Mode, st.Session.SubjectID, st.Session.ID, st.Session.StartedAt.Format(time.TimeOnly))
			} else {
				fmt.Fprintln(out, "active:  none")
			}
			if st.LastEvent != nil {
				fmt.Fprintf(out, "last:    %s\n", formatEvent(*st.LastEvent))
			}
			if r := st.LastResult; r != nil {
				fmt.Fprintf(out, "result:  %s %s %s confidence=%.2f\n", r.Mode, r.SubjectID, r.Outcome, r.Confidence)
			}
			return nil
		},
	}
}

func newSubjectsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subjects",
		Short: "List enrolled users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ids, err := client.New(serverURL).Subjects(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "rm <user>",
		Short: "Delete an enrolled user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			removed, err := client.New(serverURL).DeleteSubject(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s (%d history entries)\n", args[0], removed)
			return nil
		},
	})
	return cmd
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent scan sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := client.New(serverURL).History(cmd.Context(), history.Filter{
				SubjectID: historyUser,
				Outcome:   historyOutcome,
				Mode:      historyMode,
				Limit:     historyLimit,
			})
			if err != nil {
				return err
			}
			printHistory(cmd.OutOrStdout(), entries)
			return nil
		},
	}
	cmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of sessions")
	cmd.Flags().StringVar(&historyUser, "user", "", "only sessions for this user")
	cmd.Flags().StringVar(&historyOutcome, "outcome", "", "only sessions with this outcome")
	cmd.Flags().StringVar(&historyMode, "mode", "", "only enroll or verify sessions")
	return cmd
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream status events, reconnecting when the daemon goes away",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			out := cmd.OutOrStdout()
			return client.New(serverURL).Watch(ctx, func(ev protocol.StatusEvent) error {
				fmt.Fprintln(out, formatEvent(ev))
				return nil
			}, func(state string) {
				fmt.Fprintf(cmd.ErrOrStderr(), "[%s]\n", state)
			})
		},
	}
}

// watchUntilResult prints the events of session id until it reaches a
// terminal event. The stream replays its last message on connect, so events
// from other sessions are skipped.
func watchUntilResult(ctx context.Context, c *client.Client, id string, out io.Writer) error {
	err := c.Watch(ctx, func(ev protocol.StatusEvent) error {
		if ev.SessionID != id {
			return nil
		}
		fmt.Fprintln(out, formatEvent(ev))
		if ev.IsTerminal() {
			return errFinished
		}
		return nil
	}, nil)
	if errors.Is(err, errFinished) {
		return nil
	}
	return err
}

func formatEvent(ev protocol.StatusEvent) string {
	switch ev.Type {
	case protocol.TypeResult:
		conf := 0.0
		if ev.Confidence != nil {
			conf = *ev.Confidence
		}
		return fmt.Sprintf("%-11s %-8s %s (confidence %.2f)", ev.Type, ev.Outcome, ev.Text, conf)
	default:
		return fmt.Sprintf("%-11s %-10s %5.1fcm %-8s %3d%% %s", ev.Type, ev.State, ev.DistanceCm, ev.Tilt, ev.Progress, ev.Text)
	}
}

func printHistory(w io.Writer, entries []history.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "no sessions")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FINISHED\tMODE\tUSER\tOUTCOME\tCONFIDENCE\tDURATION")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.2f\t%s\n",
			e.FinishedAt.Local().Format(time.DateTime),
			e.Mode,
			e.SubjectID,
			e.Outcome,
			e.Confidence,
			(time.Duration(e.DurationMs) * time.Millisecond).String(),
		)
	}
	tw.Flush()
}
