package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/flitsinc/agentlab/internal/session"
	"github.com/flitsinc/agentlab/internal/state"
)

func newReplayCmd(a *app) *cobra.Command {
	var sessionID string
	var asJSON bool
	var feedLimit int
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild a recorded session's graph from the journal",
		Long: `Replay folds a journaled session through the same reducers the live
session uses and prints the resulting graph and feed. Without --session the
most recent session is replayed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := state.Open(a.cfg.JournalPath)
			if err != nil {
				return err
			}
			defer db.Close()
			journal := state.NewJournal(db)
			ctx := cmd.Context()

			if sessionID == "" {
				recent, err := journal.ListSessions(ctx, 1)
				if err != nil {
					return err
				}
				if len(recent) == 0 {
					return fmt.Errorf("no sessions recorded in %s", a.cfg.JournalPath)
				}
				sessionID = recent[0].ID
			}
			sess, err := journal.Session(ctx, sessionID)
			if err != nil {
				return err
			}
			entries, err := journal.Entries(ctx, sess.ID)
			if err != nil {
				return err
			}
			transitions, err := journal.Connectivity(ctx, sess.ID)
			if err != nil {
				return err
			}
			snap := session.Replay(ctx, sess.ID, entries)

			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, snap)
			}
			return printReplay(out, sess, transitions, snap, feedLimit)
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "journal session id (default: latest)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the replayed snapshot as json")
	cmd.Flags().IntVar(&feedLimit, "feed", 20, "number of feed entries to print")
	return cmd
}

func printReplay(out io.Writer, sess state.Session, transitions []state.Transition, snap *session.Snapshot, feedLimit int) error {
	fmt.Fprintf(out, "session %s  %s  events=%d\n", sess.ID, sess.WSURL, snap.Seq)
	for _, t := range transitions {
		verb := "disconnected"
		if t.Connected {
			verb = "connected"
		}
		fmt.Fprintf(out, "  %s after seq %d at %s\n", verb, t.AfterSeq, t.CreatedAt.Format("15:04:05"))
	}
	fmt.Fprintln(out)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tROLE\tSTATUS\tPROGRESS\tTOKENS\tPOSITION")
	for _, n := range snap.Nodes {
		progress := "-"
		if p := n.ProgressValue(); p >= 0 {
			progress = fmt.Sprintf("%d%%", p)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%.0f,%.0f\n", n.ID, n.Role, n.Status, progress, n.Tokens, n.Position.X, n.Position.Y)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	entries := snap.Feed(feedLimit)
	if len(entries) == 0 {
		return nil
	}
	fmt.Fprintln(out)
	for _, e := range entries {
		fmt.Fprintf(out, "%6d  %-12s %s\n", e.Seq, e.Label, e.Text)
	}
	return nil
}
