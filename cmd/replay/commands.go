package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"cluetracker.ai/internal/persistence/kvstore"
	"cluetracker.ai/internal/persistence/snapshot"
)

func newVerifyCommand(opts *options) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Replay a session journal and check every recorded tick",
		RunE: func(cmd *cobra.Command, args []string) error {
			cats, tune, err := opts.load()
			if err != nil {
				return err
			}
			res, err := replayJournal(opts.journalDir(), sessionID, cats, tune)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK: session=%s files=%d entries=%d ticks=%d last_tick=%d tracked=%d\n",
				sessionID, res.files, res.entries, res.ticks, res.sess.CurrentTick(), len(res.sess.Engine().Records()))
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id to replay")
	return cmd
}

func newDumpCommand(opts *options) *cobra.Command {
	var sessionID, snapPath string
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the tracked ground objects of a session or snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cats, tune, err := opts.load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if snapPath != "" {
				snap, err := snapshot.ReadSnapshot(snapPath)
				if err != nil {
					return err
				}
				if snap.CatalogDigest != "" && snap.CatalogDigest != cats.Contents.Digest {
					fmt.Fprintf(out, "warning: snapshot catalog digest %s differs from loaded catalog\n", snap.CatalogDigest)
				}
				fmt.Fprintf(out, "snapshot v%d session=%s profile=%s tick=%d objects=%d held=%d pending=%d\n",
					snap.Header.Version, snap.Header.SessionID, snap.Header.Profile, snap.Header.Tick,
					len(snap.Objects), len(snap.Held), snap.Pending)
				fmt.Fprintln(out, renderTable(recordHeaders, recordRows(snap.Objects, cats.Contents), 0, 3))
				if len(snap.Held) > 0 {
					rows := make([][]string, 0, len(snap.Held))
					for _, h := range snap.Held {
						rows = append(rows, []string{fmt.Sprint(h.TypeID), cats.Contents.Describe(contentIDs(h.ContentIDs))})
					}
					fmt.Fprintln(out, renderTable([]string{"Held type", "Text"}, rows, 0))
				}
				return nil
			}
			res, err := replayJournal(opts.journalDir(), sessionID, cats, tune)
			if err != nil {
				return err
			}
			recs := res.sess.Engine().Records()
			fmt.Fprintf(out, "session=%s tick=%d objects=%d\n", sessionID, res.sess.CurrentTick(), len(recs))
			fmt.Fprintln(out, renderTable(recordHeaders, recordRows(recs, cats.Contents), 0, 3))
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id to replay")
	cmd.Flags().StringVar(&snapPath, "snapshot", "", "read a .snap.zst instead of replaying")
	return cmd
}

func newExportCommand(opts *options) *cobra.Command {
	var sessionID, outPath string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Replay a session journal and write its final state as a snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cats, tune, err := opts.load()
			if err != nil {
				return err
			}
			res, err := replayJournal(opts.journalDir(), sessionID, cats, tune)
			if err != nil {
				return err
			}
			snap := res.sess.Snapshot()
			if strings.TrimSpace(outPath) == "" {
				outPath = snapshot.Path(opts.dataDir, sessionID, snap.Header.Tick)
			}
			if err := snapshot.WriteSnapshot(outPath, snap); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (tick %d, %d objects)\n", outPath, snap.Header.Tick, len(snap.Objects))
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id to replay")
	cmd.Flags().StringVar(&outPath, "out", "", "output path (default: <data>/snapshots/<session>-<tick>.snap.zst)")
	return cmd
}

func newSessionsCommand(opts *options) *cobra.Command {
	var limit int
	var ticksOf string
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recorded sessions from the server store",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := kvstore.OpenSQLite(filepath.Join(opts.dataDir, "tracker.sqlite"))
			if err != nil {
				return err
			}
			defer store.Close()
			out := cmd.OutOrStdout()

			if ticksOf != "" {
				stats, err := store.Ticks(ticksOf, 0, limit)
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(stats))
				for _, st := range stats {
					rows = append(rows, []string{fmt.Sprint(st.Tick), fmt.Sprint(st.Tracked), fmt.Sprint(st.Tiles), fmt.Sprint(st.Unknowns)})
				}
				fmt.Fprintln(out, renderTable([]string{"Tick", "Tracked", "Tiles", "Unknowns"}, rows, 0, 1, 2, 3))
				return nil
			}

			infos, err := store.Sessions(limit)
			if err != nil {
				return err
			}
			if len(infos) == 0 {
				return errors.New("no sessions recorded")
			}
			rows := make([][]string, 0, len(infos))
			for _, si := range infos {
				ended := si.EndedAt
				if ended == "" {
					ended = "running"
				}
				rows = append(rows, []string{si.SessionID, si.Profile, si.StartedAt, ended, fmt.Sprint(si.LastTick)})
			}
			fmt.Fprintln(out, renderTable([]string{"Session", "Profile", "Started", "Ended", "Last tick"}, rows, 4))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	cmd.Flags().StringVar(&ticksOf, "ticks", "", "list the tick stats of this session instead")
	return cmd
}
