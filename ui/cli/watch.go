// Copyright (c) 2026 Keymaster Team
// kmring - PGP and SSH keyring synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/toeirei/kmring/internal/errdef"
	"github.com/toeirei/kmring/internal/i18n"
	"github.com/toeirei/kmring/internal/keytable"
	"github.com/toeirei/kmring/internal/logging"
	"github.com/toeirei/kmring/internal/model"
)

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow the key directory and print keys as they come and go",
		Long: `Load the keyring, print it and report keys added to or removed from the
key directory until interrupted. Sending SIGHUP drops the table and
reloads every key.`,
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			var mu sync.Mutex
			emit := func(msg string, rec *model.Record) {
				mu.Lock()
				defer mu.Unlock()
				_, _ = fmt.Fprintln(out, i18n.T(msg, rec.ID(), rec.Label()))
			}
			if stop, err := finish(cmd.ErrOrStderr(), a.ring.Load(ctx)); stop {
				return err
			}
			printKeys(out, a.ring.Table().Records())

			unsubscribe := a.ring.Table().Subscribe(keytable.Funcs{
				Added:   func(rec *model.Record) { emit("watch.added", rec) },
				Removed: func(rec *model.Record) { emit("watch.removed", rec) },
			})
			defer unsubscribe()

			dir, _ := a.ring.Backend().Watch()
			if a.cfg.Refresh.Enabled {
				if err := a.ring.StartMonitor(); err != nil {
					logging.Warnf(i18n.T("watch.monitor_failed"), dir, err)
				}
			}
			mu.Lock()
			_, _ = fmt.Fprintln(cmd.ErrOrStderr(), i18n.T("watch.started", dir))
			mu.Unlock()

			// SIGHUP forces a full reload from an empty table.
			hup := make(chan os.Signal, 1)
			signal.Notify(hup, syscall.SIGHUP)
			defer signal.Stop(hup)
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-hup:
					mu.Lock()
					_, _ = fmt.Fprintln(cmd.ErrOrStderr(), i18n.T("watch.reset", dir))
					mu.Unlock()
					if err := a.ring.Reset(ctx); err != nil && errdef.OutcomeOf(err) == errdef.Failed {
						logging.Warnf("%v", err)
					}
				}
			}
		}),
	}
}

func newHistoryCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the journal of past operations",
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			entries, err := a.journal.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				_, _ = fmt.Fprintln(out, i18n.T("history.empty"))
				return nil
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{
					e.Timestamp.Local().Format(time.DateTime),
					e.Username,
					e.Action,
					e.Outcome,
					e.Details,
				})
			}
			headers := []string{
				i18n.T("history.header.time"),
				i18n.T("history.header.user"),
				i18n.T("history.header.action"),
				i18n.T("history.header.outcome"),
				i18n.T("history.header.details"),
			}
			_, _ = fmt.Fprintln(out, renderTable(headers, rows))
			return nil
		}),
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of entries to show (0 for all)")
	return cmd
}
