package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/scame/internal/config/watcher"
	"github.com/dshills/scame/internal/lsp"
)

func newWatchCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "watch FILE...",
		Short: "Open files and stream diagnostics, reloading the config when it changes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.open(args)
			if err != nil {
				return err
			}
			defer s.close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			if path := c.cfg.Path(); path != "" {
				w, err := watcher.New(path, watcher.WithLogger(c.log))
				if err != nil {
					return err
				}
				go func() {
					if err := w.Run(ctx, func(watcher.Event) { c.reload(s.m) }); err != nil {
						c.log.WithError(err).Warn("config watcher stopped")
					}
				}()
			}

			out := cmd.OutOrStdout()
			s.until(ctx, 0, func(ev lsp.Event) bool {
				switch ev := ev.(type) {
				case lsp.DiagnosticsEvent:
					fmt.Fprintf(out, "%s: %d diagnostics\n", ev.Path, len(ev.Diagnostics))
					for _, d := range ev.Diagnostics {
						fmt.Fprintln(out, "  "+lsp.FormatDiagnosticWithLocation(ev.Path, d))
					}
				case lsp.ErrorEvent:
					fmt.Fprintln(cmd.ErrOrStderr(), ev.Message)
				}
				return false
			})
			return nil
		},
	}
}

// reload rereads the config and hands the new launch table to m. A bad
// config is logged and the old table stays in effect.
func (c *cli) reload(m *lsp.Manager) {
	log := c.log.WithField("config", c.cfg.Path())
	if err := c.cfg.Reload(); err != nil {
		log.WithError(err).Warn("config reload failed")
		return
	}
	table, err := c.cfg.LanguageTable()
	if err != nil {
		log.WithError(err).Warn("invalid server table")
		return
	}
	if err := m.Reconfigure(table); err != nil {
		log.WithError(err).Debug("reconfigure after shutdown")
		return
	}
	log.Info("language table reloaded")
}
