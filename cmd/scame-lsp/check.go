package main

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/dshills/scame/internal/lsp"
)

// errDiagnostics is returned by check when any error diagnostic was reported.
var errDiagnostics = errors.New("errors reported")

func newCheckCmd(c *cli) *cobra.Command {
	var (
		wait time.Duration
		line int
	)

	cmd := &cobra.Command{
		Use:   "check FILE...",
		Short: "Open files and print the diagnostics published for them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if line < 0 {
				return errors.Newf("invalid line %d", line)
			}

			s, err := c.open(args)
			if err != nil {
				return err
			}
			defer s.close()

			// One client serves every file of a language and tags its
			// events with the first buffer, so the path decides.
			store := lsp.NewDiagnosticsStore()
			s.until(cmd.Context(), wait, func(ev lsp.Event) bool {
				switch ev := ev.(type) {
				case lsp.DiagnosticsEvent:
					buf, ok := s.buffer(ev.Path)
					if !ok {
						c.log.WithField("path", ev.Path).Debug("diagnostics for a file not opened")
						return false
					}
					store.Update(buf, ev.Diagnostics)
				case lsp.ErrorEvent:
					fmt.Fprintln(cmd.ErrOrStderr(), ev.Message)
				}
				return false
			})

			errs := printDiagnostics(cmd.OutOrStdout(), store, s.paths, line)
			if errs > 0 {
				return errors.Wrapf(errDiagnostics, "%d", errs)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 5*time.Second, "how long to collect diagnostics")
	cmd.Flags().IntVar(&line, "line", 0, "only list diagnostics covering this 1-based line; the summary still counts whole files")
	return cmd
}

// printDiagnostics writes the stored diagnostics and a summary line. A
// positive line limits the listing to diagnostics spanning it. It returns
// the number of errors.
func printDiagnostics(w io.Writer, store *lsp.DiagnosticsStore, paths map[lsp.BufferID]string, line int) int {
	var errs, warns int
	for _, buf := range store.Buffers() {
		var diags []lsp.Diagnostic
		if line > 0 {
			diags = store.ForLine(buf, line-1)
		} else {
			diags = store.Get(buf)
		}
		sort.SliceStable(diags, func(i, j int) bool {
			if diags[i].Start.Line != diags[j].Start.Line {
				return diags[i].Start.Line < diags[j].Start.Line
			}
			return diags[i].Start.Column < diags[j].Start.Column
		})
		for _, d := range diags {
			fmt.Fprintln(w, lsp.FormatDiagnosticWithLocation(paths[buf], d))
		}
		e, wn := store.Counts(buf)
		errs += e
		warns += wn
	}
	fmt.Fprintf(w, "%d errors, %d warnings\n", errs, warns)
	return errs
}
