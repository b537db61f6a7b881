package main

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/dshills/scame/internal/lsp"
)

func newCompleteCmd(c *cli) *cobra.Command {
	var (
		wait  time.Duration
		width int
	)

	cmd := &cobra.Command{
		Use:   "complete FILE LINE COL",
		Short: "Print completions at a 1-based position",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			pos, err := parsePosition(args[1], args[2])
			if err != nil {
				return err
			}

			s, err := c.open(args[:1])
			if err != nil {
				return err
			}
			defer s.close()

			if err := s.m.Completion(1, args[0], pos); err != nil {
				return err
			}

			var (
				items  []lsp.CompletionItem
				failed error
			)
			ok := s.until(cmd.Context(), wait, func(ev lsp.Event) bool {
				switch ev := ev.(type) {
				case lsp.CompletionEvent:
					items = ev.Items
					return true
				case lsp.ErrorEvent:
					failed = errors.New(ev.Message)
					return true
				}
				return false
			})
			if failed != nil {
				return failed
			}
			if !ok {
				return errors.Wrapf(errNoReply, "completion at %s", pos)
			}

			for _, item := range items {
				fmt.Fprintln(cmd.OutOrStdout(), lsp.FormatCompletionItem(item, width))
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 10*time.Second, "how long to wait for the reply")
	cmd.Flags().IntVar(&width, "width", 60, "display width of each item")
	return cmd
}
