package main

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/dshills/scame/internal/lsp"
)

func newDefinitionCmd(c *cli) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "definition FILE LINE COL",
		Short: "Print where the symbol at a 1-based position is defined",
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

			if err := s.m.GotoDefinition(1, args[0], pos); err != nil {
				return err
			}

			var (
				loc    lsp.Location
				failed error
			)
			ok := s.until(cmd.Context(), wait, func(ev lsp.Event) bool {
				switch ev := ev.(type) {
				case lsp.GotoDefinitionEvent:
					loc = ev.Location
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
				return errors.Wrapf(errNoReply, "definition at %s", pos)
			}

			fmt.Fprintln(cmd.OutOrStdout(), loc)
			return nil
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 10*time.Second, "how long to wait for the reply")
	return cmd
}
