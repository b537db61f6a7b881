package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newLanguagesCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "languages",
		Short: "Print the language server launch table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			table, err := c.cfg.LanguageTable()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "LANGUAGE\tEXTENSIONS\tCOMMANDS\tVENV")
			for _, spec := range table.Specs() {
				cmds := make([]string, 0, 1+len(spec.Fallbacks))
				for _, cand := range spec.Candidates() {
					cmds = append(cmds, cand.String())
				}
				venv := "-"
				if spec.DetectVirtualEnv {
					venv = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					spec.Language.ID(),
					strings.Join(spec.Extensions, ","),
					strings.Join(cmds, " | "),
					venv)
			}
			return w.Flush()
		},
	}
}
