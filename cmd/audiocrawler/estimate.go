package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func (c *cli) newEstimateCmd() *cobra.Command {
	var from, to int
	cmd := &cobra.Command{
		Use:   "estimate <job>",
		Short: "Count characters, bytes and chunks of a job per provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			a, cleanup, err := c.open(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			estimates, err := a.Estimate(cmd.Context(), args[0], from, to)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "PROVIDER\tAVAILABLE\tCHAPTERS\tCHARACTERS\tBYTES\tCHUNKS\tEMPTY")
			for _, e := range estimates {
				fmt.Fprintf(tw, "%s\t%t\t%d\t%s\t%s\t%s\t%d\n",
					e.Provider, e.Available, e.Chapters,
					humanize.Comma(int64(e.Runes)), humanize.Bytes(uint64(e.Bytes)),
					humanize.Comma(int64(e.Chunks)), e.Empty)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&from, "from", 0, "first chapter to count")
	cmd.Flags().IntVar(&to, "to", 0, "last chapter to count")
	return cmd
}
