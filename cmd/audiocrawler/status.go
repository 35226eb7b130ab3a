package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/smg1208/audio-crawler/pkg/ledger"
)

func (c *cli) newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job>",
		Short: "Show the ledger of a job",
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

			l, err := a.Status(args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			entries := l.Entries()
			if len(entries) == 0 {
				fmt.Fprintf(w, "No progress recorded in %s\n", l.Path())
				return nil
			}

			counts := l.Counts()
			fmt.Fprintf(w, "%s\n", l.Path())
			fmt.Fprintf(w, "Completed: %d  Failed: %d  In progress: %d  Queued: %d\n",
				counts[ledger.StatusCompleted], counts[ledger.StatusFailed],
				counts[ledger.StatusInProgress], counts[ledger.StatusQueued])

			for _, e := range entries {
				if e.Status != ledger.StatusFailed {
					continue
				}
				fmt.Fprintf(w, "  FAIL  %-14s %-14s %s  %s\n", e.Label, e.Provider, humanize.Time(e.UpdatedAt), e.LastError)
			}
			return nil
		},
	}
}
