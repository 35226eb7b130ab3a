package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/smg1208/audio-crawler/internal/app"
	"github.com/smg1208/audio-crawler/pkg/probe"
	"github.com/smg1208/audio-crawler/pkg/tts"
)

func (c *cli) newProvidersCmd() *cobra.Command {
	var all, voices bool
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Check provider availability and list voices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			a, cleanup, err := c.open(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			providers, err := selectProviders(a, all)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			w := cmd.OutOrStdout()

			results := probe.Run(ctx, probe.Providers(providers, false, voices))
			for _, r := range results {
				printResult(w, r)
			}
			if !voices {
				return nil
			}

			for i, p := range providers {
				vl, ok := p.(tts.VoiceLister)
				if !ok || results[i].Error != nil {
					continue
				}
				list, err := vl.Voices(ctx)
				if err != nil {
					fmt.Fprintf(w, "\n%s: %v\n", p.Name(), err)
					continue
				}
				fmt.Fprintf(w, "\n%s (%d voices)\n", p.Name(), len(list))
				for _, v := range list {
					fmt.Fprintf(w, "  %-36s %-8s %s\n", v.ID, v.Language, v.Name)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "check every known provider, not only the configured chain")
	cmd.Flags().BoolVar(&voices, "voices", false, "list the voices of each available provider")
	return cmd
}

func selectProviders(a *app.App, all bool) ([]tts.Provider, error) {
	if !all {
		chain, err := a.Chain()
		if err != nil {
			return nil, err
		}
		return chain.Providers(), nil
	}
	var out []tts.Provider
	for _, name := range app.ProviderNames() {
		p, err := a.Provider(name)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func printResult(w io.Writer, r probe.Result) {
	status := "ok"
	if r.Error != nil {
		status = "unavailable"
	}
	fmt.Fprintf(w, "%-14s %-12s %6s", r.Probe.Name, status, r.Duration.Round(time.Millisecond))
	if r.Error != nil {
		fmt.Fprintf(w, "  %v", r.Error)
	}
	fmt.Fprintln(w)
}
