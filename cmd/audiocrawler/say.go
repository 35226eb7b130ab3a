package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/smg1208/audio-crawler/pkg/audio"
)

type sayFlags struct {
	text, file string
	output     string
	voice      string
	provider   string
}

func (c *cli) newSayCmd() *cobra.Command {
	f := &sayFlags{}
	cmd := &cobra.Command{
		Use:   "say",
		Short: "Render a text or a text file into one audio file",
		Example: `  audiocrawler say --text "Xin chào" --output hello.mp3
  audiocrawler say --file chapter.txt --output chapter.mp3 --voice vi-VN-NamMinhNeural
  cat chapter.txt | audiocrawler say --file - --output chapter.mp3`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.say(cmd, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.text, "text", "t", "", "text to speak")
	fl.StringVarP(&f.file, "file", "f", "", "UTF-8 text file to speak, or - for stdin")
	fl.StringVarP(&f.output, "output", "o", "", "audio file to write")
	fl.StringVar(&f.voice, "voice", "", "voice for the primary provider")
	fl.StringVarP(&f.provider, "provider", "p", "", "primary provider, overriding tts.primary")
	cmd.MarkFlagsMutuallyExclusive("text", "file")
	cmd.MarkFlagsOneRequired("text", "file")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func (c *cli) say(cmd *cobra.Command, f *sayFlags) error {
	text, err := readInput(cmd.InOrStdin(), f.text, f.file)
	if err != nil {
		return err
	}

	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	if f.provider != "" {
		cfg.TTS.Primary = f.provider
	}
	voice := f.voice
	if voice == "" {
		voice = cfg.TTS.Voice
	}

	a, cleanup, err := c.open(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	r, err := a.Say(cmd.Context(), text, voice, f.output)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s  %d chunk(s) via %s", r.Output, r.Chunks, r.Provider)
	if info, err := os.Stat(r.Output); err == nil {
		fmt.Fprintf(w, "  %s", humanize.Bytes(uint64(info.Size())))
	}
	if d, err := audio.GetDuration(r.Output); err == nil {
		fmt.Fprintf(w, "  %s", d.Round(time.Second))
	}
	fmt.Fprintln(w)
	return nil
}

func readInput(stdin io.Reader, text, file string) (string, error) {
	if text != "" {
		return text, nil
	}
	var data []byte
	var err error
	if file == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	s := strings.TrimPrefix(string(data), "\ufeff")
	if strings.TrimSpace(s) == "" {
		return "", errors.New("input text is empty")
	}
	return s, nil
}
