// Package audio merges rendered chunk files and inspects finished audio.
package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ConcatResult describes the artifact produced by Concat.
type ConcatResult struct {
	// Path is the final artifact. It differs from the requested output only
	// when a degraded merge kept a part in another format.
	Path string
	// Degraded is set when only the first part was kept.
	Degraded bool
	Parts    int
}

type runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Concatenator joins chunk files with the ffmpeg concat demuxer.
type Concatenator struct {
	ffmpeg   string
	lookPath func(string) (string, error)
	run      runner
}

// NewConcatenator returns a Concatenator using the given ffmpeg binary.
// An empty path resolves "ffmpeg" from PATH.
func NewConcatenator(ffmpegPath string) *Concatenator {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Concatenator{
		ffmpeg:   ffmpegPath,
		lookPath: exec.LookPath,
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		},
	}
}

// Available reports whether the ffmpeg binary can be found.
func (c *Concatenator) Available() bool {
	_, err := c.lookPath(c.ffmpeg)
	return err == nil
}

// Concat merges parts in order into outputPath. When ffmpeg is missing or
// fails, the first part is kept and the result is flagged as degraded. Part
// files are removed on every path.
func (c *Concatenator) Concat(ctx context.Context, parts []string, outputPath string) (*ConcatResult, error) {
	if len(parts) == 0 {
		return nil, errors.New("no audio parts to concatenate")
	}
	kept := ""
	defer func() {
		for _, p := range parts {
			if p != kept {
				_ = os.Remove(p)
			}
		}
	}()

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	partExt := filepath.Ext(parts[0])
	sameFormat := strings.EqualFold(partExt, filepath.Ext(outputPath))

	if len(parts) == 1 && sameFormat {
		if err := os.Rename(parts[0], outputPath); err != nil {
			return nil, fmt.Errorf("failed to move audio part: %w", err)
		}
		kept = parts[0]
		return &ConcatResult{Path: outputPath, Parts: 1}, nil
	}

	err := c.merge(ctx, parts, outputPath, sameFormat)
	if err == nil {
		return &ConcatResult{Path: outputPath, Parts: len(parts)}, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	slog.Warn("Audio: concatenation failed, keeping first part only",
		"output", outputPath, "parts", len(parts), "error", err)

	dest := strings.TrimSuffix(outputPath, filepath.Ext(outputPath)) + partExt
	if rerr := os.Rename(parts[0], dest); rerr != nil {
		return nil, fmt.Errorf("failed to keep first audio part: %w", errors.Join(err, rerr))
	}
	kept = parts[0]
	return &ConcatResult{Path: dest, Degraded: true, Parts: len(parts)}, nil
}

func (c *Concatenator) merge(ctx context.Context, parts []string, outputPath string, copyStreams bool) error {
	bin, err := c.lookPath(c.ffmpeg)
	if err != nil {
		return fmt.Errorf("ffmpeg not found: %w", err)
	}

	dir := filepath.Dir(outputPath)
	list, err := writeList(dir, parts)
	if err != nil {
		return err
	}
	defer os.Remove(list)

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(outputPath)+".*"+filepath.Ext(outputPath))
	if err != nil {
		return fmt.Errorf("failed to create temp output: %w", err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	defer os.Remove(tmpPath)

	args := []string{"-hide_banner", "-loglevel", "error", "-y",
		"-f", "concat", "-safe", "0", "-i", list}
	if copyStreams {
		args = append(args, "-c", "copy")
	}
	args = append(args, tmpPath)

	if out, err := c.run(ctx, bin, args...); err != nil {
		return fmt.Errorf("ffmpeg failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	if fi, err := os.Stat(tmpPath); err != nil || fi.Size() == 0 {
		return errors.New("ffmpeg produced no output")
	}
	if err := os.Rename(tmpPath, outputPath); err != nil {
		return fmt.Errorf("failed to move merged audio: %w", err)
	}
	return nil
}

// writeList writes the concat demuxer input file.
func writeList(dir string, parts []string) (string, error) {
	f, err := os.CreateTemp(dir, ".concat-*.txt")
	if err != nil {
		return "", fmt.Errorf("failed to create concat list: %w", err)
	}

	var b strings.Builder
	for _, p := range parts {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}

	if _, err := f.WriteString(b.String()); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write concat list: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write concat list: %w", err)
	}
	return f.Name(), nil
}
