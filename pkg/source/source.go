// Package source reads chapter collections produced by the crawler.
//
// A job named "story" lives under the source root as
//
//	<root>/story - Text/Chapter_1.txt
//	<root>/story - Audio/Chapter_1.mp3
//	<root>/story - Audio/ledger.csv
package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ErrNoChapters is returned when a job directory holds no chapter files.
var ErrNoChapters = errors.New("no chapters found")

var chapterFile = regexp.MustCompile(`^Chapter_(\d+)\.txt$`)

// Record is one chapter of a job.
type Record struct {
	Index   int
	Label   string
	TextRef string
}

// Directory is a filesystem source rooted at Root.
type Directory struct {
	Root string
	// Format is the output audio extension without the dot.
	Format string
}

// NewDirectory creates a directory source. An empty format means mp3.
func NewDirectory(root, format string) *Directory {
	if format == "" {
		format = "mp3"
	}
	return &Directory{Root: root, Format: strings.TrimPrefix(format, ".")}
}

// TextDir returns the directory holding the chapter text of job.
func (d *Directory) TextDir(job string) string {
	return filepath.Join(d.Root, job+" - Text")
}

// AudioDir returns the directory receiving the rendered audio of job.
func (d *Directory) AudioDir(job string) string {
	return filepath.Join(d.Root, job+" - Audio")
}

// LedgerPath returns the progress ledger location of job.
func (d *Directory) LedgerPath(job string) string {
	return filepath.Join(d.AudioDir(job), "ledger.csv")
}

// OutputPath returns where the audio for rec is written.
func (d *Directory) OutputPath(job string, rec Record) string {
	return filepath.Join(d.AudioDir(job), fmt.Sprintf("Chapter_%d.%s", rec.Index, d.Format))
}

// ListTasks returns the chapters of job ordered by chapter number.
func (d *Directory) ListTasks(ctx context.Context, job string) ([]Record, error) {
	if strings.TrimSpace(job) == "" {
		return nil, errors.New("job name is required")
	}
	dir := d.TextDir(job)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list chapters: %w", err)
	}

	var records []Record
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() {
			continue
		}
		m := chapterFile.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		records = append(records, Record{
			Index:   n,
			Label:   fmt.Sprintf("Chapter %d", n),
			TextRef: filepath.Join(dir, e.Name()),
		})
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoChapters, dir)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Index < records[j].Index })

	// Chapter_01.txt and Chapter_1.txt collide on the same index.
	out := records[:1]
	for _, r := range records[1:] {
		if r.Index == out[len(out)-1].Index {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// ReadText returns the text behind ref.
func (d *Directory) ReadText(ctx context.Context, ref string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(ref)
	if err != nil {
		return "", fmt.Errorf("failed to read text: %w", err)
	}
	text := strings.TrimPrefix(string(data), "\ufeff")
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "")
	}
	return text, nil
}

// Filter keeps records whose index lies in [from, to]. Zero leaves a bound open.
func Filter(records []Record, from, to int) []Record {
	var out []Record
	for _, r := range records {
		if from > 0 && r.Index < from {
			continue
		}
		if to > 0 && r.Index > to {
			continue
		}
		out = append(out, r)
	}
	return out
}
