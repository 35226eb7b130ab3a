// Package ledger persists per-task status for a job as a CSV table.
//
// The file is a complete, index-unique record of every task ever seen for
// the job. Entries are added and updated, never removed, and every change
// rewrites the whole file atomically.
package ledger

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Columns of the ledger file, in write order.
var Columns = []string{
	"sequence_index", "display_label", "text_ref", "output_ref", "status",
	"provider", "last_error", "updated_at",
}

const maxErrorLen = 500

// Entry is the durable projection of one task.
type Entry struct {
	Index     int
	Label     string
	TextRef   string
	OutputRef string
	Status    Status
	Provider  string
	LastError string
	UpdatedAt time.Time
}

// Ledger is an in-memory view of a ledger file. It is safe for concurrent use.
type Ledger struct {
	path string
	now  func() time.Time

	mu      sync.Mutex
	entries map[int]*Entry
}

// Open loads the ledger at path. A missing file yields an empty ledger.
// Rows left in_progress by an interrupted run are reset to queued.
func Open(path string) (*Ledger, error) {
	l := &Ledger{path: path, now: time.Now, entries: make(map[int]*Entry)}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	defer f.Close()

	if err := l.decode(f); err != nil {
		return nil, fmt.Errorf("failed to read ledger %s: %w", path, err)
	}
	return l, nil
}

// Path returns the ledger file location.
func (l *Ledger) Path() string { return l.path }

func (l *Ledger) decode(r io.Reader) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return err
	}

	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	if _, ok := col["sequence_index"]; !ok {
		return errors.New("missing sequence_index column")
	}
	cell := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}

		idx, err := strconv.Atoi(cell(rec, "sequence_index"))
		if err != nil {
			return fmt.Errorf("line %d: invalid sequence_index: %w", line, err)
		}
		status, err := ParseStatus(cell(rec, "status"))
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if status == StatusInProgress {
			status = StatusQueued
		}

		e := &Entry{
			Index:     idx,
			Label:     cell(rec, "display_label"),
			TextRef:   cell(rec, "text_ref"),
			OutputRef: cell(rec, "output_ref"),
			Status:    status,
			Provider:  cell(rec, "provider"),
			LastError: cell(rec, "last_error"),
		}
		if ts := cell(rec, "updated_at"); ts != "" {
			if t, err := time.Parse(time.RFC3339, ts); err == nil {
				e.UpdatedAt = t
			}
		}
		if _, dup := l.entries[idx]; dup {
			slog.Warn("Ledger: duplicate row, keeping the last one", "index", idx, "line", line)
		}
		l.entries[idx] = e
	}
}

// Merge adds tasks that are not yet known as queued and refreshes the
// recomputed fields of known ones, keeping their status. A completed entry
// keeps the output it recorded, which may differ from the task's when the
// artifact was kept in the provider's format. Entries absent from tasks are
// left untouched. The merged entries are returned in task order.
func (l *Ledger) Merge(tasks []Entry) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, 0, len(tasks))
	for _, t := range tasks {
		e, ok := l.entries[t.Index]
		if !ok {
			e = &Entry{Index: t.Index, Status: StatusQueued}
			l.entries[t.Index] = e
		}
		e.Label = t.Label
		e.TextRef = t.TextRef
		if e.Status != StatusCompleted || e.OutputRef == "" {
			e.OutputRef = t.OutputRef
		}
		out = append(out, *e)
	}
	return out
}

// Get returns the entry for a sequence index.
func (l *Ledger) Get(index int) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[index]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Entries returns every entry ordered by sequence index.
func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sorted()
}

func (l *Ledger) sorted() []Entry {
	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Counts returns the number of entries per status.
func (l *Ledger) Counts() map[Status]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	counts := make(map[Status]int, 4)
	for _, e := range l.entries {
		counts[e.Status]++
	}
	return counts
}

// Record stores the given entries and rewrites the file.
func (l *Ledger) Record(entries ...Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, e := range entries {
		if e.Status == "" {
			e.Status = StatusQueued
		}
		if e.UpdatedAt.IsZero() {
			e.UpdatedAt = l.now().UTC()
		}
		e.LastError = clip(e.LastError)
		l.entries[e.Index] = &e
	}
	return l.save()
}

// Save rewrites the file with the current entries.
func (l *Ledger) Save() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.save()
}

func (l *Ledger) save() error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(Columns); err != nil {
		return err
	}
	for _, e := range l.sorted() {
		ts := ""
		if !e.UpdatedAt.IsZero() {
			ts = e.UpdatedAt.UTC().Format(time.RFC3339)
		}
		row := []string{
			strconv.Itoa(e.Index), e.Label, e.TextRef, e.OutputRef, string(e.Status),
			e.Provider, e.LastError, ts,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	if err := writeFileAtomic(l.path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write ledger: %w", err)
	}
	return nil
}

// clip keeps error messages on one line and bounded in length.
func clip(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > maxErrorLen {
		s = string(r[:maxErrorLen]) + "..."
	}
	return s
}

// writeFileAtomic replaces path so a crash leaves either the old or the new file.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return syncDir(dir)
}

func syncDir(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
