package ledger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func task(i int) Entry {
	return Entry{
		Index:     i,
		Label:     "Chapter " + string(rune('0'+i)),
		TextRef:   "Story - Text/Chapter_" + string(rune('0'+i)) + ".txt",
		OutputRef: "Story - Audio/Chapter_" + string(rune('0'+i)) + ".mp3",
	}
}

func TestOpen_MissingFile(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "ledger.csv"))
	require.NoError(t, err)
	assert.Empty(t, l.Entries())
}

func TestRecord_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audio", "ledger.csv")
	l, err := Open(path)
	require.NoError(t, err)
	l.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	merged := l.Merge([]Entry{task(1), task(2), task(3)})
	require.Len(t, merged, 3)
	for _, e := range merged {
		assert.Equal(t, StatusQueued, e.Status)
	}

	done := merged[1]
	done.Status = StatusCompleted
	done.Provider = "edge-tts"
	failed := merged[2]
	failed.Status = StatusFailed
	failed.LastError = "edge-tts: rate limited\n(status 429)"
	require.NoError(t, l.Record(done, failed))

	reopened, err := Open(path)
	require.NoError(t, err)
	entries := reopened.Entries()
	require.Len(t, entries, 3)

	assert.Equal(t, StatusQueued, entries[0].Status)
	assert.Equal(t, StatusCompleted, entries[1].Status)
	assert.Equal(t, "edge-tts", entries[1].Provider)
	assert.Equal(t, "Story - Audio/Chapter_2.mp3", entries[1].OutputRef)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), entries[1].UpdatedAt)
	assert.Equal(t, StatusFailed, entries[2].Status)
	assert.Equal(t, "edge-tts: rate limited (status 429)", entries[2].LastError)

	assert.Equal(t, map[Status]int{StatusQueued: 1, StatusCompleted: 1, StatusFailed: 1}, reopened.Counts())
}

func TestRecord_WritesHeaderAndNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.csv")
	l, err := Open(path)
	require.NoError(t, err)
	l.Merge([]Entry{task(1)})
	require.NoError(t, l.Save())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Equal(t, strings.Join(Columns, ","), lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "1,Chapter 1,"))

	leftovers, _ := filepath.Glob(filepath.Join(dir, "*.tmp.*"))
	assert.Empty(t, leftovers)
}

func TestMerge_KeepsHistoryAndStatus(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "ledger.csv"))
	require.NoError(t, err)

	first := l.Merge([]Entry{task(1), task(2)})
	first[0].Status = StatusCompleted
	require.NoError(t, l.Record(first[0]))

	renamed := task(1)
	renamed.Label = "Chapter 1 (renumbered)"
	second := l.Merge([]Entry{renamed, task(5)})

	assert.Equal(t, StatusCompleted, second[0].Status)
	assert.Equal(t, "Chapter 1 (renumbered)", second[0].Label)
	assert.Equal(t, StatusQueued, second[1].Status)

	entries := l.Entries()
	require.Len(t, entries, 3, "task 2 is absent from the new list but kept")
	assert.Equal(t, []int{1, 2, 5}, []int{entries[0].Index, entries[1].Index, entries[2].Index})
}

func TestMerge_KeepsCompletedOutput(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "ledger.csv"))
	require.NoError(t, err)

	merged := l.Merge([]Entry{task(1), task(2)})
	merged[0].Status = StatusCompleted
	merged[0].OutputRef = "Story - Audio/Chapter_1.wav"
	merged[1].OutputRef = "Story - Audio/Chapter_2.wav"
	require.NoError(t, l.Record(merged...))

	again := l.Merge([]Entry{task(1), task(2)})
	assert.Equal(t, "Story - Audio/Chapter_1.wav", again[0].OutputRef)
	assert.Equal(t, task(2).OutputRef, again[1].OutputRef, "unfinished rows follow the task list")
}

func TestOpen_HandEditedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.csv")
	content := "sequence_index,display_label,text_ref,output_ref,status\n" +
		"3,Chapter 3,a.txt,a.mp3,COMPLETED\n" +
		"1,Chapter 1,b.txt,b.mp3,in_progress\n" +
		"\n" +
		"2,\"Chapter 2, part one\",c.txt,c.mp3,\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	l, err := Open(path)
	require.NoError(t, err)
	entries := l.Entries()
	require.Len(t, entries, 3)

	assert.Equal(t, StatusQueued, entries[0].Status, "interrupted rows are requeued")
	assert.Equal(t, "Chapter 2, part one", entries[1].Label)
	assert.Equal(t, StatusQueued, entries[1].Status)
	assert.Equal(t, StatusCompleted, entries[2].Status)
	assert.Empty(t, entries[2].Provider)
}

func TestOpen_Errors(t *testing.T) {
	tests := map[string]string{
		"no index column": "label,status\nx,queued\n",
		"bad index":       "sequence_index,status\nabc,queued\n",
		"bad status":      "sequence_index,status\n1,done\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "ledger.csv")
			require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
			_, err := Open(path)
			assert.Error(t, err)
		})
	}
}

func TestOpen_DuplicateRowsLastWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.csv")
	content := "sequence_index,status\n1,failed\n1,completed\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	l, err := Open(path)
	require.NoError(t, err)
	e, ok := l.Get(1)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, e.Status)

	_, ok = l.Get(9)
	assert.False(t, ok)
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    Status
		wantErr bool
	}{
		{"", StatusQueued, false},
		{"queued", StatusQueued, false},
		{" Completed ", StatusCompleted, false},
		{"FAILED", StatusFailed, false},
		{"in_progress", StatusInProgress, false},
		{"done", "", true},
	}
	for _, tt := range tests {
		got, err := ParseStatus(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestClip(t *testing.T) {
	long := strings.Repeat("é", maxErrorLen+20)
	got := clip(long)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, maxErrorLen+3, len([]rune(got)))
	assert.Equal(t, "a b", clip("a\n\n  b"))
}
