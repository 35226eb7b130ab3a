package app

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/smg1208/audio-crawler/pkg/config"
)

// fakeEngine copies stdin to the file following --output, like gtts-cli.
const fakeEngine = `#!/bin/sh
out=""
prev=""
for a in "$@"; do
  [ "$prev" = "--output" ] && out="$a"
  prev="$a"
done
cat > "$out"
`

// testConfig returns a config rooted in a temp dir with gtts as the only
// provider, backed by a shell script.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on Windows")
	}
	root := t.TempDir()
	script := filepath.Join(root, "gtts-cli")
	require.NoError(t, os.WriteFile(script, []byte(fakeEngine), 0o755))

	cfg := config.DefaultConfig()
	cfg.Log.TTS.Path = filepath.Join(root, "logs", "tts.log")
	cfg.Source.Root = filepath.Join(root, "output")
	cfg.Cache.Backend = "none"
	cfg.TTS.Primary = "gtts"
	cfg.TTS.Fallbacks = nil
	cfg.TTS.GTTS.Command = script
	cfg.TTS.GTTS.RequestsPerMinute = 0
	cfg.Job.MaxRetries = 1
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

// writeChapters creates Chapter_<n>.txt files for job.
func writeChapters(t *testing.T, a *App, job string, chapters map[int]string) {
	t.Helper()
	dir := a.Source.TextDir(job)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for n, text := range chapters {
		path := filepath.Join(dir, "Chapter_"+strconv.Itoa(n)+".txt")
		require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	}
}
