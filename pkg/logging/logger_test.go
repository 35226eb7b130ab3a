package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smg1208/audio-crawler/pkg/config"
)

func captureConsole(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prevConsole, prevDefault := Console, slog.Default()
	Console = &buf
	t.Cleanup(func() {
		Console = prevConsole
		slog.SetDefault(prevDefault)
		EnableTrace = false
	})
	return &buf
}

func TestInit(t *testing.T) {
	console := captureConsole(t)
	tempDir := t.TempDir()
	serverLog := filepath.Join(tempDir, "logs", "audiocrawler.log")
	ttsLog := filepath.Join(tempDir, "logs", "tts.log")

	cfg := &config.LogConfig{
		Server: config.LogSettings{Path: serverLog, Level: "DEBUG"},
		TTS:    config.LogSettings{Path: ttsLog, Level: "INFO"},
	}

	cleanup, err := Init(cfg)
	require.NoError(t, err)

	slog.Debug("Scheduler: chunk planned", "index", 1)
	slog.Info("Scheduler: job started", "job", "demo")
	cleanup()

	data, err := os.ReadFile(serverLog)
	require.NoError(t, err)
	assert.Contains(t, string(data), "chunk planned")
	assert.Contains(t, string(data), "job started")

	// Console is capped at INFO.
	assert.Contains(t, console.String(), "job started")
	assert.NotContains(t, console.String(), "chunk planned")
	assert.False(t, EnableTrace)
}

func TestInitRotatesLargeLogs(t *testing.T) {
	captureConsole(t)
	saved := RotateSize
	RotateSize = 4
	t.Cleanup(func() { RotateSize = saved })

	tempDir := t.TempDir()
	serverLog := filepath.Join(tempDir, "audiocrawler.log")
	ttsLog := filepath.Join(tempDir, "tts.log")
	require.NoError(t, os.WriteFile(serverLog, []byte("previous run\n"), 0o644))
	require.NoError(t, os.WriteFile(ttsLog, []byte("previous tts\n"), 0o644))

	cleanup, err := Init(&config.LogConfig{
		Server: config.LogSettings{Path: serverLog, Level: "TRACE"},
		TTS:    config.LogSettings{Path: ttsLog},
	})
	require.NoError(t, err)
	defer cleanup()

	old, err := os.ReadFile(serverLog + ".old")
	require.NoError(t, err)
	assert.Equal(t, "previous run\n", string(old))

	_, err = os.Stat(ttsLog + ".old")
	assert.NoError(t, err)
	_, err = os.Stat(ttsLog)
	assert.True(t, os.IsNotExist(err), "tts history starts empty")

	assert.True(t, EnableTrace)
}

func TestInitAppendsSmallLogs(t *testing.T) {
	captureConsole(t)
	serverLog := filepath.Join(t.TempDir(), "audiocrawler.log")
	require.NoError(t, os.WriteFile(serverLog, []byte("previous run\n"), 0o644))

	cleanup, err := Init(&config.LogConfig{Server: config.LogSettings{Path: serverLog}})
	require.NoError(t, err)
	slog.Info("Scheduler: second run")
	cleanup()

	assert.NoFileExists(t, serverLog+".old")
	data, err := os.ReadFile(serverLog)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "previous run\n"))
	assert.Contains(t, string(data), "second run")
}

func TestInitConsoleOnly(t *testing.T) {
	console := captureConsole(t)

	cleanup, err := Init(&config.LogConfig{Server: config.LogSettings{Level: "WARN"}})
	require.NoError(t, err)
	defer cleanup()

	slog.Info("Probe: hidden")
	slog.Warn("Probe: visible")
	assert.NotContains(t, console.String(), "hidden")
	assert.Contains(t, console.String(), "visible")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"TRACE":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"Warning": slog.LevelWarn,
		"ERROR":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), "level %q", in)
	}
}

func TestMultiHandlerWithAttrs(t *testing.T) {
	var a, b bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&a, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&b, &slog.HandlerOptions{Level: slog.LevelWarn}),
	}}
	logger := slog.New(h).With("provider", "edge-tts").WithGroup("chunk")

	logger.Info("synthesized", "index", 2)
	logger.Warn("retrying", "index", 3)

	assert.Contains(t, a.String(), "provider=edge-tts")
	assert.Contains(t, a.String(), "chunk.index=2")
	assert.False(t, strings.Contains(b.String(), "synthesized"))
	assert.Contains(t, b.String(), "chunk.index=3")
}
