package local

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smg1208/audio-crawler/pkg/config"
	"github.com/smg1208/audio-crawler/pkg/tts"
)

// writeScript creates an executable shell script standing in for an engine.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on Windows")
	}
	path := filepath.Join(t.TempDir(), "engine")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

// echoEngine copies stdin to the file following --output, -o or --output_file,
// and records its arguments next to the script.
const echoEngine = `
out=""
prev=""
for a in "$@"; do
  case "$prev" in
    --output|-o|--output_file) out="$a" ;;
  esac
  prev="$a"
done
echo "$@" > "$(dirname "$0")/args"
cat > "$out"
`

func TestGTTS(t *testing.T) {
	script := writeScript(t, echoEngine)
	p := NewGTTS(config.CommandConfig{Command: script, VoiceID: "vi"})
	require.True(t, p.IsAvailable())

	a, err := p.Synthesize(context.Background(), "xin chào", "")
	require.NoError(t, err)
	assert.Equal(t, &tts.Audio{Data: []byte("xin chào"), Format: "mp3"}, a)

	args, err := os.ReadFile(filepath.Join(filepath.Dir(script), "args"))
	require.NoError(t, err)
	assert.Contains(t, string(args), "--lang vi -")
}

func TestMacOSFormat(t *testing.T) {
	script := writeScript(t, echoEngine)
	p := NewMacOS(config.CommandConfig{Command: script, VoiceID: "Linh"})

	a, err := p.Synthesize(context.Background(), "hello", "")
	require.NoError(t, err)
	assert.Equal(t, "aiff", a.Format)

	args, _ := os.ReadFile(filepath.Join(filepath.Dir(script), "args"))
	assert.Contains(t, string(args), "-v Linh -f -")
}

func TestPiperRequiresModel(t *testing.T) {
	script := writeScript(t, echoEngine)

	p := NewPiper(config.PiperConfig{CommandConfig: config.CommandConfig{Command: script}})
	assert.False(t, p.IsAvailable())
	_, err := p.Synthesize(context.Background(), "hello", "")
	assert.True(t, errors.Is(err, tts.ErrProviderUnavailable))
	assert.Contains(t, err.Error(), "PIPER_MODEL")

	model := filepath.Join(t.TempDir(), "vi.onnx")
	require.NoError(t, os.WriteFile(model, []byte("onnx"), 0o644))
	p = NewPiper(config.PiperConfig{CommandConfig: config.CommandConfig{Command: script}, Model: model})
	require.True(t, p.IsAvailable())

	a, err := p.Synthesize(context.Background(), "hello", "")
	require.NoError(t, err)
	assert.Equal(t, "wav", a.Format)

	args, _ := os.ReadFile(filepath.Join(filepath.Dir(script), "args"))
	assert.True(t, strings.HasPrefix(string(args), "--model "+model))
}

func TestPiperVoiceOverrideMustExist(t *testing.T) {
	script := writeScript(t, echoEngine)
	model := filepath.Join(t.TempDir(), "vi.onnx")
	require.NoError(t, os.WriteFile(model, []byte("onnx"), 0o644))
	p := NewPiper(config.PiperConfig{CommandConfig: config.CommandConfig{Command: script}, Model: model})
	require.True(t, p.IsAvailable())

	_, err := p.Synthesize(context.Background(), "hello", filepath.Join(t.TempDir(), "en.onnx"))
	require.Error(t, err)
	assert.ErrorIs(t, err, tts.ErrProviderUnavailable)
	assert.Contains(t, err.Error(), "model not found")
	assert.NoFileExists(t, filepath.Join(filepath.Dir(script), "args"), "engine is not started")

	_, err = p.Synthesize(context.Background(), "hello", filepath.Dir(model))
	assert.ErrorIs(t, err, tts.ErrProviderUnavailable)
}

func TestMissingExecutable(t *testing.T) {
	p := NewGTTS(config.CommandConfig{Command: "definitely-not-a-tts-engine"})
	assert.False(t, p.IsAvailable())
	_, err := p.Synthesize(context.Background(), "hello", "")
	assert.True(t, errors.Is(err, tts.ErrProviderUnavailable))
	assert.True(t, tts.IsFatal(err))
}

func TestEngineFailure(t *testing.T) {
	tests := []struct {
		name   string
		script string
		kind   error
	}{
		{"Crash", "echo 'boom' >&2; exit 3", tts.ErrSynthesisFailed},
		{"Throttled", "echo '429 Too Many Requests' >&2; exit 1", tts.ErrRateLimited},
		{"No output", "cat > /dev/null", tts.ErrSynthesisFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewGTTS(config.CommandConfig{Command: writeScript(t, tt.script)})
			_, err := p.Synthesize(context.Background(), "hello", "")
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.kind), "got %v", err)
			assert.False(t, tts.IsFatal(err))
		})
	}
}

func TestCancellation(t *testing.T) {
	p := NewGTTS(config.CommandConfig{Command: writeScript(t, "sleep 5")})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Synthesize(ctx, "hello", "")
	assert.ErrorIs(t, err, context.Canceled)
}
