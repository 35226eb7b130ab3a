// Package local implements providers backed by speech engines installed on
// the host: gtts-cli, macOS say and Piper.
package local

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/smg1208/audio-crawler/pkg/config"
	"github.com/smg1208/audio-crawler/pkg/tts"
)

// Registry names.
const (
	GTTSName  = "gtts"
	MacOSName = "macos"
	PiperName = "piper"
)

// argv builds the engine arguments for one call. Text is always fed on stdin.
type argv func(voice, output string) []string

// Provider runs a local executable that reads text on stdin and writes an
// audio file.
type Provider struct {
	name    string
	command string
	voiceID string
	format  string
	caps    tts.Capabilities
	args    argv
	// ready reports extra preconditions beyond the executable being present.
	ready func() error
	// voiceOK validates the voice a call resolves to.
	voiceOK  func(voice string) error
	lookPath func(string) (string, error)
}

// NewGTTS creates the gtts-cli provider. gTTS fronts the Google Translate
// endpoint, so calls should also be throttled by the caller.
func NewGTTS(cfg config.CommandConfig) *Provider {
	return &Provider{
		name:    GTTSName,
		command: cfg.Command,
		voiceID: cfg.VoiceID,
		format:  "mp3",
		caps:    tts.Capabilities{MaxBytes: 4000, Concurrency: 2},
		args: func(voice, output string) []string {
			a := []string{"--output", output}
			if voice != "" {
				a = append(a, "--lang", voice)
			}
			return append(a, "-")
		},
		lookPath: exec.LookPath,
	}
}

// NewMacOS creates the macOS say provider, which renders AIFF.
func NewMacOS(cfg config.CommandConfig) *Provider {
	return &Provider{
		name:    MacOSName,
		command: cfg.Command,
		voiceID: cfg.VoiceID,
		format:  "aiff",
		caps:    tts.Capabilities{MaxBytes: 4000, Concurrency: 4},
		args: func(voice, output string) []string {
			a := []string{"-o", output}
			if voice != "" {
				a = append(a, "-v", voice)
			}
			return append(a, "-f", "-")
		},
		lookPath: exec.LookPath,
	}
}

// NewPiper creates the Piper provider. The voice is the path of an .onnx model.
func NewPiper(cfg config.PiperConfig) *Provider {
	model := cfg.VoiceID
	if model == "" {
		model = cfg.Model
	}
	p := &Provider{
		name:    PiperName,
		command: cfg.Command,
		voiceID: model,
		format:  "wav",
		caps:    tts.Capabilities{MaxBytes: 4000, Concurrency: 4},
		args: func(voice, output string) []string {
			return []string{"--model", voice, "--output_file", output}
		},
		lookPath: exec.LookPath,
		voiceOK:  modelExists,
	}
	p.ready = func() error {
		if p.voiceID == "" {
			return fmt.Errorf("PIPER_MODEL is not set")
		}
		return modelExists(p.voiceID)
	}
	return p
}

func modelExists(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("model not found: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("model %s is not a file", path)
	}
	return nil
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return p.name }

// Capabilities implements tts.Provider.
func (p *Provider) Capabilities() tts.Capabilities { return p.caps }

// DefaultVoice is used when Synthesize receives no voice.
func (p *Provider) DefaultVoice() string { return p.voiceID }

// IsAvailable reports whether the executable is on PATH and the engine's
// own preconditions hold.
func (p *Provider) IsAvailable() bool {
	return p.unavailable() == nil
}

func (p *Provider) unavailable() error {
	if p.command == "" {
		return tts.Unavailable(p.name, "no command configured")
	}
	if _, err := p.lookPath(p.command); err != nil {
		return tts.Unavailable(p.name, fmt.Sprintf("%s not found in PATH", p.command))
	}
	if p.ready != nil {
		if err := p.ready(); err != nil {
			return tts.Unavailable(p.name, err.Error())
		}
	}
	return nil
}

// Synthesize runs the engine into a temporary file and returns its contents.
func (p *Provider) Synthesize(ctx context.Context, text, voice string) (*tts.Audio, error) {
	if err := p.unavailable(); err != nil {
		return nil, err
	}
	if voice == "" {
		voice = p.voiceID
	}
	if p.voiceOK != nil {
		if err := p.voiceOK(voice); err != nil {
			return nil, tts.Unavailable(p.name, err.Error())
		}
	}

	dir, err := os.MkdirTemp("", "audiocrawler-"+p.name+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)
	output := filepath.Join(dir, "out."+p.format)

	cmd := exec.CommandContext(ctx, p.command, p.args(voice, output)...)
	cmd.Stdin = strings.NewReader(text)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		tts.Log(p.name, text, 0, fmt.Errorf("%w: %s", err, msg))
		if tts.IsRateLimitMessage(msg) {
			return nil, tts.RateLimited(p.name, 0, msg)
		}
		return nil, tts.Failed(p.name, 0, msg, err)
	}

	data, err := os.ReadFile(output)
	if err != nil || len(data) == 0 {
		tts.Log(p.name, text, 0, fmt.Errorf("no output produced"))
		return nil, tts.Failed(p.name, 0, "engine produced no audio", err)
	}
	tts.Log(p.name, text, 0, nil)
	return &tts.Audio{Data: data, Format: p.format}, nil
}
