package retry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/smg1208/audio-crawler/pkg/tts"
)

// WriteArtifact stores audio at basePath plus the format extension. The file
// appears only once fully written.
func WriteArtifact(basePath string, audio *tts.Audio) (string, error) {
	if audio == nil || len(audio.Data) == 0 {
		return "", fmt.Errorf("%w: provider returned no audio data", tts.ErrSynthesisFailed)
	}
	format := audio.Format
	if format == "" {
		format = "mp3"
	}
	path := basePath + "." + format

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create artifact directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp artifact: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(audio.Data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to move artifact: %w", err)
	}
	return path, nil
}
