package tts

import (
	"fmt"
	"os"
)

// VerifyAudioFile checks that path exists, is a regular file and is not empty.
func VerifyAudioFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("audio file missing: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("audio path %s is not a regular file", path)
	}
	if info.Size() == 0 {
		return fmt.Errorf("audio file %s is empty", path)
	}
	return nil
}
