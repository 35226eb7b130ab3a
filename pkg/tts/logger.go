package tts

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var (
	logPath string
	mu      sync.Mutex
)

// SetLogPath configures the path for the TTS request history file.
// An empty path disables the history.
func SetLogPath(path string) {
	mu.Lock()
	defer mu.Unlock()
	logPath = path
}

// Log appends one synthesis request and its outcome to the history file.
// Shared by all providers so request bodies can be inspected after a batch.
func Log(provider, text string, status int, err error) {
	mu.Lock()
	defer mu.Unlock()

	if logPath == "" {
		return
	}

	_ = os.MkdirAll(filepath.Dir(logPath), 0o755)

	f, fileErr := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if fileErr != nil {
		return
	}
	defer f.Close()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	statusStr := fmt.Sprintf("%d", status)
	if err != nil {
		statusStr = fmt.Sprintf("ERROR(%v)", err)
	}

	// Format: [TIMESTAMP] [PROVIDER] STATUS: <code> | TEXT: <text>
	entry := fmt.Sprintf("[%s] [%s] STATUS: %s\nTEXT:\n%s\n%s\n",
		timestamp, strings.ToUpper(provider), statusStr, text, strings.Repeat("-", 50))

	_, _ = f.WriteString(entry)
}
