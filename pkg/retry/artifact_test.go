package retry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smg1208/audio-crawler/pkg/tts"
)

func TestWriteArtifact(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "nested", "Chapter_1.part_0")

	path, err := WriteArtifact(base, &tts.Audio{Data: []byte("RIFF"), Format: "wav"})
	require.NoError(t, err)
	assert.Equal(t, base+".wav", path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(data))

	path, err = WriteArtifact(base, &tts.Audio{Data: []byte("ID3")})
	require.NoError(t, err)
	assert.Equal(t, base+".mp3", path)

	leftovers, _ := filepath.Glob(filepath.Join(dir, "nested", ".*"))
	assert.Empty(t, leftovers)
}

func TestWriteArtifact_NoData(t *testing.T) {
	base := filepath.Join(t.TempDir(), "c")
	for _, a := range []*tts.Audio{nil, {Format: "mp3"}} {
		_, err := WriteArtifact(base, a)
		assert.True(t, errors.Is(err, tts.ErrSynthesisFailed))
	}
	_, err := os.Stat(base + ".mp3")
	assert.True(t, os.IsNotExist(err))
}
