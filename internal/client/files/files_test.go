package files

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveToFlatFile(t *testing.T) {
	dir := t.TempDir()

	target, err := SaveTo(dir, "notes.txt", "", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "notes.txt"), target)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
}

func TestSaveToPreservesRelativePath(t *testing.T) {
	dir := t.TempDir()

	target, err := SaveTo(dir, "photo.jpg", "album/summer/photo.jpg", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "album", "summer", "photo.jpg"), target)
	assert.FileExists(t, target)
}

func TestSaveToRejectsEscapingPaths(t *testing.T) {
	dir := t.TempDir()

	// Hostile relative paths fall back to the bare file name.
	for _, rel := range []string{"../evil.txt", "../../evil.txt", "/etc/evil.txt", "a/../../evil.txt"} {
		target, err := SaveTo(dir, "photo.jpg", rel, []byte("x"))
		require.NoError(t, err, rel)
		assert.Equal(t, filepath.Dir(target), dir, "escaped output dir for %q", rel)
	}
}

func TestSaveToAvoidsOverwrite(t *testing.T) {
	dir := t.TempDir()

	first, err := SaveTo(dir, "report.pdf", "", []byte("v1"))
	require.NoError(t, err)
	second, err := SaveTo(dir, "report.pdf", "", []byte("v2"))
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, filepath.Join(dir, "report (1).pdf"), second)

	data, _ := os.ReadFile(first)
	assert.Equal(t, []byte("v1"), data)
}

func TestUniqueFilenameCounts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")

	assert.Equal(t, path, UniqueFilename(path))

	require.NoError(t, os.WriteFile(path, nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a (1).txt"), nil, 0o644))
	assert.Equal(t, filepath.Join(dir, "a (2).txt"), UniqueFilename(path))
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512 B", FormatSize(512))
	assert.Equal(t, "1.00 KB", FormatSize(1024))
	assert.Equal(t, "1.50 MB", FormatSize(3*1024*1024/2))
	assert.Equal(t, "2.00 GB", FormatSize(2<<30))
}

func TestFormatSpeed(t *testing.T) {
	assert.Equal(t, "100 B/s", FormatSpeed(100))
	assert.Equal(t, "2.00 KB/s", FormatSpeed(2048))
	assert.Equal(t, "1.00 MB/s", FormatSpeed(1024*1024))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "5s", FormatDuration(5*time.Second))
	assert.Equal(t, "2m 3s", FormatDuration(2*time.Minute+3*time.Second))
	assert.Equal(t, "1h 0m 30s", FormatDuration(time.Hour+30*time.Second))
}
