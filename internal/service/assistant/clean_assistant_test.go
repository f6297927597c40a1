package assistant

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCleanupExpiredFiles(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old.jpg")
	fresh := filepath.Join(dir, "fresh.jpg")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(fresh, []byte("y"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	removed, err := cleanupExpiredFiles(dir, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, removed)
	require.NoFileExists(t, old)
	require.FileExists(t, fresh)
	require.DirExists(t, filepath.Join(dir, "sub"))
}

func TestCleanupMissingDir(t *testing.T) {
	removed, err := cleanupExpiredFiles(filepath.Join(t.TempDir(), "absent"), time.Now())
	require.NoError(t, err)
	require.Zero(t, removed)
}
