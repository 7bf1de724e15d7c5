package backup

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	root := t.TempDir()
	m := NewManager(
		filepath.Join(root, "data"),
		filepath.Join(root, "backups"),
		"demo",
		slog.New(slog.NewTextHandler(os.Stderr, nil)),
	)
	return m
}

func seedData(t *testing.T, m *Manager) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(m.SourceDir, "graphdb"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(m.SourceDir, "graphdb", "index.bin"), []byte("payload"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(m.SourceDir, "meta.json"), []byte(`{"v":1}`), 0o644))
}

// =============================================================================
// Backup Tests
// =============================================================================

func TestBackup_CreatesTimestampedArchive(t *testing.T) {
	m := newTestManager(t)
	seedData(t, m)
	m.now = func() time.Time { return time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC) }

	artifact, err := m.Backup(context.Background())

	require.NoError(t, err)
	require.NotNil(t, artifact)
	assert.Equal(t, filepath.Join(m.BackupDir, "demo-20260314-092653.tar.gz"), artifact.Path)
	assert.Equal(t, m.SourceDir, artifact.SourceVolume)

	info, err := os.Stat(artifact.Path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestBackup_MissingSourceReturnsNoArtifact(t *testing.T) {
	m := newTestManager(t)

	artifact, err := m.Backup(context.Background())

	require.NoError(t, err)
	assert.Nil(t, artifact)

	// No zero-byte archive either.
	entries, err := os.ReadDir(m.BackupDir)
	if err == nil {
		assert.Empty(t, entries)
	}
}

func TestBackup_EmptySourceReturnsNoArtifact(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, os.MkdirAll(m.SourceDir, 0o755))

	artifact, err := m.Backup(context.Background())

	require.NoError(t, err)
	assert.Nil(t, artifact)
}

// =============================================================================
// Restore Tests
// =============================================================================

func TestRestore_RoundTrip(t *testing.T) {
	m := newTestManager(t)
	seedData(t, m)

	artifact, err := m.Backup(context.Background())
	require.NoError(t, err)
	require.NotNil(t, artifact)

	// Mutate the working tree after the backup.
	require.NoError(t, os.WriteFile(filepath.Join(m.SourceDir, "meta.json"), []byte("corrupted"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(m.SourceDir, "junk.tmp"), []byte("x"), 0o644))

	require.NoError(t, m.Restore(context.Background(), artifact))

	content, err := os.ReadFile(filepath.Join(m.SourceDir, "meta.json"))
	require.NoError(t, err)
	assert.Equal(t, `{"v":1}`, string(content))

	nested, err := os.ReadFile(filepath.Join(m.SourceDir, "graphdb", "index.bin"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(nested))

	// Files written after the backup are gone.
	_, err = os.Stat(filepath.Join(m.SourceDir, "junk.tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestRestore_NilArtifact(t *testing.T) {
	m := newTestManager(t)

	err := m.Restore(context.Background(), nil)

	assert.ErrorIs(t, err, ErrNoBackupFound)
}

func TestRestore_MissingArchiveFile(t *testing.T) {
	m := newTestManager(t)

	err := m.Restore(context.Background(), &Artifact{Path: filepath.Join(m.BackupDir, "demo-20260101-000000.tar.gz")})

	assert.ErrorIs(t, err, ErrNoBackupFound)
}

// =============================================================================
// LatestArtifact Tests
// =============================================================================

func TestLatestArtifact_PicksNewest(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, os.MkdirAll(m.BackupDir, 0o755))
	for _, name := range []string{
		"demo-20260101-000000.tar.gz",
		"demo-20260314-092653.tar.gz",
		"notes.txt",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(m.BackupDir, name), []byte("x"), 0o644))
	}

	artifact, err := m.LatestArtifact()

	require.NoError(t, err)
	require.NotNil(t, artifact)
	assert.Equal(t, filepath.Join(m.BackupDir, "demo-20260314-092653.tar.gz"), artifact.Path)
}

func TestLatestArtifact_NoneFound(t *testing.T) {
	m := newTestManager(t)

	artifact, err := m.LatestArtifact()

	require.NoError(t, err)
	assert.Nil(t, artifact)
}

func TestSafeJoin_RejectsTraversal(t *testing.T) {
	_, err := safeJoin("/tmp/restore", "../../etc/passwd")

	assert.ErrorIs(t, err, ErrUnsafePath)
}
