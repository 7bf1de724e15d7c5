// Package backup archives persisted data volumes before a deploy and
// restores them on rollback.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	corebackup "github.com/artpar/stackctl/internal/core/backup"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrNoBackupFound is returned when rollback is invoked without an
	// existing artifact. Absence is a hard stop, never a silent skip.
	ErrNoBackupFound = errors.New("no backup archive found")

	// ErrUnsafePath is returned when an archive entry would escape the
	// restore directory.
	ErrUnsafePath = errors.New("archive entry escapes target directory")
)

// =============================================================================
// Artifact
// =============================================================================

// Artifact is a point-in-time archive of persisted data, the sole input
// to rollback.
type Artifact struct {
	Path         string
	CreatedAt    time.Time
	SourceVolume string
}

// =============================================================================
// Manager
// =============================================================================

// Manager owns the backup directory for one project.
type Manager struct {
	SourceDir string // data directory being archived
	BackupDir string
	Prefix    string // archive name prefix, normally the project name

	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a backup manager.
func NewManager(sourceDir, backupDir, prefix string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		SourceDir: sourceDir,
		BackupDir: backupDir,
		Prefix:    prefix,
		logger:    logger,
		now:       time.Now,
	}
}

// Backup archives the source directory into a timestamped tar.gz under the
// backup directory. Returns (nil, nil) when the source is missing or empty;
// that is logged, not an error, and no zero-byte archive is created.
func (m *Manager) Backup(ctx context.Context) (*Artifact, error) {
	empty, err := m.sourceEmpty()
	if err != nil {
		return nil, fmt.Errorf("failed to inspect source %s: %w", m.SourceDir, err)
	}
	if empty {
		m.logger.Info("nothing to back up", "source", m.SourceDir)
		return nil, nil
	}

	if err := os.MkdirAll(m.BackupDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	createdAt := m.now()
	name := corebackup.ArchiveName(m.Prefix, createdAt)
	path := filepath.Join(m.BackupDir, name)

	if err := writeArchive(ctx, m.SourceDir, path); err != nil {
		// Do not leave a partial archive behind.
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to write archive %s: %w", path, err)
	}

	m.logger.Info("backup created", "archive", path, "source", m.SourceDir)
	return &Artifact{Path: path, CreatedAt: createdAt, SourceVolume: m.SourceDir}, nil
}

// LatestArtifact locates the most recent archive in the backup directory.
// Returns (nil, nil) when none exists; the caller decides whether that is
// fatal.
func (m *Manager) LatestArtifact() (*Artifact, error) {
	entries, err := os.ReadDir(m.BackupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}

	latest := corebackup.Latest(m.Prefix, names)
	if latest == "" {
		return nil, nil
	}
	createdAt, err := corebackup.ParseArchiveTime(m.Prefix, latest)
	if err != nil {
		return nil, err
	}
	return &Artifact{
		Path:         filepath.Join(m.BackupDir, latest),
		CreatedAt:    createdAt,
		SourceVolume: m.SourceDir,
	}, nil
}

// Restore extracts the artifact over the source directory. A nil artifact
// or a missing archive file fails with ErrNoBackupFound.
func (m *Manager) Restore(ctx context.Context, artifact *Artifact) error {
	if artifact == nil {
		return ErrNoBackupFound
	}
	if _, err := os.Stat(artifact.Path); err != nil {
		return fmt.Errorf("%s: %w", artifact.Path, ErrNoBackupFound)
	}

	if err := os.RemoveAll(m.SourceDir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear %s: %w", m.SourceDir, err)
	}
	if err := os.MkdirAll(m.SourceDir, 0o755); err != nil {
		return fmt.Errorf("failed to recreate %s: %w", m.SourceDir, err)
	}

	if err := extractArchive(ctx, artifact.Path, m.SourceDir); err != nil {
		return fmt.Errorf("failed to extract %s: %w", artifact.Path, err)
	}

	m.logger.Info("backup restored", "archive", artifact.Path, "target", m.SourceDir)
	return nil
}

// sourceEmpty reports whether the source directory is missing or has no
// entries.
func (m *Manager) sourceEmpty() (bool, error) {
	entries, err := os.ReadDir(m.SourceDir)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, err
	}
	return len(entries) == 0, nil
}

// =============================================================================
// Archive I/O
// =============================================================================

// writeArchive streams sourceDir into a gzipped tarball at dst.
func writeArchive(ctx context.Context, sourceDir, dst string) error {
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	err = filepath.Walk(sourceDir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	return out.Close()
}

// extractArchive unpacks a gzipped tarball into targetDir, rejecting
// entries that would escape it.
func extractArchive(ctx context.Context, src, targetDir string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	gz, err := gzip.NewReader(in)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target, err := safeJoin(targetDir, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		default:
			// Symlinks and specials are not expected in data volumes; skip.
		}
	}
}

// safeJoin joins name under dir and rejects path traversal.
func safeJoin(dir, name string) (string, error) {
	target := filepath.Join(dir, filepath.FromSlash(name))
	if !strings.HasPrefix(target, filepath.Clean(dir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("%s: %w", name, ErrUnsafePath)
	}
	return target, nil
}
