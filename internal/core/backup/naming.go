// Package backup contains the pure naming and selection logic for backup
// archives. The filesystem half lives in internal/shell/backup.
package backup

import (
	"errors"
	"path/filepath"
	"strings"
	"time"
)

// =============================================================================
// Archive Naming
// =============================================================================

// TimeFormat is the timestamp layout embedded in archive names. Lexical
// order equals chronological order, which is what makes Latest a plain
// string comparison.
const TimeFormat = "20060102-150405"

// suffix is the archive extension.
const suffix = ".tar.gz"

// ErrNotAnArchive is returned when a filename does not follow the
// <prefix>-<timestamp>.tar.gz pattern.
var ErrNotAnArchive = errors.New("not a backup archive name")

// ArchiveName generates the archive filename for a backup taken at t.
// Pattern: {prefix}-{20060102-150405}.tar.gz
func ArchiveName(prefix string, t time.Time) string {
	return prefix + "-" + t.UTC().Format(TimeFormat) + suffix
}

// ParseArchiveTime extracts the creation timestamp from an archive name.
func ParseArchiveTime(prefix, name string) (time.Time, error) {
	base := filepath.Base(name)
	if !strings.HasPrefix(base, prefix+"-") || !strings.HasSuffix(base, suffix) {
		return time.Time{}, ErrNotAnArchive
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(base, prefix+"-"), suffix)
	t, err := time.Parse(TimeFormat, stamp)
	if err != nil {
		return time.Time{}, ErrNotAnArchive
	}
	return t, nil
}

// Latest selects the most recent archive from a directory listing.
// Names that don't parse are ignored. Returns "" when nothing matches.
func Latest(prefix string, names []string) string {
	var best string
	var bestTime time.Time
	for _, name := range names {
		t, err := ParseArchiveTime(prefix, name)
		if err != nil {
			continue
		}
		if best == "" || t.After(bestTime) {
			best = name
			bestTime = t
		}
	}
	return best
}
