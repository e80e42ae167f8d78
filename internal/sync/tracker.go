package sync

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/afero"

	"github.com/memsister/memsister/internal/cache"
	"github.com/memsister/memsister/internal/checksum"
	"github.com/memsister/memsister/internal/logging"
)

// Classification is the state of a candidate relative to the cache.
type Classification int

const (
	// Unknown means no fingerprint is stored for the file.
	Unknown Classification = iota
	// Changed means the stored fingerprint differs from the file's.
	Changed
	// Unchanged means the stored fingerprint matches the file's.
	Unchanged
)

// String returns a human-readable representation of the classification.
func (c Classification) String() string {
	switch c {
	case Unknown:
		return "unknown"
	case Changed:
		return "changed"
	case Unchanged:
		return "unchanged"
	default:
		return "invalid"
	}
}

// NeedsPublish reports whether a file in this state must be published.
func (c Classification) NeedsPublish() bool {
	return c == Unknown || c == Changed
}

// Tracker derives per-file state from the filesystem and the fingerprints
// stored in the cache. It keeps no state of its own.
type Tracker struct {
	fs     afero.Fs
	logger *logging.Logger
}

// NewTracker creates a Tracker over fs.
// If logger is nil, a default logger writing to stderr is used.
func NewTracker(fs afero.Fs, logger *logging.Logger) *Tracker {
	if logger == nil {
		logger = logging.Default()
	}
	return &Tracker{fs: fs, logger: logger}
}

// Classify fingerprints c and compares it with the fingerprint stored in
// the cache. It returns the current fingerprint alongside the
// classification so the caller can record it after publishing.
func (t *Tracker) Classify(ctx context.Context, client cache.Client, c Candidate) (Classification, checksum.Fingerprint, error) {
	current, err := checksum.Compute(t.fs, c.Path)
	if err != nil {
		return Unknown, "", &FileError{Path: c.Path, Op: "checksum", Err: err}
	}

	previous, found, err := client.Get(ctx, c.ChecksumKey())
	if err != nil {
		return Unknown, current, fmt.Errorf("failed to read %s: %w", c.ChecksumKey(), err)
	}

	switch {
	case !found:
		return Unknown, current, nil
	case previous != current.String():
		return Changed, current, nil
	default:
		return Unchanged, current, nil
	}
}

// RecordFingerprint stores fp as the last published fingerprint of c.
func (t *Tracker) RecordFingerprint(ctx context.Context, client cache.Client, c Candidate, fp checksum.Fingerprint) error {
	if err := client.Set(ctx, c.ChecksumKey(), fp.String()); err != nil {
		return &PublishError{Path: c.Path, Key: c.ChecksumKey(), Err: err}
	}
	return nil
}

// MarkProcessed renames c to its processed name in a single rename. An
// existing file at the processed name is never overwritten.
func (t *Tracker) MarkProcessed(c Candidate) error {
	newPath := c.ProcessedPath()

	var err error
	if _, ok := t.fs.(*afero.OsFs); ok {
		err = renameNoReplace(c.Path, newPath)
	} else {
		err = t.renameChecked(c.Path, newPath)
	}
	if err != nil {
		return &RenameError{OldPath: c.Path, NewPath: newPath, Err: err}
	}

	t.logger.Info("Marked %s as processed", c.Name)
	return nil
}

// renameChecked refuses to replace an existing target, then renames through
// the afero filesystem.
func (t *Tracker) renameChecked(oldPath, newPath string) error {
	if _, err := t.fs.Stat(newPath); err == nil {
		return &os.LinkError{Op: "rename", Old: oldPath, New: newPath, Err: os.ErrExist}
	}
	return t.fs.Rename(oldPath, newPath)
}
