package sync

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

const (
	// DataSuffix marks a file as a candidate for publishing.
	DataSuffix = ".base"
	// ProcessedSuffix is appended to a file once it has been published.
	ProcessedSuffix = "_old"
	// ChecksumKeySuffix is appended to a file name to form its fingerprint key.
	ChecksumKeySuffix = "_checksum"
	// KeySeparator joins a file's base name and a record key.
	KeySeparator = "_"
)

// Candidate is a data file eligible for publishing.
type Candidate struct {
	// Path is the absolute path of the file.
	Path string
	// Name is the file name including DataSuffix.
	Name string
	// BaseName is Name without DataSuffix.
	BaseName string
}

// IsCandidateName reports whether a file name follows the data file
// convention and has not been marked processed.
func IsCandidateName(name string) bool {
	return strings.HasSuffix(name, DataSuffix) && !strings.HasSuffix(name, ProcessedSuffix)
}

// NewCandidate builds a Candidate for path. It returns an error if the
// file name is not a candidate name.
func NewCandidate(path string) (Candidate, error) {
	name := filepath.Base(path)
	if !IsCandidateName(name) {
		return Candidate{}, fmt.Errorf("%s is not a %s file", name, DataSuffix)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return Candidate{}, fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	return Candidate{
		Path:     abs,
		Name:     name,
		BaseName: strings.TrimSuffix(name, DataSuffix),
	}, nil
}

// ChecksumKey is the cache key holding the file's published fingerprint.
func (c Candidate) ChecksumKey() string {
	return c.Name + ChecksumKeySuffix
}

// RecordKey is the cache key for a record key of this file.
func (c Candidate) RecordKey(key string) string {
	return c.BaseName + KeySeparator + key
}

// ProcessedPath is where the file is moved once published.
func (c Candidate) ProcessedPath() string {
	return c.Path + ProcessedSuffix
}

// ListCandidates returns the candidate files directly inside dir, in the
// order the filesystem listed them. Subdirectories and other non-regular
// entries are ignored.
func ListCandidates(fs afero.Fs, dir string) ([]Candidate, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}

	entries, err := afero.ReadDir(fs, abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", abs, err)
	}

	var candidates []Candidate
	for _, entry := range entries {
		if !entry.Mode().IsRegular() {
			continue
		}
		if !IsCandidateName(entry.Name()) {
			continue
		}

		path := filepath.Join(abs, entry.Name())
		candidates = append(candidates, Candidate{
			Path:     path,
			Name:     entry.Name(),
			BaseName: strings.TrimSuffix(entry.Name(), DataSuffix),
		})
	}

	return candidates, nil
}
