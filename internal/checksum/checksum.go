// Package checksum computes content fingerprints for data files.
//
// A fingerprint only has to detect that a file's bytes changed between two
// scans. MD5 is used so fingerprints stay comparable with values already
// stored in the cache by earlier deployments.
package checksum

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/spf13/afero"
)

// Fingerprint is the lowercase hex digest of a file's raw content.
type Fingerprint string

// String returns the digest as stored in the cache.
func (f Fingerprint) String() string {
	return string(f)
}

// Sum returns the fingerprint of an in-memory byte slice.
func Sum(data []byte) Fingerprint {
	sum := md5.Sum(data)
	return Fingerprint(hex.EncodeToString(sum[:]))
}

// Compute reads the whole file at path and returns its fingerprint.
// The file is streamed, so large files are not held in memory.
func Compute(fs afero.Fs, path string) (Fingerprint, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}

	return Fingerprint(hex.EncodeToString(h.Sum(nil))), nil
}
