package sync

import (
	"errors"
	"fmt"

	"github.com/memsister/memsister/internal/cache"
	"github.com/memsister/memsister/internal/records"
)

// FileError reports that a candidate file could not be opened or read.
type FileError struct {
	Path string
	Op   string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("file error: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// PublishError reports that publishing a file stopped early. Key is the
// cache key being written, or empty when parsing failed.
type PublishError struct {
	Path string
	Key  string
	Err  error
}

func (e *PublishError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("publish error: %s: key %s: %v", e.Path, e.Key, e.Err)
	}
	return fmt.Sprintf("publish error: %s: %v", e.Path, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// RenameError reports that a published file could not be marked processed.
type RenameError struct {
	OldPath string
	NewPath string
	Err     error
}

func (e *RenameError) Error() string {
	return fmt.Sprintf("rename error: %s -> %s: %v", e.OldPath, e.NewPath, e.Err)
}

func (e *RenameError) Unwrap() error {
	return e.Err
}

// IsConnection reports whether err means the cache is unusable. The caller
// should drop its client and reconnect.
func IsConnection(err error) bool {
	return cache.IsConnectionError(err)
}

// IsPerFile reports whether err only affects the file being processed.
func IsPerFile(err error) bool {
	if err == nil {
		return false
	}
	return !IsConnection(err)
}

// IsParse reports whether err was caused by a malformed record line.
func IsParse(err error) bool {
	var perr *records.ParseError
	return errors.As(err, &perr)
}
