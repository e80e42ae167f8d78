// Package records parses pipe-delimited key/value data files.
//
// Each line of a data file holds one record in the form "key|value". Lines are
// trimmed before splitting and blank lines are ignored. There is no escaping:
// a line containing more or fewer than one "|" is malformed.
package records

import (
	"bufio"
	"fmt"
	"io"
	"iter"
	"strings"
	"unicode/utf8"

	"github.com/spf13/afero"
)

// Delimiter separates the key from the value on a record line.
const Delimiter = "|"

// maxLineSize bounds a single record line.
const maxLineSize = 1024 * 1024

// Record is one parsed key/value pair.
type Record struct {
	Key   string
	Value string
	// Line is the 1-based line number the record came from.
	Line int
}

// ParseError reports a malformed record line.
type ParseError struct {
	Line int
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("line %d: expected key%svalue, got %q", e.Line, Delimiter, e.Text)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParseLine splits a single trimmed line into a record.
func ParseLine(line string, lineNo int) (Record, error) {
	if !utf8.ValidString(line) {
		return Record{}, &ParseError{Line: lineNo, Text: line, Err: fmt.Errorf("invalid UTF-8")}
	}

	fields := strings.Split(line, Delimiter)
	if len(fields) != 2 {
		return Record{}, &ParseError{Line: lineNo, Text: line}
	}

	return Record{Key: fields[0], Value: fields[1], Line: lineNo}, nil
}

// Parse returns a lazy, single-pass sequence of the records in r.
//
// A malformed line yields a non-nil error for that line. Iteration continues
// afterwards, so callers decide whether to stop or skip. A read error is
// yielded once and ends the sequence.
func Parse(r io.Reader) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}

			rec, err := ParseLine(line, lineNo)
			if !yield(rec, err) {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			yield(Record{}, fmt.Errorf("failed to read line %d: %w", lineNo+1, err))
		}
	}
}

// File is an open data file whose records can be ranged over once.
type File struct {
	f afero.File
}

// Open opens path for parsing. The caller must Close the returned File.
func Open(fs afero.Fs, path string) (*File, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	return &File{f: f}, nil
}

// Records returns the record sequence of the file.
func (f *File) Records() iter.Seq2[Record, error] {
	return Parse(f.f)
}

// Close closes the underlying file.
func (f *File) Close() error {
	return f.f.Close()
}
