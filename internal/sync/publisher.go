package sync

import (
	"context"

	"github.com/spf13/afero"

	"github.com/memsister/memsister/internal/cache"
	"github.com/memsister/memsister/internal/logging"
	"github.com/memsister/memsister/internal/records"
)

// PublisherOptions tune how malformed input is handled.
type PublisherOptions struct {
	// SkipMalformed logs and skips malformed lines instead of failing the
	// file. Valid lines of the file are still published.
	SkipMalformed bool
}

// PublishResult counts what a publish did.
type PublishResult struct {
	// Written is the number of records stored in the cache.
	Written int
	// Skipped is the number of malformed lines ignored under SkipMalformed.
	Skipped int
}

// Publisher writes the records of a candidate file into the cache.
type Publisher struct {
	fs     afero.Fs
	logger *logging.Logger
	opts   PublisherOptions
}

// NewPublisher creates a Publisher reading files from fs.
// If logger is nil, a default logger writing to stderr is used.
func NewPublisher(fs afero.Fs, logger *logging.Logger, opts PublisherOptions) *Publisher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{fs: fs, logger: logger, opts: opts}
}

// Publish stores every record of c in the cache, last write wins.
//
// It returns a *FileError if the file cannot be opened or read and a
// *PublishError if a line is malformed or a write fails. Records written
// before the failure stay in the cache. A failed write caused by a lost
// connection also satisfies IsConnection.
func (p *Publisher) Publish(ctx context.Context, client cache.Client, c Candidate) (PublishResult, error) {
	var res PublishResult

	f, err := records.Open(p.fs, c.Path)
	if err != nil {
		return res, &FileError{Path: c.Path, Op: "open", Err: err}
	}
	defer f.Close()

	for rec, err := range f.Records() {
		if err != nil {
			if !IsParse(err) {
				return res, &FileError{Path: c.Path, Op: "read", Err: err}
			}
			if p.opts.SkipMalformed {
				p.logger.Warn("Skipping malformed line in %s: %v", c.Path, err)
				res.Skipped++
				continue
			}
			return res, &PublishError{Path: c.Path, Err: err}
		}

		if err := ctx.Err(); err != nil {
			return res, &PublishError{Path: c.Path, Err: err}
		}

		key := c.RecordKey(rec.Key)
		if err := client.Set(ctx, key, rec.Value); err != nil {
			return res, &PublishError{Path: c.Path, Key: key, Err: err}
		}

		p.logger.Info("Uploaded %s to cache", key)
		res.Written++
	}

	return res, nil
}
