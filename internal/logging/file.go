package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Stderr is the log file name that selects standard error.
const Stderr = "-"

// maxSizeMB caps a single log file between midnight rotations.
const maxSizeMB = 100

// FileOptions configure the rotating log file.
type FileOptions struct {
	// Path of the active log file, or Stderr.
	Path string
	// Backups is how many rotated files to keep.
	Backups int
}

// Sink is a log destination that must be closed on shutdown.
type Sink interface {
	io.Writer
	io.Closer
}

// Open returns a Logger and its sink. File sinks rotate at local midnight
// and keep opts.Backups old files.
func Open(opts FileOptions) (*Logger, Sink, error) {
	if opts.Path == "" || opts.Path == Stderr {
		return New(os.Stderr), nopSink{os.Stderr}, nil
	}

	if dir := filepath.Dir(opts.Path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	r := newRotator(&lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    maxSizeMB,
		MaxBackups: opts.Backups,
		LocalTime:  true,
	}, time.Now)
	r.start()

	return New(r), r, nil
}

type nopSink struct{ io.Writer }

func (nopSink) Close() error { return nil }

// rotator rotates a lumberjack logger every day at local midnight.
type rotator struct {
	*lumberjack.Logger

	now  func() time.Time
	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func newRotator(l *lumberjack.Logger, now func() time.Time) *rotator {
	return &rotator{Logger: l, now: now, stop: make(chan struct{})}
}

func (r *rotator) start() {
	r.wg.Add(1)
	go r.loop()
}

func (r *rotator) loop() {
	defer r.wg.Done()

	for {
		timer := time.NewTimer(untilMidnight(r.now()))
		select {
		case <-r.stop:
			timer.Stop()
			return
		case <-timer.C:
			if err := r.Rotate(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to rotate log: %v\n", err)
			}
		}
	}
}

// Close stops the rotation loop and closes the file.
func (r *rotator) Close() error {
	r.once.Do(func() { close(r.stop) })
	r.wg.Wait()
	return r.Logger.Close()
}

// untilMidnight returns the time left until the next local midnight.
func untilMidnight(now time.Time) time.Duration {
	y, m, d := now.Date()
	next := time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
	return next.Sub(now)
}
