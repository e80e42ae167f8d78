package daemon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/memsister/memsister/internal/cache"
	"github.com/memsister/memsister/internal/checksum"
	"github.com/memsister/memsister/internal/config"
	"github.com/memsister/memsister/internal/logging"
	"github.com/memsister/memsister/internal/sync"
)

// State is the connection state of the loop.
type State int

const (
	// StateDisconnected means there is no usable cache connection.
	StateDisconnected State = iota
	// StateScanning means the connection is up and scans run each interval.
	StateScanning
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateScanning:
		return "scanning"
	default:
		return "unknown"
	}
}

// Clock abstracts time so tests can run the loop without real delays.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Observer receives loop events. Implementations must not block.
type Observer interface {
	OnConnected(addr string)
	OnDisconnected(err error)
	OnFileProcessed(res FileResult)
	OnScanComplete(res ScanResult)
}

type nopObserver struct{}

func (nopObserver) OnConnected(string)         {}
func (nopObserver) OnDisconnected(error)       {}
func (nopObserver) OnFileProcessed(FileResult) {}
func (nopObserver) OnScanComplete(ScanResult)  {}

// Outcome is what a scan did with one file.
type Outcome int

const (
	// OutcomeUnchanged means the file matched its stored fingerprint.
	OutcomeUnchanged Outcome = iota
	// OutcomePublished means the file was published and marked processed.
	OutcomePublished
	// OutcomeFailed means the file could not be classified or published.
	OutcomeFailed
	// OutcomeRenameFailed means the file was published but not renamed.
	OutcomeRenameFailed
)

// String returns a human-readable representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomePublished:
		return "published"
	case OutcomeFailed:
		return "failed"
	case OutcomeRenameFailed:
		return "rename_failed"
	default:
		return "unknown"
	}
}

// FileResult describes how one candidate was handled.
type FileResult struct {
	Name           string
	Path           string
	Classification sync.Classification
	Fingerprint    checksum.Fingerprint
	Outcome        Outcome
	Written        int
	Skipped        int
	Err            error
}

// ScanResult summarizes one pass over the watch directory.
type ScanResult struct {
	ID           string
	Started      time.Time
	Duration     time.Duration
	Candidates   int
	Published    int
	Unchanged    int
	Failed       int
	RenameFailed int
	Files        []FileResult
}

func (r *ScanResult) add(fr FileResult) {
	r.Files = append(r.Files, fr)
	switch fr.Outcome {
	case OutcomePublished:
		r.Published++
	case OutcomeUnchanged:
		r.Unchanged++
	case OutcomeFailed:
		r.Failed++
	case OutcomeRenameFailed:
		r.RenameFailed++
	}
}

// Options carry the daemon's collaborators. Zero values select the real
// implementations.
type Options struct {
	// FS is the filesystem holding the watch directory.
	FS afero.Fs
	// Dial opens cache connections.
	Dial cache.Dialer
	// Clock provides time and delays.
	Clock Clock
	// Logger for daemon activity.
	Logger *logging.Logger
	// Observer receives loop events.
	Observer Observer
	// Wake, if set, ends the idle wait between scans early.
	Wake <-chan struct{}
}

// Daemon is the scan loop.
type Daemon struct {
	cfg      config.Config
	fs       afero.Fs
	dial     cache.Dialer
	clock    Clock
	logger   *logging.Logger
	observer Observer
	wake     <-chan struct{}

	publisher *sync.Publisher
	tracker   *sync.Tracker

	state  State
	client cache.Client
}

// New creates a Daemon for cfg. The daemon starts disconnected; call Run.
func New(cfg config.Config, opts Options) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if opts.FS == nil {
		opts.FS = afero.NewOsFs()
	}
	if opts.Dial == nil {
		opts.Dial = cache.NewDialer(cache.Options{Timeout: cfg.CacheTimeout})
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}

	return &Daemon{
		cfg:       cfg,
		fs:        opts.FS,
		dial:      opts.Dial,
		clock:     opts.Clock,
		logger:    opts.Logger,
		observer:  opts.Observer,
		wake:      opts.Wake,
		publisher: sync.NewPublisher(opts.FS, opts.Logger, sync.PublisherOptions{SkipMalformed: cfg.SkipMalformed}),
		tracker:   sync.NewTracker(opts.FS, opts.Logger),
		state:     StateDisconnected,
	}, nil
}

// State returns the current loop state.
func (d *Daemon) State() State {
	return d.state
}

// Run drives the loop until ctx is cancelled. It returns nil on
// cancellation; recoverable errors are logged and never returned.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Info("Starting memsister: directory=%s cache=%s interval=%ds",
		d.cfg.WatchDirectory, d.cfg.CacheAddress, d.cfg.ScanIntervalSeconds)

	defer d.disconnect()

	for {
		if err := d.Step(ctx); err != nil {
			if ctx.Err() != nil {
				d.logger.Info("Shutdown signal received")
				return nil
			}
			return err
		}
	}
}

// Step performs one state transition, including any wait that follows it.
// It only returns an error when ctx is done.
func (d *Daemon) Step(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	switch d.state {
	case StateDisconnected:
		if err := d.connect(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.logger.Error("Failed to connect to cache %s: %v", d.cfg.CacheAddress, err)
			d.observer.OnDisconnected(err)
			return d.wait(ctx, false)
		}
		d.state = StateScanning
		d.logger.Info("Connected to cache %s", d.cfg.CacheAddress)
		d.observer.OnConnected(d.cfg.CacheAddress)
		return nil

	case StateScanning:
		_, err := d.ScanOnce(ctx, d.client)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if sync.IsConnection(err) {
			d.logger.Error("Lost connection to cache %s: %v", d.cfg.CacheAddress, err)
			d.disconnect()
			d.observer.OnDisconnected(err)
			return d.wait(ctx, false)
		}
		if err != nil {
			d.logger.Error("Scan failed: %v", err)
		}
		return d.wait(ctx, true)

	default:
		return fmt.Errorf("invalid state %d", d.state)
	}
}

// connect dials the cache and probes it.
func (d *Daemon) connect(ctx context.Context) error {
	client, err := d.dial(ctx, d.cfg.CacheAddress)
	if err != nil {
		return err
	}
	if err := cache.Probe(ctx, client); err != nil {
		_ = client.Close()
		return err
	}
	d.client = client
	return nil
}

// disconnect drops the current connection, if any.
func (d *Daemon) disconnect() {
	if d.client != nil {
		if err := d.client.Close(); err != nil {
			d.logger.Warn("Error closing cache connection: %v", err)
		}
		d.client = nil
	}
	d.state = StateDisconnected
}

// wait blocks for one scan interval. With allowWake, a wake signal ends the
// wait early.
func (d *Daemon) wait(ctx context.Context, allowWake bool) error {
	var wake <-chan struct{}
	if allowWake {
		wake = d.wake
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-d.clock.After(d.cfg.ScanInterval()):
		return nil
	case <-wake:
		d.logger.Info("Change detected in %s, scanning early", d.cfg.WatchDirectory)
		return nil
	}
}

// ScanOnce makes one pass over the watch directory using client.
//
// Per-file failures are recorded in the result and logged. The returned
// error is non-nil only when the directory could not be listed or the cache
// connection was lost; in the latter case the scan stops at the failing file.
func (d *Daemon) ScanOnce(ctx context.Context, client cache.Client) (ScanResult, error) {
	res := ScanResult{ID: uuid.NewString(), Started: d.clock.Now()}

	candidates, err := sync.ListCandidates(d.fs, d.cfg.WatchDirectory)
	if err != nil {
		return res, err
	}
	res.Candidates = len(candidates)

	if len(candidates) == 0 {
		d.logger.Info("No new files found. waiting %ds", d.cfg.ScanIntervalSeconds)
	}

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		fr, err := d.processFile(ctx, client, c)
		res.add(fr)
		d.observer.OnFileProcessed(fr)

		if sync.IsConnection(err) {
			return res, err
		}
	}

	res.Duration = d.clock.Now().Sub(res.Started)
	if res.Candidates > 0 {
		d.logger.Info("Scan %s complete: candidates=%d published=%d unchanged=%d failed=%d rename_failed=%d",
			res.ID, res.Candidates, res.Published, res.Unchanged, res.Failed, res.RenameFailed)
	}
	d.observer.OnScanComplete(res)

	return res, nil
}

// processFile classifies, publishes and marks one candidate.
func (d *Daemon) processFile(ctx context.Context, client cache.Client, c sync.Candidate) (FileResult, error) {
	fr := FileResult{Name: c.Name, Path: c.Path}

	state, fp, err := d.tracker.Classify(ctx, client, c)
	fr.Classification = state
	fr.Fingerprint = fp
	if err != nil {
		fr.Outcome = OutcomeFailed
		fr.Err = err
		d.logger.Error("Error checking %s: %v", c.Name, err)
		return fr, err
	}

	if !state.NeedsPublish() {
		fr.Outcome = OutcomeUnchanged
		return fr, nil
	}

	pr, err := d.publisher.Publish(ctx, client, c)
	fr.Written = pr.Written
	fr.Skipped = pr.Skipped
	if err != nil {
		fr.Outcome = OutcomeFailed
		fr.Err = err
		d.logger.Error("Error uploading %s to cache: %v", c.Name, err)
		return fr, err
	}

	if err := d.tracker.RecordFingerprint(ctx, client, c, fp); err != nil {
		fr.Outcome = OutcomeFailed
		fr.Err = err
		d.logger.Error("Error storing checksum for %s: %v", c.Name, err)
		return fr, err
	}

	if err := d.tracker.MarkProcessed(c); err != nil {
		fr.Outcome = OutcomeRenameFailed
		fr.Err = err
		d.logger.Error("Error marking %s processed: %v", c.Name, err)
		return fr, err
	}

	fr.Outcome = OutcomePublished
	d.logger.Info("Published %s (%s): %d records", c.Name, state, pr.Written)
	return fr, nil
}

// Describe reports the classification of every candidate without writing
// anything. It is used by the status command.
func (d *Daemon) Describe(ctx context.Context) ([]FileResult, error) {
	if err := d.connect(ctx); err != nil {
		return nil, err
	}
	defer d.disconnect()

	candidates, err := sync.ListCandidates(d.fs, d.cfg.WatchDirectory)
	if err != nil {
		return nil, err
	}

	results := make([]FileResult, 0, len(candidates))
	for _, c := range candidates {
		fr := FileResult{Name: c.Name, Path: c.Path}
		fr.Classification, fr.Fingerprint, fr.Err = d.tracker.Classify(ctx, d.client, c)
		if sync.IsConnection(fr.Err) {
			return results, fr.Err
		}
		results = append(results, fr)
	}
	return results, nil
}

// ErrNotConnected is returned by Scan when the cache cannot be reached.
var ErrNotConnected = errors.New("cache not reachable")

// Scan connects, runs one scan and disconnects. It is the one-shot form of
// Run used by the scan command.
func (d *Daemon) Scan(ctx context.Context) (ScanResult, error) {
	if err := d.connect(ctx); err != nil {
		return ScanResult{}, fmt.Errorf("%w: %w", ErrNotConnected, err)
	}
	defer d.disconnect()

	return d.ScanOnce(ctx, d.client)
}
