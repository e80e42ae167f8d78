// Package cache provides the key/value store that parsed records are
// published into.
//
// The daemon only needs three operations from a cache: Get, Set and Close.
// Backends are selected by address:
//
//	127.0.0.1:11211                  memcached (default)
//	memcache://h1:11211,h2:11211     memcached, multiple servers
//	sqlite:///var/lib/memsister.db   local SQLite table
//	memory://                        process-local map
//
// Failures that mean the cache itself is unusable are returned as
// *ConnectionError and match ErrConnection with errors.Is. Every other error
// is scoped to the key being read or written.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrConnection matches any connection-level cache failure.
var ErrConnection = errors.New("cache connection error")

// DefaultTimeout is used when Options.Timeout is zero.
const DefaultTimeout = 2 * time.Second

// Client is the cache capability consumed by the sync loop.
type Client interface {
	// Get returns the value stored under key. A missing key is reported as
	// found=false with a nil error.
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Close releases the connection.
	Close() error
}

// ConnectionError reports that the cache could not be reached or spoke an
// unexpected protocol.
type ConnectionError struct {
	Op   string
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("cache %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrConnection.
func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnection
}

// IsConnectionError reports whether err is a connection-level failure.
func IsConnectionError(err error) bool {
	return errors.Is(err, ErrConnection)
}

// Options tune how a backend connects.
type Options struct {
	// Timeout bounds a single network operation.
	Timeout time.Duration
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return DefaultTimeout
	}
	return o.Timeout
}

// Dialer opens a client for an address. The daemon takes a Dialer so tests
// can substitute an in-memory cache.
type Dialer func(ctx context.Context, address string) (Client, error)

// NewDialer returns a Dialer that applies opts to every connection.
func NewDialer(opts Options) Dialer {
	return func(ctx context.Context, address string) (Client, error) {
		return Dial(ctx, address, opts)
	}
}

// Dial opens a client for address, choosing the backend from its scheme.
// A bare host:port selects memcached.
func Dial(ctx context.Context, address string, opts Options) (Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	scheme, rest, ok := strings.Cut(address, "://")
	if !ok {
		return dialMemcache(address, opts)
	}

	switch scheme {
	case "memcache", "memcached":
		return dialMemcache(rest, opts)
	case "sqlite":
		s, err := OpenSQLite(ctx, rest, opts)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported cache scheme %q", scheme)
	}
}

// Probe checks that client is usable by reading a sentinel key. Whether the
// key exists does not matter, only that the read did not fail.
func Probe(ctx context.Context, client Client) error {
	if _, _, err := client.Get(ctx, ProbeKey); err != nil {
		return err
	}
	return nil
}

// ProbeKey is the sentinel read by Probe.
const ProbeKey = "test"
