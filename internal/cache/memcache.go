package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/bradfitz/gomemcache/memcache"
)

// memcacheClient talks to one or more memcached servers.
type memcacheClient struct {
	mc   *memcache.Client
	addr string
}

func dialMemcache(address string, opts Options) (Client, error) {
	servers := strings.Split(address, ",")
	for i, s := range servers {
		s = strings.TrimSpace(s)
		if _, _, err := net.SplitHostPort(s); err != nil {
			return nil, &ConnectionError{Op: "dial", Addr: address, Err: fmt.Errorf("invalid server address %q: %w", s, err)}
		}
		servers[i] = s
	}

	mc := memcache.New(servers...)
	mc.Timeout = opts.timeout()
	mc.MaxIdleConns = 2

	return &memcacheClient{mc: mc, addr: address}, nil
}

// Get implements Client.Get.
func (c *memcacheClient) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	if c.mc == nil {
		return "", false, &ConnectionError{Op: "get", Addr: c.addr, Err: errClosed}
	}

	item, err := c.mc.Get(key)
	switch {
	case err == nil:
		return string(item.Value), true, nil
	case errors.Is(err, memcache.ErrCacheMiss):
		return "", false, nil
	case isTransportError(err):
		return "", false, &ConnectionError{Op: "get", Addr: c.addr, Err: err}
	default:
		return "", false, fmt.Errorf("get %q: %w", key, err)
	}
}

// Set implements Client.Set.
func (c *memcacheClient) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.mc == nil {
		return &ConnectionError{Op: "set", Addr: c.addr, Err: errClosed}
	}

	err := c.mc.Set(&memcache.Item{Key: key, Value: []byte(value)})
	switch {
	case err == nil:
		return nil
	case isTransportError(err):
		return &ConnectionError{Op: "set", Addr: c.addr, Err: err}
	default:
		return fmt.Errorf("set %q: %w", key, err)
	}
}

// isTransportError reports whether err means the server or the socket is
// gone. Rejections the server answered with, such as SERVER_ERROR and
// CLIENT_ERROR lines, NOT_STORED or a malformed key, concern one item only.
func isTransportError(err error) bool {
	var netErr net.Error
	var timeoutErr *memcache.ConnectTimeoutError
	switch {
	case errors.As(err, &netErr), errors.As(err, &timeoutErr):
		return true
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed):
		return true
	case errors.Is(err, memcache.ErrNoServers), errors.Is(err, memcache.ErrServerError):
		return true
	default:
		return false
	}
}

// errClosed is returned by operations on a closed client.
var errClosed = errors.New("client closed")

// Close implements Client.Close. Idle connections to the servers are
// closed; the client cannot be used afterwards.
func (c *memcacheClient) Close() error {
	if c.mc == nil {
		return nil
	}
	err := c.mc.Close()
	c.mc = nil
	if err != nil {
		return fmt.Errorf("failed to close memcached connections: %w", err)
	}
	return nil
}
