// Package relay is the entry point of the library: a store client that
// connects on first use, forwards any command, survives transient
// connection loss and offers a simple distributed lock.
//
//	c, err := relay.New(config.New("127.0.0.1", config.WithRetry(3, 100)))
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//	v, err := c.Execute(ctx, "GET", "key")
package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/mirkobrombin/go-relay/v1/config"
	"github.com/mirkobrombin/go-relay/v1/conn"
	"github.com/mirkobrombin/go-relay/v1/lock"
	"github.com/mirkobrombin/go-relay/v1/proxy"
	"github.com/mirkobrombin/go-relay/v1/store"
)

// Client wires a connection manager, a command proxy and a lock manager
// built from one Configuration. Commands are executed one at a time.
type Client struct {
	cfg   config.Config
	mgr   *conn.Manager
	proxy *proxy.Proxy
	locks *lock.Manager
}

type options struct {
	logger  *slog.Logger
	factory conn.Factory
	clock   func() time.Time
}

// Option configures a Client.
type Option func(*options)

// WithLogger sets the logger shared by the client components.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClientFactory overrides how store clients are allocated.
func WithClientFactory(f conn.Factory) Option {
	return func(o *options) { o.factory = f }
}

// WithClock replaces the time source used by locks.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// New returns a Client for cfg. No connection is made until the first
// command.
func New(cfg config.Config, opts ...Option) (*Client, error) {
	o := apply(opts)
	mgr, err := conn.New(cfg, conn.WithLogger(o.logger), conn.WithClientFactory(o.factory))
	if err != nil {
		return nil, err
	}
	return build(mgr, o), nil
}

// NewWithHandle returns a Client driving the caller supplied store client h.
// A missing server defaults to config.DefaultAdapterServer.
func NewWithHandle(h store.Client, cfg config.Config, opts ...Option) (*Client, error) {
	o := apply(opts)
	mgr, err := conn.NewAdapter(h, cfg, conn.WithLogger(o.logger))
	if err != nil {
		return nil, err
	}
	return build(mgr, o), nil
}

func apply(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

func build(mgr *conn.Manager, o options) *Client {
	cfg := mgr.Config()
	p := proxy.New(mgr,
		proxy.WithRetry(cfg.RetryCount, cfg.RetryInterval),
		proxy.WithLogger(o.logger),
	)
	return &Client{
		cfg:   cfg,
		mgr:   mgr,
		proxy: p,
		locks: lock.New(p, lock.WithClock(o.clock), lock.WithLogger(o.logger)),
	}
}

// Config returns the configuration of c.
func (c *Client) Config() config.Config { return c.cfg }

// Connected reports whether c currently holds a live connection.
func (c *Client) Connected() bool { return c.mgr.Connected() }

// Execute runs any store command. See proxy.Proxy.Execute for the error
// semantics.
func (c *Client) Execute(ctx context.Context, name string, args ...any) (any, error) {
	return c.proxy.Execute(ctx, name, args...)
}

// Ping round-trips a PING through the proxy.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.proxy.Execute(ctx, "PING")
	return err
}

// Lock takes the lock named key. See lock.Manager.Lock.
func (c *Client) Lock(ctx context.Context, key string, opts ...lock.Option) (bool, error) {
	return c.locks.Lock(ctx, key, opts...)
}

// Unlock releases the lock named key. See lock.Manager.Unlock.
func (c *Client) Unlock(ctx context.Context, key string) (int64, error) {
	return c.locks.Unlock(ctx, key)
}

// Close closes the connection. The client reconnects if used again.
func (c *Client) Close() error {
	return c.proxy.Close()
}
