// Package conn owns the lifecycle of one logical store connection: lazy
// establishment, authentication, database selection, client options and
// teardown.
//
// A Manager built with New allocates a fresh store.Client on every connect.
// A Manager built with NewAdapter reuses a caller supplied client and only
// drives its lifecycle.
package conn

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mirkobrombin/go-relay/v1/config"
	relayerrors "github.com/mirkobrombin/go-relay/v1/errors"
	"github.com/mirkobrombin/go-relay/v1/metrics"
	"github.com/mirkobrombin/go-relay/v1/store"
)

// Factory allocates an unopened store client.
type Factory func() store.Client

// Manager holds at most one live store.Client. It is safe for concurrent use,
// but the handle it returns is not.
type Manager struct {
	cfg     config.Config
	factory Factory
	shared  store.Client
	logger  *slog.Logger

	mu     sync.Mutex
	handle store.Client
}

// Option configures a Manager.
type Option func(*Manager)

// WithClientFactory overrides how new clients are allocated. The default
// allocates a go-redis backed store.Redis.
func WithClientFactory(f Factory) Option {
	return func(m *Manager) {
		if f != nil {
			m.factory = f
		}
	}
}

// WithLogger sets the logger used to report connection failures.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// New returns a disconnected Manager for cfg. No connection is made until
// Handle or Connect is called.
func New(cfg config.Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		cfg:     cfg,
		factory: func() store.Client { return store.NewRedis() },
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// NewAdapter returns a Manager driving the caller supplied client h. A missing
// server defaults to config.DefaultAdapterServer.
func NewAdapter(h store.Client, cfg config.Config, opts ...Option) (*Manager, error) {
	if h == nil {
		return nil, &relayerrors.ConfigError{Field: "handle", Reason: "required"}
	}
	if cfg.Server == "" {
		cfg.Server = config.DefaultAdapterServer
	}
	if cfg.Port == 0 {
		cfg.Port = config.DefaultPort
	}
	m, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	m.shared = h
	return m, nil
}

// Config returns the configuration the Manager was built with.
func (m *Manager) Config() config.Config { return m.cfg }

// Connected reports whether a live handle is held.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handle != nil
}

// Connect drops the current handle, if any, and establishes a new one.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.connectLocked(ctx); err != nil {
		return &relayerrors.ConnectionError{Op: "connect", Err: err}
	}
	return nil
}

// Handle returns the live handle, connecting first when there is none.
// A failed connect is reported as a ConnectionError wrapping
// errors.ErrConnectionLost.
func (m *Manager) Handle(ctx context.Context) (store.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle != nil {
		return m.handle, nil
	}
	if err := m.connectLocked(ctx); err != nil {
		return nil, &relayerrors.ConnectionError{
			Op:  "connect",
			Err: fmt.Errorf("%w: %w", relayerrors.ErrConnectionLost, err),
		}
	}
	return m.handle, nil
}

// Close closes the handle and forgets it. Closing a closed Manager is a no-op.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.teardownLocked()
}

func (m *Manager) connectLocked(ctx context.Context) error {
	_ = m.teardownLocked()

	h := m.shared
	if h == nil {
		h = m.factory()
	}
	addr := m.cfg.Addr()
	opts := store.OpenOptions{
		Addr:          addr,
		Timeout:       m.cfg.Timeout,
		ReadTimeout:   m.cfg.ReadTimeout,
		RetryInterval: m.cfg.RetryInterval,
	}
	if m.cfg.Persistent {
		opts.Mode = store.ModePersistent
		opts.PersistentID = m.cfg.PersistentID
		opts.Credential = m.cfg.Password
	}
	if err := h.Open(ctx, opts); err != nil {
		_ = h.Close()
		m.logger.Warn("relay: open failed", "addr", addr, "mode", opts.Mode, "error", err)
		return fmt.Errorf("open %s: %w", addr, err)
	}
	if m.cfg.Password != "" {
		if err := h.Auth(ctx, m.cfg.Password); err != nil {
			_ = h.Close()
			m.logger.Warn("relay: auth failed", "addr", addr, "error", err)
			return fmt.Errorf("auth: %w", err)
		}
	}
	if m.cfg.Database != nil {
		if err := h.Select(ctx, *m.cfg.Database); err != nil {
			_ = h.Close()
			m.logger.Warn("relay: select failed", "addr", addr, "db", *m.cfg.Database, "error", err)
			return fmt.Errorf("select %d: %w", *m.cfg.Database, err)
		}
	}
	if m.cfg.Prefix != "" {
		h.SetOption(store.OptPrefix, m.cfg.Prefix)
	}
	if s, err := store.ParseSerializer(m.cfg.Serializer); err == nil && s != store.SerializerNone {
		h.SetOption(store.OptSerializer, s)
	}

	m.handle = h
	metrics.ConnectionGauge.Inc()
	m.logger.Debug("relay: connected", "addr", addr, "mode", opts.Mode, "handle", handleID(h))
	return nil
}

func handleID(h store.Client) string {
	if i, ok := h.(interface{ ID() string }); ok {
		return i.ID()
	}
	return ""
}

func (m *Manager) teardownLocked() error {
	if m.handle == nil {
		return nil
	}
	err := m.handle.Close()
	m.handle = nil
	metrics.ConnectionGauge.Dec()
	return err
}
