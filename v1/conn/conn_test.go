package conn

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/mirkobrombin/go-relay/v1/config"
	relayerrors "github.com/mirkobrombin/go-relay/v1/errors"
	"github.com/mirkobrombin/go-relay/v1/store"
)

func newMemoryManager(t *testing.T, srv *store.MemoryServer, cfg config.Config) *Manager {
	t.Helper()
	m, err := New(cfg, WithClientFactory(func() store.Client { return srv.Client() }))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(config.New(""))
	var ce *relayerrors.ConfigError
	if !errors.As(err, &ce) || ce.Field != "server" {
		t.Fatalf("expected server ConfigError, got %v", err)
	}
}

func TestHandleConnectsLazily(t *testing.T) {
	srv := store.NewMemoryServer()
	m := newMemoryManager(t, srv, config.New("mem"))
	ctx := context.Background()

	if srv.Opens() != 0 || m.Connected() {
		t.Fatal("manager must not connect before first use")
	}
	h1, err := m.Handle(ctx)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	h2, err := m.Handle(ctx)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if h1 != h2 || srv.Opens() != 1 {
		t.Fatalf("expected one open and a reused handle, got %d opens", srv.Opens())
	}
	if got := h1.(*store.InMemory).Options().Addr; got != "mem:6379" {
		t.Fatalf("unexpected addr %s", got)
	}
}

func TestHandleFailureIsConnectionLost(t *testing.T) {
	srv := store.NewMemoryServer()
	srv.SetDown(true)
	m := newMemoryManager(t, srv, config.New("mem"))

	_, err := m.Handle(context.Background())
	if !relayerrors.IsConnection(err) || !errors.Is(err, relayerrors.ErrConnectionLost) {
		t.Fatalf("expected connection lost, got %v", err)
	}
	if m.Connected() {
		t.Fatal("failed connect must not leave a handle")
	}
}

func TestConnectAuthSelectAndOptions(t *testing.T) {
	srv := store.NewMemoryServer()
	srv.RequireAuth("pw")
	cfg := config.New("mem", config.WithPassword("pw"), config.WithDatabase(2), config.WithPrefix("app:"))
	m := newMemoryManager(t, srv, cfg)
	ctx := context.Background()

	h, err := m.Handle(ctx)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if _, err := h.Do(ctx, "SET", "k", "v"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v, ok := srv.Lookup(2, "app:k"); !ok || v != "v" {
		t.Fatalf("expected prefixed key in db 2, got %q %v", v, ok)
	}
}

func TestConnectAuthFailureClosesHandle(t *testing.T) {
	srv := store.NewMemoryServer()
	srv.RequireAuth("pw")
	var last *store.InMemory
	m, err := New(config.New("mem", config.WithPassword("wrong")), WithClientFactory(func() store.Client {
		last = srv.Client()
		return last
	}))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	err = m.Connect(context.Background())
	if !relayerrors.IsConnection(err) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
	if m.Connected() {
		t.Fatal("auth failure must not leave a handle")
	}
	if perr := last.Ping(context.Background()); !relayerrors.IsTransient(perr) {
		t.Fatalf("rejected handle must be closed, ping returned %v", perr)
	}
}

func TestConnectSelectFailure(t *testing.T) {
	srv := store.NewMemoryServer()
	m := newMemoryManager(t, srv, config.New("mem", config.WithDatabase(99)))
	if err := m.Connect(context.Background()); !relayerrors.IsConnection(err) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
	if m.Connected() {
		t.Fatal("select failure must not leave a handle")
	}
}

func TestConnectReplacesHandle(t *testing.T) {
	srv := store.NewMemoryServer()
	m := newMemoryManager(t, srv, config.New("mem"))
	ctx := context.Background()
	h1, err := m.Handle(ctx)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if err := m.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	h2, _ := m.Handle(ctx)
	if h1 == h2 {
		t.Fatal("connect must allocate a new handle")
	}
	if err := h1.Ping(ctx); err == nil {
		t.Fatal("previous handle must be closed")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	m := newMemoryManager(t, store.NewMemoryServer(), config.New("mem"))
	if err := m.Close(); err != nil {
		t.Fatalf("close unopened: %v", err)
	}
	if _, err := m.Handle(context.Background()); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if m.Connected() {
		t.Fatal("closed manager must not hold a handle")
	}
}

func TestPersistentModeOptions(t *testing.T) {
	srv := store.NewMemoryServer()
	m := newMemoryManager(t, srv, config.New("mem", config.WithPersistent(""), config.WithRetry(2, 50)))
	h, err := m.Handle(context.Background())
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	o := h.(*store.InMemory).Options()
	if o.Mode != store.ModePersistent || o.PersistentID != config.DefaultPersistentID {
		t.Fatalf("unexpected open options %+v", o)
	}
	if o.RetryInterval != config.Millis(50) {
		t.Fatalf("retry interval hint not passed: %v", o.RetryInterval)
	}
}

func TestAdapterReusesHandle(t *testing.T) {
	h := store.NewInMemory()
	m, err := NewAdapter(h, config.Config{})
	if err != nil {
		t.Fatalf("adapter: %v", err)
	}
	ctx := context.Background()
	got, err := m.Handle(ctx)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got != h {
		t.Fatal("adapter must use the supplied handle")
	}
	if addr := h.Options().Addr; addr != "127.0.0.1:6379" {
		t.Fatalf("expected default adapter address, got %s", addr)
	}
	if err := m.Connect(ctx); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if got, _ := m.Handle(ctx); got != h || h.Server().Opens() != 2 {
		t.Fatalf("adapter must reopen the same handle, opens=%d", h.Server().Opens())
	}
}

func TestAdapterRequiresHandle(t *testing.T) {
	if _, err := NewAdapter(nil, config.Config{}); err == nil {
		t.Fatal("expected error without handle")
	}
}

func TestManagerWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireAuth("pw")
	cfg := config.New(mr.Host(), config.WithPort(atoiPort(t, mr.Port())),
		config.WithPassword("pw"), config.WithDatabase(1), config.WithPrefix("svc:"))
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })

	ctx := context.Background()
	h, err := m.Handle(ctx)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if _, err := h.Do(ctx, "SET", "k", "v"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got, err := mr.DB(1).Get("svc:k"); err != nil || got != "v" {
		t.Fatalf("unexpected value %q: %v", got, err)
	}
}

func newPersistentManager(t *testing.T, mr *miniredis.Miniredis, opts ...config.Option) *Manager {
	t.Helper()
	opts = append([]config.Option{config.WithPort(atoiPort(t, mr.Port())), config.WithPersistent("p")}, opts...)
	m, err := New(config.New(mr.Host(), opts...))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestPersistentHandlesDoNotShareState(t *testing.T) {
	ctx := context.Background()

	t.Run("database", func(t *testing.T) {
		mr := miniredis.RunT(t)
		t.Cleanup(func() { _ = store.ClosePersistent() })
		if err := mr.DB(1).Set("k", "from-db1"); err != nil {
			t.Fatalf("seed: %v", err)
		}

		a := newPersistentManager(t, mr, config.WithDatabase(1))
		h, err := a.Handle(ctx)
		if err != nil {
			t.Fatalf("handle a: %v", err)
		}
		if v, err := h.Do(ctx, "GET", "k"); err != nil || v != "from-db1" {
			t.Fatalf("a must read db 1: %v %v", v, err)
		}
		_ = a.Close()

		b := newPersistentManager(t, mr)
		h, err = b.Handle(ctx)
		if err != nil {
			t.Fatalf("handle b: %v", err)
		}
		if v, err := h.Do(ctx, "GET", "k"); err != nil || v != nil {
			t.Fatalf("b must read db 0, got %v %v", v, err)
		}
	})

	t.Run("passthrough select", func(t *testing.T) {
		mr := miniredis.RunT(t)
		t.Cleanup(func() { _ = store.ClosePersistent() })
		mr.Set("k", "from-db0")

		a := newPersistentManager(t, mr)
		h, err := a.Handle(ctx)
		if err != nil {
			t.Fatalf("handle a: %v", err)
		}
		if _, err := h.Do(ctx, "SELECT", 5); err != nil {
			t.Fatalf("select: %v", err)
		}
		_ = a.Close()

		b := newPersistentManager(t, mr)
		h, err = b.Handle(ctx)
		if err != nil {
			t.Fatalf("handle b: %v", err)
		}
		if v, err := h.Do(ctx, "GET", "k"); err != nil || v != "from-db0" {
			t.Fatalf("b must read db 0, got %v %v", v, err)
		}
	})

	t.Run("credential", func(t *testing.T) {
		mr := miniredis.RunT(t)
		t.Cleanup(func() { _ = store.ClosePersistent() })
		mr.RequireAuth("pw")

		a := newPersistentManager(t, mr, config.WithPassword("pw"))
		h, err := a.Handle(ctx)
		if err != nil {
			t.Fatalf("handle a: %v", err)
		}
		if _, err := h.Do(ctx, "SET", "k", "v"); err != nil {
			t.Fatalf("set: %v", err)
		}
		_ = a.Close()

		b := newPersistentManager(t, mr)
		h, err = b.Handle(ctx)
		if err != nil {
			t.Fatalf("handle b: %v", err)
		}
		if v, err := h.Do(ctx, "GET", "k"); err == nil {
			t.Fatalf("unauthenticated handle read %v through a pooled connection", v)
		}
	})
}
