package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	relayerrors "github.com/mirkobrombin/go-relay/v1/errors"
	"github.com/mirkobrombin/go-relay/v1/metrics"
)

const (
	// DefaultExpire is the lock lifetime when WithExpire is not given.
	DefaultExpire = 15 * time.Second
	// MinExpire is the shortest lifetime a lock can be taken for.
	MinExpire = 5 * time.Second
	// DefaultPollInterval is the wait between two acquisition attempts.
	DefaultPollInterval = 100 * time.Millisecond
)

// Executor runs store commands. *proxy.Proxy implements it.
type Executor interface {
	Execute(ctx context.Context, name string, args ...any) (any, error)
}

// Manager takes and releases locks through an Executor.
type Manager struct {
	exec   Executor
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	logger *slog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClock replaces the time source used for lock values and deadlines.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the logger used to report failed lock operations.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// New returns a Manager issuing its commands through exec.
func New(exec Executor, opts ...ManagerOption) *Manager {
	m := &Manager{
		exec:   exec,
		now:    time.Now,
		sleep:  wait,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type request struct {
	timeout time.Duration
	expire  time.Duration
	poll    time.Duration
}

// Option configures a single Lock call.
type Option func(*request)

// WithTimeout makes Lock keep trying for d. Zero or less tries once.
func WithTimeout(d time.Duration) Option {
	return func(r *request) { r.timeout = d }
}

// WithExpire sets the lock lifetime. It is raised to MinExpire and rounded up
// to whole seconds.
func WithExpire(d time.Duration) Option {
	return func(r *request) { r.expire = d }
}

// WithPollInterval sets the wait between acquisition attempts.
func WithPollInterval(d time.Duration) Option {
	return func(r *request) {
		if d > 0 {
			r.poll = d
		}
	}
}

// Lock tries to take the lock named key. It returns false without error when
// the lock is held by someone else until the timeout elapses, and false with
// the store error when the attempt itself failed. An empty key is never
// locked.
func (m *Manager) Lock(ctx context.Context, key string, opts ...Option) (bool, error) {
	if key == "" {
		return false, nil
	}
	r := request{expire: DefaultExpire, poll: DefaultPollInterval}
	for _, opt := range opts {
		opt(&r)
	}
	expire := expireSeconds(r.expire)
	deadline := m.now().Add(r.timeout)

	for {
		res, err := m.exec.Execute(ctx, "SET", key, Token(m.now()), "NX", "EX", expire)
		if err != nil {
			metrics.LockCounter.WithLabelValues(metrics.ResultError).Inc()
			m.logger.Warn("relay: lock failed", "key", key, "error", err)
			return false, err
		}
		if res == "OK" {
			metrics.LockCounter.WithLabelValues(metrics.ResultAcquired).Inc()
			return true, nil
		}
		if r.timeout <= 0 || m.now().After(deadline) {
			metrics.LockCounter.WithLabelValues(metrics.ResultBusy).Inc()
			return false, nil
		}
		if err := m.sleep(ctx, r.poll); err != nil {
			metrics.LockCounter.WithLabelValues(metrics.ResultError).Inc()
			return false, relayerrors.FromContext(err)
		}
	}
}

// Unlock deletes the lock named key and returns how many keys were removed,
// 0 when the lock was not held.
func (m *Manager) Unlock(ctx context.Context, key string) (int64, error) {
	res, err := m.exec.Execute(ctx, "DEL", key)
	if err != nil {
		metrics.UnlockCounter.WithLabelValues(metrics.ResultError).Inc()
		m.logger.Warn("relay: unlock failed", "key", key, "error", err)
		return 0, err
	}
	n, _ := res.(int64)
	if n > 0 {
		metrics.UnlockCounter.WithLabelValues(metrics.ResultReleased).Inc()
	} else {
		metrics.UnlockCounter.WithLabelValues(metrics.ResultAbsent).Inc()
	}
	return n, nil
}

// Token renders t as the value stored under a lock: Unix seconds with
// microsecond precision.
func Token(t time.Time) string {
	return fmt.Sprintf("%d.%06d", t.Unix(), t.Nanosecond()/int(time.Microsecond))
}

func expireSeconds(d time.Duration) int64 {
	if d < MinExpire {
		d = MinExpire
	}
	secs := int64(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
