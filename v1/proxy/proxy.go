// Package proxy forwards store commands over a lazily established connection
// and recovers from transient connection loss.
//
// A failed command is only treated as a connectivity problem when a follow up
// ping fails as well. The proxy then reconnects up to a bounded number of
// times, waiting a fixed interval between attempts, and sends the original
// command again once a connection is back. Commands are assumed not applied
// when the transport failed, so a command whose reply was lost may run twice.
package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	relayerrors "github.com/mirkobrombin/go-relay/v1/errors"
	"github.com/mirkobrombin/go-relay/v1/metrics"
	"github.com/mirkobrombin/go-relay/v1/store"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-relay/v1/proxy")

// Connector provides the connection the proxy dispatches on. *conn.Manager
// implements it.
type Connector interface {
	Handle(ctx context.Context) (store.Client, error)
	Connect(ctx context.Context) error
	Connected() bool
	Close() error
}

// Proxy executes commands one at a time through a Connector.
type Proxy struct {
	conn       Connector
	maxRetries int
	interval   time.Duration
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error

	mu        sync.Mutex
	remaining int
}

// Option configures a Proxy.
type Option func(*Proxy)

// WithRetry sets how many reconnect attempts follow a confirmed connection
// loss and the wait between failed attempts. There is no wait after the last
// attempt, so a command gives up after at most (count-1)*interval of waiting
// plus the connect attempts themselves.
func WithRetry(count int, interval time.Duration) Option {
	return func(p *Proxy) {
		if count >= 0 {
			p.maxRetries = count
		}
		if interval >= 0 {
			p.interval = interval
		}
	}
}

// WithLogger sets the logger used to report reconnects.
func WithLogger(l *slog.Logger) Option {
	return func(p *Proxy) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithSleep replaces the function used to wait between reconnect attempts.
// It must return early with an error when ctx is done.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Proxy) {
		if fn != nil {
			p.sleep = fn
		}
	}
}

// New returns a Proxy dispatching through c. Without WithRetry a lost
// connection is reported at once.
func New(c Connector, opts ...Option) *Proxy {
	p := &Proxy{
		conn:   c,
		logger: slog.Default(),
		sleep:  Sleep,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.remaining = p.maxRetries
	return p
}

// Remaining returns the reconnect attempts left before the proxy gives up.
func (p *Proxy) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remaining
}

// Close tears the connection down.
func (p *Proxy) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.Close()
}

// Execute runs the command name with args and returns its reply.
//
// Errors are a *errors.ConnectionError when the store cannot be reached, a
// *errors.CommandError when the store rejected the command, or a context
// error (deadlines wrap errors.ErrTimeout).
func (p *Proxy) Execute(ctx context.Context, name string, args ...any) (res any, err error) {
	ctx, span := tracer.Start(ctx, "Proxy.Execute")
	defer span.End()
	span.SetAttributes(attribute.String("relay.command", strings.ToUpper(name)))

	start := time.Now()
	var redispatches, reconnects int
	defer func() {
		metrics.CommandLatency.Observe(time.Since(start).Seconds())
		result := metrics.ResultOK
		switch {
		case relayerrors.IsCommand(err):
			result = metrics.ResultCommandError
		case err != nil:
			result = metrics.ResultConnectionError
		}
		metrics.CommandCounter.WithLabelValues(result).Inc()
		span.SetAttributes(
			attribute.String("relay.result", result),
			attribute.Int("relay.redispatches", redispatches),
			attribute.Int("relay.reconnects", reconnects),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	p.mu.Lock()
	defer p.mu.Unlock()

	h, err := p.handle(ctx)
	if err != nil {
		return nil, err
	}
	for {
		res, err := h.Do(ctx, name, args...)
		if err == nil {
			return res, nil
		}
		if cerr := contextErr(ctx); cerr != nil {
			return nil, cerr
		}
		if !relayerrors.IsTransient(err) {
			return nil, &relayerrors.CommandError{Command: name, Err: err}
		}
		if perr := h.Ping(ctx); perr == nil {
			p.logger.Warn("relay: command failed on a live connection", "command", name, "error", err)
			return nil, &relayerrors.ConnectionError{Op: name, Err: err}
		}
		if redispatches >= p.maxRetries {
			return nil, p.giveUp(name, err)
		}

		p.logger.Warn("relay: connection lost, reconnecting", "command", name, "remaining", p.remaining, "error", err)
		n, rerr := p.reconnect(ctx)
		reconnects += n
		if rerr != nil {
			if cerr := contextErr(ctx); cerr != nil {
				return nil, cerr
			}
			return nil, p.giveUp(name, err)
		}
		if h, err = p.conn.Handle(ctx); err != nil {
			return nil, err
		}
		redispatches++
		metrics.RedispatchCounter.Inc()
	}
}

// handle returns the live handle. A lazy connect counts as a successful
// connect and restores the retry budget.
func (p *Proxy) handle(ctx context.Context) (store.Client, error) {
	fresh := !p.conn.Connected()
	h, err := p.conn.Handle(ctx)
	if err != nil {
		return nil, err
	}
	if fresh {
		p.remaining = p.maxRetries
	}
	return h, nil
}

// reconnect spends the retry budget until a connect succeeds. It returns the
// number of attempts made.
func (p *Proxy) reconnect(ctx context.Context) (int, error) {
	attempts := 0
	err := relayerrors.ErrRetriesExhausted
	for p.remaining > 0 {
		p.remaining--
		attempts++
		if err = p.conn.Connect(ctx); err == nil {
			p.remaining = p.maxRetries
			metrics.ReconnectCounter.WithLabelValues(metrics.ResultSuccess).Inc()
			p.logger.Info("relay: reconnected", "attempts", attempts)
			return attempts, nil
		}
		metrics.ReconnectCounter.WithLabelValues(metrics.ResultFailure).Inc()
		if cerr := contextErr(ctx); cerr != nil {
			return attempts, cerr
		}
		if p.interval > 0 && p.remaining > 0 {
			if serr := p.sleep(ctx, p.interval); serr != nil {
				return attempts, serr
			}
		}
	}
	return attempts, err
}

func (p *Proxy) giveUp(name string, cause error) error {
	if err := p.conn.Close(); err != nil {
		p.logger.Debug("relay: teardown failed", "error", err)
	}
	p.logger.Error("relay: giving up on command", "command", name, "error", cause)
	return &relayerrors.ConnectionError{
		Op:  name,
		Err: fmt.Errorf("%w: %w", relayerrors.ErrRetriesExhausted, cause),
	}
}

func contextErr(ctx context.Context) error {
	return relayerrors.FromContext(ctx.Err())
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
