package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	stdErrors "errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	relayerrors "github.com/mirkobrombin/go-relay/v1/errors"
)

const (
	defaultPersistentPoolSize = 10
	resetTimeout              = time.Second
)

// Redis implements Client on top of a single go-redis connection.
//
// go-redis retries are disabled: reconnect decisions belong to the caller.
type Redis struct {
	id       string
	dialer   func(ctx context.Context, network, addr string) (net.Conn, error)
	poolSize int

	mu     sync.Mutex
	opts   OpenOptions
	client *redis.Client // owned in transient mode only
	conn   *redis.Conn
	prefix string
	codec  Codec
	// dirty is set once a passthrough command changed connection state
	// that must not outlive the handle.
	dirty bool
}

// RedisOption configures a Redis client.
type RedisOption func(*Redis)

// WithDialer overrides how TCP connections are dialed.
func WithDialer(d func(ctx context.Context, network, addr string) (net.Conn, error)) RedisOption {
	return func(r *Redis) { r.dialer = d }
}

// WithPersistentPoolSize bounds the shared pool used in persistent mode.
func WithPersistentPoolSize(n int) RedisOption {
	return func(r *Redis) {
		if n > 0 {
			r.poolSize = n
		}
	}
}

// NewRedis returns an unopened Redis client.
func NewRedis(opts ...RedisOption) *Redis {
	r := &Redis{id: uuid.NewString(), poolSize: defaultPersistentPoolSize}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ID identifies the handle in logs and traces.
func (r *Redis) ID() string { return r.id }

func (r *Redis) redisOptions(o OpenOptions, poolSize int) *redis.Options {
	ro := &redis.Options{
		Addr:            o.Addr,
		Protocol:        2,
		DialTimeout:     o.Timeout,
		ReadTimeout:     o.ReadTimeout,
		WriteTimeout:    o.ReadTimeout,
		MaxRetries:      -1,
		MinRetryBackoff: o.RetryInterval,
		PoolSize:        poolSize,
		DisableIdentity: true,
	}
	if r.dialer != nil {
		ro.Dialer = r.dialer
	}
	return ro
}

// Open implements Client.Open. The connection is dialed eagerly; a server
// error reply (for instance NOAUTH before Auth) still counts as open. In
// persistent mode the borrowed connection is switched back to database 0 so
// a previous borrower's SELECT does not carry over.
func (r *Redis) Open(ctx context.Context, o OpenOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLocked()

	var client *redis.Client
	if o.Mode == ModePersistent {
		client = persistentClient(o, r.redisOptions(o, r.poolSize))
	} else {
		client = redis.NewClient(r.redisOptions(o, 1))
		r.client = client
	}
	conn := client.Conn()
	err := conn.Ping(ctx).Err()
	if (err == nil || isReply(err)) && o.Mode == ModePersistent {
		err = conn.Select(ctx, 0).Err()
	}
	if err != nil && !isReply(err) {
		_ = conn.Close()
		if r.client != nil {
			_ = r.client.Close()
			r.client = nil
		}
		return classify(err)
	}
	r.opts = o
	r.conn = conn
	return nil
}

// Auth implements Client.Auth.
func (r *Redis) Auth(ctx context.Context, credential string) error {
	conn, err := r.current()
	if err != nil {
		return err
	}
	return classify(conn.Auth(ctx, credential).Err())
}

// Select implements Client.Select.
func (r *Redis) Select(ctx context.Context, db int) error {
	conn, err := r.current()
	if err != nil {
		return err
	}
	return classify(conn.Select(ctx, db).Err())
}

// SetOption implements Client.SetOption.
func (r *Redis) SetOption(opt Option, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch opt {
	case OptPrefix:
		if s, ok := value.(string); ok {
			r.prefix = s
		}
	case OptSerializer:
		if s, ok := value.(Serializer); ok {
			r.codec = s.Codec()
		}
	}
}

// Do implements Client.Do.
func (r *Redis) Do(ctx context.Context, name string, args ...any) (any, error) {
	conn, err := r.current()
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	prefix, codec := r.prefix, r.codec
	switch strings.ToUpper(name) {
	case "AUTH", "SELECT", "HELLO":
		r.dirty = true
	}
	r.mu.Unlock()

	args, err = rewriteArgs(name, args, prefix, codec)
	if err != nil {
		return nil, err
	}
	cmd := make([]any, 0, len(args)+1)
	cmd = append(cmd, name)
	cmd = append(cmd, args...)
	res, err := conn.Do(ctx, cmd...).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return decodeReply(name, res, codec), nil
}

// Ping implements Client.Ping. Any reply from the server, including an
// error reply, proves the connection alive.
func (r *Redis) Ping(ctx context.Context) error {
	conn, err := r.current()
	if err != nil {
		return err
	}
	if err := conn.Ping(ctx).Err(); err != nil && !isReply(err) {
		return classify(err)
	}
	return nil
}

// Close implements Client.Close. In persistent mode the connection goes back
// to the shared pool, reset first when a passthrough AUTH, SELECT or HELLO
// changed its state.
func (r *Redis) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeLocked()
}

func (r *Redis) closeLocked() error {
	var err error
	if r.conn != nil {
		if r.dirty && r.opts.Mode == ModePersistent {
			r.resetLocked()
		}
		err = r.conn.Close()
		r.conn = nil
	}
	r.dirty = false
	if r.client != nil {
		if cerr := r.client.Close(); err == nil {
			err = cerr
		}
		r.client = nil
	}
	if stdErrors.Is(err, redis.ErrClosed) {
		err = nil
	}
	return err
}

// resetLocked drops authentication and database selection on the pooled
// connection. Servers without RESET (before 6.2) only get the database reset;
// Open selects database 0 again on the next borrow either way.
func (r *Redis) resetLocked() {
	ctx, cancel := context.WithTimeout(context.Background(), resetTimeout)
	defer cancel()
	if err := r.conn.Do(ctx, "RESET").Err(); err != nil && isReply(err) {
		_ = r.conn.Select(ctx, 0).Err()
	}
}

func (r *Redis) current() (*redis.Conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil, relayerrors.Transient(relayerrors.ErrConnectionClosed)
	}
	return r.conn, nil
}

func isReply(err error) bool {
	var rerr redis.Error
	return stdErrors.As(err, &rerr) && err != redis.Nil
}

// classify marks transport failures as transient. Server replies and
// context errors are returned unchanged.
func classify(err error) error {
	if err == nil || isReply(err) {
		return err
	}
	if stdErrors.Is(err, context.Canceled) || stdErrors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if stdErrors.Is(err, redis.ErrClosed) {
		return relayerrors.Transient(relayerrors.ErrConnectionClosed)
	}
	return relayerrors.Transient(err)
}

var persistent = struct {
	sync.Mutex
	clients map[string]*redis.Client
}{clients: make(map[string]*redis.Client)}

// poolKey identifies a shared pool: one per persistent id, address and
// hashed credential.
func poolKey(o OpenOptions) string {
	key := o.PersistentID + "@" + o.Addr
	if o.Credential != "" {
		sum := sha256.Sum256([]byte(o.Credential))
		key += "#" + hex.EncodeToString(sum[:8])
	}
	return key
}

func persistentClient(o OpenOptions, ro *redis.Options) *redis.Client {
	key := poolKey(o)
	persistent.Lock()
	defer persistent.Unlock()
	if c, ok := persistent.clients[key]; ok {
		return c
	}
	c := redis.NewClient(ro)
	persistent.clients[key] = c
	return c
}

// ClosePersistent closes every shared pool opened in persistent mode.
func ClosePersistent() error {
	persistent.Lock()
	defer persistent.Unlock()
	var errs []error
	for key, c := range persistent.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(persistent.clients, key)
	}
	return stdErrors.Join(errs...)
}
