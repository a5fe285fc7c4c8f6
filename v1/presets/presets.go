package presets

import (
	"net"
	"strconv"
	"time"

	"github.com/mirkobrombin/go-relay/v1/config"
	"github.com/mirkobrombin/go-relay/v1/relay"
	"github.com/mirkobrombin/go-relay/v1/store"
)

// RedisOptions configures the connection to Redis.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

func (o RedisOptions) config(extra ...config.Option) (config.Config, error) {
	host, portStr, err := net.SplitHostPort(o.Addr)
	if err != nil {
		return config.Config{}, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return config.Config{}, err
	}
	opts := []config.Option{config.WithPort(port), config.WithPrefix(o.Prefix), config.WithPassword(o.Password)}
	if o.DB > 0 {
		opts = append(opts, config.WithDatabase(o.DB))
	}
	return config.New(host, append(opts, extra...)...), nil
}

// NewRedisResilient creates a client that reconnects up to 3 times, 100ms
// apart, before reporting a lost connection.
func NewRedisResilient(opts RedisOptions) (*relay.Client, error) {
	cfg, err := opts.config(config.WithRetry(3, 100), config.WithTimeout(5*time.Second))
	if err != nil {
		return nil, err
	}
	return relay.New(cfg)
}

// NewRedisFailFast creates a client that reports a lost connection at once.
func NewRedisFailFast(opts RedisOptions) (*relay.Client, error) {
	cfg, err := opts.config(config.WithTimeout(time.Second), config.WithReadTimeout(time.Second))
	if err != nil {
		return nil, err
	}
	return relay.New(cfg)
}

// NewInMemoryStandalone creates a client backed by an in-process store with
// no external dependencies. Useful for local development or tests.
func NewInMemoryStandalone() *relay.Client {
	c, err := relay.NewWithHandle(store.NewInMemory(), config.Config{})
	if err != nil {
		// the adapter defaults make the empty configuration valid
		panic(err)
	}
	return c
}
