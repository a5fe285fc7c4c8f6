// Package config holds the immutable configuration record used to build a
// relay client, together with helpers to load it from files, environment
// variables and command line flags.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	relayerrors "github.com/mirkobrombin/go-relay/v1/errors"
)

const (
	DefaultPort         = 6379
	DefaultPersistentID = "default"
	// DefaultAdapterServer is used by connection adapters when no server is
	// configured.
	DefaultAdapterServer = "127.0.0.1"
	// EnvPrefix is the prefix of the environment variables read by Load.
	EnvPrefix = "relay"
)

// Config describes how to reach and prepare one logical store connection.
//
// RetryInterval is configured in milliseconds (retry_interval) and kept as a
// time.Duration, the unit the command proxy waits in.
type Config struct {
	Server       string
	Port         int
	Database     *int
	Prefix       string
	Password     string
	Persistent   bool
	PersistentID string
	Serializer   string

	RetryInterval time.Duration
	RetryCount    int
	Timeout       time.Duration
	ReadTimeout   time.Duration
}

// Option configures a Config built with New.
type Option func(*Config)

// New returns a Config for server with defaults applied.
func New(server string, opts ...Option) Config {
	c := Config{
		Server:       server,
		Port:         DefaultPort,
		PersistentID: DefaultPersistentID,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithPort sets the TCP port.
func WithPort(port int) Option {
	return func(c *Config) { c.Port = port }
}

// WithDatabase selects the database (namespace) after connecting.
func WithDatabase(db int) Option {
	return func(c *Config) { c.Database = &db }
}

// WithPrefix sets the key prefix applied by the store client.
func WithPrefix(prefix string) Option {
	return func(c *Config) { c.Prefix = prefix }
}

// WithPassword sets the credential used to authenticate.
func WithPassword(password string) Option {
	return func(c *Config) { c.Password = password }
}

// WithPersistent enables persistent connections identified by id.
// An empty id falls back to DefaultPersistentID.
func WithPersistent(id string) Option {
	return func(c *Config) {
		c.Persistent = true
		if id == "" {
			id = DefaultPersistentID
		}
		c.PersistentID = id
	}
}

// WithSerializer sets the value serializer ("none", "json" or "gob").
func WithSerializer(name string) Option {
	return func(c *Config) { c.Serializer = name }
}

// WithRetry sets the reconnect attempts and the wait between them, in
// milliseconds.
func WithRetry(count int, intervalMS int) Option {
	return func(c *Config) {
		c.RetryCount = count
		c.RetryInterval = Millis(intervalMS)
	}
}

// WithTimeout sets the connect timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithReadTimeout sets the read timeout.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Config) { c.ReadTimeout = d }
}

// Millis converts a millisecond count into a duration; non-positive values
// disable the wait.
func Millis(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// Addr returns the host:port pair.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server, c.Port)
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Server) == "" {
		return &relayerrors.ConfigError{Field: "server", Reason: "required"}
	}
	if c.Port <= 0 || c.Port > 65535 {
		return &relayerrors.ConfigError{Field: "port", Reason: fmt.Sprintf("out of range: %d", c.Port)}
	}
	if c.Database != nil && *c.Database < 0 {
		return &relayerrors.ConfigError{Field: "database", Reason: "must not be negative"}
	}
	if c.RetryCount < 0 {
		return &relayerrors.ConfigError{Field: "retry_count", Reason: "must not be negative"}
	}
	if c.RetryInterval < 0 {
		return &relayerrors.ConfigError{Field: "retry_interval", Reason: "must not be negative"}
	}
	if c.Timeout < 0 || c.ReadTimeout < 0 {
		return &relayerrors.ConfigError{Field: "timeout", Reason: "must not be negative"}
	}
	switch strings.ToLower(c.Serializer) {
	case "", "none", "json", "gob":
	default:
		return &relayerrors.ConfigError{Field: "serializer", Reason: fmt.Sprintf("unknown serializer %q", c.Serializer)}
	}
	return nil
}

// SetDefaults registers the default values on v. Retries have no default so
// bound command line flags can provide one.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("port", DefaultPort)
	v.SetDefault("persistent_id", DefaultPersistentID)
	v.SetDefault("serializer", "none")
}

// FromViper builds a Config from the values known to v. Keys use snake_case;
// durations use Go syntax ("2s") or a bare number of seconds ("1.5"), and
// retry_interval is in milliseconds.
func FromViper(v *viper.Viper) Config {
	c := Config{
		Server:        v.GetString("server"),
		Port:          v.GetInt("port"),
		Prefix:        v.GetString("prefix"),
		Password:      v.GetString("password"),
		Persistent:    v.GetBool("persistent"),
		PersistentID:  v.GetString("persistent_id"),
		Serializer:    v.GetString("serializer"),
		RetryCount:    v.GetInt("retry_count"),
		RetryInterval: Millis(v.GetInt("retry_interval")),
		Timeout:       durationValue(v, "timeout"),
		ReadTimeout:   durationValue(v, "read_timeout"),
	}
	if v.IsSet("database") && v.GetString("database") != "" {
		db := v.GetInt("database")
		c.Database = &db
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.PersistentID == "" {
		c.PersistentID = DefaultPersistentID
	}
	return c
}

// durationValue reads key as a duration. Unitless numbers are seconds.
func durationValue(v *viper.Viper, key string) time.Duration {
	if secs, err := strconv.ParseFloat(strings.TrimSpace(v.GetString(key)), 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return v.GetDuration(key)
}

// Keys lists the configuration keys understood by FromViper.
var Keys = []string{"server", "port", "database", "prefix", "password", "persistent",
	"persistent_id", "serializer", "retry_count", "retry_interval", "timeout", "read_timeout"}

// NewViper returns a viper instance holding the defaults, the RELAY_*
// environment variables and, when path is not empty, the configuration file
// at path (any format viper understands). .env and .env.local files in the
// working directory are loaded into the environment first.
func NewViper(path string) (*viper.Viper, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for _, key := range Keys {
		_ = v.BindEnv(key)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return v, nil
}

// Load reads and validates the configuration from path and the environment.
// See NewViper.
func Load(path string) (Config, error) {
	v, err := NewViper(path)
	if err != nil {
		return Config{}, err
	}
	c := FromViper(v)
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
