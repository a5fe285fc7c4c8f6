// Package store defines the client used to talk to the remote key-value
// store and provides two implementations: Redis, backed by go-redis, and
// InMemory, a map based stand-in with fault injection used by tests and local
// development.
//
// Implementations report transport failures wrapped with errors.Transient so
// the command proxy can tell a dead connection from a rejected command. A nil
// reply (missing key, failed conditional set) is returned as (nil, nil).
package store

import (
	"context"
	"time"
)

// Mode selects how a handle holds its connection.
type Mode int

const (
	// ModeTransient opens a dedicated connection closed with the handle.
	ModeTransient Mode = iota
	// ModePersistent borrows a connection from a process-wide pool that
	// outlives the handle.
	ModePersistent
)

func (m Mode) String() string {
	if m == ModePersistent {
		return "persistent"
	}
	return "transient"
}

// Option identifies a store-side hint set with SetOption.
type Option int

const (
	// OptPrefix takes a string prepended to every key argument.
	OptPrefix Option = iota + 1
	// OptSerializer takes a Serializer applied to values.
	OptSerializer
)

// OpenOptions describes the connection to open.
type OpenOptions struct {
	Addr         string
	Mode         Mode
	PersistentID string
	// Credential partitions persistent pools so connections authenticated
	// with one password are never handed to a handle using another. It is
	// not sent by Open; Auth does that.
	Credential  string
	Timeout     time.Duration
	ReadTimeout time.Duration
	// RetryInterval is a hint for implementations that retry dialing on
	// their own.
	RetryInterval time.Duration
}

// Client executes commands against the store over a single connection.
// A Client is not safe for concurrent use.
type Client interface {
	// Open establishes the connection, replacing any previous one.
	Open(ctx context.Context, opts OpenOptions) error
	// Auth authenticates the connection.
	Auth(ctx context.Context, credential string) error
	// Select switches the connection to the given database.
	Select(ctx context.Context, db int) error
	// SetOption applies a store-side hint. Unknown options are ignored.
	SetOption(opt Option, value any)
	// Do executes a single command.
	Do(ctx context.Context, name string, args ...any) (any, error)
	// Ping probes the connection.
	Ping(ctx context.Context) error
	// Close releases the connection. Closing a closed client is a no-op.
	Close() error
}
