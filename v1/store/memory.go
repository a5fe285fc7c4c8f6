package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	relayerrors "github.com/mirkobrombin/go-relay/v1/errors"
)

var errRefused = errors.New("connection refused")

type entry struct {
	value     string
	expiresAt time.Time
}

// MemoryServer is the state shared by InMemory clients, standing in for a
// remote store. It supports a small command set (PING, ECHO, GET, SET with
// NX/XX/EX/PX, DEL, EXISTS, INCR, INCRBY, EXPIRE, TTL, DBSIZE, FLUSHDB) and
// can simulate outages.
type MemoryServer struct {
	mu        sync.Mutex
	dbs       map[int]map[string]entry
	password  string
	now       func() time.Time
	down      bool
	failOpens int
	opens     int
	calls     map[string]int
}

// NewMemoryServer returns an empty server.
func NewMemoryServer() *MemoryServer {
	return &MemoryServer{
		dbs:   make(map[int]map[string]entry),
		now:   time.Now,
		calls: make(map[string]int),
	}
}

// RequireAuth makes commands fail until clients authenticate with password.
func (s *MemoryServer) RequireAuth(password string) {
	s.mu.Lock()
	s.password = password
	s.mu.Unlock()
}

// SetDown simulates an outage: opens fail and open clients lose their
// connection.
func (s *MemoryServer) SetDown(down bool) {
	s.mu.Lock()
	s.down = down
	s.mu.Unlock()
}

// FailOpens makes the next n Open calls fail.
func (s *MemoryServer) FailOpens(n int) {
	s.mu.Lock()
	s.failOpens = n
	s.mu.Unlock()
}

// SetClock replaces the time source used for expiries.
func (s *MemoryServer) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Opens returns the number of Open calls received, failed ones included.
func (s *MemoryServer) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

// Calls returns how many times the command reached the server.
func (s *MemoryServer) Calls(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[strings.ToUpper(name)]
}

// Lookup returns the raw value stored at key in db.
func (s *MemoryServer) Lookup(db int, key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.get(db, key)
	return e.value, ok
}

// TTL returns the remaining time to live of key, zero when it has none.
func (s *MemoryServer) TTL(db int, key string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.get(db, key)
	if !ok || e.expiresAt.IsZero() {
		return 0
	}
	return e.expiresAt.Sub(s.now())
}

// Client returns a new unopened client for s.
func (s *MemoryServer) Client() *InMemory {
	return &InMemory{srv: s}
}

func (s *MemoryServer) get(db int, key string) (entry, bool) {
	e, ok := s.dbs[db][key]
	if !ok {
		return entry{}, false
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		delete(s.dbs[db], key)
		return entry{}, false
	}
	return e, true
}

func (s *MemoryServer) put(db int, key string, e entry) {
	if s.dbs[db] == nil {
		s.dbs[db] = make(map[string]entry)
	}
	s.dbs[db][key] = e
}

func (s *MemoryServer) exec(db int, name string, args []string) (any, error) {
	arity := func(min int) error {
		if len(args) < min {
			return fmt.Errorf("ERR wrong number of arguments for '%s' command", strings.ToLower(name))
		}
		return nil
	}
	switch name {
	case "PING":
		if len(args) > 0 {
			return args[0], nil
		}
		return "PONG", nil
	case "ECHO":
		if err := arity(1); err != nil {
			return nil, err
		}
		return args[0], nil
	case "GET":
		if err := arity(1); err != nil {
			return nil, err
		}
		if e, ok := s.get(db, args[0]); ok {
			return e.value, nil
		}
		return nil, nil
	case "SET":
		if err := arity(2); err != nil {
			return nil, err
		}
		return s.set(db, args)
	case "DEL", "EXISTS":
		if err := arity(1); err != nil {
			return nil, err
		}
		var n int64
		for _, k := range args {
			if _, ok := s.get(db, k); ok {
				n++
				if name == "DEL" {
					delete(s.dbs[db], k)
				}
			}
		}
		return n, nil
	case "INCR", "INCRBY":
		if err := arity(1); err != nil {
			return nil, err
		}
		by := int64(1)
		if name == "INCRBY" {
			if err := arity(2); err != nil {
				return nil, err
			}
			v, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return nil, errors.New("ERR value is not an integer or out of range")
			}
			by = v
		}
		e, _ := s.get(db, args[0])
		cur := int64(0)
		if e.value != "" {
			v, err := strconv.ParseInt(e.value, 10, 64)
			if err != nil {
				return nil, errors.New("ERR value is not an integer or out of range")
			}
			cur = v
		}
		cur += by
		e.value = strconv.FormatInt(cur, 10)
		s.put(db, args[0], e)
		return cur, nil
	case "EXPIRE":
		if err := arity(2); err != nil {
			return nil, err
		}
		secs, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return nil, errors.New("ERR value is not an integer or out of range")
		}
		e, ok := s.get(db, args[0])
		if !ok {
			return int64(0), nil
		}
		e.expiresAt = s.now().Add(time.Duration(secs) * time.Second)
		s.put(db, args[0], e)
		return int64(1), nil
	case "TTL":
		if err := arity(1); err != nil {
			return nil, err
		}
		e, ok := s.get(db, args[0])
		if !ok {
			return int64(-2), nil
		}
		if e.expiresAt.IsZero() {
			return int64(-1), nil
		}
		return int64(e.expiresAt.Sub(s.now()).Round(time.Second) / time.Second), nil
	case "DBSIZE":
		var n int64
		for k := range s.dbs[db] {
			if _, ok := s.get(db, k); ok {
				n++
			}
		}
		return n, nil
	case "FLUSHDB":
		delete(s.dbs, db)
		return "OK", nil
	}
	return nil, fmt.Errorf("ERR unknown command '%s'", strings.ToLower(name))
}

func (s *MemoryServer) set(db int, args []string) (any, error) {
	key, val := args[0], args[1]
	var nx, xx bool
	var ttl time.Duration
	for i := 2; i < len(args); i++ {
		switch strings.ToUpper(args[i]) {
		case "NX":
			nx = true
		case "XX":
			xx = true
		case "EX", "PX":
			if i+1 >= len(args) {
				return nil, errors.New("ERR syntax error")
			}
			n, err := strconv.ParseInt(args[i+1], 10, 64)
			if err != nil || n <= 0 {
				return nil, errors.New("ERR invalid expire time in 'set' command")
			}
			unit := time.Second
			if strings.ToUpper(args[i]) == "PX" {
				unit = time.Millisecond
			}
			ttl = time.Duration(n) * unit
			i++
		default:
			return nil, errors.New("ERR syntax error")
		}
	}
	if nx && xx {
		return nil, errors.New("ERR syntax error")
	}
	_, exists := s.get(db, key)
	if (nx && exists) || (xx && !exists) {
		return nil, nil
	}
	e := entry{value: val}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.put(db, key, e)
	return "OK", nil
}

// InMemory implements Client against a MemoryServer.
type InMemory struct {
	srv *MemoryServer

	mu       sync.Mutex
	open     bool
	broken   bool
	authed   bool
	db       int
	prefix   string
	codec    Codec
	failNext error
	opts     OpenOptions
}

// NewInMemory returns a client connected to a fresh MemoryServer.
func NewInMemory() *InMemory {
	return NewMemoryServer().Client()
}

// Server returns the server behind c.
func (c *InMemory) Server() *MemoryServer { return c.srv }

// Options returns the options of the last successful Open.
func (c *InMemory) Options() OpenOptions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts
}

// Break drops the connection: commands and pings fail until the client is
// opened again.
func (c *InMemory) Break() {
	c.mu.Lock()
	c.broken = true
	c.mu.Unlock()
}

// FailNext makes the next Do return err without reaching the server state.
func (c *InMemory) FailNext(err error) {
	c.mu.Lock()
	c.failNext = err
	c.mu.Unlock()
}

// Open implements Client.Open.
func (c *InMemory) Open(ctx context.Context, o OpenOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.srv.mu.Lock()
	c.srv.opens++
	fail := c.srv.down || c.srv.failOpens > 0
	if c.srv.failOpens > 0 {
		c.srv.failOpens--
	}
	authed := c.srv.password == ""
	c.srv.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.open, c.broken, c.db = false, false, 0
	if fail {
		return relayerrors.Transient(fmt.Errorf("dial %s: %w", o.Addr, errRefused))
	}
	c.open, c.authed, c.opts = true, authed, o
	return nil
}

func (c *InMemory) alive() error {
	c.srv.mu.Lock()
	down := c.srv.down
	c.srv.mu.Unlock()
	if !c.open {
		return relayerrors.Transient(relayerrors.ErrConnectionClosed)
	}
	if c.broken || down {
		return relayerrors.Transient(errors.New("connection reset by peer"))
	}
	return nil
}

// Auth implements Client.Auth.
func (c *InMemory) Auth(ctx context.Context, credential string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.alive(); err != nil {
		return err
	}
	c.srv.mu.Lock()
	ok := c.srv.password == "" || c.srv.password == credential
	c.srv.mu.Unlock()
	if !ok {
		return errors.New("WRONGPASS invalid username-password pair or user is disabled")
	}
	c.authed = true
	return nil
}

// Select implements Client.Select.
func (c *InMemory) Select(ctx context.Context, db int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.alive(); err != nil {
		return err
	}
	if !c.authed {
		return errors.New("NOAUTH Authentication required.")
	}
	if db < 0 || db > 15 {
		return errors.New("ERR DB index is out of range")
	}
	c.db = db
	return nil
}

// SetOption implements Client.SetOption.
func (c *InMemory) SetOption(opt Option, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch opt {
	case OptPrefix:
		if s, ok := value.(string); ok {
			c.prefix = s
		}
	case OptSerializer:
		if s, ok := value.(Serializer); ok {
			c.codec = s.Codec()
		}
	}
}

// Do implements Client.Do.
func (c *InMemory) Do(ctx context.Context, name string, args ...any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	upper := strings.ToUpper(name)
	c.mu.Lock()
	defer c.mu.Unlock()

	c.srv.mu.Lock()
	c.srv.calls[upper]++
	c.srv.mu.Unlock()

	if err := c.alive(); err != nil {
		return nil, err
	}
	if err := c.failNext; err != nil {
		c.failNext = nil
		return nil, err
	}
	if !c.authed {
		return nil, errors.New("NOAUTH Authentication required.")
	}
	args, err := rewriteArgs(name, args, c.prefix, c.codec)
	if err != nil {
		return nil, err
	}
	strs := make([]string, len(args))
	for i, a := range args {
		strs[i] = argString(a)
	}
	c.srv.mu.Lock()
	res, err := c.srv.exec(c.db, upper, strs)
	c.srv.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return decodeReply(name, res, c.codec), nil
}

// Ping implements Client.Ping.
func (c *InMemory) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive()
}

// Close implements Client.Close.
func (c *InMemory) Close() error {
	c.mu.Lock()
	c.open = false
	c.mu.Unlock()
	return nil
}
