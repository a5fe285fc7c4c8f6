package store

import (
	"fmt"
	"strconv"
	"strings"
)

type keyLayout int

const (
	keysNone keyLayout = iota
	keysFirst
	keysFirstTwo
	keysAll
	keysPairs
)

// values selects argument positions holding values: from index from, every
// step arguments, count times (0 means until the end).
type values struct {
	from, step, count int
}

type commandInfo struct {
	keys   keyLayout
	values *values
	decode bool
}

var (
	single   = &values{from: 1, step: 1, count: 1}
	third    = &values{from: 2, step: 1, count: 1}
	rest     = &values{from: 1, step: 1}
	pairs    = &values{from: 1, step: 2}
	fields   = &values{from: 2, step: 2}
	commands = map[string]commandInfo{}
)

func register(layout keyLayout, v *values, decode bool, names ...string) {
	for _, n := range names {
		commands[n] = commandInfo{keys: layout, values: v, decode: decode}
	}
}

func init() {
	register(keysFirst, nil, false,
		"INCR", "INCRBY", "INCRBYFLOAT", "DECR", "DECRBY", "APPEND", "STRLEN", "EXPIRE", "PEXPIRE",
		"EXPIREAT", "PEXPIREAT", "TTL", "PTTL", "PERSIST", "TYPE", "LLEN", "LREM", "LTRIM", "SREM",
		"SISMEMBER", "SCARD", "HDEL", "HKEYS", "HLEN", "HEXISTS", "HINCRBY", "HGETALL", "ZADD", "ZREM",
		"ZRANGE", "ZSCORE", "ZCARD", "ZINCRBY", "ZRANK", "GETRANGE", "SETRANGE", "KEYS")
	register(keysFirst, single, false, "SET", "SETNX")
	register(keysFirst, third, false, "SETEX", "PSETEX", "LSET", "HSETNX")
	register(keysFirst, single, true, "GETSET")
	register(keysFirst, rest, false, "LPUSH", "RPUSH", "LPUSHX", "RPUSHX", "SADD")
	register(keysFirst, fields, false, "HSET", "HMSET")
	register(keysFirst, nil, true,
		"GET", "GETDEL", "LPOP", "RPOP", "LRANGE", "LINDEX", "SMEMBERS", "SPOP", "SRANDMEMBER",
		"HGET", "HMGET", "HVALS")
	register(keysFirstTwo, nil, false, "RENAME", "RENAMENX", "SMOVE")
	register(keysFirstTwo, nil, true, "RPOPLPUSH", "LMOVE")
	register(keysAll, nil, false, "DEL", "EXISTS", "UNLINK", "TOUCH", "WATCH")
	register(keysAll, nil, true, "MGET")
	register(keysPairs, pairs, false, "MSET", "MSETNX")
}

func isKey(layout keyLayout, i int) bool {
	switch layout {
	case keysFirst:
		return i == 0
	case keysFirstTwo:
		return i < 2
	case keysAll:
		return true
	case keysPairs:
		return i%2 == 0
	}
	return false
}

func (v *values) has(i int) bool {
	if v == nil || i < v.from || (i-v.from)%v.step != 0 {
		return false
	}
	return v.count == 0 || (i-v.from)/v.step < v.count
}

// rewriteArgs applies the key prefix and the value codec to the arguments of
// a known command. Unknown commands are passed through untouched.
func rewriteArgs(name string, args []any, prefix string, codec Codec) ([]any, error) {
	info, ok := commands[strings.ToUpper(name)]
	if !ok || (prefix == "" && codec == nil) {
		return args, nil
	}
	out := make([]any, len(args))
	for i, a := range args {
		switch {
		case prefix != "" && isKey(info.keys, i):
			out[i] = prefix + argString(a)
		case codec != nil && info.values.has(i):
			data, err := codec.Marshal(a)
			if err != nil {
				return nil, fmt.Errorf("encode %s argument %d: %w", name, i, err)
			}
			out[i] = data
		default:
			out[i] = a
		}
	}
	return out, nil
}

// decodeReply reverses the value codec on the reply of a read command.
// Values that fail to decode are returned as stored.
func decodeReply(name string, reply any, codec Codec) any {
	if codec == nil || reply == nil {
		return reply
	}
	if info, ok := commands[strings.ToUpper(name)]; !ok || !info.decode {
		return reply
	}
	switch r := reply.(type) {
	case string:
		return decodeValue(codec, r)
	case []any:
		out := make([]any, len(r))
		for i, v := range r {
			if s, ok := v.(string); ok {
				out[i] = decodeValue(codec, s)
			} else {
				out[i] = v
			}
		}
		return out
	}
	return reply
}

func decodeValue(codec Codec, s string) any {
	var v any
	if err := codec.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

func argString(a any) string {
	switch v := a.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprint(a)
}
