package proxy

import "strings"

// Command is a backend command name
type Command string

// readCommands never modify data and may be served by any read candidate
var readCommands = map[Command]struct{}{
	"ttl": {}, "exists": {}, "getbit": {}, "get": {}, "mget": {},
	"hexists": {}, "hget": {}, "hmget": {}, "hgetall": {}, "hkeys": {}, "hlen": {},
	"lindex": {}, "llen": {}, "lrange": {},
	"scard": {}, "sismember": {}, "smembers": {}, "srandmember": {},
	"zcard": {}, "zcount": {}, "zscore": {}, "zrank": {},
	"zrange": {}, "zrevrange": {}, "zrangebyscore": {}, "zrevrangebyscore": {},
	"zrangewithscores": {}, "zrevrangewithscores": {},
	"zrangebyscorewithscores": {}, "zrevrangebyscorewithscores": {},
}

// IsRead reports whether c belongs to the read set. Anything else is a write.
func (c Command) IsRead() bool {
	_, ok := readCommands[Command(strings.ToLower(string(c)))]
	return ok
}

// wire returns the command as sent to the backend. The WITHSCORES forms are
// the base command plus a WITHSCORES argument.
func (c Command) wire() (string, bool) {
	name := strings.ToLower(string(c))
	if base, ok := strings.CutSuffix(name, "withscores"); ok && strings.HasPrefix(name, "z") {
		return base, true
	}
	return name, false
}

// Operation is one keyed backend call
type Operation struct {
	Command Command
	Key     string
	Args    []interface{}
}

// argv builds the raw command line
func (op Operation) argv() []interface{} {
	name, withScores := op.Command.wire()
	out := make([]interface{}, 0, len(op.Args)+3)
	out = append(out, name, op.Key)
	out = append(out, op.Args...)
	if withScores {
		out = append(out, "WITHSCORES")
	}
	return out
}
