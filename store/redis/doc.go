// Package redis implements store.Store on top of go-redis.
//
// Instances and lock rows are Hashes, history is a List of JSON-encoded
// events, and two Sorted Sets index pending instances per queue and the
// expiry of locks on open instances. Every fenced write and every
// compare-and-swap on a lock runs as a single Lua script, and lock expiry
// is judged by the Redis server clock (TIME) rather than the caller's.
// Lock expiries are stored with microsecond precision.
//
// The caller owns the client lifecycle:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
