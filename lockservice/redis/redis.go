// Package redis implements types.LockService on a single Redis deployment
// (standalone or Sentinel).
//
// Layout, relative to the key prefix:
//
//	session:<id>        hash {ttl, delay, behavior}, expires after ttl
//	session:<id>:locks  set of keys held by the session
//	lock:<key>          hash {value, session, index, delay, behavior}
//	delay:<key>         lock-delay marker, expires when the delay ends
//	tomb:<key>          index of the delete that removed lock:<key>
//	index               global modify index counter
//
// Every mutation runs in a Lua script. A lock whose holder session key has
// expired is invalidated by the next script touching it, so the index moves
// and pollers observe the release.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/arloliu/leadership/types"
)

const (
	// DefaultKeyPrefix is used when Options.KeyPrefix is empty.
	DefaultKeyPrefix = "leadership:"

	// DefaultWaitTime is the watch wait time used when none is configured.
	DefaultWaitTime = 30 * time.Second

	// DefaultPollInterval is how often WatchEntry re-reads the key.
	DefaultPollInterval = 100 * time.Millisecond
)

// Options configures a Service.
type Options struct {
	// KeyPrefix namespaces every key. Default: "leadership:".
	KeyPrefix string

	// WaitTime is how long WatchEntry polls without change. Default: 30s.
	WaitTime time.Duration

	// PollInterval is the WatchEntry polling period. Default: 100ms.
	PollInterval time.Duration
}

// ClientOptions selects the Redis deployment.
type ClientOptions struct {
	Addrs      []string
	MasterName string
	Username   string
	Password   string
	DB         int
}

// Service is a lock service backed by Redis.
type Service struct {
	client       goredis.UniversalClient
	prefix       string
	waitTime     time.Duration
	pollInterval time.Duration
}

// Compile-time assertion that Service implements LockService.
var _ types.LockService = (*Service)(nil)

// NewClient creates a client for a standalone server or, when MasterName is
// set, a Sentinel-managed master, and verifies it with PING.
func NewClient(ctx context.Context, opts ClientOptions) (goredis.UniversalClient, error) {
	addrs := opts.Addrs
	if len(addrs) == 0 {
		addrs = []string{"127.0.0.1:6379"}
	}

	client := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:      addrs,
		MasterName: opts.MasterName,
		Username:   opts.Username,
		Password:   opts.Password,
		DB:         opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return client, nil
}

// New returns a Service using client.
func New(client goredis.UniversalClient, opts Options) *Service {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultKeyPrefix
	}
	if opts.WaitTime <= 0 {
		opts.WaitTime = DefaultWaitTime
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}

	return &Service{
		client:       client,
		prefix:       opts.KeyPrefix,
		waitTime:     opts.WaitTime,
		pollInterval: opts.PollInterval,
	}
}

// invalidate and reap are shared by the scripts below. ARGV[1] is always the
// key prefix.
const luaHelpers = `
local function invalidate(prefix, key)
	local lk = prefix .. "lock:" .. key
	local delay = tonumber(redis.call("HGET", lk, "delay") or "0")
	if delay > 0 then
		redis.call("SET", prefix .. "delay:" .. key, "1", "PX", delay)
	end
	local idx = redis.call("INCR", prefix .. "index")
	if redis.call("HGET", lk, "behavior") == "delete" then
		redis.call("DEL", lk)
		redis.call("SET", prefix .. "tomb:" .. key, idx)
	else
		redis.call("HSET", lk, "session", "", "index", idx)
	end
end

local function reap(prefix, key)
	local holder = redis.call("HGET", prefix .. "lock:" .. key, "session")
	if holder and holder ~= "" and redis.call("EXISTS", prefix .. "session:" .. holder) == 0 then
		invalidate(prefix, key)
	end
end
`

// KEYS[1] lock, KEYS[2] session; ARGV prefix, key, value, session id.
var acquireScript = goredis.NewScript(luaHelpers + `
local prefix, key, value, sid = ARGV[1], ARGV[2], ARGV[3], ARGV[4]
if redis.call("EXISTS", KEYS[2]) == 0 then
	return -1
end
reap(prefix, key)
local holder = redis.call("HGET", KEYS[1], "session")
if holder and holder ~= "" and holder ~= sid then
	return 0
end
if holder ~= sid and redis.call("EXISTS", prefix .. "delay:" .. key) == 1 then
	return 0
end
local sess = redis.call("HMGET", KEYS[2], "ttl", "delay", "behavior")
local idx = redis.call("INCR", prefix .. "index")
redis.call("HSET", KEYS[1], "value", value, "session", sid, "index", idx, "delay", sess[2], "behavior", sess[3])
redis.call("DEL", prefix .. "tomb:" .. key)
redis.call("SADD", KEYS[2] .. ":locks", key)
redis.call("PEXPIRE", KEYS[2] .. ":locks", sess[1])
return 1
`)

// KEYS[1] lock, KEYS[2] session; ARGV prefix, key, value, session id.
var releaseScript = goredis.NewScript(`
local key, value, sid = ARGV[2], ARGV[3], ARGV[4]
if sid == "" or redis.call("HGET", KEYS[1], "session") ~= sid then
	return 0
end
local idx = redis.call("INCR", ARGV[1] .. "index")
redis.call("HSET", KEYS[1], "value", value, "session", "", "index", idx)
redis.call("SREM", KEYS[2] .. ":locks", key)
return 1
`)

// KEYS[1] session; ARGV prefix, session id.
var destroyScript = goredis.NewScript(luaHelpers + `
local prefix, sid = ARGV[1], ARGV[2]
local keys = redis.call("SMEMBERS", KEYS[1] .. ":locks")
redis.call("DEL", KEYS[1], KEYS[1] .. ":locks")
for _, key in ipairs(keys) do
	if redis.call("HGET", prefix .. "lock:" .. key, "session") == sid then
		invalidate(prefix, key)
	end
end
return 1
`)

// KEYS[1] session.
var renewScript = goredis.NewScript(`
local ttl = redis.call("HGET", KEYS[1], "ttl")
if not ttl then
	return 0
end
redis.call("PEXPIRE", KEYS[1], ttl)
redis.call("PEXPIRE", KEYS[1] .. ":locks", ttl)
return 1
`)

// KEYS[1] lock; ARGV prefix, key. Returns {value, session, index} for a
// live entry or {tombstone index} for a missing one.
var readScript = goredis.NewScript(luaHelpers + `
local prefix, key = ARGV[1], ARGV[2]
reap(prefix, key)
if redis.call("EXISTS", KEYS[1]) == 0 then
	return {redis.call("GET", prefix .. "tomb:" .. key) or "0"}
end
return redis.call("HMGET", KEYS[1], "value", "session", "index")
`)

// CreateSession stores a session hash that expires after the session TTL.
func (s *Service) CreateSession(ctx context.Context, spec types.SessionSpec) (string, error) {
	if spec.TTL < time.Millisecond {
		return "", fmt.Errorf("session TTL must be at least 1ms, got %s", spec.TTL)
	}
	if spec.LockDelay < 0 {
		return "", fmt.Errorf("session lock delay must not be negative, got %s", spec.LockDelay)
	}
	if spec.Behavior == "" {
		spec.Behavior = types.SessionBehaviorRelease
	}
	if !spec.Behavior.Valid() {
		return "", fmt.Errorf("unknown session behavior %q", spec.Behavior)
	}

	id := uuid.NewString()
	key := s.sessionKey(id)
	_, err := s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.HSet(ctx, key,
			"name", spec.Name,
			"ttl", spec.TTL.Milliseconds(),
			"delay", spec.LockDelay.Milliseconds(),
			"behavior", string(spec.Behavior),
		)
		p.PExpire(ctx, key, spec.TTL)

		return nil
	})
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	return id, nil
}

// RenewSession resets the session expiry.
func (s *Service) RenewSession(ctx context.Context, sessionID string) error {
	n, err := renewScript.Run(ctx, s.client, []string{s.sessionKey(sessionID)}).Int()
	if err != nil {
		return fmt.Errorf("renew session %s: %w", sessionID, err)
	}
	if n == 0 {
		return fmt.Errorf("renew session %s: %w", sessionID, types.ErrSessionNotFound)
	}

	return nil
}

// DestroySession deletes the session and invalidates its locks.
func (s *Service) DestroySession(ctx context.Context, sessionID string) error {
	err := destroyScript.Run(ctx, s.client, []string{s.sessionKey(sessionID)}, s.prefix, sessionID).Err()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("destroy session %s: %w", sessionID, err)
	}

	return nil
}

// AcquireLock marks key held by sessionID when it is free and no lock delay is active.
func (s *Service) AcquireLock(ctx context.Context, key string, value []byte, sessionID string) (bool, error) {
	n, err := acquireScript.Run(ctx, s.client,
		[]string{s.lockKey(key), s.sessionKey(sessionID)},
		s.prefix, key, value, sessionID,
	).Int()
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", key, err)
	}

	switch n {
	case 1:
		return true, nil
	case -1:
		return false, fmt.Errorf("acquire %s: %w", key, types.ErrSessionNotFound)
	default:
		return false, nil
	}
}

// ReleaseLock clears the holder of key if sessionID holds it.
func (s *Service) ReleaseLock(ctx context.Context, key string, value []byte, sessionID string) error {
	err := releaseScript.Run(ctx, s.client,
		[]string{s.lockKey(key), s.sessionKey(sessionID)},
		s.prefix, key, value, sessionID,
	).Err()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("release %s: %w", key, err)
	}

	return nil
}

// ReadEntry returns the current entry for key.
func (s *Service) ReadEntry(ctx context.Context, key string) ([]types.Entry, error) {
	entries, _, err := s.read(ctx, key)

	return entries, err
}

// WatchEntry polls key until its index exceeds since or the wait time elapses.
func (s *Service) WatchEntry(ctx context.Context, key string, since uint64) ([]types.Entry, error) {
	deadline := time.NewTimer(s.waitTime)
	defer deadline.Stop()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		entries, index, err := s.read(ctx, key)
		if err != nil {
			return nil, err
		}
		if index > since {
			return entries, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, types.ErrWatchTimeout
		case <-ticker.C:
		}
	}
}

// read returns the entries of key and its index, which for a deleted key is
// the index of the delete.
func (s *Service) read(ctx context.Context, key string) ([]types.Entry, uint64, error) {
	res, err := readScript.Run(ctx, s.client, []string{s.lockKey(key)}, s.prefix, key).Slice()
	if err != nil {
		return nil, 0, fmt.Errorf("read %s: %w", key, err)
	}

	switch len(res) {
	case 1:
		index, err := parseIndex(res[0])
		if err != nil {
			return nil, 0, fmt.Errorf("read %s: %w", key, err)
		}

		return []types.Entry{}, index, nil
	case 3:
		index, err := parseIndex(res[2])
		if err != nil {
			return nil, 0, fmt.Errorf("read %s: %w", key, err)
		}
		value, _ := res[0].(string)
		holder, _ := res[1].(string)

		return []types.Entry{{
			Key:         key,
			Value:       []byte(value),
			ModifyIndex: index,
			SessionID:   holder,
		}}, index, nil
	default:
		return nil, 0, fmt.Errorf("read %s: unexpected script result %v", key, res)
	}
}

func parseIndex(v any) (uint64, error) {
	switch x := v.(type) {
	case string:
		return strconv.ParseUint(x, 10, 64)
	case int64:
		return uint64(x), nil //nolint:gosec // indexes come from INCR and are never negative
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("unexpected index type %T", v)
	}
}

func (s *Service) sessionKey(id string) string {
	return s.prefix + "session:" + id
}

func (s *Service) lockKey(key string) string {
	return s.prefix + "lock:" + key
}
