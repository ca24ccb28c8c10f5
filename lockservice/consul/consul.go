// Package consul implements types.LockService on Consul sessions and KV.
//
// Operations map one to one onto the Consul HTTP API:
//
//	CreateSession  PUT /v1/session/create
//	RenewSession   PUT /v1/session/renew/:id
//	DestroySession PUT /v1/session/destroy/:id
//	AcquireLock    PUT /v1/kv/:key?acquire=:id
//	ReleaseLock    PUT /v1/kv/:key?release=:id
//	ReadEntry      GET /v1/kv/:key
//	WatchEntry     GET /v1/kv/:key?index=:since&wait=:waitTime
package consul

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/consul/api"

	"github.com/arloliu/leadership/types"
)

// DefaultWaitTime is the blocking-query wait time used when none is configured.
const DefaultWaitTime = 30 * time.Second

// Options configures a Service.
type Options struct {
	// WaitTime is the blocking-query wait time. Default: 30s.
	WaitTime time.Duration

	// Datacenter overrides the agent's datacenter for every request.
	Datacenter string
}

// Service is a lock service backed by a Consul agent.
type Service struct {
	client   *api.Client
	waitTime time.Duration
	dc       string
}

// Compile-time assertion that Service implements LockService.
var _ types.LockService = (*Service)(nil)

// NewClient creates a Consul API client for address, authenticated with the
// ACL token when one is given. An empty address uses the client defaults
// (CONSUL_HTTP_ADDR or 127.0.0.1:8500).
func NewClient(address string, token string) (*api.Client, error) {
	cfg := api.DefaultConfig()
	if address != "" {
		cfg.Address = address
	}
	if token != "" {
		cfg.Token = token
	}

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}

	return client, nil
}

// New returns a Service using client.
//
// Example:
//
//	client, _ := consul.NewClient("consul:8500", token)
//	svc := consul.New(client, consul.Options{WaitTime: 30 * time.Second})
func New(client *api.Client, opts Options) *Service {
	if opts.WaitTime <= 0 {
		opts.WaitTime = DefaultWaitTime
	}

	return &Service{
		client:   client,
		waitTime: opts.WaitTime,
		dc:       opts.Datacenter,
	}
}

// CreateSession creates a session bound to the agent's node. Consul only
// accepts TTLs between 10s and 24h.
func (s *Service) CreateSession(ctx context.Context, spec types.SessionSpec) (string, error) {
	if spec.TTL <= 0 {
		return "", fmt.Errorf("session TTL must be positive, got %s", spec.TTL)
	}
	behavior := spec.Behavior
	if behavior == "" {
		behavior = types.SessionBehaviorRelease
	}
	if !behavior.Valid() {
		return "", fmt.Errorf("unknown session behavior %q", behavior)
	}

	entry := &api.SessionEntry{
		Name:      spec.Name,
		LockDelay: spec.LockDelay,
		Behavior:  sessionBehavior(behavior),
		TTL:       spec.TTL.String(),
	}

	id, _, err := s.client.Session().Create(entry, s.writeOptions(ctx))
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	return id, nil
}

// RenewSession renews the session TTL.
func (s *Service) RenewSession(ctx context.Context, sessionID string) error {
	entry, _, err := s.client.Session().Renew(sessionID, s.writeOptions(ctx))
	if err != nil {
		return fmt.Errorf("renew session %s: %w", sessionID, err)
	}
	if entry == nil {
		return fmt.Errorf("renew session %s: %w", sessionID, types.ErrSessionNotFound)
	}

	return nil
}

// DestroySession invalidates the session.
func (s *Service) DestroySession(ctx context.Context, sessionID string) error {
	if _, err := s.client.Session().Destroy(sessionID, s.writeOptions(ctx)); err != nil {
		return fmt.Errorf("destroy session %s: %w", sessionID, err)
	}

	return nil
}

// AcquireLock acquires key for sessionID.
func (s *Service) AcquireLock(ctx context.Context, key string, value []byte, sessionID string) (bool, error) {
	ok, _, err := s.client.KV().Acquire(&api.KVPair{Key: key, Value: value, Session: sessionID}, s.writeOptions(ctx))
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", key, err)
	}

	return ok, nil
}

// ReleaseLock releases key held by sessionID.
func (s *Service) ReleaseLock(ctx context.Context, key string, value []byte, sessionID string) error {
	if _, _, err := s.client.KV().Release(&api.KVPair{Key: key, Value: value, Session: sessionID}, s.writeOptions(ctx)); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}

	return nil
}

// ReadEntry reads key with a consistent query.
func (s *Service) ReadEntry(ctx context.Context, key string) ([]types.Entry, error) {
	q := s.queryOptions(ctx)
	q.RequireConsistent = true

	pair, _, err := s.client.KV().Get(key, q)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	if pair == nil {
		return []types.Entry{}, nil
	}

	return []types.Entry{toEntry(pair)}, nil
}

// WatchEntry runs a blocking query on key from index since.
func (s *Service) WatchEntry(ctx context.Context, key string, since uint64) ([]types.Entry, error) {
	q := s.queryOptions(ctx)
	q.WaitIndex = since
	q.WaitTime = s.waitTime

	pair, meta, err := s.client.KV().Get(key, q)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, fmt.Errorf("watch %s: %w", key, err)
	}

	if pair == nil {
		if since != 0 && meta.LastIndex == since {
			return nil, types.ErrWatchTimeout
		}

		return []types.Entry{}, nil
	}
	// the query may wake up for unrelated writes; only a newer entry counts
	if since != 0 && pair.ModifyIndex <= since && meta.LastIndex >= since {
		return nil, types.ErrWatchTimeout
	}

	return []types.Entry{toEntry(pair)}, nil
}

func (s *Service) writeOptions(ctx context.Context) *api.WriteOptions {
	q := &api.WriteOptions{Datacenter: s.dc}

	return q.WithContext(ctx)
}

func (s *Service) queryOptions(ctx context.Context) *api.QueryOptions {
	q := &api.QueryOptions{Datacenter: s.dc}

	return q.WithContext(ctx)
}

func sessionBehavior(b types.SessionBehavior) string {
	if b == types.SessionBehaviorDelete {
		return api.SessionBehaviorDelete
	}

	return api.SessionBehaviorRelease
}

func toEntry(pair *api.KVPair) types.Entry {
	return types.Entry{
		Key:         pair.Key,
		Value:       pair.Value,
		ModifyIndex: pair.ModifyIndex,
		SessionID:   pair.Session,
	}
}
