package main

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/leadership"
	"github.com/arloliu/leadership/lockservice/consul"
	"github.com/arloliu/leadership/lockservice/memory"
	"github.com/arloliu/leadership/lockservice/natskv"
	"github.com/arloliu/leadership/lockservice/redis"
)

// Supported backends.
const (
	backendMemory = "memory"
	backendConsul = "consul"
	backendNATS   = "nats"
	backendRedis  = "redis"
)

// backendFlags holds the connection settings of every backend.
type backendFlags struct {
	kind          string
	consulAddr    string
	consulDC      string
	natsURL       string
	natsBucket    string
	redisAddrs    []string
	redisMaster   string
	redisPassword string
	redisDB       int
	redisPrefix   string
}

// newLockService connects to the selected backend. The returned close
// function releases the connection and is never nil.
func newLockService(ctx context.Context, flags backendFlags, cfg *leadership.Config) (leadership.LockService, func(), error) {
	wait := cfg.Election.WatchWaitTime

	switch flags.kind {
	case backendMemory:
		return memory.New(memory.WithWaitTime(wait)), func() {}, nil

	case backendConsul:
		client, err := consul.NewClient(flags.consulAddr, cfg.Token)
		if err != nil {
			return nil, nil, err
		}

		return consul.New(client, consul.Options{WaitTime: wait, Datacenter: flags.consulDC}), func() {}, nil

	case backendNATS:
		nc, err := nats.Connect(flags.natsURL, nats.Name("leadership-agent"), nats.Token(cfg.Token))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		js, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			return nil, nil, fmt.Errorf("failed to get JetStream: %w", err)
		}
		svc, err := natskv.New(ctx, js, natskv.Options{Bucket: flags.natsBucket, WaitTime: wait})
		if err != nil {
			nc.Close()
			return nil, nil, err
		}

		return svc, nc.Close, nil

	case backendRedis:
		client, err := redis.NewClient(ctx, redis.ClientOptions{
			Addrs:      flags.redisAddrs,
			MasterName: flags.redisMaster,
			Password:   flags.redisPassword,
			DB:         flags.redisDB,
		})
		if err != nil {
			return nil, nil, err
		}

		return redis.New(client, redis.Options{KeyPrefix: flags.redisPrefix, WaitTime: wait}), func() { _ = client.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown backend %q (want %s, %s, %s or %s)",
			flags.kind, backendMemory, backendConsul, backendNATS, backendRedis)
	}
}
