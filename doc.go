// Package leadership provides session-based leader election over an external
// lock service such as Consul, NATS JetStream KV or Redis.
//
// Every competing instance creates a fresh session, tries to acquire a single
// leadership key with it and then long-polls the key. Exactly one instance
// holds the key at a time; all instances learn who the leader is from the
// details stored as the key's value.
//
// # Quick Start
//
//	import (
//	    "github.com/arloliu/leadership"
//	    "github.com/arloliu/leadership/lockservice/consul"
//	)
//
//	client, _ := consul.NewClient("consul:8500", token)
//	svc := consul.New(client, consul.Options{})
//
//	cfg := leadership.DefaultConfig()
//	cfg.Path = "leadership/my-app"
//
//	e, err := leadership.NewElection(&cfg, svc,
//	    leadership.WithListener(leadership.Listener{
//	        OnLeadershipChanged: func(isLeader bool) { log.Println("leader:", isLeader) },
//	    }),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	e.Start()
//	defer e.Stop()
//
// # Architecture
//
// An election progresses through a state machine:
//
//	Idle → Applying → Leading/Following → Watching
//
// A free key observed while watching moves the election back to Applying.
// Recoverable errors are retried with exponential backoff and jitter up to
// Config.Election.MaxRetryAttempts; non-recoverable errors stop the election
// at once. A stopped election releases the key, destroys its session and
// settles in Idle until Start is called again.
//
// # Lock Services
//
// The lockservice subpackages implement LockService:
//
//   - lockservice/consul: Consul sessions and KV with blocking queries
//   - lockservice/natskv: NATS JetStream KV buckets
//   - lockservice/redis: Redis hashes mutated by Lua scripts
//   - lockservice/memory: in-process store for tests and examples
//
// See cmd/leadership-agent for a standalone process exposing the election
// status over HTTP.
package leadership
