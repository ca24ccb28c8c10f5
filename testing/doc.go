// Package testing provides test utilities for code built on the leadership
// module.
//
// Key utilities:
//   - StartEmbeddedNATS: single in-process NATS server with JetStream
//   - CreateJetStreamKV: convenience wrapper for KV bucket creation
//   - NewTestLogger: a types.Logger writing to the test log
//
// Example usage:
//
//	import (
//	    "testing"
//	    leadershiptest "github.com/arloliu/leadership/testing"
//	)
//
//	func TestMyComponent(t *testing.T) {
//	    _, nc := leadershiptest.StartEmbeddedNATS(t)
//	    // Use nc for your tests
//	}
package testing
