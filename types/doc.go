// Package types provides core type definitions and interfaces for the leadership library.
//
// This package contains shared types that are used across multiple packages in the
// leadership library. By keeping these types in a separate package, we avoid import cycles
// between the main leadership package and its internal implementations.
//
// Key types:
//   - LockService: Session and lock primitives of the coordination store
//   - SessionSpec: Parameters of a store-side session
//   - Entry: Versioned view of the leadership key
//   - Details: Leadership metadata published to listeners
//   - State: Election lifecycle state
//   - Logger: Structured logging interface
//   - MetricsCollector: Metrics recording interface
package types
