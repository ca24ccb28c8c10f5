package leadership

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// unknownIdentity is used for identity fields left empty.
const unknownIdentity = "n/a"

// IdentityConfig describes the instance competing for leadership. It is
// written into the leadership details on every acquire and release.
type IdentityConfig struct {
	// InstanceName identifies this instance. Defaults to the hostname.
	InstanceName string `yaml:"instanceName"`

	// Namespace is the deployment namespace. Default: "n/a".
	Namespace string `yaml:"namespace"`

	// ClusterName is the deployment cluster. Default: "n/a".
	ClusterName string `yaml:"clusterName"`
}

// ElectionConfig controls session lifetime and retry behavior.
//
// Timing relationships:
//
//	SessionRenewalDelay < SessionTTL
//	RetryDelay * 2^(MaxRetryAttempts-1) is capped at 30s per retry
//	Timeout bounds each lock service call and the whole stop sequence
type ElectionConfig struct {
	// SessionLockDelay is how long the store refuses to hand the lock to
	// another session after the holder's session is invalidated.
	SessionLockDelay time.Duration `yaml:"sessionLockDelay"`

	// SessionTTL is the session lifetime without renewal.
	SessionTTL time.Duration `yaml:"sessionTtl"`

	// SessionRenewalDelay is the interval between session renewals.
	// Must be shorter than SessionTTL.
	SessionRenewalDelay time.Duration `yaml:"sessionRenewalDelay"`

	// MaxRetryAttempts is the number of consecutive recoverable errors
	// tolerated before the election stops. Must be >= 1.
	MaxRetryAttempts int `yaml:"maxRetryAttempts"`

	// RetryDelay is the exponential backoff base.
	RetryDelay time.Duration `yaml:"retryDelay"`

	// Timeout bounds each lock service call and the shutdown sequence.
	Timeout time.Duration `yaml:"timeout"`

	// WatchWaitTime is the long-poll wait handed to lock service adapters.
	WatchWaitTime time.Duration `yaml:"watchWaitTime"`
}

// Config is the configuration for an Election.
//
// All duration fields accept standard Go duration strings like "500ms", "15s".
type Config struct {
	// Path is the leadership key shared by all competing instances.
	Path string `yaml:"path"`

	// Token is the ACL token passed to lock services that support one.
	Token string `yaml:"token"`

	// Identity is written into the leadership details.
	Identity IdentityConfig `yaml:"identity"`

	// Election controls sessions and retries.
	Election ElectionConfig `yaml:"election"`
}

// DefaultConfig returns a Config with production defaults. Path and
// Identity.InstanceName are left empty.
//
// Returns:
//   - Config: Configuration with default values
func DefaultConfig() Config {
	return Config{
		Identity: IdentityConfig{
			Namespace:   unknownIdentity,
			ClusterName: unknownIdentity,
		},
		Election: ElectionConfig{
			SessionLockDelay:    5 * time.Second,
			SessionTTL:          15 * time.Second,
			SessionRenewalDelay: 10 * time.Second,
			MaxRetryAttempts:    3,
			RetryDelay:          500 * time.Millisecond,
			Timeout:             3 * time.Second,
			WatchWaitTime:       30 * time.Second,
		},
	}
}

// SetDefaults fills in missing configuration values with production defaults.
//
// An empty instance name falls back to the hostname, or "n/a" when the
// hostname is unavailable.
//
// Parameters:
//   - cfg: Config to apply defaults to (modified in place)
func SetDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Identity.InstanceName == "" {
		cfg.Identity.InstanceName = hostname()
	}
	if cfg.Identity.Namespace == "" {
		cfg.Identity.Namespace = defaults.Identity.Namespace
	}
	if cfg.Identity.ClusterName == "" {
		cfg.Identity.ClusterName = defaults.Identity.ClusterName
	}
	// Note: a zero lock delay is valid, so it is not defaulted
	if cfg.Election.SessionTTL == 0 {
		cfg.Election.SessionTTL = defaults.Election.SessionTTL
	}
	if cfg.Election.SessionRenewalDelay == 0 {
		cfg.Election.SessionRenewalDelay = defaults.Election.SessionRenewalDelay
	}
	if cfg.Election.MaxRetryAttempts == 0 {
		cfg.Election.MaxRetryAttempts = defaults.Election.MaxRetryAttempts
	}
	if cfg.Election.RetryDelay == 0 {
		cfg.Election.RetryDelay = defaults.Election.RetryDelay
	}
	if cfg.Election.Timeout == 0 {
		cfg.Election.Timeout = defaults.Election.Timeout
	}
	if cfg.Election.WatchWaitTime == 0 {
		cfg.Election.WatchWaitTime = defaults.Election.WatchWaitTime
	}
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return unknownIdentity
	}

	return name
}

// Validate checks configuration constraints and returns error for invalid values.
//
// Hard Validation Rules:
//   - Path is not empty
//   - SessionTTL > 0 and SessionLockDelay >= 0
//   - 0 < SessionRenewalDelay < SessionTTL (renew before expiry)
//   - MaxRetryAttempts >= 1
//   - RetryDelay > 0, Timeout > 0, WatchWaitTime > 0
//
// Returns:
//   - error: Validation error with clear explanation, nil if valid
func (cfg *Config) Validate() error {
	e := cfg.Election

	// Rule 1: a key to compete for
	if cfg.Path == "" {
		return fmt.Errorf("%w: path must not be empty", ErrInvalidConfig)
	}

	// Rule 2: session timings
	if e.SessionTTL <= 0 {
		return fmt.Errorf("%w: SessionTTL must be > 0, got %v", ErrInvalidConfig, e.SessionTTL)
	}
	if e.SessionLockDelay < 0 {
		return fmt.Errorf("%w: SessionLockDelay must be >= 0, got %v", ErrInvalidConfig, e.SessionLockDelay)
	}
	if e.SessionRenewalDelay <= 0 || e.SessionRenewalDelay >= e.SessionTTL {
		return fmt.Errorf(
			"%w: SessionRenewalDelay (%v) must be > 0 and < SessionTTL (%v) so the session is renewed before expiry",
			ErrInvalidConfig, e.SessionRenewalDelay, e.SessionTTL,
		)
	}

	// Rule 3: retry budget
	if e.MaxRetryAttempts < 1 {
		return fmt.Errorf("%w: MaxRetryAttempts must be >= 1, got %d", ErrInvalidConfig, e.MaxRetryAttempts)
	}
	if e.RetryDelay <= 0 {
		return fmt.Errorf("%w: RetryDelay must be > 0, got %v", ErrInvalidConfig, e.RetryDelay)
	}

	// Rule 4: call deadlines
	if e.Timeout <= 0 {
		return fmt.Errorf("%w: Timeout must be > 0, got %v", ErrInvalidConfig, e.Timeout)
	}
	if e.WatchWaitTime <= 0 {
		return fmt.Errorf("%w: WatchWaitTime must be > 0, got %v", ErrInvalidConfig, e.WatchWaitTime)
	}

	return nil
}

// ValidateWithWarnings logs warnings for values that are valid but risky.
//
// This is called after Validate() in NewElection() to provide operator guidance.
//
// Parameters:
//   - logger: Logger instance for warning output
func (cfg *Config) ValidateWithWarnings(logger Logger) {
	e := cfg.Election

	// A renewal later than 2/3 of the TTL leaves little room for one slow call
	if e.SessionRenewalDelay*3 > e.SessionTTL*2 {
		logger.Warn(
			"SessionRenewalDelay is close to SessionTTL, a slow renewal may expire the session",
			"sessionRenewalDelay", e.SessionRenewalDelay,
			"sessionTTL", e.SessionTTL,
			"recommended", e.SessionTTL*2/3,
		)
	}

	if e.Timeout >= e.SessionTTL {
		logger.Warn(
			"Timeout is not shorter than SessionTTL",
			"timeout", e.Timeout,
			"sessionTTL", e.SessionTTL,
		)
	}

	if e.SessionLockDelay == 0 {
		logger.Warn("SessionLockDelay is zero, a lost leader may be replaced before it notices")
	}
}

// TestConfig returns a configuration optimized for fast test execution.
//
// Returns:
//   - Config: Configuration with fast timings for tests
//
// Example:
//
//	cfg := leadership.TestConfig()
//	cfg.Path = "leadership/test"
//	e, err := leadership.NewElection(&cfg, memory.New())
func TestConfig() Config {
	cfg := DefaultConfig()

	cfg.Identity.InstanceName = "test-instance"
	cfg.Election.SessionLockDelay = 0
	cfg.Election.SessionTTL = 2 * time.Second
	cfg.Election.SessionRenewalDelay = 500 * time.Millisecond
	cfg.Election.RetryDelay = 20 * time.Millisecond
	cfg.Election.Timeout = 500 * time.Millisecond
	cfg.Election.WatchWaitTime = 200 * time.Millisecond

	return cfg
}

// LoadConfig reads a YAML configuration file and applies defaults to the
// fields it leaves out. The result is not validated.
//
// Parameters:
//   - path: Path of the YAML file
//
// Returns:
//   - *Config: Loaded configuration
//   - error: Read or parse error
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}

// ParseConfig decodes a YAML document and applies defaults.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	SetDefaults(&cfg)

	return &cfg, nil
}
