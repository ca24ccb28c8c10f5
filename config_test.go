package leadership

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/arloliu/leadership/internal/logger"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.Empty(t, cfg.Path)
	require.Empty(t, cfg.Identity.InstanceName)
	require.Equal(t, "n/a", cfg.Identity.Namespace)
	require.Equal(t, "n/a", cfg.Identity.ClusterName)
	require.Equal(t, 5*time.Second, cfg.Election.SessionLockDelay)
	require.Equal(t, 15*time.Second, cfg.Election.SessionTTL)
	require.Equal(t, 10*time.Second, cfg.Election.SessionRenewalDelay)
	require.Equal(t, 3, cfg.Election.MaxRetryAttempts)
	require.Equal(t, 500*time.Millisecond, cfg.Election.RetryDelay)
	require.Equal(t, 3*time.Second, cfg.Election.Timeout)
	require.Equal(t, 30*time.Second, cfg.Election.WatchWaitTime)
}

func TestSetDefaults(t *testing.T) {
	t.Run("applies defaults to empty config", func(t *testing.T) {
		cfg := Config{}
		SetDefaults(&cfg)

		require.NotEmpty(t, cfg.Identity.InstanceName)
		require.Equal(t, "n/a", cfg.Identity.Namespace)
		require.Equal(t, 15*time.Second, cfg.Election.SessionTTL)
		require.Equal(t, 3, cfg.Election.MaxRetryAttempts)
		require.Equal(t, 30*time.Second, cfg.Election.WatchWaitTime)
		require.Zero(t, cfg.Election.SessionLockDelay)
	})

	t.Run("instance name falls back to hostname", func(t *testing.T) {
		host, err := os.Hostname()
		if err != nil {
			t.Skip("hostname unavailable")
		}

		cfg := Config{}
		SetDefaults(&cfg)
		require.Equal(t, host, cfg.Identity.InstanceName)
	})

	t.Run("preserves custom values", func(t *testing.T) {
		cfg := Config{
			Path:     "leadership/custom",
			Identity: IdentityConfig{InstanceName: "a", Namespace: "ns", ClusterName: "c"},
			Election: ElectionConfig{
				SessionLockDelay:    time.Second,
				SessionTTL:          30 * time.Second,
				SessionRenewalDelay: 20 * time.Second,
				MaxRetryAttempts:    5,
				RetryDelay:          time.Second,
				Timeout:             10 * time.Second,
				WatchWaitTime:       time.Minute,
			},
		}
		want := cfg
		SetDefaults(&cfg)

		require.Equal(t, want, cfg)
	})
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		cfg := DefaultConfig()
		cfg.Path = "leadership/app"

		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr bool
	}{
		{"defaults with path", func(*Config) {}, false},
		{"empty path", func(cfg *Config) { cfg.Path = "" }, true},
		{"zero ttl", func(cfg *Config) { cfg.Election.SessionTTL = 0 }, true},
		{"negative lock delay", func(cfg *Config) { cfg.Election.SessionLockDelay = -time.Second }, true},
		{"zero lock delay", func(cfg *Config) { cfg.Election.SessionLockDelay = 0 }, false},
		{"renewal equals ttl", func(cfg *Config) { cfg.Election.SessionRenewalDelay = cfg.Election.SessionTTL }, true},
		{"renewal above ttl", func(cfg *Config) { cfg.Election.SessionRenewalDelay = time.Minute }, true},
		{"zero retries", func(cfg *Config) { cfg.Election.MaxRetryAttempts = 0 }, true},
		{"single retry", func(cfg *Config) { cfg.Election.MaxRetryAttempts = 1 }, false},
		{"zero retry delay", func(cfg *Config) { cfg.Election.RetryDelay = 0 }, true},
		{"zero timeout", func(cfg *Config) { cfg.Election.Timeout = 0 }, true},
		{"zero watch wait", func(cfg *Config) { cfg.Election.WatchWaitTime = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateWithWarnings(t *testing.T) {
	t.Run("defaults are quiet", func(t *testing.T) {
		log := logger.NewTest(t)
		cfg := DefaultConfig()
		cfg.ValidateWithWarnings(log)

		require.Empty(t, log.Entries())
	})

	t.Run("late renewal and zero lock delay", func(t *testing.T) {
		log := logger.NewTest(t)
		cfg := DefaultConfig()
		cfg.Election.SessionRenewalDelay = 14 * time.Second
		cfg.Election.SessionLockDelay = 0
		cfg.ValidateWithWarnings(log)

		require.True(t, log.Contains("WARN", "SessionRenewalDelay"))
		require.True(t, log.Contains("WARN", "SessionLockDelay"))
	})

	t.Run("timeout not below ttl", func(t *testing.T) {
		log := logger.NewTest(t)
		cfg := DefaultConfig()
		cfg.Election.Timeout = cfg.Election.SessionTTL
		cfg.ValidateWithWarnings(log)

		require.True(t, log.Contains("WARN", "Timeout"))
	})
}

func TestTestConfig(t *testing.T) {
	cfg := TestConfig()
	cfg.Path = "leadership/test"

	require.NoError(t, cfg.Validate())
	require.Less(t, cfg.Election.SessionTTL, DefaultConfig().Election.SessionTTL)
}

// TestConfig_YAML demonstrates that time.Duration works directly with YAML unmarshaling
func TestConfig_YAML(t *testing.T) {
	yamlConfig := `
path: leadership/my-app
token: secret
identity:
  instanceName: pod-0
  namespace: prod
  clusterName: eu-1
election:
  sessionLockDelay: 2s
  sessionTtl: 20s
  sessionRenewalDelay: 12s
  maxRetryAttempts: 4
  retryDelay: 250ms
  timeout: 5s
  watchWaitTime: 1m
`

	var cfg Config
	err := yaml.Unmarshal([]byte(yamlConfig), &cfg)
	require.NoError(t, err)

	require.Equal(t, "leadership/my-app", cfg.Path)
	require.Equal(t, "secret", cfg.Token)
	require.Equal(t, IdentityConfig{InstanceName: "pod-0", Namespace: "prod", ClusterName: "eu-1"}, cfg.Identity)
	require.Equal(t, 2*time.Second, cfg.Election.SessionLockDelay)
	require.Equal(t, 20*time.Second, cfg.Election.SessionTTL)
	require.Equal(t, 12*time.Second, cfg.Election.SessionRenewalDelay)
	require.Equal(t, 4, cfg.Election.MaxRetryAttempts)
	require.Equal(t, 250*time.Millisecond, cfg.Election.RetryDelay)
	require.Equal(t, 5*time.Second, cfg.Election.Timeout)
	require.Equal(t, time.Minute, cfg.Election.WatchWaitTime)
}

func TestLoadConfig(t *testing.T) {
	t.Run("partial file gets defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "leadership.yaml")
		require.NoError(t, os.WriteFile(path, []byte("path: leadership/partial\nelection:\n  sessionTtl: 30s\n"), 0o600))

		cfg, err := LoadConfig(path)
		require.NoError(t, err)

		require.Equal(t, "leadership/partial", cfg.Path)
		require.Equal(t, 30*time.Second, cfg.Election.SessionTTL)
		require.Equal(t, 10*time.Second, cfg.Election.SessionRenewalDelay)
		require.Equal(t, "n/a", cfg.Identity.Namespace)
		require.NoError(t, cfg.Validate())
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
		require.Error(t, err)
	})

	t.Run("malformed file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("election: [unterminated"), 0o600))

		_, err := LoadConfig(path)
		require.Error(t, err)
	})
}
