package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/leadership"
	"github.com/arloliu/leadership/internal/metrics"
	leadershiptest "github.com/arloliu/leadership/testing"
)

func TestLoadConfig(t *testing.T) {
	t.Run("flags override file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "agent.yaml")
		require.NoError(t, os.WriteFile(path, []byte("path: leadership/file\nidentity:\n  instanceName: from-file\n"), 0o600))

		cfg, err := loadConfig(agentFlags{configPath: path, instance: "from-flag"})
		require.NoError(t, err)
		require.Equal(t, "leadership/file", cfg.Path)
		require.Equal(t, "from-flag", cfg.Identity.InstanceName)
	})

	t.Run("path flag without file", func(t *testing.T) {
		cfg, err := loadConfig(agentFlags{path: "leadership/flag"})
		require.NoError(t, err)
		require.Equal(t, "leadership/flag", cfg.Path)
		require.Equal(t, 15*time.Second, cfg.Election.SessionTTL)
	})

	t.Run("missing path is invalid", func(t *testing.T) {
		_, err := loadConfig(agentFlags{})
		require.ErrorIs(t, err, leadership.ErrInvalidConfig)
	})
}

func TestNewLockService(t *testing.T) {
	cfg := leadership.TestConfig()
	cfg.Path = "leadership/agent"

	t.Run("memory", func(t *testing.T) {
		svc, closeSvc, err := newLockService(t.Context(), backendFlags{kind: backendMemory}, &cfg)
		require.NoError(t, err)
		defer closeSvc()
		require.NotNil(t, svc)
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		svc, closeSvc, err := newLockService(t.Context(), backendFlags{kind: backendRedis, redisAddrs: []string{mr.Addr()}}, &cfg)
		require.NoError(t, err)
		defer closeSvc()

		_, err = svc.CreateSession(t.Context(), leadership.SessionSpec{TTL: time.Second})
		require.NoError(t, err)
	})

	t.Run("nats", func(t *testing.T) {
		srv, _ := leadershiptest.StartEmbeddedNATS(t)
		svc, closeSvc, err := newLockService(t.Context(), backendFlags{kind: backendNATS, natsURL: srv.ClientURL()}, &cfg)
		require.NoError(t, err)
		defer closeSvc()

		_, err = svc.CreateSession(t.Context(), leadership.SessionSpec{TTL: time.Second})
		require.NoError(t, err)
	})

	t.Run("consul client is lazy", func(t *testing.T) {
		svc, closeSvc, err := newLockService(t.Context(), backendFlags{kind: backendConsul, consulAddr: "127.0.0.1:1"}, &cfg)
		require.NoError(t, err)
		defer closeSvc()
		require.NotNil(t, svc)
	})

	t.Run("unknown", func(t *testing.T) {
		_, _, err := newLockService(t.Context(), backendFlags{kind: "etcd"}, &cfg)
		require.ErrorContains(t, err, "unknown backend")
	})
}

func TestNewMux(t *testing.T) {
	cfg := leadership.TestConfig()
	cfg.Path = "leadership/mux"
	svc, closeSvc, err := newLockService(t.Context(), backendFlags{kind: backendMemory}, &cfg)
	require.NoError(t, err)
	defer closeSvc()

	reg := prometheus.NewRegistry()
	e, err := leadership.NewElection(&cfg, svc,
		leadership.WithLogger(leadershiptest.NewTestLogger(t)),
		leadership.WithMetrics(metrics.NewPrometheus(reg, "leadership")),
	)
	require.NoError(t, err)
	e.Start()
	defer e.Stop()
	require.NoError(t, <-e.WaitState(leadership.StateWatching, 3*time.Second))

	mux := newMux(e, reg)

	t.Run("leadership", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/leadership", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, true, body["isLeader"])
	})

	t.Run("metrics", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		require.Contains(t, rec.Body.String(), "leadership_election_state_transitions_total")
	})

	t.Run("healthz", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestRootCmd_MemoryBackend(t *testing.T) {
	var logs bytes.Buffer
	cmd := newRootCmd(&logs)
	cmd.SetArgs([]string{"--backend", "memory", "--path", "leadership/cmd", "--listen", "127.0.0.1:0", "--log-format", "json"})

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	time.Sleep(300 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("agent did not shut down")
	}
	require.Contains(t, logs.String(), "serving status")
}

func TestRootCmd_InvalidBackend(t *testing.T) {
	cmd := newRootCmd(&bytes.Buffer{})
	cmd.SetArgs([]string{"--backend", "etcd", "--path", "leadership/cmd"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	require.Error(t, cmd.Execute())
}
