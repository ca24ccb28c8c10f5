// Command leadership-agent competes for a leadership key and serves the
// election status over HTTP.
//
// Usage:
//
//	leadership-agent --config leadership.yaml --backend consul --consul-addr consul:8500
//
// Endpoints:
//
//	GET /leadership  cached status as JSON
//	GET /metrics     Prometheus metrics
//	GET /healthz     liveness
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/arloliu/leadership"
	"github.com/arloliu/leadership/internal/logging"
	"github.com/arloliu/leadership/internal/metrics"
)

const shutdownTimeout = 5 * time.Second

// agentFlags holds the command line flags.
type agentFlags struct {
	configPath string
	path       string
	instance   string
	listen     string
	logLevel   string
	logFormat  string
	backend    backendFlags
}

func main() {
	if err := newRootCmd(os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(logOutput io.Writer) *cobra.Command {
	var flags agentFlags

	cmd := &cobra.Command{
		Use:          "leadership-agent",
		Short:        "Compete for a leadership key and expose the election status",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, flags, logOutput)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.configPath, "config", "", "Path to the YAML configuration file")
	f.StringVar(&flags.path, "path", "", "Leadership key, overrides the configuration file")
	f.StringVar(&flags.instance, "instance", "", "Instance name, overrides the configuration file")
	f.StringVar(&flags.listen, "listen", ":8080", "Address serving /leadership, /metrics and /healthz")
	f.StringVar(&flags.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	f.StringVar(&flags.logFormat, "log-format", "text", "Log format: text or json")

	f.StringVar(&flags.backend.kind, "backend", backendConsul, "Lock service: consul, nats, redis or memory")
	f.StringVar(&flags.backend.consulAddr, "consul-addr", "", "Consul agent address (default CONSUL_HTTP_ADDR or 127.0.0.1:8500)")
	f.StringVar(&flags.backend.consulDC, "consul-datacenter", "", "Consul datacenter")
	f.StringVar(&flags.backend.natsURL, "nats-url", "nats://127.0.0.1:4222", "NATS server URL")
	f.StringVar(&flags.backend.natsBucket, "nats-bucket", "", "Prefix of the NATS KV buckets")
	f.StringSliceVar(&flags.backend.redisAddrs, "redis-addr", []string{"127.0.0.1:6379"}, "Redis addresses")
	f.StringVar(&flags.backend.redisMaster, "redis-master", "", "Redis sentinel master name")
	f.StringVar(&flags.backend.redisPassword, "redis-password", "", "Redis password")
	f.IntVar(&flags.backend.redisDB, "redis-db", 0, "Redis database")
	f.StringVar(&flags.backend.redisPrefix, "redis-prefix", "", "Prefix of the Redis keys")

	return cmd
}

func loadConfig(flags agentFlags) (*leadership.Config, error) {
	cfg := leadership.DefaultConfig()
	if flags.configPath != "" {
		loaded, err := leadership.LoadConfig(flags.configPath)
		if err != nil {
			return nil, err
		}
		cfg = *loaded
	}

	if flags.path != "" {
		cfg.Path = flags.path
	}
	if flags.instance != "" {
		cfg.Identity.InstanceName = flags.instance
	}
	leadership.SetDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func run(ctx context.Context, flags agentFlags, logOutput io.Writer) error {
	logger := logging.NewSlogWriter(logOutput, flags.logFormat, flags.logLevel)

	cfg, err := loadConfig(flags)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	svc, closeSvc, err := newLockService(ctx, flags.backend, cfg)
	if err != nil {
		return fmt.Errorf("failed to create %s lock service: %w", flags.backend.kind, err)
	}
	defer closeSvc()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	election, err := leadership.NewElection(cfg, svc,
		leadership.WithLogger(logger.With("key", cfg.Path, "instance", cfg.Identity.InstanceName)),
		leadership.WithMetrics(metrics.NewPrometheus(reg, "leadership")),
		leadership.WithListener(leadership.Listener{
			OnLeadershipChanged: func(isLeader bool) {
				logger.Info("leadership changed", "isLeader", isLeader)
			},
		}),
	)
	if err != nil {
		return err
	}

	lis, err := net.Listen("tcp", flags.listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", flags.listen, err)
	}
	srv := &http.Server{
		Handler:           newMux(election, reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grp, ctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		logger.Info("serving status", "addr", lis.Addr().String(), "backend", flags.backend.kind)
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("status server failed: %w", err)
		}

		return nil
	})
	grp.Go(func() error {
		election.Start()
		<-ctx.Done()

		logger.Info("shutting down")
		election.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	return grp.Wait()
}

func newMux(election *leadership.Election, gatherer prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/leadership", election.StatusHandler())
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	})

	return mux
}
