package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"krist-payout/internal/config"
	"krist-payout/internal/krist"
	"krist-payout/internal/logging"
	"krist-payout/internal/observability"
	"krist-payout/internal/payout"
	"krist-payout/internal/roster"
	"krist-payout/internal/roster/memory"
	"krist-payout/internal/roster/postgres"
)

func newRunCmd(v *viper.Viper, load func() (config.Config, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the node and pay out incoming payments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return withExitCode(exitConfig, err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runService(ctx, cfg, logging.New(cfg.Logging), prometheus.DefaultRegisterer)
		},
	}

	flags := cmd.Flags()
	flags.String("node-url", krist.DefaultNodeURL, "Krist node HTTP endpoint")
	flags.String("service-name", "", "name.kst that incoming payments must be sent to")
	flags.StringSlice("exclude", nil, "addresses or names that never receive a share")
	flags.Int("max-concurrency", payout.DefaultMaxConcurrency, "maximum share payments in flight")
	flags.String("metrics-addr", "", "Prometheus metrics HTTP address, empty to disable")
	bindFlags(v, flags, map[string]string{
		"node_url":        "node-url",
		"service_name":    "service-name",
		"exclude":         "exclude",
		"max_concurrency": "max-concurrency",
		"metrics_addr":    "metrics-addr",
	})

	return cmd
}

// runService connects to the node and handles payments until ctx is done
// or the node closes the connection.
func runService(ctx context.Context, cfg config.Config, logger *slog.Logger, reg prometheus.Registerer) error {
	metrics := observability.NewMetrics("", reg)

	src, closeRoster, err := openRoster(ctx, cfg.Roster, logger)
	if err != nil {
		return withExitCode(exitRoster, err)
	}
	defer closeRoster()

	if cfg.MetricsAddr != "" {
		srv := startHTTPServer(cfg.MetricsAddr, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	clientCfg := krist.DefaultClientConfig()
	clientCfg.HelloTimeout = cfg.HelloTimeout
	clientCfg.CallTimeout = cfg.CallTimeout

	client := krist.NewClient(cfg.NodeURL, &clientCfg,
		krist.WithLogger(logger.With("component", "krist")),
		krist.WithMetrics(metrics),
	)
	defer client.Close()

	workflow := payout.NewWorkflow(payout.Config{
		ServiceName:    cfg.ServiceName,
		Exclude:        cfg.Exclude,
		MaxConcurrency: cfg.MaxConcurrency,
	}, client, client, src,
		payout.WithLogger(logger.With("component", "payout")),
		payout.WithMetrics(metrics),
	)
	if err := workflow.Register(client); err != nil {
		return err
	}

	expected := krist.MakeV2Address(cfg.PrivateKey, krist.DefaultAddressPrefix)
	logger.Info("connecting", "node", cfg.NodeURL, "address", expected, "name", cfg.ServiceName)

	if err := client.Connect(ctx, cfg.PrivateKey); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, krist.ErrTimeout) {
			return withExitCode(exitHelloTimeout, err)
		}
		return withExitCode(exitHandshake, err)
	}

	if self, ok := client.Address(); ok && self.Address != expected {
		logger.Warn("node reports a different address than the private key derives",
			"reported", self.Address, "derived", expected)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		return nil
	case <-client.Done():
		err := client.Err()
		logger.Error("connection to node lost", "error", err)
		return withExitCode(exitDisconnected, err)
	}
}

// openRoster returns the participant source selected by cfg and a func
// releasing it.
func openRoster(ctx context.Context, cfg config.RosterConfig, logger *slog.Logger) (roster.Source, func(), error) {
	if cfg.PostgresDSN != "" {
		pool, err := openPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using postgres roster")
		return postgres.NewStore(pool), pool.Close, nil
	}

	store := memory.NewStore()
	for _, entry := range cfg.Static {
		address, name := config.StaticParticipant(entry)
		if err := store.Join(roster.Participant{Address: address, Name: name}); err != nil {
			return nil, nil, fmt.Errorf("static roster entry %q: %w", entry, err)
		}
	}
	if len(cfg.Static) == 0 {
		logger.Warn("static roster is empty, every payment will be refunded")
	}
	return store, func() {}, nil
}

// openPostgres connects to dsn and applies the roster schema.
func openPostgres(ctx context.Context, dsn string) (*postgres.Pool, error) {
	pool, err := postgres.NewPool(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := postgres.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// startHTTPServer serves /health and /metrics in the background.
func startHTTPServer(addr string, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", observability.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting HTTP server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	return srv
}
