package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dreamware/ktboard/internal/api"
	"github.com/dreamware/ktboard/internal/config"
	"github.com/dreamware/ktboard/internal/registry"
	"github.com/dreamware/ktboard/internal/telemetry"
)

const shutdownTimeout = 5 * time.Second

type rootOptions struct {
	configPath string
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := newRootCmd(logger).Execute(); err != nil {
		logger.Fatal("command failed", zap.Error(err))
	}
}

func newRootCmd(logger *zap.Logger) *cobra.Command {
	var opts rootOptions

	serve := newServeCmd(logger, &opts)
	root := &cobra.Command{
		Use:           "ktboard",
		Short:         "Fleet dashboard that tracks client heartbeats",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a config file (default ./config.json if present)")
	config.BindFlags(root.PersistentFlags())

	root.AddCommand(serve, newPrintConfigCmd(logger, &opts))
	return root
}

func newServeCmd(logger *zap.Logger, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the dashboard server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewLoader(logger).Load(opts.configPath, cmd.Flags())
			if err != nil {
				return err
			}

			ctx, cancel := signalAwareContext(cmd.Context())
			defer cancel()

			ln, err := net.Listen("tcp", cfg.Addr())
			if err != nil {
				return fmt.Errorf("listen %s: %w", cfg.Addr(), err)
			}
			return serve(ctx, ln, cfg, logger)
		},
	}
}

func newPrintConfigCmd(logger *zap.Logger, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "print-config",
		Short: "Print the resolved configuration as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewLoader(logger).Load(opts.configPath, cmd.Flags())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				config.KeySiteName:        cfg.SiteName,
				config.KeyHost:            cfg.Host,
				config.KeyPort:            cfg.Port,
				config.KeyKeyPath:         cfg.KeyPath,
				config.KeyMonitorInterval: cfg.MonitorInterval.String(),
				config.KeyMetrics:         cfg.Metrics,
			})
		},
	}
}

// serve runs the board on ln until ctx is cancelled, then shuts the HTTP
// server down gracefully.
func serve(ctx context.Context, ln net.Listener, cfg config.Config, logger *zap.Logger) error {
	reg := registry.New(
		registry.WithSiteName(cfg.SiteName),
		registry.WithLogger(logger),
	)

	opts := api.Options{KeyPath: cfg.KeyPath, Logger: logger}
	monitorOpts := []registry.MonitorOption{registry.WithMonitorLogger(logger)}
	if cfg.Metrics {
		promReg := prometheus.NewRegistry()
		promReg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics := telemetry.NewPrometheusMetrics(promReg)
		opts.Metrics = metrics
		opts.Gatherer = promReg
		monitorOpts = append(monitorOpts, registry.WithObserver(metrics))
	}

	monitor := registry.NewMonitor(reg, cfg.MonitorInterval, monitorOpts...)
	go monitor.Start(ctx)
	defer monitor.Stop()

	httpSrv := &http.Server{
		Handler:           api.NewServer(reg, opts).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("board listening",
			zap.String("addr", ln.Addr().String()),
			zap.String("site", cfg.SiteName),
			zap.Bool("metrics", cfg.Metrics),
		)
		errCh <- httpSrv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("board stopped")
	return nil
}

func signalAwareContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(signals)
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
