package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dreamware/ktboard/internal/agent"
	"github.com/dreamware/ktboard/internal/config"
)

type reporterOptions struct {
	server   string
	keyPath  string
	group    string
	name     string
	period   time.Duration
	sample   time.Duration
	seed     uint64
	count    int
	simulate bool
	clear    bool
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := newRootCmd(logger).Execute(); err != nil {
		logger.Fatal("reporter failed", zap.Error(err))
	}
}

func newRootCmd(logger *zap.Logger) *cobra.Command {
	host, _ := os.Hostname()
	opts := reporterOptions{
		server:  fmt.Sprintf("http://%s:%d", config.DefaultHost, config.DefaultPort),
		keyPath: config.DefaultKeyPath,
		group:   "default",
		name:    host,
		period:  agent.DefaultPeriod,
		count:   1,
		seed:    uint64(time.Now().UnixNano()),
	}

	cmd := &cobra.Command{
		Use:           "reporter",
		Short:         "Register with a KT board and send heartbeats",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalAwareContext(cmd.Context())
			defer cancel()
			return run(ctx, opts, logger)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.server, "server", opts.server, "board base URL")
	flags.StringVar(&opts.keyPath, "key-path", opts.keyPath, "board secret key path")
	flags.StringVar(&opts.group, "group", opts.group, "client group")
	flags.StringVar(&opts.name, "name", opts.name, "client name; suffixed with -N when --count > 1")
	flags.DurationVar(&opts.period, "period", opts.period, "heartbeat period")
	flags.DurationVar(&opts.sample, "sample", 0, "CPU sampling window (0 measures since the previous heartbeat)")
	flags.BoolVar(&opts.simulate, "simulate", false, "send random metrics instead of reading this host")
	flags.IntVar(&opts.count, "count", opts.count, "number of simulated clients to run")
	flags.Uint64Var(&opts.seed, "seed", opts.seed, "random seed for --simulate")
	flags.BoolVar(&opts.clear, "clear", false, "clear the board before registering")

	return cmd
}

func run(ctx context.Context, opts reporterOptions, logger *zap.Logger) error {
	if opts.count < 1 {
		return errors.New("--count must be at least 1")
	}
	if opts.count > 1 && !opts.simulate {
		return errors.New("--count needs --simulate")
	}

	if opts.clear {
		if err := agent.Clear(ctx, opts.server, opts.keyPath); err != nil {
			return fmt.Errorf("clear board: %w", err)
		}
		logger.Info("board cleared", zap.String("server", opts.server))
	}

	reporters := make([]*agent.Reporter, 0, opts.count)
	for i := 0; i < opts.count; i++ {
		name := opts.name
		if opts.count > 1 {
			name = fmt.Sprintf("%s-%d", opts.name, i+1)
		}

		var collector agent.Collector = agent.NewSystemCollector(opts.sample)
		if opts.simulate {
			collector = agent.NewSimulatedCollector(opts.seed + uint64(i))
		}

		r, err := agent.New(agent.Options{
			Server:    opts.server,
			KeyPath:   opts.keyPath,
			Group:     opts.group,
			Name:      name,
			Period:    opts.period,
			Collector: collector,
			Logger:    logger,
		})
		if err != nil {
			return err
		}
		reporters = append(reporters, r)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for _, r := range reporters {
		wg.Add(1)
		go func(r *agent.Reporter) {
			defer wg.Done()
			if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(r)
	}
	wg.Wait()
	return firstErr
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
