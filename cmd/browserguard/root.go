package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/grafana/browserguard/browserprocess"
	"github.com/grafana/browserguard/cdp"
	"github.com/grafana/browserguard/config"
	"github.com/grafana/browserguard/display"
	"github.com/grafana/browserguard/guard"
	"github.com/grafana/browserguard/log"
	"github.com/grafana/browserguard/metrics"
	"github.com/grafana/browserguard/otel"
	"github.com/grafana/browserguard/storage"
	"github.com/grafana/browserguard/targets"
	"github.com/grafana/browserguard/window"
)

var errDisplayNotReady = errors.New("display server not ready")

type rootOptions struct {
	waitDisplay bool
	monitor     bool
	display     string
	timeout     int
	metricsAddr string
	logLevel    string
}

func newRootCmd(logger *log.Logger) *cobra.Command {
	var opts rootOptions

	cmd := &cobra.Command{
		Use:   "browserguard",
		Short: "Launch a browser and keep its window maximized",
		Long: `browserguard launches Chromium with remote debugging enabled and supervises it.
It keeps at least one tab open, keeps the window of the first tab maximized and
relaunches the browser when its control endpoint stops answering.

The browser and the guard are configured through environment variables such as
CHROME_PATH, CHROME_FLAGS, GUARD_CHECK_INTERVAL and SCREEN_WIDTH.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(logger, opts.logLevel)
			if err != nil {
				return err
			}
			if opts.display != "" {
				cfg.Display = opts.display
			}
			return runRoot(cmd.Context(), cfg, opts, logger)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "",
		"log level: trace, debug, info, warning or error (default from LOG_LEVEL)")

	flags := cmd.Flags()
	flags.BoolVar(&opts.waitDisplay, "wait-display", false, "wait for the X server to be ready")
	flags.BoolVar(&opts.monitor, "monitor", false, "launch and supervise the browser")
	flags.StringVar(&opts.display, "display", "", "X display to use (default from DISPLAY or :99)")
	flags.IntVar(&opts.timeout, "timeout", 60, "seconds to wait for the display")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9464")

	cmd.AddCommand(newResizeCmd(logger, &opts.logLevel))

	return cmd
}

// loadConfig loads the configuration and applies its log settings. A
// non-empty level overrides LOG_LEVEL.
func loadConfig(logger *log.Logger, level string) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if level == "" {
		level = cfg.Log.Level
	}
	if err := logger.SetLevel(level); err != nil {
		return nil, err
	}
	if err := logger.SetCategoryFilter(cfg.Log.CategoryFilter); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runRoot(ctx context.Context, cfg *config.Config, opts rootOptions, logger *log.Logger) error {
	if opts.waitDisplay {
		timeout := time.Duration(opts.timeout) * time.Second
		if !display.NewWaiter(logger).Wait(ctx, cfg.Display, timeout) {
			return fmt.Errorf("%w: %s after %s", errDisplayNotReady, cfg.Display, timeout)
		}
	}
	if !opts.monitor {
		return nil
	}

	return monitor(ctx, cfg, opts.metricsAddr, logger)
}

func monitor(ctx context.Context, cfg *config.Config, metricsAddr string, logger *log.Logger) error {
	runner := browserprocess.NewRunner(logger,
		browserprocess.WithTerminateGrace(cfg.Guard.TerminateGrace),
		browserprocess.WithOutputLog(cfg.Browser.OutputLog),
	)

	var profile storage.Dir
	if err := profile.Make("", cfg.Browser.UserDataDir); err != nil {
		return err
	}
	defer func() {
		if err := profile.Cleanup(); err != nil {
			logger.Warnf("browserguard", "%v", err)
		}
	}()
	if err := storage.EnsureFileDir(cfg.Browser.LogFile); err != nil {
		return err
	}

	tp, err := newTraceProvider(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(sctx); err != nil {
			logger.Warnf("browserguard", "shutting down trace provider: %v", err)
		}
	}()

	width, height := screenSize(ctx, cfg.Screen, runner, logger)
	args := browserprocess.Args(cfg.Browser, profile.Dir, width, height)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	transports := cdp.NewRegistry(logger)
	g := guard.New(
		guard.Options{
			ExecutablePath: cfg.Browser.ExecutablePath,
			Args:           args,
			ControlURL:     cfg.ControlURL(),
			Config:         cfg.Guard,
		},
		runner,
		targets.NewRegistry(cfg.ControlURL(), cfg.Guard.HTTPTimeout, logger),
		window.NewController(transports, cfg.Guard.CommandTimeout, logger),
		transports,
		metrics.Register(reg),
		logger,
	)

	eg, ctx := errgroup.WithContext(ctx)
	mctx, stopMetrics := context.WithCancel(ctx)
	defer stopMetrics()

	if metricsAddr != "" {
		l, err := metrics.Listen(metricsAddr)
		if err != nil {
			return err
		}
		eg.Go(func() error {
			return metrics.Serve(mctx, l, reg, logger)
		})
	}
	eg.Go(func() error {
		defer stopMetrics()
		return g.Run(ctx)
	})

	return eg.Wait()
}

func newTraceProvider(ctx context.Context, tc config.TracingConfig) (otel.TraceProvider, error) {
	if !tc.Enabled() {
		return otel.NewNoopTraceProvider(), nil
	}
	tp, err := otel.NewTraceProvider(ctx, tc.Proto, tc.Endpoint, tc.Insecure)
	if err != nil {
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}
	return tp, nil
}

// screenSize returns the configured screen size, else the one xrandr
// reports, else the default.
func screenSize(ctx context.Context, sc config.ScreenConfig, runner browserprocess.CommandRunner, logger *log.Logger) (int, int) {
	if w, h, ok := sc.ScreenSize(); ok {
		return w, h
	}
	w, h, err := browserprocess.ScreenSize(ctx, runner)
	if err == nil {
		logger.Infof("browserguard", "detected screen size %dx%d", w, h)
		return w, h
	}
	logger.Warnf("browserguard", "%v, using %dx%d", err, config.DefaultScreenWidth, config.DefaultScreenHeight)

	return config.DefaultScreenWidth, config.DefaultScreenHeight
}
