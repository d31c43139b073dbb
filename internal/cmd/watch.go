package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/adamancini/keel/internal/driver"
	"github.com/adamancini/keel/internal/interactive"
	"github.com/adamancini/keel/internal/metrics"
	"github.com/adamancini/keel/internal/updater"
)

// watchOptions holds the flags of the watch command.
type watchOptions struct {
	bundle      string
	feed        string
	interval    time.Duration
	metricsAddr string
}

func newWatchCmd() *cobra.Command {
	var opts watchOptions

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Check for updates periodically",
		Long: `Watch runs in the foreground and checks the update feed every interval.

Updates are installed only when automatic installation is enabled in the
config file or the automatically_update preference; otherwise each session
ends with the update declined until someone runs keel check.

Examples:
  keel watch --interval 6h
  keel watch --metrics-addr :9477`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, opts.bundle)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			err = runWatch(ctx, cmd.OutOrStdout(), e, opts)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&opts.bundle, "bundle", "", "Path to the installed application (overrides config)")
	cmd.Flags().StringVar(&opts.feed, "feed", "", "Update feed URL (overrides config and manifest)")
	cmd.Flags().DurationVar(&opts.interval, "interval", 0, "Time between checks (default from check_interval)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address")

	return cmd
}

// runWatch schedules checks until ctx is done.
func runWatch(ctx context.Context, out io.Writer, e *env, opts watchOptions) error {
	cfg, err := e.driverConfig()
	if err != nil {
		return err
	}
	if opts.feed == "" {
		opts.feed = e.cfg.FeedURL
	}
	if opts.interval <= 0 {
		opts.interval = e.cfg.CheckInterval
	}

	collector := metrics.New()
	cfg.Metrics = collector

	if opts.metricsAddr != "" {
		stopMetrics, err := serveMetrics(opts.metricsAddr, collector.Handler(), e)
		if err != nil {
			return err
		}
		defer stopMetrics()
	}

	u := updater.New(e.host, cfg,
		updater.WithLogger(e.log),
		updater.WithFeed(opts.feed),
		updater.WithSessionHook(func(d *driver.Driver) {
			// Nobody is at the terminal; defer every prompt.
			go func() {
				for ev := range d.Events() {
					if req, ok := ev.(driver.DecisionRequest); ok {
						req.Resolve(driver.Later)
					}
				}
			}()
		}),
	)

	summary := interactive.NewPrompterWithIO(strings.NewReader(""), out)
	reported := make(chan struct{})
	go func() {
		defer close(reported)
		for r := range u.Results() {
			summary.Summary(r)
		}
	}()

	runErr := u.Run(ctx, opts.interval)
	u.Close()
	<-reported
	return runErr
}

func serveMetrics(addr string, handler http.Handler, e *env) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.log.Error(err, "metrics server stopped")
		}
	}()
	e.log.Info("serving metrics", "addr", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		<-done
	}, nil
}
