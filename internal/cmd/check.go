package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/adamancini/keel/internal/driver"
	"github.com/adamancini/keel/internal/interactive"
	"github.com/adamancini/keel/internal/notify"
	"github.com/adamancini/keel/internal/output"
	"github.com/adamancini/keel/internal/platform"
	"github.com/adamancini/keel/internal/updater"
)

// checkOptions holds the flags of the check command.
type checkOptions struct {
	bundle string
	feed   string
	auto   bool
	yes    bool
}

func newCheckCmd() *cobra.Command {
	var opts checkOptions

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check for an update and install it",
		Long: `Check the application's update feed once.

When a newer release is available you are asked whether to install it, skip
that version, or decide later. Without a terminal the decision defaults to
later unless --yes or --auto is given.

Examples:
  keel check                          # Check the configured application
  keel check --bundle /opt/example    # Check a specific bundle
  keel check --feed https://example.com/appcast.yaml
  keel check --auto                   # Install without asking`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if p := platform.Detect(); !p.IsSupported() {
				return fmt.Errorf("unsupported platform: %s", p)
			}

			e, err := openEnv(cmd, opts.bundle)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			r, err := runCheck(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), e, opts, interactive.IsTerminal())
			if err != nil {
				return err
			}

			w, err := newWriter(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if w.Format() == output.FormatText {
				interactive.NewPrompterWithIO(cmd.InOrStdin(), cmd.OutOrStdout()).Summary(r)
			} else if err := w.Write(r); err != nil {
				return err
			}

			if r.Reason.IsError() {
				if r.Err != nil {
					return fmt.Errorf("update %s: %w", r.Reason, r.Err)
				}
				return fmt.Errorf("update %s", r.Reason)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.bundle, "bundle", "", "Path to the installed application (overrides config)")
	cmd.Flags().StringVar(&opts.feed, "feed", "", "Update feed URL (overrides config and manifest)")
	cmd.Flags().BoolVar(&opts.auto, "auto", false, "Install updates without prompting")
	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "Answer install to the update prompt")

	return cmd
}

// runCheck runs one session to completion. Decision prompts are answered on
// in/out when tty is true, by --yes, or otherwise deferred.
func runCheck(ctx context.Context, in io.Reader, out io.Writer, e *env, opts checkOptions, tty bool) (driver.Result, error) {
	cfg, err := e.driverConfig()
	if err != nil {
		return driver.Result{}, err
	}
	if opts.auto {
		cfg.AutomaticallyInstallUpdates = true
	}

	feed := opts.feed
	if feed == "" {
		feed = e.cfg.FeedURL
	}

	prompter := interactive.NewPrompterWithIO(in, out)
	if opts.yes {
		prompter.ApproveAll()
	}

	u := updater.New(e.host, cfg,
		updater.WithLogger(e.log),
		updater.WithHub(notify.NewHub(e.log)),
	)
	defer u.Close()

	d, err := u.CheckForUpdates(ctx, feed)
	if err != nil {
		return driver.Result{}, err
	}

	for ev := range d.Events() {
		switch ev := ev.(type) {
		case driver.DecisionRequest:
			choice := driver.Later
			if tty || opts.yes {
				choice = decide(ctx, d, prompter, ev.Alert)
			}
			ev.Resolve(choice)
		case driver.FinishedEvent:
			e.log.Debug("session finished", "session", ev.Result.ID, "outcome", ev.Result.Reason)
		}
	}

	// The notification is delivered before Done closes.
	<-d.Done()
	select {
	case r := <-u.Results():
		return r, nil
	default:
	}
	r, _ := d.Result()
	return r, nil
}

// decide asks prompter for a choice but gives up with Later once ctx is
// cancelled or the session ends. The prompt goroutine is left blocked on
// input until it is closed.
func decide(ctx context.Context, d *driver.Driver, prompter *interactive.Prompter, alert driver.Alert) driver.Choice {
	answer := make(chan driver.Choice, 1)
	go func() {
		answer <- prompter.Decide(alert)
	}()

	select {
	case c := <-answer:
		return c
	case <-ctx.Done():
		return driver.Later
	case <-d.Done():
		return driver.Later
	}
}
