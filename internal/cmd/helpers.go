package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/adamancini/keel/internal/config"
	"github.com/adamancini/keel/internal/download"
	"github.com/adamancini/keel/internal/driver"
	"github.com/adamancini/keel/internal/host"
	"github.com/adamancini/keel/internal/install"
	"github.com/adamancini/keel/internal/log"
	"github.com/adamancini/keel/internal/output"
	"github.com/adamancini/keel/internal/prefs"
)

// env is everything a command needs to act on one installed application.
type env struct {
	cfg   *config.Config
	log   log.Logger
	store prefs.Store
	host  *host.Host
}

func (e *env) Close() error {
	if e.store == nil {
		return nil
	}
	return e.store.Close()
}

// loadConfig reads the configuration, letting explicitly set log flags win
// over the file and environment.
func loadConfig(flags *pflag.FlagSet) (*config.Config, error) {
	v := config.New()
	flags.VisitAll(func(f *pflag.Flag) {
		if strings.HasPrefix(f.Name, "log.") && f.Changed {
			_ = v.BindPFlag(f.Name, f)
		}
	})

	cfg, err := config.Load(v, configPath)
	if err != nil {
		return nil, err
	}

	switch {
	case quiet:
		cfg.Log.Level = "error"
	case verbose:
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// openEnv loads configuration, initializes logging, and opens the host
// named by bundle (or the configured bundle when empty).
func openEnv(cmd *cobra.Command, bundle string) (*env, error) {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := log.Init(cfg.Log); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger := log.Std()

	if bundle != "" {
		cfg.Bundle = bundle
	}
	if cfg.Bundle == "" {
		return nil, errors.New("no application bundle configured (use --bundle or set bundle in the config file)")
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	opts := []host.Option{
		host.WithPreferences(store),
		host.WithLogger(logger),
	}
	if cfg.Manifest != "" {
		opts = append(opts,
			host.WithExternalManifest(cfg.Manifest),
			host.WithDelegate(host.DelegateFunc(func(string) bool { return false })),
		)
	}

	h, err := host.New(cfg.Bundle, opts...)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &env{cfg: cfg, log: logger, store: store, host: h}, nil
}

func openStore(cfg *config.Config, logger log.Logger) (prefs.Store, error) {
	if cfg.Prefs.Path == "" {
		logger.Debug("using in-memory preference store")
		return prefs.NewMemory(), nil
	}
	return prefs.OpenBadger(prefs.BadgerConfig{Path: cfg.Prefs.Path, Logger: logger})
}

// driverConfig is the session template shared by check and watch.
func (e *env) driverConfig() (driver.Config, error) {
	dlOpts := []download.Option{download.WithLogger(e.log)}
	if e.cfg.S3.Endpoint != "" {
		s3, err := download.NewS3Transport(e.cfg.S3)
		if err != nil {
			return driver.Config{}, err
		}
		dlOpts = append(dlOpts, download.WithTransport("s3", s3))
	}

	if e.cfg.Install.Target == "" {
		return driver.Config{}, install.ErrNoTarget
	}

	return driver.Config{
		NewFetcher: func() driver.Fetcher { return download.New(dlOpts...) },
		Installer: &install.FileInstaller{
			Target:     e.cfg.Install.Target,
			VerifyArgs: e.cfg.Install.VerifyArgs,
			Logger:     e.log,
		},
		Logger:                      e.log,
		AutomaticallyInstallUpdates: e.cfg.AutomaticInstall,
	}, nil
}

func newWriter(w io.Writer) (*output.Writer, error) {
	format, err := output.ParseFormat(outputFormat)
	if err != nil {
		return nil, err
	}
	return output.NewWriter(w, format), nil
}
