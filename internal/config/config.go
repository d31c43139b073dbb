// Package config loads keel's command-line configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/adamancini/keel/internal/appcast"
	"github.com/adamancini/keel/internal/download"
	"github.com/adamancini/keel/internal/log"
)

// EnvPrefix prefixes environment overrides: KEEL_FEED_URL, KEEL_S3_ENDPOINT, ...
const EnvPrefix = "KEEL"

// ErrNotFound is returned by Find when no configuration file exists.
var ErrNotFound = errors.New("no configuration file found")

// Config is the resolved configuration.
type Config struct {
	// Bundle is the installed application directory.
	Bundle string `mapstructure:"bundle" json:"bundle" yaml:"bundle"`

	// Manifest, when set, is read instead of the bundle's own manifest.
	Manifest string `mapstructure:"manifest" json:"manifest,omitempty" yaml:"manifest,omitempty"`

	// FeedURL overrides the host's feed_url.
	FeedURL string `mapstructure:"feed_url" json:"feed_url,omitempty" yaml:"feed_url,omitempty"`

	AutomaticInstall bool          `mapstructure:"automatic_install" json:"automatic_install" yaml:"automatic_install"`
	CheckInterval    time.Duration `mapstructure:"check_interval" json:"check_interval" yaml:"check_interval"`

	Prefs   PrefsConfig       `mapstructure:"prefs" json:"prefs" yaml:"prefs"`
	S3      download.S3Config `mapstructure:"s3" json:"-" yaml:"-"`
	Install InstallConfig     `mapstructure:"install" json:"install" yaml:"install"`
	Log     *log.Options      `mapstructure:"log" json:"log" yaml:"log"`

	// File is the configuration file that was read, if any.
	File string `mapstructure:"-" json:"file,omitempty" yaml:"file,omitempty"`
}

// PrefsConfig locates the preference store.
type PrefsConfig struct {
	// Path is the badger directory. Empty keeps preferences in memory.
	Path string `mapstructure:"path" json:"path,omitempty" yaml:"path,omitempty"`
}

// InstallConfig configures the file installer.
type InstallConfig struct {
	Target     string   `mapstructure:"target" json:"target,omitempty" yaml:"target,omitempty"`
	VerifyArgs []string `mapstructure:"verify_args" json:"verify_args,omitempty" yaml:"verify_args,omitempty"`
}

// DefaultCheckInterval is the scheduled check period.
const DefaultCheckInterval = 24 * time.Hour

// New returns a viper instance with keel's defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()

	logOpts := log.NewOptions()
	v.SetDefault("bundle", "")
	v.SetDefault("manifest", "")
	v.SetDefault("feed_url", "")
	v.SetDefault("automatic_install", false)
	v.SetDefault("check_interval", DefaultCheckInterval)
	v.SetDefault("prefs.path", "")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.access_key", "")
	v.SetDefault("s3.secret_key", "")
	v.SetDefault("s3.region", "")
	v.SetDefault("s3.secure", true)
	v.SetDefault("install.target", "")
	v.SetDefault("install.verify_args", []string{})
	v.SetDefault("log.level", logOpts.Level)
	v.SetDefault("log.format", logOpts.Format)
	v.SetDefault("log.enable-color", logOpts.EnableColor)
	v.SetDefault("log.disable-caller", logOpts.DisableCaller)
	v.SetDefault("log.output-paths", logOpts.OutputPaths)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Find searches for a configuration file in the standard locations.
// Returns ErrNotFound if none exists.
func Find(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("specified config file not found: %s", explicitPath)
		}
		return explicitPath, nil
	}

	if envPath := os.Getenv(EnvPrefix + "_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath, nil
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}

	xdgConfig := os.Getenv("XDG_CONFIG_HOME")
	if xdgConfig == "" {
		xdgConfig = filepath.Join(home, ".config")
	}
	searchPaths := []string{
		filepath.Join(xdgConfig, "keel"),
		filepath.Join(home, ".keel"),
	}

	fileNames := []string{
		"keel.yaml",
		"keel.yml",
		"keel.toml",
		"keel.json",
		"config.yaml",
		"config.yml",
		"config.toml",
		"config.json",
	}

	for _, dir := range searchPaths {
		for _, name := range fileNames {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}
	}

	return "", ErrNotFound
}

// Load reads the configuration into v. A missing file is not an error when
// explicitPath is empty; defaults and environment still apply.
func Load(v *viper.Viper, explicitPath string) (*Config, error) {
	path, err := Find(explicitPath)
	switch {
	case errors.Is(err, ErrNotFound):
		path = ""
	case err != nil:
		return nil, err
	}

	if path != "" {
		if err := readFile(v, path); err != nil {
			return nil, err
		}
	}

	cfg := &Config{Log: log.NewOptions()}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	cfg.File = path

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readFile(v *viper.Viper, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	format := appcast.DetectFormat(path, content)
	if format == appcast.FormatUnknown {
		return fmt.Errorf("unable to detect file format for %s", path)
	}
	v.SetConfigType(format.String())

	if err := v.ReadConfig(bytes.NewReader(expandEnvVars(content))); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns in content.
func expandEnvVars(content []byte) []byte {
	return envVarPattern.ReplaceAllFunc(content, func(match []byte) []byte {
		parts := envVarPattern.FindSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		value := os.Getenv(string(parts[1]))
		if value == "" && len(parts) >= 3 && len(parts[2]) > 0 {
			value = string(parts[2])
		}
		return []byte(value)
	})
}
