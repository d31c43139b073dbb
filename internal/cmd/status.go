package cmd

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/cobra"

	"github.com/adamancini/keel/internal/host"
	"github.com/adamancini/keel/internal/platform"
)

// statusView is what status reports about an installed application.
type statusView struct {
	Identifier     string         `json:"identifier" yaml:"identifier"`
	Name           string         `json:"name" yaml:"name"`
	Version        string         `json:"version" yaml:"version"`
	DisplayVersion string         `json:"display_version" yaml:"display_version"`
	Path           string         `json:"path" yaml:"path"`
	ReadOnly       bool           `json:"read_only" yaml:"read_only"`
	TrustKey       string         `json:"trust_key" yaml:"trust_key"`
	FeedURL        string         `json:"feed_url,omitempty" yaml:"feed_url,omitempty"`
	Platform       string         `json:"platform" yaml:"platform"`
	AutoUpdate     bool           `json:"automatically_update" yaml:"automatically_update"`
	LastCheck      *time.Time     `json:"last_check_time,omitempty" yaml:"last_check_time,omitempty"`
	Preferences    map[string]any `json:"preferences,omitempty" yaml:"preferences,omitempty"`
}

func (s statusView) Header() []any { return []any{"FIELD", "VALUE"} }

func (s statusView) Rows() [][]any {
	lastCheck := "never"
	if s.LastCheck != nil {
		lastCheck = s.LastCheck.Local().Format(time.RFC3339)
	}
	feed := s.FeedURL
	if feed == "" {
		feed = "-"
	}

	rows := [][]any{
		{"Identifier", s.Identifier},
		{"Name", s.Name},
		{"Version", fmt.Sprintf("%s (%s)", s.DisplayVersion, s.Version)},
		{"Path", s.Path},
		{"Read-only", s.ReadOnly},
		{"Trust key", s.TrustKey},
		{"Feed", feed},
		{"Platform", s.Platform},
		{"Auto update", s.AutoUpdate},
		{"Last check", lastCheck},
	}

	keys := make([]string, 0, len(s.Preferences))
	for k := range s.Preferences {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		rows = append(rows, []any{"pref " + k, cast.ToString(s.Preferences[k])})
	}
	return rows
}

func newStatusCmd() *cobra.Command {
	var bundle string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the installed application and its update settings",
		Long:  `Status shows the application's identity, version, trust key and stored preferences.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, bundle)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			return runStatus(cmd.OutOrStdout(), e)
		},
	}

	cmd.Flags().StringVar(&bundle, "bundle", "", "Path to the installed application (overrides config)")
	return cmd
}

func runStatus(out io.Writer, e *env) error {
	view, err := buildStatus(e)
	if err != nil {
		return err
	}
	w, err := newWriter(out)
	if err != nil {
		return err
	}
	return w.Write(view)
}

func buildStatus(e *env) (statusView, error) {
	h := e.host

	view := statusView{
		Identifier:     h.Identifier(),
		Name:           h.Name(),
		Version:        h.Version(),
		DisplayVersion: h.DisplayVersion(),
		Path:           h.Path(),
		ReadOnly:       h.ReadOnlyVolume(),
		TrustKey:       "none",
		Platform:       platform.Detect().String(),
		AutoUpdate:     h.Bool(host.KeyAutomaticallyUpdate),
	}

	if key, ok := h.PublicKey(); ok {
		sum := sha256.Sum256(key)
		view.TrustKey = "ed25519 " + hex.EncodeToString(sum[:8])
	}

	view.FeedURL = e.cfg.FeedURL
	if view.FeedURL == "" {
		if v, ok := h.InfoValue(host.KeyFeedURL); ok {
			view.FeedURL = cast.ToString(v)
		}
	}

	if v, ok := h.PreferenceValue(host.KeyLastCheckTime); ok {
		if t, err := cast.ToTimeE(v); err == nil {
			view.LastCheck = &t
		}
	}

	prefs, err := h.Preferences()
	if err != nil {
		return statusView{}, fmt.Errorf("failed to list preferences: %w", err)
	}
	if len(prefs) > 0 {
		view.Preferences = prefs
	}
	return view, nil
}
