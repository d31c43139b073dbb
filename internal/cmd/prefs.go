package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newPrefsCmd() *cobra.Command {
	var bundle string

	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Read and change stored update preferences",
		Long: `Preferences override values from the application's manifest.

Examples:
  keel prefs list
  keel prefs get skipped_version
  keel prefs set automatically_update true
  keel prefs unset skipped_version`,
	}
	cmd.PersistentFlags().StringVar(&bundle, "bundle", "", "Path to the installed application (overrides config)")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all stored preferences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, bundle)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()
			return runPrefsList(cmd.OutOrStdout(), e)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get KEY",
		Short: "Print a preference, falling back to the manifest value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, bundle)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()
			return runPrefsGet(cmd.OutOrStdout(), e, args[0])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Store a preference",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, bundle)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()
			return runPrefsSet(e, args[0], args[1])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "unset KEY",
		Short: "Remove a stored preference",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, bundle)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()
			return e.host.SetPreferenceValue(args[0], nil)
		},
	})

	return cmd
}

// prefList renders stored preferences as a table.
type prefList map[string]any

func (p prefList) Header() []any { return []any{"KEY", "VALUE"} }

func (p prefList) Rows() [][]any {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([][]any, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []any{k, cast.ToString(p[k])})
	}
	return rows
}

func runPrefsList(out io.Writer, e *env) error {
	prefs, err := e.host.Preferences()
	if err != nil {
		return err
	}
	w, err := newWriter(out)
	if err != nil {
		return err
	}
	return w.Write(prefList(prefs))
}

func runPrefsGet(out io.Writer, e *env, key string) error {
	v, ok := e.host.Value(key)
	if !ok {
		return fmt.Errorf("preference %q is not set", key)
	}
	w, err := newWriter(out)
	if err != nil {
		return err
	}
	return w.Write(prefValue{Key: key, Value: v})
}

// prefValue is a single preference as printed by get.
type prefValue struct {
	Key   string `json:"key" yaml:"key"`
	Value any    `json:"value" yaml:"value"`
}

func (p prefValue) String() string { return cast.ToString(p.Value) }

func runPrefsSet(e *env, key, raw string) error {
	return e.host.SetPreferenceValue(key, parseValue(raw))
}

// parseValue reads raw as a YAML scalar so booleans and numbers keep their
// type; anything else is stored as the literal string.
func parseValue(raw string) any {
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	switch v := v.(type) {
	case bool, int, float64:
		return v
	}
	return strings.TrimSpace(raw)
}
