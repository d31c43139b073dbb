package cmd

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/adamancini/keel/internal/config"
	"github.com/adamancini/keel/internal/driver"
	"github.com/adamancini/keel/internal/host"
	"github.com/adamancini/keel/internal/install"
	"github.com/adamancini/keel/internal/log"
	"github.com/adamancini/keel/internal/prefs"
)

func fileURL(path string) string {
	return (&url.URL{Scheme: "file", Path: path}).String()
}

// testApp is an installed application with a signed release in its feed.
type testApp struct {
	root    string
	bundle  string
	target  string
	payload []byte
}

func newTestApp(t *testing.T, feedVersion string) testApp {
	t.Helper()
	root := t.TempDir()

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	payload := []byte("#!/bin/sh\necho " + feedVersion + "\n")
	artifact := filepath.Join(root, "example-"+feedVersion)
	if err := os.WriteFile(artifact, payload, 0644); err != nil {
		t.Fatal(err)
	}

	feed := filepath.Join(root, "appcast.yaml")
	content := fmt.Sprintf("items:\n  - version: %s\n    url: %s\n    signature: %s\n    release_notes: Bug fixes.\n",
		feedVersion, fileURL(artifact), base64.StdEncoding.EncodeToString(ed25519.Sign(priv, payload)))
	if err := os.WriteFile(feed, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	bundle := filepath.Join(root, "Example.app")
	if err := os.MkdirAll(bundle, 0755); err != nil {
		t.Fatal(err)
	}
	manifest := fmt.Sprintf("identifier: com.example\nname: Example\nversion: 1.0.0\npublic_key: %s\nfeed_url: %s\n",
		base64.StdEncoding.EncodeToString(pub), fileURL(feed))
	if err := os.WriteFile(filepath.Join(bundle, "Info.yaml"), []byte(manifest), 0644); err != nil {
		t.Fatal(err)
	}

	target := filepath.Join(root, "bin", "example")
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(target, []byte("old"), 0755); err != nil {
		t.Fatal(err)
	}

	return testApp{root: root, bundle: bundle, target: target, payload: payload}
}

func (a testApp) env(t *testing.T) *env {
	t.Helper()
	store := prefs.NewMemory()
	h, err := host.New(a.bundle, host.WithPreferences(store))
	if err != nil {
		t.Fatalf("host.New: %v", err)
	}
	return &env{
		cfg: &config.Config{
			Bundle:  a.bundle,
			Install: config.InstallConfig{Target: a.target},
			Log:     log.NewOptions(),
		},
		log:   log.NewNopLogger(),
		store: store,
		host:  h,
	}
}

func (a testApp) installed(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(a.target)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func setOutput(t *testing.T, format string) {
	t.Helper()
	prev := outputFormat
	outputFormat = format
	t.Cleanup(func() { outputFormat = prev })
}

func TestRunCheck(t *testing.T) {
	tests := []struct {
		name        string
		feedVersion string
		opts        checkOptions
		tty         bool
		input       string
		want        driver.AbortReason
		wantPayload bool
	}{
		{name: "auto installs", feedVersion: "1.1.0", opts: checkOptions{auto: true}, want: driver.None, wantPayload: true},
		{name: "yes installs without a terminal", feedVersion: "1.1.0", opts: checkOptions{yes: true}, want: driver.None, wantPayload: true},
		{name: "no terminal defers", feedVersion: "1.1.0", want: driver.UserDeclined},
		{name: "terminal install", feedVersion: "1.1.0", tty: true, input: "i\n", want: driver.None, wantPayload: true},
		{name: "terminal skip", feedVersion: "1.1.0", tty: true, input: "s\n", want: driver.UpdateSkipped},
		{name: "terminal later", feedVersion: "1.1.0", tty: true, input: "l\n", want: driver.UserDeclined},
		{name: "up to date", feedVersion: "1.0.0", opts: checkOptions{auto: true}, want: driver.NoUpdateFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp(t, tt.feedVersion)
			e := app.env(t)
			var out bytes.Buffer

			r, err := runCheck(context.Background(), strings.NewReader(tt.input), &out, e, tt.opts, tt.tty)
			if err != nil {
				t.Fatalf("runCheck() error = %v", err)
			}
			if r.Reason != tt.want {
				t.Fatalf("Reason = %s (err %v), want %s", r.Reason, r.Err, tt.want)
			}

			got := app.installed(t)
			if tt.wantPayload && got != string(app.payload) {
				t.Errorf("target = %q, want new payload", got)
			}
			if !tt.wantPayload && got != "old" {
				t.Errorf("target = %q, want unchanged", got)
			}
			if tt.tty && !strings.Contains(out.String(), "A new version of Example is available") {
				t.Errorf("prompt not shown:\n%s", out.String())
			}
		})
	}
}

func TestRunCheckSkipRecordsVersion(t *testing.T) {
	app := newTestApp(t, "1.2.0")
	e := app.env(t)

	r, err := runCheck(context.Background(), strings.NewReader("s\n"), &bytes.Buffer{}, e, checkOptions{}, true)
	if err != nil || r.Reason != driver.UpdateSkipped {
		t.Fatalf("runCheck() = %s, %v", r.Reason, err)
	}
	if v, _ := e.host.PreferenceValue(host.KeySkippedVersion); v != "1.2.0" {
		t.Errorf("skipped_version = %v, want 1.2.0", v)
	}

	// The skipped version is not offered again.
	r, err = runCheck(context.Background(), strings.NewReader(""), &bytes.Buffer{}, e, checkOptions{auto: true}, false)
	if err != nil || r.Reason != driver.NoUpdateFound {
		t.Errorf("second runCheck() = %s, %v; want no update found", r.Reason, err)
	}
}

func TestRunCheckInterruptedAtPrompt(t *testing.T) {
	app := newTestApp(t, "2.0.0")
	e := app.env(t)

	// Nothing is ever typed; the pipe stays open until cleanup.
	pr, pw := io.Pipe()
	t.Cleanup(func() { _ = pw.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(100*time.Millisecond, cancel)

	type outcome struct {
		r   driver.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		r, err := runCheck(ctx, pr, io.Discard, e, checkOptions{}, true)
		done <- outcome{r, err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			t.Fatalf("runCheck() error = %v", o.err)
		}
		if o.r.Reason != driver.UserCancelled {
			t.Errorf("Reason = %s, want %s", o.r.Reason, driver.UserCancelled)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runCheck() still waiting for input after cancellation")
	}

	if got := app.installed(t); got != "old" {
		t.Errorf("target = %q, want unchanged", got)
	}
}

func TestRunCheckRequiresTarget(t *testing.T) {
	app := newTestApp(t, "1.1.0")
	e := app.env(t)
	e.cfg.Install.Target = ""

	_, err := runCheck(context.Background(), strings.NewReader(""), &bytes.Buffer{}, e, checkOptions{}, false)
	if !errors.Is(err, install.ErrNoTarget) {
		t.Errorf("runCheck() error = %v, want ErrNoTarget", err)
	}
}

func TestRunCheckFeedOverride(t *testing.T) {
	app := newTestApp(t, "1.1.0")
	e := app.env(t)

	r, err := runCheck(context.Background(), strings.NewReader(""), &bytes.Buffer{}, e,
		checkOptions{auto: true, feed: fileURL(filepath.Join(app.root, "missing.yaml"))}, false)
	if err != nil {
		t.Fatalf("runCheck() error = %v", err)
	}
	if r.Reason != driver.CheckFailed {
		t.Errorf("Reason = %s, want check failed", r.Reason)
	}
}

func TestRunStatus(t *testing.T) {
	app := newTestApp(t, "1.1.0")
	e := app.env(t)
	if err := e.host.SetPreferenceValue(host.KeySkippedVersion, "1.0.5"); err != nil {
		t.Fatal(err)
	}

	t.Run("text", func(t *testing.T) {
		setOutput(t, "text")
		var out bytes.Buffer
		if err := runStatus(&out, e); err != nil {
			t.Fatalf("runStatus() error = %v", err)
		}
		for _, want := range []string{"com.example", "Example", "1.0.0", "ed25519", "pref skipped_version", "1.0.5", "never"} {
			if !strings.Contains(out.String(), want) {
				t.Errorf("output missing %q:\n%s", want, out.String())
			}
		}
	})

	t.Run("json", func(t *testing.T) {
		setOutput(t, "json")
		var out bytes.Buffer
		if err := runStatus(&out, e); err != nil {
			t.Fatalf("runStatus() error = %v", err)
		}
		var got map[string]any
		if err := json.Unmarshal(out.Bytes(), &got); err != nil {
			t.Fatalf("invalid json: %v\n%s", err, out.String())
		}
		if got["identifier"] != "com.example" || got["version"] != "1.0.0" {
			t.Errorf("status = %v", got)
		}
		if !strings.HasPrefix(fmt.Sprint(got["feed_url"]), "file://") {
			t.Errorf("feed_url = %v, want manifest value", got["feed_url"])
		}
		prefs, _ := got["preferences"].(map[string]any)
		if prefs["skipped_version"] != "1.0.5" {
			t.Errorf("preferences = %v", got["preferences"])
		}
	})
}

func TestPrefs(t *testing.T) {
	app := newTestApp(t, "1.1.0")
	e := app.env(t)
	setOutput(t, "text")

	if err := runPrefsSet(e, host.KeyAutomaticallyUpdate, "true"); err != nil {
		t.Fatalf("set error = %v", err)
	}
	if !e.host.Bool(host.KeyAutomaticallyUpdate) {
		t.Error("automatically_update not enabled")
	}

	var out bytes.Buffer
	if err := runPrefsGet(&out, e, host.KeyAutomaticallyUpdate); err != nil {
		t.Fatalf("get error = %v", err)
	}
	if strings.TrimSpace(out.String()) != "true" {
		t.Errorf("get = %q, want true", out.String())
	}

	// Manifest values show through when no preference is stored.
	out.Reset()
	if err := runPrefsGet(&out, e, host.KeyVersion); err != nil {
		t.Fatalf("get error = %v", err)
	}
	if strings.TrimSpace(out.String()) != "1.0.0" {
		t.Errorf("get version = %q", out.String())
	}

	if err := runPrefsGet(&out, e, "missing"); err == nil {
		t.Error("expected error for missing key")
	}

	out.Reset()
	if err := runPrefsList(&out, e); err != nil {
		t.Fatalf("list error = %v", err)
	}
	if !strings.Contains(out.String(), host.KeyAutomaticallyUpdate) {
		t.Errorf("list output:\n%s", out.String())
	}

	if err := e.host.SetPreferenceValue(host.KeyAutomaticallyUpdate, nil); err != nil {
		t.Fatal(err)
	}
	if _, ok := e.host.PreferenceValue(host.KeyAutomaticallyUpdate); ok {
		t.Error("preference still stored after unset")
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		raw  string
		want any
	}{
		{"true", true},
		{"false", false},
		{"42", 42},
		{"1.5", 1.5},
		{"1.2.3", "1.2.3"},
		{"hello world", "hello world"},
		{"[unterminated", "[unterminated"},
	}

	for _, tt := range tests {
		if got := parseValue(tt.raw); got != tt.want {
			t.Errorf("parseValue(%q) = %#v, want %#v", tt.raw, got, tt.want)
		}
	}
}

func TestRootCommand(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("KEEL_CONFIG", "")

	app := newTestApp(t, "1.1.0")
	cfgPath := filepath.Join(app.root, "keel.yaml")
	cfg := fmt.Sprintf("bundle: %s\ninstall:\n  target: %s\n", app.bundle, app.target)
	if err := os.WriteFile(cfgPath, []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		args    []string
		want    []string
		wantErr bool
	}{
		{name: "version", args: []string{"version", "-o", "json"}, want: []string{`"version": "dev"`, `"go_version"`}},
		{name: "status", args: []string{"status", "--config", cfgPath, "-o", "yaml"}, want: []string{"identifier: com.example"}},
		{name: "prefs set", args: []string{"prefs", "set", "channel", "beta", "--config", cfgPath}},
		{name: "no bundle", args: []string{"status"}, wantErr: true},
		{name: "bad output", args: []string{"version", "-o", "xml"}, wantErr: true},
		{name: "completion", args: []string{"completion", "bash"}, want: []string{"bash completion"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := newRootCmd()
			var out bytes.Buffer
			root.SetOut(&out)
			root.SetErr(&bytes.Buffer{})
			root.SetArgs(tt.args)

			err := root.Execute()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Execute(%v) error = %v, wantErr %v", tt.args, err, tt.wantErr)
			}
			for _, want := range tt.want {
				if !strings.Contains(out.String(), want) {
					t.Errorf("output missing %q:\n%s", want, out.String())
				}
			}
		})
	}
}
