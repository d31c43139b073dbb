// Package host exposes the identity, version and trust key of an installed
// application, plus its packaged metadata and user preference overrides.
package host

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cast"

	"github.com/adamancini/keel/internal/log"
	"github.com/adamancini/keel/internal/prefs"
)

// Delegate lets the embedding application decide where metadata comes from.
type Delegate interface {
	// ShouldReadInfoFromBundle reports whether metadata is read from the
	// bundle's own manifest (true) or from the external manifest (false).
	ShouldReadInfoFromBundle(bundlePath string) bool
}

// DelegateFunc adapts a function to Delegate.
type DelegateFunc func(bundlePath string) bool

func (f DelegateFunc) ShouldReadInfoFromBundle(bundlePath string) bool {
	return f(bundlePath)
}

// Option configures a Host.
type Option func(*options)

type options struct {
	prefs            prefs.Store
	delegate         Delegate
	externalManifest string
	logger           log.Logger
}

// WithPreferences sets the user preference store. Defaults to an in-memory store.
func WithPreferences(s prefs.Store) Option {
	return func(o *options) { o.prefs = s }
}

// WithDelegate installs the metadata-source delegate.
func WithDelegate(d Delegate) Option {
	return func(o *options) { o.delegate = d }
}

// WithExternalManifest names the manifest used when the delegate declines the bundle.
func WithExternalManifest(path string) Option {
	return func(o *options) { o.externalManifest = path }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Host is a read-only view of an installed application. Derived properties
// and the trust key are computed once in New and never change afterwards.
type Host struct {
	path           string
	identifier     string
	name           string
	version        string
	displayVersion string
	readOnly       bool
	publicKey      ed25519.PublicKey

	info  map[string]any
	prefs prefs.Store
	log   log.Logger
}

// New loads the application at bundlePath.
func New(bundlePath string, opts ...Option) (*Host, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.prefs == nil {
		o.prefs = prefs.NewMemory()
	}
	logger := log.OrNop(o.logger).WithName("host")

	abs, err := filepath.Abs(bundlePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve bundle path: %w", err)
	}

	fromBundle := o.delegate == nil || o.delegate.ShouldReadInfoFromBundle(abs)

	var manifest string
	if fromBundle {
		manifest, err = findManifest(abs)
		if err != nil {
			return nil, err
		}
	} else {
		if o.externalManifest == "" {
			return nil, fmt.Errorf("delegate declined bundle metadata but no external manifest is configured")
		}
		manifest = o.externalManifest
	}

	info, err := loadManifest(manifest)
	if err != nil {
		return nil, err
	}

	h := &Host{
		path:  abs,
		info:  info,
		prefs: o.prefs,
	}

	h.version = strings.TrimSpace(cast.ToString(info[KeyVersion]))
	if h.version == "" {
		return nil, fmt.Errorf("manifest %s has no %q", manifest, KeyVersion)
	}

	h.name = cast.ToString(info[KeyName])
	if h.name == "" {
		base := filepath.Base(abs)
		h.name = strings.TrimSuffix(base, filepath.Ext(base))
	}

	h.displayVersion = cast.ToString(info[KeyDisplayVersion])
	if h.displayVersion == "" {
		h.displayVersion = h.version
	}

	h.identifier = cast.ToString(info[KeyIdentifier])
	if h.identifier == "" {
		h.identifier = h.name
	}

	h.readOnly = isReadOnlyVolume(abs)
	h.log = logger.WithValues("host", h.identifier)

	key, err := h.loadPublicKey()
	if err != nil {
		h.log.Warn("ignoring unusable trust key", "error", err)
	}
	h.publicKey = key

	return h, nil
}

func (h *Host) loadPublicKey() (ed25519.PublicKey, error) {
	encoded := cast.ToString(h.info[KeyPublicKey])
	if encoded == "" {
		file := cast.ToString(h.info[KeyPublicKeyFile])
		if file == "" {
			return nil, nil
		}
		if filepath.IsAbs(file) || strings.HasPrefix(filepath.Clean(file), "..") {
			return nil, fmt.Errorf("key file %q must be inside the bundle", file)
		}
		data, err := os.ReadFile(filepath.Join(h.path, file))
		if err != nil {
			return nil, fmt.Errorf("failed to read key file: %w", err)
		}
		encoded = string(data)
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("trust key is not base64: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("trust key has %d bytes, want %d", len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

// Path is the absolute bundle path.
func (h *Host) Path() string { return h.path }

// Identifier namespaces this host's preferences.
func (h *Host) Identifier() string { return h.identifier }

// Name is the display name.
func (h *Host) Name() string { return h.name }

// Version is the machine-comparable installed version.
func (h *Host) Version() string { return h.version }

// DisplayVersion is the human-readable installed version.
func (h *Host) DisplayVersion() string { return h.displayVersion }

// ReadOnlyVolume reports whether the bundle lives on a read-only filesystem.
func (h *Host) ReadOnlyVolume() bool { return h.readOnly }

// PublicKey returns the trust key, or false when none is configured.
// A copy is returned so callers cannot alter the session's key.
func (h *Host) PublicKey() (ed25519.PublicKey, bool) {
	if h.publicKey == nil {
		return nil, false
	}
	return append(ed25519.PublicKey(nil), h.publicKey...), true
}

// PublicKeyFileKey is the info key naming a bundle file that holds the trust key.
func (h *Host) PublicKeyFileKey() string { return KeyPublicKeyFile }

// InfoValue reads packaged metadata.
func (h *Host) InfoValue(key string) (any, bool) {
	v, ok := h.info[key]
	return v, ok
}

// InfoBool reads packaged metadata as a boolean.
func (h *Host) InfoBool(key string) bool {
	v, _ := h.InfoValue(key)
	return toBool(v)
}

// PreferenceValue reads the user override for key. Store failures are
// logged and treated as absent.
func (h *Host) PreferenceValue(key string) (any, bool) {
	v, ok, err := h.prefs.Get(h.prefKey(key))
	if err != nil {
		h.log.Warn("failed to read preference", "key", key, "error", err)
		return nil, false
	}
	return v, ok
}

// SetPreferenceValue writes the user override for key. A nil value removes it.
func (h *Host) SetPreferenceValue(key string, value any) error {
	if err := h.prefs.Set(h.prefKey(key), value); err != nil {
		return fmt.Errorf("failed to set preference %s: %w", key, err)
	}
	return nil
}

// PreferenceBool reads the user override for key as a boolean.
func (h *Host) PreferenceBool(key string) bool {
	v, _ := h.PreferenceValue(key)
	return toBool(v)
}

// SetPreferenceBool writes a boolean user override.
func (h *Host) SetPreferenceBool(key string, value bool) error {
	return h.SetPreferenceValue(key, value)
}

// Preferences returns every user override for this host.
func (h *Host) Preferences() (map[string]any, error) {
	raw, err := h.prefs.List(h.prefKey(""))
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		out[strings.TrimPrefix(k, h.prefKey(""))] = v
	}
	return out, nil
}

// Value is the merged view: the user override if present, else packaged metadata.
func (h *Host) Value(key string) (any, bool) {
	if v, ok := h.PreferenceValue(key); ok {
		return v, true
	}
	return h.InfoValue(key)
}

// Bool is the merged view as a boolean.
func (h *Host) Bool(key string) bool {
	v, _ := h.Value(key)
	return toBool(v)
}

func (h *Host) prefKey(key string) string {
	return h.identifier + "/" + key
}

// toBool accepts booleans, numbers and the strings true/false/yes/no/1/0.
func toBool(v any) bool {
	if s, ok := v.(string); ok {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "yes", "y", "on":
			return true
		case "no", "n", "off":
			return false
		}
	}
	return cast.ToBool(v)
}
