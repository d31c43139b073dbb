// Package appcast models the update feed fetched at the start of a session
// and selects the candidate update from it.
package appcast

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/adamancini/keel/internal/platform"
	"github.com/adamancini/keel/internal/version"
)

// Feed is a parsed update feed.
type Feed struct {
	Title string `yaml:"title" toml:"title" json:"title"`
	Items []Item `yaml:"items" toml:"items" json:"items"`
}

// Item describes one published release.
type Item struct {
	Version        string    `yaml:"version" toml:"version" json:"version"`
	DisplayVersion string    `yaml:"display_version,omitempty" toml:"display_version,omitempty" json:"display_version,omitempty"`
	URL            string    `yaml:"url" toml:"url" json:"url"`
	Signature      string    `yaml:"signature" toml:"signature" json:"signature"`
	Length         int64     `yaml:"length,omitempty" toml:"length,omitempty" json:"length,omitempty"`
	SHA256         string    `yaml:"sha256,omitempty" toml:"sha256,omitempty" json:"sha256,omitempty"`
	OS             string    `yaml:"os,omitempty" toml:"os,omitempty" json:"os,omitempty"`
	Arch           string    `yaml:"arch,omitempty" toml:"arch,omitempty" json:"arch,omitempty"`
	ReleaseNotes   string    `yaml:"release_notes,omitempty" toml:"release_notes,omitempty" json:"release_notes,omitempty"`
	Published      time.Time `yaml:"published,omitempty" toml:"published,omitempty" json:"published,omitempty"`
}

// Label is the human-readable version of the item.
func (i Item) Label() string {
	if i.DisplayVersion != "" {
		return i.DisplayVersion
	}
	return version.Normalize(i.Version)
}

// Parse decodes a feed. hint is a file name or URL used only to guess the
// format; content is sniffed when the hint has no known extension.
func Parse(content []byte, hint string) (*Feed, error) {
	var feed Feed

	switch DetectFormat(hint, content) {
	case FormatYAML:
		if err := yaml.Unmarshal(content, &feed); err != nil {
			return nil, fmt.Errorf("YAML parse error: %w", err)
		}
	case FormatTOML:
		if err := toml.Unmarshal(content, &feed); err != nil {
			return nil, fmt.Errorf("TOML parse error: %w", err)
		}
	case FormatJSON:
		if err := json.Unmarshal(content, &feed); err != nil {
			return nil, fmt.Errorf("JSON parse error: %w", err)
		}
	default:
		return nil, fmt.Errorf("unable to detect feed format for %q", hint)
	}

	return &feed, nil
}

// Best returns the newest item whose precedence is above current, targets p
// and is not the skipped version. Items with an unparsable version or no URL
// are ignored. ok is false when nothing qualifies.
func (f *Feed) Best(current string, p platform.Platform, skipped string) (Item, bool, error) {
	cur, err := version.Parse(current)
	if err != nil {
		return Item{}, false, fmt.Errorf("invalid installed version: %w", err)
	}

	var skip *version.Version
	if skipped != "" {
		skip, _ = version.Parse(skipped)
	}

	var (
		best    Item
		bestVer *version.Version
	)
	for _, item := range f.Items {
		if item.URL == "" || !p.Matches(item.OS, item.Arch) {
			continue
		}
		v, err := version.Parse(item.Version)
		if err != nil {
			continue
		}
		// Builds of the installed release are not updates.
		if v.ComparePrecedence(cur) <= 0 {
			continue
		}
		if skip != nil && v.IsEqual(skip) {
			continue
		}
		if bestVer == nil || v.IsGreaterThan(bestVer) {
			best, bestVer = item, v
		}
	}

	return best, bestVer != nil, nil
}
