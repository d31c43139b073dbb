package host

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// manifestNames are tried in order inside a bundle directory.
var manifestNames = []string{"Info.yaml", "Info.yml", "Info.toml", "Info.json"}

// findManifest returns the first manifest present in dir.
func findManifest(dir string) (string, error) {
	for _, name := range manifestNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no manifest (%s) found in %s", strings.Join(manifestNames, ", "), dir)
}

// loadManifest reads a yaml, toml or json manifest into a flat key-value map.
func loadManifest(path string) (map[string]any, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	info := make(map[string]any)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(content, &info)
	case ".toml":
		err = toml.Unmarshal(content, &info)
	case ".json":
		err = json.Unmarshal(content, &info)
	default:
		return nil, fmt.Errorf("unable to detect manifest format for %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	return info, nil
}
