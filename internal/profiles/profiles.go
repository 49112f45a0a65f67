// Package profiles holds the built-in test configurations.
package profiles

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/Dedenruslan19/bidload/internal/loadtest/config"
)

// ErrUnknownProfile is returned for a name with no built-in profile.
var ErrUnknownProfile = errors.New("unknown profile")

//go:embed data/*.yaml
var documents embed.FS

// Names returns the built-in profile names in sorted order.
func Names() []string {
	entries, err := fs.ReadDir(documents, "data")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), path.Ext(e.Name())))
	}
	sort.Strings(names)
	return names
}

// Get returns the raw YAML document of a profile.
func Get(name string) ([]byte, error) {
	data, err := documents.ReadFile(path.Join("data", name+".yaml"))
	if err != nil {
		return nil, fmt.Errorf("%w %q (available: %s)", ErrUnknownProfile, name, strings.Join(Names(), ", "))
	}
	return data, nil
}

// Load parses a profile into a test configuration.
func Load(name string) (*config.TestConfig, error) {
	data, err := Get(name)
	if err != nil {
		return nil, err
	}
	cfg, err := config.ParseConfig(data, config.FormatYAML)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", name, err)
	}
	return cfg, nil
}

// Describe returns the one-line description of a profile.
func Describe(name string) (string, error) {
	cfg, err := Load(name)
	if err != nil {
		return "", err
	}
	return cfg.Description, nil
}
