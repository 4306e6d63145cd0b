// Package catalog loads the KSI catalogue file and seeds indicator records
// for a service. The catalogue is the published set of indicator definitions;
// seeding is create-if-absent so re-imports never clobber review state.
package catalog

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/bracken-sec/conmon/internal/domain"
)

// Entry is one indicator definition in the catalogue.
type Entry struct {
	Reference      string `yaml:"reference"`
	Category       string `yaml:"category"`
	Name           string `yaml:"name"`
	Description    string `yaml:"description"`
	Applicability  struct {
		Low      bool `yaml:"low"`
		Moderate bool `yaml:"moderate"`
		High     bool `yaml:"high"`
	} `yaml:"applicability"`
	ValidationMode string `yaml:"validation_mode"`
}

// Catalogue is the parsed KSI catalogue file.
type Catalogue struct {
	Version    string  `yaml:"version"`
	Indicators []Entry `yaml:"indicators"`
}

// Load reads and validates a catalogue file.
func Load(path string) (*Catalogue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalogue: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates catalogue YAML.
func Parse(data []byte) (*Catalogue, error) {
	var catalogue Catalogue
	if err := yaml.Unmarshal(data, &catalogue); err != nil {
		return nil, fmt.Errorf("parse catalogue: %w", err)
	}

	seen := make(map[string]bool, len(catalogue.Indicators))
	for i, entry := range catalogue.Indicators {
		if entry.Reference == "" {
			return nil, fmt.Errorf("catalogue entry %d: missing reference", i)
		}
		if seen[entry.Reference] {
			return nil, fmt.Errorf("catalogue entry %d: duplicate reference %s", i, entry.Reference)
		}
		seen[entry.Reference] = true
		if entry.ValidationMode != "" && !domain.ValidationMode(entry.ValidationMode).IsValid() {
			return nil, fmt.Errorf("catalogue entry %s: unknown validation mode %q", entry.Reference, entry.ValidationMode)
		}
	}
	return &catalogue, nil
}
