package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TierConfig describes one arena tier. The lifecycle manager keeps one open
// arena per tier and uses these values as defaults for replacements.
type TierConfig struct {
	Name        string `yaml:"name" json:"name"`
	DisplayName string `yaml:"display_name" json:"displayName"`
	EntryFee    int64  `yaml:"entry_fee" json:"entryFee"`
	MinAgents   int    `yaml:"min_agents" json:"minAgents"`
	MaxAgents   int    `yaml:"max_agents" json:"maxAgents"`
}

type tiersFile struct {
	Tiers []TierConfig `yaml:"tiers"`
}

// DefaultTiers returns the built-in tiers used when no tier file is configured.
func DefaultTiers() []TierConfig {
	return []TierConfig{
		{Name: "bronze", DisplayName: "Bronze Pit", EntryFee: 10, MinAgents: 2, MaxAgents: 8},
		{Name: "silver", DisplayName: "Silver Ring", EntryFee: 50, MinAgents: 3, MaxAgents: 8},
		{Name: "gold", DisplayName: "Gold Colosseum", EntryFee: 100, MinAgents: 4, MaxAgents: 16},
	}
}

// LoadTiers reads tier definitions from a YAML file.
func LoadTiers(path string) ([]TierConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("tiers file %s not found", path)
		}
		return nil, err
	}
	return TiersFromYAML(data)
}

// TiersFromYAML parses and validates a tier document of the form
//
//	tiers:
//	  - name: bronze
//	    entry_fee: 10
//	    min_agents: 2
//	    max_agents: 8
func TiersFromYAML(data []byte) ([]TierConfig, error) {
	var doc tiersFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse tiers: %w", err)
	}
	if len(doc.Tiers) == 0 {
		return nil, fmt.Errorf("tiers file defines no tiers")
	}
	seen := make(map[string]bool, len(doc.Tiers))
	for i := range doc.Tiers {
		t := &doc.Tiers[i]
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("duplicate tier %s", t.Name)
		}
		seen[t.Name] = true
		if t.DisplayName == "" {
			t.DisplayName = t.Name
		}
	}
	return doc.Tiers, nil
}

// Validate checks a single tier definition.
func (t TierConfig) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("tier name is required")
	}
	if t.EntryFee < 0 {
		return fmt.Errorf("tier %s has negative entry fee", t.Name)
	}
	if t.MinAgents < 2 {
		return fmt.Errorf("tier %s needs min_agents >= 2", t.Name)
	}
	if t.MaxAgents < t.MinAgents {
		return fmt.Errorf("tier %s has max_agents below min_agents", t.Name)
	}
	return nil
}
