package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadNodeCfg reads and parses a nodeconf.yml-shaped file from path,
// the way the teacher's config.Load reads its own YAML config (see
// _teacher_ref/config/config.go). Git-backed per-network fetch and
// the example-config scaffolding original_source's
// NetworkConfigLoader performs around this read are out of scope
// (spec.md §1).
func LoadNodeCfg(path string) (*NodeCfg, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read node config: %w", err)
	}
	var cfg NodeCfg
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse node config: %w", err)
	}
	return &cfg, nil
}

// LoadNetworkRootConfig reads and parses one network's config.yml from
// path.
func LoadNetworkRootConfig(path string) (*NetworkRootConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read network config: %w", err)
	}
	var cfg NetworkRootConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse network config: %w", err)
	}
	return &cfg, nil
}
