// Package config models the YAML-shaped network and node configuration
// spec.md §6 describes, and the narrow reload-bus contract a daemon
// subscribes through. Loading from disk, git-backed network config
// fetch, and dynamic reload machinery are out of scope (spec.md §1);
// what lives here is the shape of a loaded configuration plus the
// Bus/Watcher/Preprocessor contract an external loader would publish
// through. Grounded on original_source/src/meshmon/config/config.py
// and config/structure/{network,node_cfg}.py.
package config

import (
	"fmt"

	"github.com/rippleFCL/meshmon/pulsewave/errs"
)

// MonitorType names a kind of health probe a network config lists.
type MonitorType string

const (
	MonitorPing MonitorType = "ping"
	MonitorHTTP MonitorType = "http"
)

// ConfigType selects where a network's root config.yml comes from.
// Git-backed fetch is out of scope here (spec.md §1) — this repo only
// models the discriminant, not the fetch behavior.
type ConfigType string

const (
	ConfigGit   ConfigType = "git"
	ConfigLocal ConfigType = "local"
)

// NodeInfo is one peer entry in a network's node_config list.
type NodeInfo struct {
	NodeID   string `yaml:"node_id"`
	URL      string `yaml:"url,omitempty"`
	PollRate int    `yaml:"poll_rate,omitempty"`
	Retry    int    `yaml:"retry,omitempty"`
}

// Monitor is one health probe entry in a network's monitors list.
type Monitor struct {
	Name     string      `yaml:"name"`
	Type     MonitorType `yaml:"type"`
	Host     string      `yaml:"host"`
	Interval int         `yaml:"interval,omitempty"`
	Retry    int         `yaml:"retry,omitempty"`
}

// Defaults holds the fallback values applied to NodeInfo/Monitor
// entries that omit poll_rate, retry, or interval.
type Defaults struct {
	NodePollRate    int
	NodeRetry       int
	MonitorInterval int
	MonitorRetry    int
}

// NetworkRootConfig is the YAML shape of one network's config.yml.
type NetworkRootConfig struct {
	NodeConfig  []NodeInfo `yaml:"node_config"`
	NetworkID   string     `yaml:"network_id"`
	NodeVersion []string   `yaml:"node_version,omitempty"`
	Monitors    []Monitor  `yaml:"monitors,omitempty"`
}

// NodeCfgNetwork is one entry of the node-local nodeconf.yml, naming
// a network this node participates in and how its config is sourced.
type NodeCfgNetwork struct {
	Directory  string     `yaml:"directory"`
	NodeID     string     `yaml:"node_id"`
	ConfigType ConfigType `yaml:"config_type,omitempty"`
	GitRepo    string     `yaml:"git_repo,omitempty"`
}

// NodeCfg is the YAML shape of nodeconf.yml: every network this node
// instance joins.
type NodeCfg struct {
	Networks []NodeCfgNetwork `yaml:"networks"`
}

// NetworkConfig is one network's configuration after merging root
// config with per-entry defaults, as config.py's _load_network_config
// does before constructing its dataclass NetworkConfig.
type NetworkConfig struct {
	NetworkID string
	NodeID    string
	Nodes     []NodeInfo
	Monitors  []Monitor
}

// NodeByID returns the node_config entry for id, if present.
func (n *NetworkConfig) NodeByID(id string) (NodeInfo, bool) {
	for _, node := range n.Nodes {
		if node.NodeID == id {
			return node, true
		}
	}
	return NodeInfo{}, false
}

// Config is every network this daemon instance participates in, keyed
// by network id.
type Config struct {
	Networks map[string]*NetworkConfig
}

// Network looks up a loaded network config by id.
func (c *Config) Network(id string) (*NetworkConfig, bool) {
	if c == nil {
		return nil, false
	}
	nc, ok := c.Networks[id]
	return nc, ok
}

// ResolveNetworkConfig merges defaults into root's node and monitor
// entries and validates that localNodeID appears in root.NodeConfig,
// mirroring config.py's _load_network_config body (minus the
// filesystem/git/key-loading side effects, which belong to the
// external loader this package does not implement).
func ResolveNetworkConfig(root NetworkRootConfig, localNodeID string, defaults Defaults) (*NetworkConfig, error) {
	if _, ok := findNode(root.NodeConfig, localNodeID); !ok {
		return nil, fmt.Errorf("%w: node id %q not present in network %q", errs.ConfigInvalid, localNodeID, root.NetworkID)
	}

	nodes := make([]NodeInfo, 0, len(root.NodeConfig))
	for _, n := range root.NodeConfig {
		if n.PollRate == 0 {
			n.PollRate = defaults.NodePollRate
		}
		if n.Retry == 0 {
			n.Retry = defaults.NodeRetry
		}
		nodes = append(nodes, n)
	}

	monitors := make([]Monitor, 0, len(root.Monitors))
	for _, m := range root.Monitors {
		if m.Interval == 0 {
			m.Interval = defaults.MonitorInterval
		}
		if m.Retry == 0 {
			m.Retry = defaults.MonitorRetry
		}
		monitors = append(monitors, m)
	}

	return &NetworkConfig{
		NetworkID: root.NetworkID,
		NodeID:    localNodeID,
		Nodes:     nodes,
		Monitors:  monitors,
	}, nil
}

func findNode(nodes []NodeInfo, id string) (NodeInfo, bool) {
	for _, n := range nodes {
		if n.NodeID == id {
			return n, true
		}
	}
	return NodeInfo{}, false
}
