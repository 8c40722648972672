// Package config loads and validates the agent's static YAML
// configuration: the agent-wide block (control socket path, metrics
// address) and the named network definitions each tunnel is built from.
package config

// Config is the full validated configuration tree.
type Config struct {
	Agent    AgentConfig              `yaml:"agent"`
	Networks map[string]NetworkConfig `yaml:"networks"`
}

// AgentConfig holds process-wide settings that are not per-tunnel.
type AgentConfig struct {
	ControlSocketPath string `yaml:"control_socket_path"`
	MetricsAddr       string `yaml:"metrics_addr"`
	LogLevel          string `yaml:"log_level"`
}

// NetworkConfig is one tunnel definition.
type NetworkConfig struct {
	EnableWireGuard bool         `yaml:"enable_wireguard"`
	Interface       string       `yaml:"interface"`
	MTU             int          `yaml:"mtu"`
	Address         string       `yaml:"address"`
	PrivateKeyPath  string       `yaml:"private_key_path"`
	ListenPort      int          `yaml:"listen_port"`
	DNS             []string     `yaml:"dns"`
	Peers           []PeerConfig `yaml:"peers"`

	// Name is populated from the map key during Load, not from YAML.
	Name string `yaml:"-"`
}

// PeerConfig is one peer entry within a network.
type PeerConfig struct {
	Name                    string   `yaml:"name"`
	PublicKey               string   `yaml:"public_key"`
	Endpoint                string   `yaml:"endpoint"`
	AllowedIPs              []string `yaml:"allowed_ips"`
	PersistentKeepaliveSecs int      `yaml:"persistent_keepalive_secs"`
}
