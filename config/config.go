package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every configuration validation failure, letting
// callers use errors.Is(err, config.ErrInvalid) without matching on
// message text.
var ErrInvalid = errors.New("invalid configuration")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...)
}

// Load reads path, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Networks == nil {
		cfg.Networks = map[string]NetworkConfig{}
	}
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks every network and peer against the invariants in the
// configuration schema: MTU bounds, CIDR parsing, key-file permissions,
// keepalive range, and the allowed-IP exact-prefix-tie rule.
func (c *Config) Validate() error {
	seenPrefixes := make(map[string]string) // "network|prefix" -> owning "network/peer"

	for name, net := range c.Networks {
		if !net.EnableWireGuard {
			continue
		}
		if err := validateNetwork(name, net, seenPrefixes); err != nil {
			return err
		}
	}
	return nil
}

func validateNetwork(name string, n NetworkConfig, seenPrefixes map[string]string) error {
	if n.MTU < MinMTU || n.MTU > MaxMTU {
		return invalid("network %s: mtu %d out of range [%d,%d]", name, n.MTU, MinMTU, MaxMTU)
	}
	if n.ListenPort < 0 || n.ListenPort > 65535 {
		return invalid("network %s: listen_port %d out of range", name, n.ListenPort)
	}
	if n.Address != "" {
		if _, _, err := net.ParseCIDR(n.Address); err != nil {
			return invalid("network %s: invalid address %q: %v", name, n.Address, err)
		}
	}
	if n.PrivateKeyPath == "" {
		return invalid("network %s: private_key_path required when enabled", name)
	}
	if err := checkKeyFileMode(n.PrivateKeyPath); err != nil {
		return invalid("network %s: %v", name, err)
	}
	for _, ip := range n.DNS {
		if net.ParseIP(ip) == nil {
			return invalid("network %s: invalid dns server %q", name, ip)
		}
	}

	peerNames := make(map[string]bool, len(n.Peers))
	for _, peer := range n.Peers {
		if peerNames[strings.ToLower(peer.Name)] {
			return invalid("network %s: duplicate peer name %q", name, peer.Name)
		}
		peerNames[strings.ToLower(peer.Name)] = true

		if err := validatePeer(name, peer, seenPrefixes); err != nil {
			return err
		}
	}
	return nil
}

func validatePeer(networkName string, p PeerConfig, seenPrefixes map[string]string) error {
	if p.Name == "" {
		return invalid("network %s: peer missing name", networkName)
	}
	if p.PublicKey == "" {
		return invalid("network %s: peer %s missing public_key", networkName, p.Name)
	}
	if len(p.AllowedIPs) == 0 {
		return invalid("network %s: peer %s has no allowed_ips", networkName, p.Name)
	}
	for _, cidr := range p.AllowedIPs {
		_, parsed, err := net.ParseCIDR(cidr)
		if err != nil {
			return invalid("network %s: peer %s: invalid allowed_ip %q: %v", networkName, p.Name, cidr, err)
		}
		key := networkName + "|" + parsed.String()
		owner := networkName + "/" + p.Name
		if existing, ok := seenPrefixes[key]; ok && existing != owner {
			return invalid("network %s: allowed_ip %s assigned to both %s and %s", networkName, parsed, existing, owner)
		}
		seenPrefixes[key] = owner
	}
	if p.Endpoint != "" {
		if _, _, err := net.SplitHostPort(p.Endpoint); err != nil {
			return invalid("network %s: peer %s: invalid endpoint %q: %v", networkName, p.Name, p.Endpoint, err)
		}
	}
	if p.PersistentKeepaliveSecs < 0 || p.PersistentKeepaliveSecs > 65535 {
		return invalid("network %s: peer %s: persistent_keepalive_secs out of range", networkName, p.Name)
	}
	return nil
}

// checkKeyFileMode verifies the private key file exists and, on POSIX, is
// not group/world readable.
func checkKeyFileMode(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("private key file %s: %w", path, err)
	}
	if runtime.GOOS == "windows" {
		return nil
	}
	if mode := info.Mode().Perm(); mode&0077 != 0 {
		return fmt.Errorf("private key file %s has mode %04o, expected 0600", path, mode)
	}
	return nil
}
