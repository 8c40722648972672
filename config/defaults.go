package config

const (
	DefaultControlSocketPath = "/var/run/wgagentd.sock"
	DefaultMetricsAddr       = "127.0.0.1:9090"
	DefaultLogLevel          = "info"
	DefaultMTU               = 1280
	DefaultListenPort        = 0
	MinMTU                   = 576
	MaxMTU                   = 1500
)

// setDefaults fills in zero-valued fields with their documented defaults.
func (c *Config) setDefaults() {
	if c.Agent.ControlSocketPath == "" {
		c.Agent.ControlSocketPath = DefaultControlSocketPath
	}
	if c.Agent.MetricsAddr == "" {
		c.Agent.MetricsAddr = DefaultMetricsAddr
	}
	if c.Agent.LogLevel == "" {
		c.Agent.LogLevel = DefaultLogLevel
	}

	for name, net := range c.Networks {
		if net.MTU == 0 {
			net.MTU = DefaultMTU
		}
		if net.Interface == "" {
			net.Interface = "wg0"
		}
		net.Name = name
		c.Networks[name] = net
	}
}
