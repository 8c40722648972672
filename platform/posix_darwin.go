//go:build darwin

package platform

import (
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"strings"

	"github.com/songgao/water"
)

type darwinCapability struct {
	networksetup string
}

func newPlatform() Capability {
	path, _ := exec.LookPath("networksetup")
	return &darwinCapability{networksetup: path}
}

func (c *darwinCapability) OpenTUN(nameHint string, mtu int) (TUN, error) {
	if mtu <= 0 || mtu > 65536 {
		mtu = 1280
	}

	iface, err := water.New(water.Config{DeviceType: water.TUN})
	if err != nil {
		return nil, fmt.Errorf("creating TUN device: %w", err)
	}

	name := iface.Name()
	if name == "" {
		iface.Close()
		return nil, fmt.Errorf("TUN device has no assigned name")
	}

	if err := run("ifconfig", name, "mtu", strconv.Itoa(mtu)); err != nil {
		iface.Close()
		return nil, fmt.Errorf("setting MTU to %d: %w", mtu, err)
	}
	if err := run("ifconfig", name, "up"); err != nil {
		iface.Close()
		return nil, fmt.Errorf("bringing interface %s up: %w", name, err)
	}

	return &waterTUN{iface: iface, name: name, mtu: mtu}, nil
}

func (c *darwinCapability) SetAddress(ifName string, cidr *net.IPNet) error {
	ones, bits := cidr.Mask.Size()
	if ones == bits {
		return run("ifconfig", ifName, "inet", cidr.IP.String(), cidr.IP.String())
	}
	return run("ifconfig", ifName, "inet", cidr.IP.String(), cidr.IP.Mask(cidr.Mask).String())
}

func (c *darwinCapability) AddRoute(ifName string, dst *net.IPNet) error {
	err := run("route", "add", "-net", dst.String(), "-interface", ifName)
	if err != nil && strings.Contains(err.Error(), "File exists") {
		return nil
	}
	return err
}

func (c *darwinCapability) DelRoute(ifName string, dst *net.IPNet) error {
	err := run("route", "delete", "-net", dst.String(), "-interface", ifName)
	if err != nil && strings.Contains(err.Error(), "not in table") {
		return nil
	}
	return err
}

func (c *darwinCapability) ApplyDNS(ifName string, servers []net.IP) error {
	if c.networksetup == "" || len(servers) == 0 {
		return nil
	}
	args := append([]string{"-setdnsservers", ifName}, ipStrings(servers)...)
	return run(c.networksetup, args...)
}

func (c *darwinCapability) ClearDNS(ifName string) error {
	if c.networksetup == "" {
		return nil
	}
	_ = run(c.networksetup, "-setdnsservers", ifName, "empty")
	return nil
}

func (c *darwinCapability) Capabilities() Capabilities {
	return Capabilities{DNSApply: c.networksetup != ""}
}

func run(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s %s: %w (%s)", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}
