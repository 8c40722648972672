//go:build linux

package platform

import (
	"fmt"
	"net"
	"os/exec"
	"strings"

	"github.com/songgao/water"
	"github.com/vishvananda/netlink"
)

type linuxCapability struct {
	resolvectl string
}

func newPlatform() Capability {
	path, _ := exec.LookPath("resolvectl")
	return &linuxCapability{resolvectl: path}
}

func (c *linuxCapability) OpenTUN(nameHint string, mtu int) (TUN, error) {
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

	link, err := netlink.LinkByName(name)
	if err != nil {
		iface.Close()
		return nil, fmt.Errorf("finding interface %s: %w", name, err)
	}
	if err := netlink.LinkSetMTU(link, mtu); err != nil {
		iface.Close()
		return nil, fmt.Errorf("setting MTU to %d: %w", mtu, err)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		iface.Close()
		return nil, fmt.Errorf("bringing interface %s up: %w", name, err)
	}

	return &waterTUN{iface: iface, name: name, mtu: mtu}, nil
}

func (c *linuxCapability) SetAddress(ifName string, cidr *net.IPNet) error {
	link, err := netlink.LinkByName(ifName)
	if err != nil {
		return fmt.Errorf("finding interface %s: %w", ifName, err)
	}
	addr := &netlink.Addr{IPNet: cidr}
	if err := netlink.AddrAdd(link, addr); err != nil {
		if isExistsErr(err) {
			return nil
		}
		return fmt.Errorf("adding address %s to %s: %w", cidr, ifName, err)
	}
	return nil
}

func (c *linuxCapability) AddRoute(ifName string, dst *net.IPNet) error {
	link, err := netlink.LinkByName(ifName)
	if err != nil {
		return fmt.Errorf("finding interface %s: %w", ifName, err)
	}
	route := &netlink.Route{LinkIndex: link.Attrs().Index, Dst: dst}
	if err := netlink.RouteAdd(route); err != nil {
		if isExistsErr(err) {
			return nil
		}
		return fmt.Errorf("adding route %s via %s: %w", dst, ifName, err)
	}
	return nil
}

func (c *linuxCapability) DelRoute(ifName string, dst *net.IPNet) error {
	link, err := netlink.LinkByName(ifName)
	if err != nil {
		return nil
	}
	route := &netlink.Route{LinkIndex: link.Attrs().Index, Dst: dst}
	if err := netlink.RouteDel(route); err != nil && !isMissingErr(err) {
		return fmt.Errorf("removing route %s via %s: %w", dst, ifName, err)
	}
	return nil
}

func (c *linuxCapability) ApplyDNS(ifName string, servers []net.IP) error {
	if c.resolvectl == "" || len(servers) == 0 {
		return nil
	}
	args := append([]string{"dns", ifName}, ipStrings(servers)...)
	cmd := exec.Command(c.resolvectl, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("resolvectl dns %s: %w (%s)", ifName, err, out)
	}
	return nil
}

func (c *linuxCapability) ClearDNS(ifName string) error {
	if c.resolvectl == "" {
		return nil
	}
	cmd := exec.Command(c.resolvectl, "revert", ifName)
	_ = cmd.Run()
	return nil
}

func (c *linuxCapability) Capabilities() Capabilities {
	return Capabilities{DNSApply: c.resolvectl != ""}
}

func isExistsErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "exists")
}

func isMissingErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such process")
}
