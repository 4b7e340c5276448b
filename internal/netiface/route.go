//go:build linux

package netiface

import (
	"fmt"
	"net"

	"github.com/vishvananda/netlink"

	"wirepas-ipv6-bridge/internal/ipv6addr"
)

func ipNetFor(a ipv6addr.Addr) *net.IPNet {
	b := a.Bytes()
	return &net.IPNet{
		IP:   net.IP(b[:]),
		Mask: net.CIDRMask(a.PrefixLen(), 128),
	}
}

func linkIndex(dev string) (int, error) {
	link, err := netlink.LinkByName(dev)
	if err != nil {
		return 0, fmt.Errorf("netiface: look up device %q: %w", dev, err)
	}
	return link.Attrs().Index, nil
}

// RouteReplace installs (or overwrites) a route to prefix via dev.
// Equivalent to `ip -6 route replace <prefix> dev <dev>`.
func RouteReplace(prefix ipv6addr.Addr, dev string) error {
	idx, err := linkIndex(dev)
	if err != nil {
		return err
	}
	route := &netlink.Route{LinkIndex: idx, Dst: ipNetFor(prefix)}
	if err := netlink.RouteReplace(route); err != nil {
		return fmt.Errorf("netiface: route replace %s dev %s: %w", prefix, dev, err)
	}
	return nil
}

// RouteAdd adds a route to prefix via dev with the given metric.
// Equivalent to `ip -6 route add <prefix> dev <dev> metric <metric>`.
func RouteAdd(prefix ipv6addr.Addr, dev string, metric int) error {
	idx, err := linkIndex(dev)
	if err != nil {
		return err
	}
	route := &netlink.Route{LinkIndex: idx, Dst: ipNetFor(prefix), Priority: metric}
	if err := netlink.RouteAdd(route); err != nil {
		return fmt.Errorf("netiface: route add %s dev %s metric %d: %w", prefix, dev, metric, err)
	}
	return nil
}

// RouteDel removes a route to prefix via dev.
// Equivalent to `ip -6 route del <prefix> dev <dev>`.
func RouteDel(prefix ipv6addr.Addr, dev string) error {
	idx, err := linkIndex(dev)
	if err != nil {
		return err
	}
	route := &netlink.Route{LinkIndex: idx, Dst: ipNetFor(prefix)}
	if err := netlink.RouteDel(route); err != nil {
		return fmt.Errorf("netiface: route del %s dev %s: %w", prefix, dev, err)
	}
	return nil
}

// AddrAdd assigns addr to dev. Equivalent to `ip address add <addr> dev <dev>`.
func AddrAdd(addr ipv6addr.Addr, dev string) error {
	link, err := netlink.LinkByName(dev)
	if err != nil {
		return fmt.Errorf("netiface: look up device %q: %w", dev, err)
	}
	nlAddr := &netlink.Addr{IPNet: ipNetFor(addr)}
	if err := netlink.AddrAdd(link, nlAddr); err != nil {
		return fmt.Errorf("netiface: addr add %s dev %s: %w", addr, dev, err)
	}
	return nil
}

// AddrDel removes addr from dev. Equivalent to `ip address del <addr> dev <dev>`.
func AddrDel(addr ipv6addr.Addr, dev string) error {
	link, err := netlink.LinkByName(dev)
	if err != nil {
		return fmt.Errorf("netiface: look up device %q: %w", dev, err)
	}
	nlAddr := &netlink.Addr{IPNet: ipNetFor(addr)}
	if err := netlink.AddrDel(link, nlAddr); err != nil {
		return fmt.Errorf("netiface: addr del %s dev %s: %w", addr, dev, err)
	}
	return nil
}
