//go:build linux

package netiface

import (
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"wirepas-ipv6-bridge/internal/ipv6addr"
)

// NdpProxyAdd installs a permanent, externally-learned proxy neighbor
// entry for addr on dev, making the kernel answer neighbor solicitations
// for it on dev's behalf. Equivalent to:
//
//	ip neigh add nud permanent proxy <addr> dev <dev> extern_learn
func NdpProxyAdd(addr ipv6addr.Addr, dev string) error {
	link, err := netlink.LinkByName(dev)
	if err != nil {
		return fmt.Errorf("netiface: look up device %q: %w", dev, err)
	}
	b := addr.Bytes()
	neigh := &netlink.Neigh{
		LinkIndex: link.Attrs().Index,
		Family:    unix.AF_INET6,
		Flags:     netlink.NTF_PROXY | netlink.NTF_EXT_LEARNED,
		State:     netlink.NUD_PERMANENT,
		IP:        net.IP(b[:]),
	}
	if err := netlink.NeighAdd(neigh); err != nil {
		return fmt.Errorf("netiface: ndp proxy add %s dev %s: %w", addr, dev, err)
	}
	return nil
}

// NdpProxyDel removes a proxy neighbor entry previously installed by
// NdpProxyAdd. Equivalent to `ip neigh del proxy <addr> dev <dev>`.
func NdpProxyDel(addr ipv6addr.Addr, dev string) error {
	link, err := netlink.LinkByName(dev)
	if err != nil {
		return fmt.Errorf("netiface: look up device %q: %w", dev, err)
	}
	b := addr.Bytes()
	neigh := &netlink.Neigh{
		LinkIndex: link.Attrs().Index,
		Family:    unix.AF_INET6,
		Flags:     netlink.NTF_PROXY,
		IP:        net.IP(b[:]),
	}
	if err := netlink.NeighDel(neigh); err != nil {
		return fmt.Errorf("netiface: ndp proxy del %s dev %s: %w", addr, dev, err)
	}
	return nil
}
