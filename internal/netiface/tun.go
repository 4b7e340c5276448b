//go:build linux

// Package netiface is the OS networking façade: it owns the kernel TUN
// device, route/address/neighbor-proxy mutation, and external prefix
// discovery. Link, address, route and proxy-neighbor mutation goes
// through github.com/vishvananda/netlink; the raw TUN file descriptor is
// opened directly against /dev/net/tun via golang.org/x/sys/unix, since
// netlink cannot hand back the character-device fd TUNSETIFF binds.
package netiface

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"strconv"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// TunCreate creates a persistent TUN device named name, owned by
// ownerUser. Equivalent to `ip tuntap add mode tun dev <name> user <ownerUser>`.
func TunCreate(name, ownerUser string) error {
	uid := -1
	if ownerUser != "" {
		u, err := user.Lookup(ownerUser)
		if err != nil {
			return fmt.Errorf("netiface: look up owner user %q: %w", ownerUser, err)
		}
		uid, err = strconv.Atoi(u.Uid)
		if err != nil {
			return fmt.Errorf("netiface: parse uid for %q: %w", ownerUser, err)
		}
	}

	link := &netlink.Tuntap{
		LinkAttrs: netlink.LinkAttrs{Name: name},
		Mode:      netlink.TUNTAP_MODE_TUN,
		Flags:     netlink.TUNTAP_DEFAULTS,
	}
	if uid >= 0 {
		link.Owner = uint32(uid)
	}

	if err := netlink.LinkAdd(link); err != nil {
		return fmt.Errorf("netiface: create tun device %q: %w", name, err)
	}
	return nil
}

// TunDestroy removes a TUN device by name. It is not an error if the
// device does not exist (the bridge calls this proactively at startup to
// clear a stale device from a prior crash).
func TunDestroy(name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		var linkNotFound netlink.LinkNotFoundError
		if errors.As(err, &linkNotFound) {
			return nil
		}
		return fmt.Errorf("netiface: look up tun device %q: %w", name, err)
	}
	if err := netlink.LinkDel(link); err != nil {
		return fmt.Errorf("netiface: delete tun device %q: %w", name, err)
	}
	return nil
}

// TunUp brings a TUN device up. Equivalent to `ip link set <name> up`.
func TunUp(name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("netiface: look up tun device %q: %w", name, err)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("netiface: bring up tun device %q: %w", name, err)
	}
	return nil
}

// TunOpen opens /dev/net/tun and binds it to an existing TUN device name
// via the TUNSETIFF ioctl with IFF_TUN|IFF_NO_PI, returning a handle that
// supports blocking Read/Write of full IPv6 packets.
func TunOpen(name string) (*os.File, error) {
	fd, err := unix.Open("/dev/net/tun", unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("netiface: open /dev/net/tun: %w", err)
	}

	ifr, err := unix.NewIfreq(name)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("netiface: build ifreq for %q: %w", name, err)
	}
	ifr.SetUint16(uint16(unix.IFF_TUN | unix.IFF_NO_PI))

	if err := unix.IoctlIfreq(fd, unix.TUNSETIFF, ifr); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("netiface: TUNSETIFF %q: %w", name, err)
	}

	return os.NewFile(uintptr(fd), "/dev/net/tun"), nil
}
