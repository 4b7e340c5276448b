//go:build linux

package netiface

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv6"

	"wirepas-ipv6-bridge/internal/ipv6addr"
)

// discoverAttempts and discoverBackoff bound the retry loop for prefix
// discovery: five attempts, one second apart.
const (
	discoverAttempts   = 5
	discoverBackoff    = time.Second
	discoverReadWindow = 2 * time.Second
)

// DiscoverExternalPrefix sends an ICMPv6 Router Solicitation on iface and
// waits for a Router Advertisement carrying a Prefix Information option,
// retrying up to discoverAttempts times with discoverBackoff between
// attempts.
func DiscoverExternalPrefix(ctx context.Context, iface string) (ipv6addr.Addr, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return ipv6addr.Addr{}, fmt.Errorf("netiface: look up interface %q: %w", iface, err)
	}

	pc, err := icmp.ListenPacket("ip6:ipv6-icmp", "::")
	if err != nil {
		return ipv6addr.Addr{}, fmt.Errorf("netiface: listen icmpv6: %w", err)
	}
	defer pc.Close()

	p := pc.IPv6PacketConn()
	if err := p.SetControlMessage(ipv6.FlagInterface, true); err != nil {
		return ipv6addr.Addr{}, fmt.Errorf("netiface: enable ipv6 control messages: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < discoverAttempts; attempt++ {
		if ctx.Err() != nil {
			return ipv6addr.Addr{}, ctx.Err()
		}

		prefix, err := solicitOnce(p, ifi)
		if err == nil {
			return prefix, nil
		}
		lastErr = err

		if attempt < discoverAttempts-1 {
			select {
			case <-ctx.Done():
				return ipv6addr.Addr{}, ctx.Err()
			case <-time.After(discoverBackoff):
			}
		}
	}

	return ipv6addr.Addr{}, fmt.Errorf("netiface: discover external prefix on %s after %d attempts: %w", iface, discoverAttempts, lastErr)
}

func solicitOnce(p *ipv6.PacketConn, ifi *net.Interface) (ipv6addr.Addr, error) {
	rs, err := (&icmp.Message{
		Type: ipv6.ICMPTypeRouterSolicitation,
		Code: 0,
		Body: &icmp.DefaultMessageBody{Data: make([]byte, 4)},
	}).Marshal(nil)
	if err != nil {
		return ipv6addr.Addr{}, fmt.Errorf("marshal router solicitation: %w", err)
	}

	dst := &net.IPAddr{IP: net.ParseIP("ff02::2"), Zone: ifi.Name}
	cm := &ipv6.ControlMessage{IfIndex: ifi.Index}
	if _, err := p.WriteTo(rs, cm, dst); err != nil {
		return ipv6addr.Addr{}, fmt.Errorf("send router solicitation: %w", err)
	}

	deadline := time.Now().Add(discoverReadWindow)
	buf := make([]byte, 1500)
	for {
		if time.Now().After(deadline) {
			return ipv6addr.Addr{}, fmt.Errorf("no router advertisement with a prefix within %s", discoverReadWindow)
		}
		_ = p.SetReadDeadline(deadline)

		n, rcm, _, err := p.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return ipv6addr.Addr{}, fmt.Errorf("read icmpv6: %w", err)
		}
		if rcm != nil && rcm.IfIndex != ifi.Index {
			continue
		}

		msg, err := icmp.ParseMessage(ipv6.ICMPTypeEchoReply.Protocol(), buf[:n])
		if err != nil || msg.Type != ipv6.ICMPTypeRouterAdvertisement {
			continue
		}

		if prefix, ok := parseRAPrefix(buf[:n]); ok {
			return prefix, nil
		}
	}
}

// parseRAPrefix extracts the first Prefix Information option (RFC 4861
// type 3) from a raw ICMPv6 Router Advertisement message, walking the
// option chain starting at byte 16.
func parseRAPrefix(buf []byte) (ipv6addr.Addr, bool) {
	const raOptionsOffset = 16
	if len(buf) < raOptionsOffset {
		return ipv6addr.Addr{}, false
	}

	offset := raOptionsOffset
	for offset+2 <= len(buf) {
		oType := buf[offset]
		oLen := int(buf[offset+1]) * 8
		if oLen == 0 || offset+oLen > len(buf) {
			break
		}

		if oType == 3 && oLen >= 32 {
			// Option layout: byte 2 is the advertised prefix length, but the
			// bridge always treats the discovered prefix as /64.
			var raw [16]byte
			copy(raw[0:8], buf[offset+16:offset+24])
			addr, err := ipv6addr.New(raw, 64)
			if err == nil {
				return addr, true
			}
		}

		offset += oLen
	}

	return ipv6addr.Addr{}, false
}
