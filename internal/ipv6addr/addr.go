// Package ipv6addr implements the address-plane data model for the
// wirepas-ipv6-bridge: a fixed 16-byte IPv6 address buffer paired with a
// prefix length, plus the mesh sink/node fields carved out of its low 64
// bits.
package ipv6addr

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// Addr is a 16-byte IPv6 address together with a prefix length in 0..128.
//
// The low 64 bits decompose as:
//
//	bytes 8..12  sink mesh address (big-endian u32)
//	bytes 12..16 node mesh address (big-endian u32)
//
// An Addr with PrefixLen 128 is a host address, 96 a per-sink subnet, 64 a
// bare network prefix.
type Addr struct {
	b         [16]byte
	prefixLen int
}

// New builds an Addr from a full 16-byte buffer and a prefix length.
func New(b [16]byte, prefixLen int) (Addr, error) {
	if prefixLen < 0 || prefixLen > 128 {
		return Addr{}, fmt.Errorf("ipv6addr: prefix length %d out of range", prefixLen)
	}
	return Addr{b: b, prefixLen: prefixLen}, nil
}

// Bytes returns the full 16-byte wire representation.
func (a Addr) Bytes() [16]byte { return a.b }

// PrefixLen returns the address's prefix length.
func (a Addr) PrefixLen() int { return a.prefixLen }

// SinkAddr extracts the 32-bit mesh sink address from bytes 8..12. Requires
// a prefix length of at least 96.
func (a Addr) SinkAddr() (uint32, error) {
	if a.prefixLen < 96 {
		return 0, fmt.Errorf("ipv6addr: prefix len %d too short to determine sink address", a.prefixLen)
	}
	return binary.BigEndian.Uint32(a.b[8:12]), nil
}

// NodeAddr extracts the 32-bit mesh node address from bytes 12..16.
// Requires a prefix length of exactly 128.
func (a Addr) NodeAddr() (uint32, error) {
	if a.prefixLen != 128 {
		return 0, fmt.Errorf("ipv6addr: prefix len %d is not 128, cannot determine node address", a.prefixLen)
	}
	return binary.BigEndian.Uint32(a.b[12:16]), nil
}

// Prefix64 returns the leading 64 bits as a fresh Addr with prefix length 64
// and the trailing 64 bits zeroed, regardless of a's own prefix length.
func (a Addr) Prefix64() Addr {
	var out [16]byte
	copy(out[0:8], a.b[0:8])
	return Addr{b: out, prefixLen: 64}
}

// HasPrefix reports whether a's leading len(prefixBytes) bytes match
// prefixBytes exactly.
func (a Addr) HasPrefix(prefixBytes []byte) bool {
	if len(prefixBytes) > 16 {
		return false
	}
	for i, pb := range prefixBytes {
		if a.b[i] != pb {
			return false
		}
	}
	return true
}

// FromPrefixAndSink builds the /96 sink subnet address: prefix ∥ sinkAddr ∥ 0.
// prefix must have a prefix length of exactly 64.
func FromPrefixAndSink(prefix Addr, sinkAddr uint32) (Addr, error) {
	if prefix.prefixLen != 64 {
		return Addr{}, fmt.Errorf("ipv6addr: prefix %s is not /64", prefix)
	}
	b := prefix.b
	binary.BigEndian.PutUint32(b[8:12], sinkAddr)
	b[12], b[13], b[14], b[15] = 0, 0, 0, 0
	return Addr{b: b, prefixLen: 96}, nil
}

// FromPrefixSinkNode builds a full /128 host address: prefix ∥ sinkAddr ∥ nodeAddr.
// prefix must have a prefix length of exactly 64.
func FromPrefixSinkNode(prefix Addr, sinkAddr, nodeAddr uint32) (Addr, error) {
	if prefix.prefixLen != 64 {
		return Addr{}, fmt.Errorf("ipv6addr: prefix %s is not /64", prefix)
	}
	b := prefix.b
	binary.BigEndian.PutUint32(b[8:12], sinkAddr)
	binary.BigEndian.PutUint32(b[12:16], nodeAddr)
	return Addr{b: b, prefixLen: 128}, nil
}

// FromBytes wraps a raw 16-byte slice (e.g. the source/destination fields of
// an IPv6 header) as a host Addr with prefix length 128.
func FromBytes(raw []byte) (Addr, error) {
	if len(raw) < 16 {
		return Addr{}, fmt.Errorf("ipv6addr: need 16 bytes, got %d", len(raw))
	}
	var b [16]byte
	copy(b[:], raw[:16])
	return Addr{b: b, prefixLen: 128}, nil
}

// Parse parses a canonical IPv6 literal with an optional "/len" suffix
// (default 128). At most one "::" elision is accepted.
func Parse(s string) (Addr, error) {
	addrPart := s
	prefixLen := 128

	if idx := strings.IndexByte(s, '/'); idx >= 0 {
		addrPart = s[:idx]
		lenStr := s[idx+1:]
		n, err := strconv.Atoi(lenStr)
		if err != nil || n < 0 || n > 128 {
			return Addr{}, fmt.Errorf("ipv6addr: invalid prefix length %q", lenStr)
		}
		prefixLen = n
	}

	var groups []string
	if strings.Count(addrPart, "::") > 1 {
		return Addr{}, fmt.Errorf("ipv6addr: %q has more than one \"::\"", addrPart)
	}

	if strings.Contains(addrPart, "::") {
		halves := strings.SplitN(addrPart, "::", 2)
		left := splitGroups(halves[0])
		right := splitGroups(halves[1])
		zeroCount := 8 - len(left) - len(right)
		if zeroCount < 0 {
			return Addr{}, fmt.Errorf("ipv6addr: %q has too many groups", addrPart)
		}
		groups = make([]string, 0, 8)
		groups = append(groups, left...)
		for i := 0; i < zeroCount; i++ {
			groups = append(groups, "0")
		}
		groups = append(groups, right...)
	} else {
		groups = splitGroups(addrPart)
		if len(groups) != 8 {
			return Addr{}, fmt.Errorf("ipv6addr: %q does not have 8 groups and has no \"::\"", addrPart)
		}
	}

	var b [16]byte
	for i, g := range groups {
		v, err := strconv.ParseUint(g, 16, 32)
		if err != nil || v > 0xFFFF {
			return Addr{}, fmt.Errorf("ipv6addr: invalid group %q in %q", g, addrPart)
		}
		binary.BigEndian.PutUint16(b[i*2:i*2+2], uint16(v))
	}

	return New(b, prefixLen)
}

func splitGroups(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ":")
}

// String renders the address as 8 colon-separated 4-hex-digit groups,
// followed by "/len" when the prefix length is not 128.
func (a Addr) String() string {
	groups := make([]string, 8)
	for i := 0; i < 8; i++ {
		groups[i] = fmt.Sprintf("%04x", binary.BigEndian.Uint16(a.b[i*2:i*2+2]))
	}
	s := strings.Join(groups, ":")
	if a.prefixLen != 128 {
		s = fmt.Sprintf("%s/%d", s, a.prefixLen)
	}
	return s
}
