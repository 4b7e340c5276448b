// Package netconfig implements the versioned, nonce-stamped
// network-configuration record distributed to sinks through the
// application-configuration channel.
package netconfig

import (
	"fmt"

	"wirepas-ipv6-bridge/internal/ipv6addr"
)

// Version is the only supported wire version of NetworkConfig.
const Version = 0

const (
	selectorPrefix  = 0x00
	selectorOffMesh = 0x80
	selectorMask    = 0x80
)

// NetworkConfig is the decoded record: a 4-bit version, a 4-bit cycling
// nonce, an optional /64 network prefix and an optional /128 off-mesh
// service address.
type NetworkConfig struct {
	Nonce          uint8
	Prefix         *ipv6addr.Addr
	OffMeshService *ipv6addr.Addr
}

// New builds a fresh record with nonce 0.
func New(prefix, offMesh *ipv6addr.Addr) *NetworkConfig {
	return &NetworkConfig{Prefix: prefix, OffMeshService: offMesh}
}

// IncrementNonce advances the nonce modulo 16 and returns the receiver for
// chaining.
func (c *NetworkConfig) IncrementNonce() *NetworkConfig {
	c.Nonce = (c.Nonce + 1) % 16
	return c
}

// Decode parses the binary layout: a version/nonce header byte followed
// by one or more selector-prefixed entries.
func Decode(b []byte) (*NetworkConfig, error) {
	if len(b) < 1 {
		return nil, fmt.Errorf("netconfig: empty record")
	}

	version := (b[0] & 0xf0) >> 4
	if version != Version {
		return nil, fmt.Errorf("netconfig: unsupported version %d", version)
	}
	nonce := b[0] & 0x0f

	cfg := &NetworkConfig{Nonce: nonce}

	index := 1
	for index < len(b) {
		selector := b[index]
		isOffMesh := selector&selectorMask != 0

		if !isOffMesh {
			if index+9 > len(b) {
				return nil, fmt.Errorf("netconfig: truncated prefix entry at offset %d", index)
			}
			if cfg.Prefix != nil {
				return nil, fmt.Errorf("netconfig: multiple prefix entries not supported")
			}
			var raw [16]byte
			copy(raw[0:8], b[index+1:index+9])
			prefix, err := ipv6addr.New(raw, 64)
			if err != nil {
				return nil, err
			}
			cfg.Prefix = &prefix
			index += 9
		} else {
			if index+17 > len(b) {
				return nil, fmt.Errorf("netconfig: truncated off-mesh entry at offset %d", index)
			}
			if cfg.OffMeshService != nil {
				return nil, fmt.Errorf("netconfig: multiple off-mesh entries not supported")
			}
			offMesh, err := ipv6addr.FromBytes(b[index+1 : index+17])
			if err != nil {
				return nil, err
			}
			cfg.OffMeshService = &offMesh
			index += 17
		}
	}

	return cfg, nil
}

// Encode serializes the record: header byte, then the prefix entry (if
// set) followed by the off-mesh entry (if set).
func (c *NetworkConfig) Encode() []byte {
	out := make([]byte, 0, 1+9+17)
	out = append(out, (Version<<4)|(c.Nonce&0x0f))

	if c.Prefix != nil {
		out = append(out, selectorPrefix)
		prefixBytes := c.Prefix.Bytes()
		out = append(out, prefixBytes[0:8]...)
	}
	if c.OffMeshService != nil {
		out = append(out, selectorOffMesh)
		offBytes := c.OffMeshService.Bytes()
		out = append(out, offBytes[:]...)
	}

	return out
}
