// Package appconfig implements the generic TLV envelope carried in a
// Wirepas sink's app_config_data blob. Each entry is a 1-byte type, a
// 1-byte length, and that many bytes of value. The bridge owns entry
// type 66 (NetworkPrefixEntryType); all other entries are preserved
// verbatim on read-modify-write.
package appconfig

import "fmt"

// NetworkPrefixEntryType is the TLV type the bridge owns inside the
// app_config_data envelope.
const NetworkPrefixEntryType = 66

// Envelope is a decoded sequence of TLV entries, keyed by type. Order of
// entries not owned by the bridge is preserved across Decode/Bytes.
type Envelope struct {
	order   []byte
	entries map[byte][]byte
}

// New returns an empty envelope.
func New() *Envelope {
	return &Envelope{entries: make(map[byte][]byte)}
}

// Decode parses a type-length-value byte string. A malformed envelope
// (truncated entry) is reported as an error so the caller can fall back to
// a fresh envelope.
func Decode(b []byte) (*Envelope, error) {
	e := New()
	index := 0
	for index < len(b) {
		if index+2 > len(b) {
			return nil, fmt.Errorf("appconfig: truncated entry header at offset %d", index)
		}
		typ := b[index]
		length := int(b[index+1])
		if index+2+length > len(b) {
			return nil, fmt.Errorf("appconfig: truncated entry value at offset %d", index)
		}
		value := make([]byte, length)
		copy(value, b[index+2:index+2+length])
		e.order = append(e.order, typ)
		e.entries[typ] = value
		index += 2 + length
	}
	return e, nil
}

// Get returns the value stored for the given entry type.
func (e *Envelope) Get(typ byte) ([]byte, bool) {
	v, ok := e.entries[typ]
	return v, ok
}

// Set stores (or replaces) the value for the given entry type, appending it
// to the encoding order if it is new.
func (e *Envelope) Set(typ byte, value []byte) {
	if _, exists := e.entries[typ]; !exists {
		e.order = append(e.order, typ)
	}
	e.entries[typ] = value
}

// Bytes re-encodes the envelope in its current entry order.
func (e *Envelope) Bytes() []byte {
	out := make([]byte, 0, len(e.order)*4)
	for _, typ := range e.order {
		v := e.entries[typ]
		out = append(out, typ, byte(len(v)))
		out = append(out, v...)
	}
	return out
}
