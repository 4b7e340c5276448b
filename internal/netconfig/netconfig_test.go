package netconfig

import (
	"bytes"
	"testing"

	"wirepas-ipv6-bridge/internal/ipv6addr"
)

func mustParse(t *testing.T, s string) ipv6addr.Addr {
	t.Helper()
	a, err := ipv6addr.Parse(s)
	if err != nil {
		t.Fatalf("Parse(%q): %v", s, err)
	}
	return a
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	prefix := mustParse(t, "2001:db8:1:2::/64")
	offMesh := mustParse(t, "2001:db8:1:2:a:b:c:d/128")

	cfg := New(&prefix, &offMesh)
	cfg.Nonce = 7

	encoded := cfg.Encode()
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if decoded.Nonce != 7 {
		t.Errorf("Nonce = %d, want 7", decoded.Nonce)
	}
	if decoded.Prefix == nil || *decoded.Prefix != prefix {
		t.Errorf("Prefix = %v, want %v", decoded.Prefix, prefix)
	}
	if decoded.OffMeshService == nil || *decoded.OffMeshService != offMesh {
		t.Errorf("OffMeshService = %v, want %v", decoded.OffMeshService, offMesh)
	}

	if !bytes.Equal(encoded, decoded.Encode()) {
		t.Errorf("re-encoding mismatch")
	}
}

func TestDecodePrefixOnly(t *testing.T) {
	prefix := mustParse(t, "2001:db8:1:2::/64")
	cfg := New(&prefix, nil)

	decoded, err := Decode(cfg.Encode())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.OffMeshService != nil {
		t.Errorf("OffMeshService should be nil")
	}
	if decoded.Prefix == nil || *decoded.Prefix != prefix {
		t.Errorf("Prefix mismatch")
	}
}

func TestIncrementNonceWraps(t *testing.T) {
	cfg := &NetworkConfig{Nonce: 15}
	cfg.IncrementNonce()
	if cfg.Nonce != 0 {
		t.Errorf("Nonce after wrap = %d, want 0", cfg.Nonce)
	}
}

func TestDecodeEmptyFails(t *testing.T) {
	if _, err := Decode(nil); err == nil {
		t.Fatal("expected error decoding empty record")
	}
}

func TestDecodeWrongVersionFails(t *testing.T) {
	b := []byte{0x10} // version 1, nonce 0
	if _, err := Decode(b); err == nil {
		t.Fatal("expected error decoding version != 0")
	}
}

func TestDecodeTruncatedPrefixFails(t *testing.T) {
	b := []byte{0x00, 0x00, 0x01, 0x02}
	if _, err := Decode(b); err == nil {
		t.Fatal("expected error decoding truncated prefix entry")
	}
}

func TestDecodeDuplicatePrefixFails(t *testing.T) {
	prefix := mustParse(t, "2001:db8:1:2::/64")
	cfg := New(&prefix, nil)
	b := cfg.Encode()
	b = append(b, cfg.Encode()[1:]...) // append a second prefix entry
	if _, err := Decode(b); err == nil {
		t.Fatal("expected error decoding duplicate prefix entry")
	}
}

func TestEncodeOrdersPrefixBeforeOffMesh(t *testing.T) {
	prefix := mustParse(t, "2001:db8:1:2::/64")
	offMesh := mustParse(t, "2001:db8:1:2:a:b:c:d/128")
	cfg := New(&prefix, &offMesh)

	b := cfg.Encode()
	if b[1] != selectorPrefix {
		t.Errorf("first entry selector = %#x, want prefix selector", b[1])
	}
	if b[1+9] != selectorOffMesh {
		t.Errorf("second entry selector = %#x, want off-mesh selector", b[1+9])
	}
}
