package bridge

import (
	"log/slog"
	"testing"

	"wirepas-ipv6-bridge/internal/appconfig"
	"wirepas-ipv6-bridge/internal/ipv6addr"
	"wirepas-ipv6-bridge/internal/meshsdk"
	"wirepas-ipv6-bridge/internal/netconfig"
)

func mustParseAddr(t *testing.T, s string) ipv6addr.Addr {
	t.Helper()
	a, err := ipv6addr.Parse(s)
	if err != nil {
		t.Fatalf("Parse(%q) failed: %v", s, err)
	}
	return a
}

func TestRewriteNetworkConfigBuildsFreshRecordWhenEmpty(t *testing.T) {
	prefix := mustParseAddr(t, "2001:db8:1:2::/64")

	out, err := rewriteNetworkConfig(nil, &prefix, nil)
	if err != nil {
		t.Fatalf("rewriteNetworkConfig: %v", err)
	}

	env, err := appconfig.Decode(out)
	if err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	raw, ok := env.Get(appconfig.NetworkPrefixEntryType)
	if !ok {
		t.Fatalf("envelope missing network prefix entry")
	}
	cfg, err := netconfig.Decode(raw)
	if err != nil {
		t.Fatalf("decode netconfig: %v", err)
	}
	if cfg.Nonce != 0 {
		t.Errorf("Nonce = %d, want 0", cfg.Nonce)
	}
	if cfg.Prefix == nil || cfg.Prefix.String() != prefix.String() {
		t.Errorf("Prefix = %v, want %v", cfg.Prefix, prefix)
	}
	if cfg.OffMeshService != nil {
		t.Errorf("OffMeshService = %v, want nil", cfg.OffMeshService)
	}
}

func TestRewriteNetworkConfigBumpsNonceOnExistingRecord(t *testing.T) {
	prefix := mustParseAddr(t, "2001:db8:1:2::/64")
	existing := netconfig.New(&prefix, nil)
	for i := 0; i < 7; i++ {
		existing.IncrementNonce()
	}

	env := appconfig.New()
	env.Set(appconfig.NetworkPrefixEntryType, existing.Encode())

	out, err := rewriteNetworkConfig(env.Bytes(), &prefix, nil)
	if err != nil {
		t.Fatalf("rewriteNetworkConfig: %v", err)
	}

	decoded, err := appconfig.Decode(out)
	if err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	raw, _ := decoded.Get(appconfig.NetworkPrefixEntryType)
	cfg, err := netconfig.Decode(raw)
	if err != nil {
		t.Fatalf("decode netconfig: %v", err)
	}
	if cfg.Nonce != 8 {
		t.Errorf("Nonce = %d, want 8", cfg.Nonce)
	}
}

func TestRewriteNetworkConfigPreservesOtherTLVEntries(t *testing.T) {
	prefix := mustParseAddr(t, "2001:db8:1:2::/64")

	env := appconfig.New()
	env.Set(200, []byte{0xaa, 0xbb})

	out, err := rewriteNetworkConfig(env.Bytes(), &prefix, nil)
	if err != nil {
		t.Fatalf("rewriteNetworkConfig: %v", err)
	}

	decoded, err := appconfig.Decode(out)
	if err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	v, ok := decoded.Get(200)
	if !ok {
		t.Fatalf("entry 200 lost on rewrite")
	}
	if len(v) != 2 || v[0] != 0xaa || v[1] != 0xbb {
		t.Errorf("entry 200 = %v, want [0xaa 0xbb]", v)
	}
}

// fakeNdpProxy records Add/Del calls without touching the OS.
type fakeNdpProxy struct {
	added   []ipv6addr.Addr
	removed []ipv6addr.Addr
}

func (p *fakeNdpProxy) Add(addr ipv6addr.Addr, dev string) error {
	p.added = append(p.added, addr)
	return nil
}

func (p *fakeNdpProxy) Del(addr ipv6addr.Addr, dev string) error {
	p.removed = append(p.removed, addr)
	return nil
}

func newTestSinkEndpoint(t *testing.T, sink meshsdk.Sink, proxy ndpProxy) *SinkEndpoint {
	t.Helper()
	prefix := mustParseAddr(t, "2001:db8:1:2::/64")
	subnet, err := ipv6addr.FromPrefixAndSink(prefix, 0x0a0b0c0d)
	if err != nil {
		t.Fatalf("FromPrefixAndSink: %v", err)
	}
	hostAddr, err := ipv6addr.FromPrefixSinkNode(prefix, 0x0a0b0c0d, 0)
	if err != nil {
		t.Fatalf("FromPrefixSinkNode: %v", err)
	}
	return &SinkEndpoint{
		sinkID:        sink.ID(),
		sink:          sink,
		sinkAddr:      0x0a0b0c0d,
		hostAddr:      hostAddr,
		subnet:        subnet,
		externalIface: "tap0",
		proxy:         proxy,
		log:           slog.Default(),
		ndpCache:      make(map[uint32]struct{}),
		wake:          make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
}

func TestAddNdpEntryIsIdempotent(t *testing.T) {
	gw := meshsdk.NewFakeGateway()
	sink := gw.AddSink("s0", meshsdk.SinkConfig{Started: true, NodeAddress: 0x0a0b0c0d})
	proxy := &fakeNdpProxy{}
	e := newTestSinkEndpoint(t, sink, proxy)

	if err := e.AddNdpEntry(2); err != nil {
		t.Fatalf("AddNdpEntry: %v", err)
	}
	if err := e.AddNdpEntry(2); err != nil {
		t.Fatalf("AddNdpEntry (second call): %v", err)
	}

	if len(proxy.added) != 1 {
		t.Fatalf("proxy.Add called %d times, want 1", len(proxy.added))
	}
	want := mustParseAddr(t, "2001:db8:1:2:0a0b:0c0d:0000:0002")
	if proxy.added[0].String() != want.String() {
		t.Errorf("added address = %v, want %v", proxy.added[0], want)
	}
}

func TestRemoveNdpEntryNoopForAbsentNode(t *testing.T) {
	gw := meshsdk.NewFakeGateway()
	sink := gw.AddSink("s0", meshsdk.SinkConfig{Started: true, NodeAddress: 0x0a0b0c0d})
	proxy := &fakeNdpProxy{}
	e := newTestSinkEndpoint(t, sink, proxy)

	e.RemoveNdpEntry(99)

	if len(proxy.removed) != 0 {
		t.Errorf("proxy.Del called %d times for absent node, want 0", len(proxy.removed))
	}
}

func TestRemoveNdpEntryDeletesCachedNode(t *testing.T) {
	gw := meshsdk.NewFakeGateway()
	sink := gw.AddSink("s0", meshsdk.SinkConfig{Started: true, NodeAddress: 0x0a0b0c0d})
	proxy := &fakeNdpProxy{}
	e := newTestSinkEndpoint(t, sink, proxy)

	if err := e.AddNdpEntry(3); err != nil {
		t.Fatalf("AddNdpEntry: %v", err)
	}
	e.RemoveNdpEntry(3)

	if len(proxy.removed) != 1 {
		t.Fatalf("proxy.Del called %d times, want 1", len(proxy.removed))
	}
	if _, ok := e.ndpCache[3]; ok {
		t.Errorf("node 3 still present in cache after remove")
	}
}

func TestSendDataUsesFixedEndpointsAndQoS(t *testing.T) {
	gw := meshsdk.NewFakeGateway()
	sink := gw.AddSink("s0", meshsdk.SinkConfig{Started: true, NodeAddress: 0x0a0b0c0d})
	e := newTestSinkEndpoint(t, sink, &fakeNdpProxy{})

	payload := []byte{1, 2, 3, 4}
	if err := e.SendData(7, payload); err != nil {
		t.Fatalf("SendData: %v", err)
	}

	sent := sink.Sent()
	if len(sent) != 1 {
		t.Fatalf("Sent() = %d frames, want 1", len(sent))
	}
	f := sent[0]
	if f.DstNode != 7 || f.SrcEP != 66 || f.DstEP != 66 || f.QoS != 1 || f.HopLimit != 0 {
		t.Errorf("frame = %+v, want dst=7 src_ep=66 dst_ep=66 qos=1 hop=0", f)
	}
	if string(f.Payload) != string(payload) {
		t.Errorf("Payload = %v, want %v", f.Payload, payload)
	}
}
