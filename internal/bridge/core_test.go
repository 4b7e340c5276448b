package bridge

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"testing"

	"wirepas-ipv6-bridge/internal/ipv6addr"
	"wirepas-ipv6-bridge/internal/meshsdk"
)

func testPacket(t *testing.T, nextHeader byte, dst string) []byte {
	t.Helper()
	dstAddr := mustParseAddr(t, dst)
	pkt := make([]byte, 40)
	pkt[6] = nextHeader
	db := dstAddr.Bytes()
	copy(pkt[24:40], db[:])
	return pkt
}

func newTestBridge(t *testing.T) (*Bridge, *meshsdk.FakeGateway) {
	t.Helper()
	gw := meshsdk.NewFakeGateway()
	b := New(gw, Config{ExternalInterface: "tap0", Logger: slog.Default()})
	b.nwPrefix = mustParseAddr(t, "2001:db8:1:2::/64")
	return b, gw
}

func TestForwardOutboundSendsToOwningSink(t *testing.T) {
	b, gw := newTestBridge(t)
	sink := gw.AddSink("s0", meshsdk.SinkConfig{Started: true, NodeAddress: 0x0a0b0c0d})
	e := newTestSinkEndpoint(t, sink, &fakeNdpProxy{})
	b.table.put(e)

	pkt := testPacket(t, nextHeaderUDP, "2001:db8:1:2:0a0b:0c0d:0000:0001")
	b.forwardOutbound(pkt)

	sent := sink.Sent()
	if len(sent) != 1 {
		t.Fatalf("Sent() = %d frames, want 1", len(sent))
	}
	if sent[0].DstNode != 1 {
		t.Errorf("DstNode = %d, want 1", sent[0].DstNode)
	}
	if !bytes.Equal(sent[0].Payload, pkt) {
		t.Errorf("forwarded payload does not match the original packet bytes")
	}
}

func TestForwardOutboundDropsMulticast(t *testing.T) {
	b, gw := newTestBridge(t)
	sink := gw.AddSink("s0", meshsdk.SinkConfig{Started: true, NodeAddress: 0x0a0b0c0d})
	e := newTestSinkEndpoint(t, sink, &fakeNdpProxy{})
	b.table.put(e)

	pkt := testPacket(t, nextHeaderUDP, "ff02::1")
	b.forwardOutbound(pkt)

	if len(sink.Sent()) != 0 {
		t.Errorf("Sent() = %d frames, want 0 for multicast destination", len(sink.Sent()))
	}
}

func TestForwardOutboundDropsUnsupportedNextHeader(t *testing.T) {
	b, gw := newTestBridge(t)
	sink := gw.AddSink("s0", meshsdk.SinkConfig{Started: true, NodeAddress: 0x0a0b0c0d})
	e := newTestSinkEndpoint(t, sink, &fakeNdpProxy{})
	b.table.put(e)

	pkt := testPacket(t, 6, "2001:db8:1:2:0a0b:0c0d:0000:0001") // TCP
	b.forwardOutbound(pkt)

	if len(sink.Sent()) != 0 {
		t.Errorf("Sent() = %d frames, want 0 for unsupported next header", len(sink.Sent()))
	}
}

func TestForwardOutboundDropsWhenNoSinkMatches(t *testing.T) {
	b, _ := newTestBridge(t)

	pkt := testPacket(t, nextHeaderUDP, "2001:db8:1:2:ffff:ffff:0000:0001")
	b.forwardOutbound(pkt) // must not panic with an empty table
}

func TestOnDataReceivedWritesToTunAndLearnsNdp(t *testing.T) {
	b, gw := newTestBridge(t)
	sink := gw.AddSink("s0", meshsdk.SinkConfig{Started: true, NodeAddress: 0x0a0b0c0d})
	proxy := &fakeNdpProxy{}
	e := newTestSinkEndpoint(t, sink, proxy)
	b.table.put(e)

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()
	b.tun = w

	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	b.onDataReceived(meshsdk.DataIndication{
		SinkID:  "s0",
		SrcNode: 2,
		DstNode: 0,
		SrcEP:   meshsdk.WirepasIPv6Endpoint,
		DstEP:   meshsdk.WirepasIPv6Endpoint,
		Data:    payload,
	})
	w.Close()

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("tun write = %v, want %v", got, payload)
	}
	if len(proxy.added) != 1 {
		t.Fatalf("proxy.Add called %d times, want 1", len(proxy.added))
	}
}

func TestOnDataReceivedIgnoresWrongEndpoint(t *testing.T) {
	b, gw := newTestBridge(t)
	sink := gw.AddSink("s0", meshsdk.SinkConfig{Started: true, NodeAddress: 0x0a0b0c0d})
	proxy := &fakeNdpProxy{}
	e := newTestSinkEndpoint(t, sink, proxy)
	b.table.put(e)

	b.onDataReceived(meshsdk.DataIndication{
		SinkID: "s0",
		SrcEP:  1,
		DstEP:  meshsdk.WirepasIPv6Endpoint,
		Data:   []byte{1},
	})

	if len(proxy.added) != 0 {
		t.Errorf("proxy.Add called for a non-matching endpoint pair")
	}
}

func TestIsLinkLocalMulticast(t *testing.T) {
	cases := []struct {
		addr string
		want bool
	}{
		{"ff02::1", true},
		{"ff02::2", true},
		{"2001:db8::1", false},
		{"ff01::1", false},
	}
	for _, tc := range cases {
		a, err := ipv6addr.Parse(tc.addr)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tc.addr, err)
		}
		if got := isLinkLocalMulticast(a); got != tc.want {
			t.Errorf("isLinkLocalMulticast(%q) = %v, want %v", tc.addr, got, tc.want)
		}
	}
}
