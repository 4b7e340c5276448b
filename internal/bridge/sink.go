package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"wirepas-ipv6-bridge/internal/appconfig"
	"wirepas-ipv6-bridge/internal/ipv6addr"
	"wirepas-ipv6-bridge/internal/meshsdk"
	"wirepas-ipv6-bridge/internal/netconfig"
	"wirepas-ipv6-bridge/internal/netiface"
)

// ErrStackNotStarted is returned by attachSink when the sink's stack has not
// reported started == true yet. The bridge core treats this as retryable:
// a later stack_started event triggers another attach attempt.
var ErrStackNotStarted = errors.New("bridge: sink stack not started")

const (
	listenerPort    = 6666
	broadcastNode   = 0xFFFFFFFF
	wirepasIPv6EP   = meshsdk.WirepasIPv6Endpoint
	sendQoS         = 1
	sendHopLimit    = 0
	udpReadBufBytes = 2048
)

// ndpProxy abstracts the OS façade's proxy-NDP calls so SinkEndpoint can
// be exercised in tests without a real network namespace. netifaceProxy
// below is the production implementation.
type ndpProxy interface {
	Add(addr ipv6addr.Addr, dev string) error
	Del(addr ipv6addr.Addr, dev string) error
}

type netifaceProxy struct{}

func (netifaceProxy) Add(addr ipv6addr.Addr, dev string) error { return netiface.NdpProxyAdd(addr, dev) }
func (netifaceProxy) Del(addr ipv6addr.Addr, dev string) error { return netiface.NdpProxyDel(addr, dev) }

// SinkEndpoint is the per-sink worker: it owns a UDP listener used only
// to observe traffic and learn NDP peers, and a cache of node addresses
// currently installed as proxy-NDP entries on the external interface.
type SinkEndpoint struct {
	sinkID   string
	sink     meshsdk.Sink
	sinkAddr uint32

	hostAddr ipv6addr.Addr // prefix ∥ sinkAddr ∥ 0, prefix length 128
	subnet   ipv6addr.Addr // prefix ∥ sinkAddr, prefix length 96

	externalIface string
	proxy         ndpProxy
	log           *slog.Logger

	mu       sync.Mutex
	ndpCache map[uint32]struct{}

	conn    *net.UDPConn
	wake    chan struct{}
	done    chan struct{}
	running bool
}

// attachSink reads the sink's current config, rewrites its TLV 66
// entry, derives the sink's host address and subnet, seeds the
// broadcast NDP entry, and starts the listener, returning a ready
// SinkEndpoint.
func attachSink(ctx context.Context, sink meshsdk.Sink, nwPrefix, offMesh *ipv6addr.Addr, externalIface string, log *slog.Logger) (*SinkEndpoint, error) {
	return attachSinkWithProxy(ctx, sink, nwPrefix, offMesh, externalIface, netifaceProxy{}, log)
}

func attachSinkWithProxy(ctx context.Context, sink meshsdk.Sink, nwPrefix, offMesh *ipv6addr.Addr, externalIface string, proxy ndpProxy, log *slog.Logger) (*SinkEndpoint, error) {
	cfg, err := sink.ReadConfig()
	if err != nil {
		return nil, fmt.Errorf("bridge: read sink %s config: %w", sink.ID(), err)
	}
	if !cfg.Started {
		return nil, ErrStackNotStarted
	}

	updated, err := rewriteNetworkConfig(cfg.AppConfigData, nwPrefix, offMesh)
	if err != nil {
		return nil, fmt.Errorf("bridge: rewrite network config for sink %s: %w", sink.ID(), err)
	}
	if err := sink.WriteConfig(meshsdk.SinkConfigUpdate{
		AppConfigData: updated,
		AppConfigSeq:  0,
		AppConfigDiag: cfg.AppConfigDiag,
	}); err != nil {
		return nil, fmt.Errorf("bridge: write sink %s config: %w", sink.ID(), err)
	}

	hostAddr, err := ipv6addr.FromPrefixSinkNode(*nwPrefix, cfg.NodeAddress, 0)
	if err != nil {
		return nil, fmt.Errorf("bridge: derive host address for sink %s: %w", sink.ID(), err)
	}
	subnet, err := ipv6addr.FromPrefixAndSink(*nwPrefix, cfg.NodeAddress)
	if err != nil {
		return nil, fmt.Errorf("bridge: derive subnet for sink %s: %w", sink.ID(), err)
	}

	e := &SinkEndpoint{
		sinkID:        sink.ID(),
		sink:          sink,
		sinkAddr:      cfg.NodeAddress,
		hostAddr:      hostAddr,
		subnet:        subnet,
		externalIface: externalIface,
		proxy:         proxy,
		log:           log,
		ndpCache:      make(map[uint32]struct{}),
		wake:          make(chan struct{}, 1),
		done:          make(chan struct{}),
	}

	if err := e.AddNdpEntry(broadcastNode); err != nil {
		return nil, fmt.Errorf("bridge: seed broadcast ndp entry for sink %s: %w", sink.ID(), err)
	}

	if err := e.startListener(); err != nil {
		return nil, fmt.Errorf("bridge: start listener for sink %s: %w", sink.ID(), err)
	}

	return e, nil
}

// rewriteNetworkConfig performs the TLV read-modify-write: decode the
// existing app_config_data as a TLV envelope, try to decode entry 66 as
// a NetworkConfig, patch it (or build a fresh one on any decode
// failure), bump its nonce, and re-encode.
func rewriteNetworkConfig(appConfigData []byte, nwPrefix, offMesh *ipv6addr.Addr) ([]byte, error) {
	env, err := appconfig.Decode(appConfigData)
	if err != nil {
		env = appconfig.New()
	}

	var cfg *netconfig.NetworkConfig
	if raw, ok := env.Get(appconfig.NetworkPrefixEntryType); ok {
		if decoded, err := netconfig.Decode(raw); err == nil {
			cfg = decoded
			cfg.Prefix = nwPrefix
			if offMesh != nil {
				cfg.OffMeshService = offMesh
			}
			cfg.IncrementNonce()
		}
	}
	if cfg == nil {
		cfg = netconfig.New(nwPrefix, offMesh)
	}

	env.Set(appconfig.NetworkPrefixEntryType, cfg.Encode())
	return env.Bytes(), nil
}

// startListener binds a UDP socket to the sink's host address on
// listenerPort and spawns the read loop that learns NDP peers from
// observed traffic.
func (e *SinkEndpoint) startListener() error {
	b := e.hostAddr.Bytes()
	addr := &net.UDPAddr{IP: net.IP(b[:]), Port: listenerPort}
	conn, err := net.ListenUDP("udp6", addr)
	if err != nil {
		return fmt.Errorf("listen udp6 %s:%d: %w", e.hostAddr, listenerPort, err)
	}
	e.conn = conn
	e.running = true

	go e.listenLoop()
	return nil
}

// listenLoop multiplexes between the UDP socket and the wakeup channel.
// Since net.UDPConn has no select-style dual wait, shutdown is signaled
// by closing the connection, which unblocks the pending ReadFromUDP with
// a use-of-closed-connection error; the wake channel distinguishes that
// from a genuine I/O failure.
func (e *SinkEndpoint) listenLoop() {
	defer close(e.done)
	buf := make([]byte, udpReadBufBytes)
	for {
		_, src, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-e.wake:
				return
			default:
				e.log.Debug("sink listener read error", "sink", e.sinkID, "err", err)
				return
			}
		}

		srcAddr, err := ipv6addr.FromBytes(src.IP.To16())
		if err != nil {
			continue
		}
		node, err := srcAddr.NodeAddr()
		if err != nil {
			continue
		}

		if err := e.AddNdpEntry(node); err != nil {
			e.log.Warn("add ndp entry from listener traffic failed", "sink", e.sinkID, "node", node, "err", err)
		}
	}
}

// AddNdpEntry installs a proxy-NDP entry for node if it is not already
// cached. Idempotent.
func (e *SinkEndpoint) AddNdpEntry(node uint32) error {
	e.mu.Lock()
	if _, ok := e.ndpCache[node]; ok {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	addr, err := ipv6addr.FromPrefixSinkNode(e.subnet.Prefix64(), e.sinkAddr, node)
	if err != nil {
		return fmt.Errorf("derive address for node %d: %w", node, err)
	}
	if err := e.proxy.Add(addr, e.externalIface); err != nil {
		return err
	}

	e.mu.Lock()
	e.ndpCache[node] = struct{}{}
	e.mu.Unlock()
	return nil
}

// RemoveNdpEntry mirrors AddNdpEntry. A remove for an absent node is a
// logged no-op, not an error.
func (e *SinkEndpoint) RemoveNdpEntry(node uint32) {
	e.mu.Lock()
	_, ok := e.ndpCache[node]
	if ok {
		delete(e.ndpCache, node)
	}
	e.mu.Unlock()

	if !ok {
		e.log.Debug("remove ndp entry for node not in cache", "sink", e.sinkID, "node", node)
		return
	}

	addr, err := ipv6addr.FromPrefixSinkNode(e.subnet.Prefix64(), e.sinkAddr, node)
	if err != nil {
		e.log.Warn("derive address for ndp removal failed", "sink", e.sinkID, "node", node, "err", err)
		return
	}
	if err := e.proxy.Del(addr, e.externalIface); err != nil {
		e.log.Warn("ndp proxy del failed", "sink", e.sinkID, "node", node, "err", err)
	}
}

// Stop shuts down the listener and removes every cached NDP proxy entry.
func (e *SinkEndpoint) Stop() {
	e.mu.Lock()
	running := e.running
	e.running = false
	e.mu.Unlock()

	if running {
		select {
		case e.wake <- struct{}{}:
		default:
		}
		_ = e.conn.Close()
		<-e.done
	}

	e.mu.Lock()
	nodes := make([]uint32, 0, len(e.ndpCache))
	for node := range e.ndpCache {
		nodes = append(nodes, node)
	}
	e.mu.Unlock()

	for _, node := range nodes {
		e.RemoveNdpEntry(node)
	}
}

// SendData forwards payload to the mesh node addressed by node, with
// both endpoints set to WIREPAS_IPV6_EP, QoS 1, no hop limit override,
// no release responsibility taken.
func (e *SinkEndpoint) SendData(node uint32, payload []byte) error {
	return e.sink.SendData(node, wirepasIPv6EP, wirepasIPv6EP, sendQoS, sendHopLimit, payload, false, 0)
}

// HostAddr returns the sink's host IPv6 address (node index 0).
func (e *SinkEndpoint) HostAddr() ipv6addr.Addr { return e.hostAddr }

// Subnet returns the sink's /96 IPv6 subnet.
func (e *SinkEndpoint) Subnet() ipv6addr.Addr { return e.subnet }

// SinkID returns the sink's SDK id.
func (e *SinkEndpoint) SinkID() string { return e.sinkID }

// NdpCacheSize returns the number of nodes currently cached as proxy-NDP
// entries for this sink.
func (e *SinkEndpoint) NdpCacheSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.ndpCache)
}
