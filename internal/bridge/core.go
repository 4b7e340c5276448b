package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"wirepas-ipv6-bridge/internal/ipv6addr"
	"wirepas-ipv6-bridge/internal/meshsdk"
	"wirepas-ipv6-bridge/internal/netiface"
	"wirepas-ipv6-bridge/internal/statusui"
)

const (
	tunDeviceName  = "tun_wirepas"
	tunOwnerUser   = "wirepas"
	tunRouteMetric = 1
	tunReadBufSize = 2048

	nextHeaderUDP    = 17
	nextHeaderICMPv6 = 58
)

// Config configures a Bridge.
type Config struct {
	ExternalInterface string
	OffMeshService    *ipv6addr.Addr // optional
	Logger            *slog.Logger
}

// Bridge is the bridge core: it owns the TUN device and the sink table,
// reacts to mesh SDK lifecycle events, and forwards IPv6 traffic in
// both directions.
type Bridge struct {
	cfg      Config
	gateway  meshsdk.Gateway
	log      *slog.Logger
	table    *sinkTable
	nwPrefix ipv6addr.Addr
	tun      *os.File
}

// New constructs a Bridge against the given mesh gateway.
func New(gateway meshsdk.Gateway, cfg Config) *Bridge {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Bridge{
		cfg:     cfg,
		gateway: gateway,
		log:     cfg.Logger,
		table:   newSinkTable(),
	}
}

// Run recreates the TUN device, discovers the external prefix, installs
// the default route, starts the mesh SDK event loop, and attaches every
// sink already known to the gateway. It then blocks until ctx is
// canceled, at which point every attached sink is torn down and the TUN
// device is closed.
func (b *Bridge) Run(ctx context.Context) error {
	if err := netiface.TunDestroy(tunDeviceName); err != nil {
		return fmt.Errorf("bridge: remove stale tun device: %w", err)
	}
	if err := netiface.TunCreate(tunDeviceName, tunOwnerUser); err != nil {
		return fmt.Errorf("bridge: create tun device: %w", err)
	}
	if err := netiface.TunUp(tunDeviceName); err != nil {
		return fmt.Errorf("bridge: bring up tun device: %w", err)
	}
	tun, err := netiface.TunOpen(tunDeviceName)
	if err != nil {
		return fmt.Errorf("bridge: open tun device: %w", err)
	}
	b.tun = tun

	prefix, err := netiface.DiscoverExternalPrefix(ctx, b.cfg.ExternalInterface)
	if err != nil {
		return fmt.Errorf("bridge: discover external prefix: %w", err)
	}
	b.nwPrefix = prefix
	b.log.Info("discovered external prefix", "prefix", prefix, "interface", b.cfg.ExternalInterface)

	if err := netiface.RouteReplace(prefix, b.cfg.ExternalInterface); err != nil {
		return fmt.Errorf("bridge: install external route: %w", err)
	}

	sdkDone := make(chan error, 1)
	go func() {
		sdkDone <- b.gateway.Run(ctx, meshsdk.EventHandlers{
			OnSinkConnected:    b.handleAttachEvent,
			OnStackStarted:     b.handleAttachEvent,
			OnSinkDisconnected: b.handleDetachEvent,
			OnStackStopped:     b.handleDetachEvent,
			OnDataReceived:     b.onDataReceived,
		})
	}()

	for _, sink := range b.gateway.GetSinks() {
		b.addSinkEntry(ctx, sink)
	}

	err = b.readLoop(ctx)

	for _, e := range b.table.list() {
		b.detachSink(e)
	}
	_ = b.tun.Close()

	if sdkErr := <-sdkDone; sdkErr != nil && err == nil && ctx.Err() == nil {
		err = sdkErr
	}
	return err
}

func (b *Bridge) handleAttachEvent(sinkID string) {
	sink, ok := b.gateway.GetSink(sinkID)
	if !ok {
		b.log.Warn("attach event for unknown sink", "sink", sinkID)
		return
	}
	b.addSinkEntry(context.Background(), sink)
}

func (b *Bridge) handleDetachEvent(sinkID string) {
	e, ok := b.table.removeByID(sinkID)
	if !ok {
		b.log.Debug("detach for unknown sink", "sink", sinkID)
		return
	}
	b.teardownSink(e)
}

// addSinkEntry attaches a sink: it reads and rewrites the sink's TLV
// config, installs the sink's subnet route and host address on the TUN
// device, and records the sink in the table. A sink whose stack is not
// yet started is dropped silently; the stack_started event retries.
func (b *Bridge) addSinkEntry(ctx context.Context, sink meshsdk.Sink) {
	if _, ok := b.table.getByID(sink.ID()); ok {
		b.log.Debug("re-attach of already-attached sink, refreshing config only", "sink", sink.ID())
		cfg, err := sink.ReadConfig()
		if err == nil && !cfg.Started {
			err = ErrStackNotStarted
		}
		var updated []byte
		if err == nil {
			updated, err = rewriteNetworkConfig(cfg.AppConfigData, &b.nwPrefix, b.cfg.OffMeshService)
		}
		if err == nil {
			err = sink.WriteConfig(meshsdk.SinkConfigUpdate{AppConfigData: updated, AppConfigSeq: 0, AppConfigDiag: cfg.AppConfigDiag})
		}
		if err != nil {
			b.log.Warn("refresh on re-attach failed", "sink", sink.ID(), "err", err)
		}
		return
	}

	e, err := attachSink(ctx, sink, &b.nwPrefix, b.cfg.OffMeshService, b.cfg.ExternalInterface, b.log)
	if err != nil {
		if errors.Is(err, ErrStackNotStarted) {
			b.log.Debug("sink stack not started, will retry on stack_started", "sink", sink.ID())
			return
		}
		b.log.Warn("attach sink failed", "sink", sink.ID(), "err", err)
		return
	}

	if err := netiface.RouteAdd(e.Subnet(), tunDeviceName, tunRouteMetric); err != nil {
		b.log.Warn("install sink subnet route failed", "sink", sink.ID(), "err", err)
	}
	if err := netiface.AddrAdd(e.HostAddr(), tunDeviceName); err != nil {
		b.log.Warn("assign sink host address failed", "sink", sink.ID(), "err", err)
	}

	b.table.put(e)
	b.log.Info("sink attached", "sink", sink.ID(), "subnet", e.Subnet())
}

// teardownSink removes a sink's subnet route and host address, stops its
// endpoint, and logs the detach. The caller is responsible for evicting
// the sink from the table; a detach for an unknown sink is a logged
// no-op handled before reaching here.
func (b *Bridge) teardownSink(e *SinkEndpoint) {
	if err := netiface.RouteDel(e.Subnet(), tunDeviceName); err != nil {
		b.log.Warn("remove sink subnet route failed", "sink", e.SinkID(), "err", err)
	}
	if err := netiface.AddrDel(e.HostAddr(), tunDeviceName); err != nil {
		b.log.Warn("remove sink host address failed", "sink", e.SinkID(), "err", err)
	}
	e.Stop()
	b.log.Info("sink detached", "sink", e.SinkID())
}

func (b *Bridge) detachSink(e *SinkEndpoint) {
	b.table.removeByID(e.SinkID())
	b.teardownSink(e)
}

// onDataReceived handles a mesh-to-host frame: it refreshes the sink's
// NDP proxy cache for the originating node and writes the payload
// verbatim to the TUN device.
func (b *Bridge) onDataReceived(ind meshsdk.DataIndication) {
	if ind.SrcEP != meshsdk.WirepasIPv6Endpoint || ind.DstEP != meshsdk.WirepasIPv6Endpoint {
		return
	}

	e, ok := b.table.getByID(ind.SinkID)
	if !ok {
		b.log.Warn("data received for unknown sink", "sink", ind.SinkID)
		return
	}

	if err := e.AddNdpEntry(ind.SrcNode); err != nil {
		b.log.Warn("add ndp entry on inbound traffic failed", "sink", ind.SinkID, "node", ind.SrcNode, "err", err)
	}

	if _, err := b.tun.Write(ind.Data); err != nil {
		b.log.Warn("write inbound packet to tun failed", "sink", ind.SinkID, "err", err)
	}
}

// readLoop is the outbound datapath: it runs on the calling goroutine,
// reading the TUN device in a tight loop until ctx is done or the
// device is closed.
func (b *Bridge) readLoop(ctx context.Context) error {
	buf := make([]byte, tunReadBufSize)
	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := b.tun.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("bridge: read tun: %w", err)
		}

		b.forwardOutbound(buf[:n])
	}
}

func (b *Bridge) forwardOutbound(packet []byte) {
	if len(packet) < 40 {
		return
	}

	nextHeader := packet[6]
	if nextHeader != nextHeaderUDP && nextHeader != nextHeaderICMPv6 {
		return
	}

	dst, err := ipv6addr.FromBytes(packet[24:40])
	if err != nil {
		return
	}
	if isLinkLocalMulticast(dst) {
		return
	}

	sinkAddr, err := dst.SinkAddr()
	if err != nil {
		return
	}
	nodeAddr, err := dst.NodeAddr()
	if err != nil {
		return
	}

	e, ok := b.table.getByAddr(sinkAddr)
	if !ok {
		b.log.Warn("no sink for outbound packet", "sink_addr", sinkAddr)
		return
	}

	if err := e.SendData(nodeAddr, packet); err != nil {
		b.log.Warn("send data to mesh failed", "sink", e.SinkID(), "node", nodeAddr, "err", err)
	}
}

func isLinkLocalMulticast(a ipv6addr.Addr) bool {
	b := a.Bytes()
	return b[0] == 0xff && b[1] == 0x02
}

// Snapshot returns the current sink table as dashboard rows, for the
// optional status UI.
func (b *Bridge) Snapshot() []statusui.SinkRow {
	entries := b.table.list()
	rows := make([]statusui.SinkRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, statusui.SinkRow{
			SinkID:    e.SinkID(),
			Subnet:    e.Subnet().String(),
			HostAddr:  e.HostAddr().String(),
			NdpCached: e.NdpCacheSize(),
		})
	}
	return rows
}
