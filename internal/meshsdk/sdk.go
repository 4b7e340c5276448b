// Package meshsdk describes the mesh SDK contract the bridge consumes.
// The real SDK — sink manager, gateway transport, event loop — is an
// external collaborator (a Wirepas gateway client, reached over its own
// transport); this package only defines the interfaces the bridge core
// and sink endpoint are written against, plus a small in-memory fake
// used by tests and by the demo wiring in main.
package meshsdk

import (
	"context"
	"time"
)

// WirepasIPv6Endpoint is the mesh application endpoint the bridge sends
// and receives on, on both source and destination.
const WirepasIPv6Endpoint = 66

// SinkConfig is the subset of a sink's current configuration the bridge
// reads.
type SinkConfig struct {
	Started       bool
	NodeAddress   uint32
	AppConfigData []byte
	AppConfigDiag uint32
}

// SinkConfigUpdate is written back to a sink via WriteConfig.
type SinkConfigUpdate struct {
	AppConfigData []byte
	AppConfigSeq  uint8
	AppConfigDiag uint32
}

// Sink is a single mesh gateway radio, identified by an opaque id.
type Sink interface {
	ID() string
	ReadConfig() (SinkConfig, error)
	WriteConfig(SinkConfigUpdate) error
	SendData(dstNode uint32, srcEP, dstEP byte, qos, hopLimit int, payload []byte, releaseRequired bool, initialDelay time.Duration) error
}

// SinkManager enumerates and looks up sinks by id.
type SinkManager interface {
	GetSinks() []Sink
	GetSink(id string) (Sink, bool)
}

// DataIndication is a mesh-to-host data frame delivered by the SDK's
// on_data_received event.
type DataIndication struct {
	SinkID     string
	Timestamp  time.Time
	SrcNode    uint32
	DstNode    uint32
	SrcEP      byte
	DstEP      byte
	TravelTime time.Duration
	QoS        int
	HopCount   int
	Data       []byte
}

// EventHandlers are the lifecycle and data callbacks the bridge core
// registers with the gateway's event loop.
type EventHandlers struct {
	OnSinkConnected    func(sinkID string)
	OnSinkDisconnected func(sinkID string)
	OnStackStarted     func(sinkID string)
	OnStackStopped     func(sinkID string)
	OnDataReceived     func(DataIndication)
}

// Gateway is the full mesh SDK surface the bridge core depends on: a
// sink manager plus an event loop that delivers lifecycle and data
// events to the registered handlers until ctx is done.
type Gateway interface {
	SinkManager
	Run(ctx context.Context, handlers EventHandlers) error
}
