package meshsdk

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SentFrame records one SendData call against a FakeSink, for test
// assertions.
type SentFrame struct {
	DstNode         uint32
	SrcEP, DstEP    byte
	QoS, HopLimit   int
	Payload         []byte
	ReleaseRequired bool
	InitialDelay    time.Duration
}

// FakeSink is an in-memory stand-in for a real Wirepas sink handle.
type FakeSink struct {
	mu   sync.Mutex
	id   string
	cfg  SinkConfig
	sent []SentFrame
}

func newFakeSink(id string, cfg SinkConfig) *FakeSink {
	return &FakeSink{id: id, cfg: cfg}
}

func (s *FakeSink) ID() string { return s.id }

func (s *FakeSink) ReadConfig() (SinkConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, nil
}

func (s *FakeSink) WriteConfig(u SinkConfigUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.AppConfigData = u.AppConfigData
	s.cfg.AppConfigDiag = u.AppConfigDiag
	return nil
}

func (s *FakeSink) SendData(dstNode uint32, srcEP, dstEP byte, qos, hopLimit int, payload []byte, releaseRequired bool, initialDelay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, SentFrame{
		DstNode:         dstNode,
		SrcEP:           srcEP,
		DstEP:           dstEP,
		QoS:             qos,
		HopLimit:        hopLimit,
		Payload:         append([]byte(nil), payload...),
		ReleaseRequired: releaseRequired,
		InitialDelay:    initialDelay,
	})
	return nil
}

// Sent returns a snapshot of every frame sent through this sink.
func (s *FakeSink) Sent() []SentFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SentFrame(nil), s.sent...)
}

// SetStarted updates whether the sink reports its stack as started.
func (s *FakeSink) SetStarted(started bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Started = started
}

// FakeGateway is an in-memory Gateway used by tests and by the demo
// wiring in main when no real Wirepas gateway transport is configured.
// It is not a substitute for the real SDK — see the package doc comment.
type FakeGateway struct {
	mu       sync.Mutex
	sinks    map[string]*FakeSink
	handlers EventHandlers
}

// NewFakeGateway returns an empty fake gateway.
func NewFakeGateway() *FakeGateway {
	return &FakeGateway{sinks: make(map[string]*FakeSink)}
}

// AddSink registers a sink with the given id and initial configuration,
// without firing any lifecycle callback.
func (g *FakeGateway) AddSink(id string, cfg SinkConfig) *FakeSink {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := newFakeSink(id, cfg)
	g.sinks[id] = s
	return s
}

func (g *FakeGateway) GetSinks() []Sink {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Sink, 0, len(g.sinks))
	for _, s := range g.sinks {
		out = append(out, s)
	}
	return out
}

func (g *FakeGateway) GetSink(id string) (Sink, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sinks[id]
	if !ok {
		return nil, false
	}
	return s, true
}

// Run registers handlers and blocks until ctx is done.
func (g *FakeGateway) Run(ctx context.Context, handlers EventHandlers) error {
	g.mu.Lock()
	g.handlers = handlers
	g.mu.Unlock()

	<-ctx.Done()
	return ctx.Err()
}

func (g *FakeGateway) handlersSnapshot() EventHandlers {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.handlers
}

// FireSinkConnected simulates the SDK's on_sink_connected event.
func (g *FakeGateway) FireSinkConnected(id string) {
	if h := g.handlersSnapshot().OnSinkConnected; h != nil {
		h(id)
	}
}

// FireSinkDisconnected simulates the SDK's on_sink_disconnected event.
func (g *FakeGateway) FireSinkDisconnected(id string) {
	if h := g.handlersSnapshot().OnSinkDisconnected; h != nil {
		h(id)
	}
}

// FireStackStarted simulates the SDK's on_stack_started event.
func (g *FakeGateway) FireStackStarted(id string) {
	if h := g.handlersSnapshot().OnStackStarted; h != nil {
		h(id)
	}
}

// FireStackStopped simulates the SDK's on_stack_stopped event.
func (g *FakeGateway) FireStackStopped(id string) {
	if h := g.handlersSnapshot().OnStackStopped; h != nil {
		h(id)
	}
}

// FireDataReceived simulates the SDK's on_data_received event.
func (g *FakeGateway) FireDataReceived(ind DataIndication) error {
	h := g.handlersSnapshot().OnDataReceived
	if h == nil {
		return fmt.Errorf("meshsdk: no data handler registered")
	}
	h(ind)
	return nil
}

var _ Gateway = (*FakeGateway)(nil)
