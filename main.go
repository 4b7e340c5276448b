package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"wirepas-ipv6-bridge/internal/bridge"
	"wirepas-ipv6-bridge/internal/ipv6addr"
	"wirepas-ipv6-bridge/internal/meshsdk"
	"wirepas-ipv6-bridge/internal/statusui"
)

func main() {
	var (
		externalIface = flag.String("external-interface", envOrDefault("WM_IPV6_EXTERNAL_INTERFACE", "tap0"), "external IPv6 interface to bridge against")
		offMeshLit    = flag.String("off-mesh-service", os.Getenv("WM_IPV6_OFF_MESH_SERVICE"), "optional off-mesh service IPv6 literal, may include /prefixlen")
		logLevel      = flag.String("log-level", "info", "debug|info|warn|error")
		showUI        = flag.Bool("ui", false, "show a live terminal dashboard of sink status")
		refresh       = flag.Duration("refresh", 2*time.Second, "dashboard refresh interval")
	)
	flag.Parse()

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(*logLevel)})
	logger := slog.New(handler).With("component", "bridge")

	var offMesh *ipv6addr.Addr
	if *offMeshLit != "" {
		addr, err := ipv6addr.Parse(*offMeshLit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid off-mesh-service literal %q: %v\n", *offMeshLit, err)
			os.Exit(1)
		}
		offMesh = &addr
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	gateway := meshsdk.NewFakeGateway()
	b := bridge.New(gateway, bridge.Config{
		ExternalInterface: *externalIface,
		OffMeshService:    offMesh,
		Logger:            logger,
	})

	bridgeErrCh := make(chan error, 1)
	go func() {
		bridgeErrCh <- b.Run(ctx)
	}()

	logger.Info("bridge starting", "external_interface", *externalIface, "off_mesh_service", *offMeshLit, "ui", *showUI)

	if *showUI {
		m := statusui.New(b.Snapshot, *refresh)
		p := tea.NewProgram(m, tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "dashboard error: %v\n", err)
		}
		cancel()
	}

	if err := <-bridgeErrCh; err != nil && ctx.Err() == nil {
		logger.Error("bridge exited with error", "err", err)
		os.Exit(1)
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
