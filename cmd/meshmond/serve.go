package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"google.golang.org/grpc"

	"github.com/rippleFCL/meshmon/config"
	"github.com/rippleFCL/meshmon/eventlog"
	"github.com/rippleFCL/meshmon/pulsewave"
	"github.com/rippleFCL/meshmon/pulsewave/metrics"
	"github.com/rippleFCL/meshmon/pulsewave/transport"
)

// run loads every network this node participates in from nodeCfgPath,
// brings up a StoreManager for them, and serves the Transport service
// on listenAddr until ctx is canceled. Grounded on the teacher's
// cmd/ployzd rootCmd RunE (build the manager, start the server, block
// on ctx), generalized from ployzd's single unix-socket control API to
// one TCP listener multiplexing every loaded network's peer streams.
func run(ctx context.Context, dataRoot, nodeCfgPath, listenAddr string) error {
	nodeCfg, err := config.LoadNodeCfg(nodeCfgPath)
	if err != nil {
		return fmt.Errorf("load node config %s: %w", nodeCfgPath, err)
	}

	events := eventlog.New()
	recorder, err := metrics.New(otel.Meter("meshmond"))
	if err != nil {
		return fmt.Errorf("build metrics recorder: %w", err)
	}

	mgr := pulsewave.NewStoreManager(filepath.Join(dataRoot, "keys")).WithMetrics(recorder)

	var links []transport.PeerLink
	var dialTargets []struct {
		link transport.PeerLink
		url  string
	}
	var loaded int
	for _, netEntry := range nodeCfg.Networks {
		if netEntry.ConfigType == config.ConfigGit {
			events.Record(eventlog.ID{Source: "meshmond", NetworkID: netEntry.Directory}, eventlog.TypeWarning,
				"git-backed network config unsupported", "config_type git has no loader in this build; skipping", time.Now())
			continue
		}

		netDir := filepath.Join(dataRoot, netEntry.Directory)
		root, err := config.LoadNetworkRootConfig(filepath.Join(netDir, "config.yml"))
		if err != nil {
			events.Record(eventlog.ID{Source: "meshmond", NetworkID: netEntry.Directory}, eventlog.TypeError,
				"failed to load network config", err.Error(), time.Now())
			continue
		}

		netCfg, err := config.ResolveNetworkConfig(*root, netEntry.NodeID, config.Defaults{})
		if err != nil {
			events.Record(eventlog.ID{Source: "meshmond", NetworkID: root.NetworkID}, eventlog.TypeError,
				"failed to resolve network config", err.Error(), time.Now())
			continue
		}

		if err := mgr.LoadNetwork(netCfg, filepath.Join(netDir, "pubkeys")); err != nil {
			events.Record(eventlog.ID{Source: "meshmond", NetworkID: netCfg.NetworkID}, eventlog.TypeError,
				"failed to load network", err.Error(), time.Now())
			continue
		}
		loaded++

		for _, peer := range netCfg.Nodes {
			if peer.NodeID == netCfg.NodeID {
				continue
			}
			link := transport.PeerLink{DestNodeID: peer.NodeID, NetworkID: netCfg.NetworkID, SrcNodeID: netCfg.NodeID}
			links = append(links, link)
			if peer.URL != "" {
				dialTargets = append(dialTargets, struct {
					link transport.PeerLink
					url  string
				}{link, peer.URL})
			}
		}
	}
	if loaded == 0 {
		return fmt.Errorf("no networks loaded from %s", nodeCfgPath)
	}
	mgr.Reload(links)

	dialer := transport.NewDialer(mgr, mgr, mgr.Connections()).WithMetrics(recorder)
	for _, target := range dialTargets {
		dialer.EnsureConnected(ctx, target.link, target.url)
	}
	defer dialer.Stop()

	server := transport.NewServer(mgr, mgr, mgr.Connections()).WithMetrics(recorder)

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", listenAddr, err)
	}

	grpcSrv := grpc.NewServer()
	transport.RegisterTransportServer(grpcSrv, server)

	go func() {
		<-ctx.Done()
		grpcSrv.GracefulStop()
	}()
	go mgr.Run(ctx)

	slog.Info("meshmond listening", "addr", listenAddr, "networks", loaded)
	if err := grpcSrv.Serve(ln); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
