package config

import (
	"errors"
	"testing"

	"github.com/rippleFCL/meshmon/pulsewave/errs"
)

func TestResolveNetworkConfigAppliesDefaults(t *testing.T) {
	root := NetworkRootConfig{
		NetworkID: "net-1",
		NodeConfig: []NodeInfo{
			{NodeID: "a", URL: "a.example:9000"},
			{NodeID: "b", URL: "b.example:9000", PollRate: 30, Retry: 5},
		},
		Monitors: []Monitor{
			{Name: "ping-a", Type: MonitorPing, Host: "a.example"},
		},
	}
	defaults := Defaults{NodePollRate: 10, NodeRetry: 2, MonitorInterval: 15, MonitorRetry: 3}

	nc, err := ResolveNetworkConfig(root, "a", defaults)
	if err != nil {
		t.Fatalf("ResolveNetworkConfig: %v", err)
	}

	a, ok := nc.NodeByID("a")
	if !ok || a.PollRate != 10 || a.Retry != 2 {
		t.Fatalf("expected defaults applied to node a, got %+v ok=%v", a, ok)
	}
	b, ok := nc.NodeByID("b")
	if !ok || b.PollRate != 30 || b.Retry != 5 {
		t.Fatalf("expected explicit values preserved for node b, got %+v ok=%v", b, ok)
	}
	if len(nc.Monitors) != 1 || nc.Monitors[0].Interval != 15 || nc.Monitors[0].Retry != 3 {
		t.Fatalf("expected monitor defaults applied, got %+v", nc.Monitors)
	}
}

func TestResolveNetworkConfigRejectsUnknownLocalNode(t *testing.T) {
	root := NetworkRootConfig{
		NetworkID:  "net-1",
		NodeConfig: []NodeInfo{{NodeID: "a"}},
	}
	_, err := ResolveNetworkConfig(root, "ghost", Defaults{})
	if err == nil {
		t.Fatal("expected error for a local node id absent from node_config")
	}
	if !errors.Is(err, errs.ConfigInvalid) {
		t.Fatalf("expected errs.ConfigInvalid, got %v", err)
	}
}

type namesPreprocessor struct{}

func (namesPreprocessor) Preprocess(cfg *Config) ([]string, bool) {
	if cfg == nil {
		return nil, false
	}
	names := make([]string, 0, len(cfg.Networks))
	for id := range cfg.Networks {
		names = append(names, id)
	}
	return names, true
}

func TestMemoryBusPublishNotifiesWatchers(t *testing.T) {
	bus := NewMemoryBus()
	if bus.Loaded() {
		t.Fatal("expected a fresh bus to report unloaded")
	}

	watcher, ok := Subscribe[[]string](bus, namesPreprocessor{})
	if ok {
		t.Fatal("expected Subscribe against an unloaded bus to fail")
	}
	if watcher != nil {
		t.Fatal("expected a nil watcher on failed subscribe")
	}

	bus.Publish(&Config{Networks: map[string]*NetworkConfig{"net-1": {NetworkID: "net-1"}}})
	if !bus.Loaded() {
		t.Fatal("expected bus to report loaded after Publish")
	}

	watcher, ok = Subscribe[[]string](bus, namesPreprocessor{})
	if !ok {
		t.Fatal("expected Subscribe against a loaded bus to succeed")
	}

	var notified []string
	watcher.Subscribe(func(names []string) { notified = names })

	bus.Publish(&Config{Networks: map[string]*NetworkConfig{"net-1": {}, "net-2": {}}})
	if len(notified) != 2 {
		t.Fatalf("expected subscriber to be notified of 2 networks, got %v", notified)
	}
	if len(watcher.Current()) != 2 {
		t.Fatalf("expected watcher.Current to report 2 networks, got %v", watcher.Current())
	}
}

type rejectAfterFirst struct{ calls int }

func (r *rejectAfterFirst) Preprocess(cfg *Config) (int, bool) {
	r.calls++
	if r.calls > 1 {
		return 0, false
	}
	return len(cfg.Networks), true
}

func TestMemoryBusDropsWatcherWhenPreprocessorRejects(t *testing.T) {
	bus := NewMemoryBus()
	bus.Publish(&Config{Networks: map[string]*NetworkConfig{"net-1": {}}})

	pp := &rejectAfterFirst{}
	watcher, ok := Subscribe[int](bus, pp)
	if !ok {
		t.Fatal("expected initial subscribe to succeed")
	}

	called := false
	watcher.Subscribe(func(int) { called = true })

	bus.Publish(&Config{Networks: map[string]*NetworkConfig{"net-1": {}, "net-2": {}}})
	if called {
		t.Fatal("expected watcher to be dropped, not notified, on rejection")
	}
}
