package registry

import (
	"context"
	"errors"
	"slices"
	"testing"

	"go.etcd.io/etcd/api/v3/mvccpb"

	"github.com/ryandielhenn/zephyrmesh/pkg/gossip"
	"github.com/ryandielhenn/zephyrmesh/pkg/topology"
)

func kv(k, v string) *mvccpb.KeyValue {
	return &mvccpb.KeyValue{Key: []byte(k), Value: []byte(v)}
}

func TestParseKVs(t *testing.T) {
	kvs := []*mvccpb.KeyValue{
		kv("/zephyrmesh/nodes/1", "10.0.0.1:7000"),
		kv("/zephyrmesh/nodes/2", "10.0.0.2:7000"),
		kv("/zephyrmesh/nodes/3", "10.0.0.3:7000"),
		kv("/zephyrmesh/edges/1", "2"),
		kv("/zephyrmesh/edges/2", "1 3"),
		kv("/zephyrmesh/edges/3", "2"),
		kv("/zephyrmesh/leader", "ignored"),
	}
	g, err := ParseKVs("/zephyrmesh/", kvs)
	if err != nil {
		t.Fatalf("ParseKVs: %v", err)
	}
	v, err := g.View(2)
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	want := []gossip.Member{{ID: 1, Addr: "10.0.0.1:7000"}, {ID: 3, Addr: "10.0.0.3:7000"}}
	if !slices.Equal(v.ActiveNeighbors(), want) {
		t.Fatalf("neighbors = %v, want %v", v.ActiveNeighbors(), want)
	}
}

func TestParseKVsRejectsBadData(t *testing.T) {
	cases := map[string][]*mvccpb.KeyValue{
		"empty":      nil,
		"bad id":     {kv("/zephyrmesh/nodes/x", "a:1")},
		"bad edges":  {kv("/zephyrmesh/nodes/1", "a:1"), kv("/zephyrmesh/edges/1", "two")},
		"asymmetric": {kv("/zephyrmesh/nodes/1", "a:1"), kv("/zephyrmesh/nodes/2", "b:1"), kv("/zephyrmesh/edges/1", "2")},
	}
	for name, kvs := range cases {
		if _, err := ParseKVs(DefaultPrefix, kvs); !errors.Is(err, topology.ErrMalformed) {
			t.Fatalf("%s: err = %v, want ErrMalformed", name, err)
		}
	}
}

func TestKeyLayoutRoundTrips(t *testing.T) {
	g := topology.Ring(5, topology.MemAddr)
	adj := g.Adjacency()

	var kvs []*mvccpb.KeyValue
	for _, id := range g.IDs() {
		addr, _ := g.Addr(id)
		kvs = append(kvs, kv(nodeKey(DefaultPrefix, id), addr), kv(edgeKey(DefaultPrefix, id), formatIDs(adj[id])))
	}
	back, err := ParseKVs(DefaultPrefix, kvs)
	if err != nil {
		t.Fatalf("ParseKVs: %v", err)
	}
	for id, ns := range back.Adjacency() {
		if !slices.Equal(ns, adj[id]) {
			t.Fatalf("node %d neighbors = %v, want %v", id, ns, adj[id])
		}
	}
}

func TestPublishThenLoad(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	g := topology.Grid(3, 2, topology.MemAddr)
	if err := PublishTopology(ctx, store, DefaultPrefix, g); err != nil {
		t.Fatalf("PublishTopology: %v", err)
	}
	if v, ok := store.value("/zephyrmesh/edges/5"); !ok || v != "2 4 6" {
		t.Fatalf("edges/5 = %q, %v", v, ok)
	}
	back, err := LoadTopology(ctx, store, DefaultPrefix)
	if err != nil {
		t.Fatalf("LoadTopology: %v", err)
	}
	if back.Len() != 6 {
		t.Fatalf("loaded %d nodes, want 6", back.Len())
	}
}

func TestLoadTopologyEmptyPrefix(t *testing.T) {
	if _, err := LoadTopology(context.Background(), newMemStore(), DefaultPrefix); !errors.Is(err, topology.ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
}

func TestRevokedRegistrationKeepsPublishedTopology(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	g := topology.Line(3, topology.MemAddr)
	if err := PublishTopology(ctx, store, DefaultPrefix, g); err != nil {
		t.Fatalf("PublishTopology: %v", err)
	}

	lease, cancel, err := RegisterNode(ctx, store, DefaultPrefix, 2, "10.0.0.2:7000", 10)
	if err != nil {
		t.Fatalf("RegisterNode: %v", err)
	}
	if v, ok := store.value("/zephyrmesh/members/2"); !ok || v != "10.0.0.2:7000" {
		t.Fatalf("members/2 = %q, %v", v, ok)
	}
	if v, _ := store.value("/zephyrmesh/nodes/2"); v != "node2" {
		t.Fatalf("registration rewrote nodes/2 to %q", v)
	}
	if _, err := LoadTopology(ctx, store, DefaultPrefix); err != nil {
		t.Fatalf("LoadTopology with a live member: %v", err)
	}

	cancel()
	if _, err := store.Revoke(ctx, lease); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, ok := store.value("/zephyrmesh/members/2"); ok {
		t.Fatalf("membership survived the revoked lease")
	}
	back, err := LoadTopology(ctx, store, DefaultPrefix)
	if err != nil {
		t.Fatalf("LoadTopology after revoke: %v", err)
	}
	view, err := back.View(2)
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	want := []gossip.Member{{ID: 1, Addr: "node1"}, {ID: 3, Addr: "node3"}}
	if !slices.Equal(view.ActiveNeighbors(), want) {
		t.Fatalf("neighbors = %v, want %v", view.ActiveNeighbors(), want)
	}
}
