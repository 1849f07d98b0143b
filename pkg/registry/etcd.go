// Package registry keeps zephyrmesh topologies in etcd: nodes register their
// address under a lease, and a whole topology can be published to or loaded
// from a key prefix.
//
// Layout under a prefix P:
//
//	P/nodes/<id>    -> host:port (published topology, permanent)
//	P/edges/<id>    -> space separated neighbor ids (published topology)
//	P/members/<id>  -> host:port of a running node, bound to its lease
package registry

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/ryandielhenn/zephyrmesh/pkg/gossip"
	"github.com/ryandielhenn/zephyrmesh/pkg/topology"
)

const DefaultPrefix = "/zephyrmesh"

// Client is the part of *clientv3.Client the registry needs.
type Client interface {
	clientv3.KV
	clientv3.Lease
}

func NewClient(endpoints []string) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
}

func nodeKey(prefix string, id gossip.NodeID) string {
	return fmt.Sprintf("%s/nodes/%d", strings.TrimSuffix(prefix, "/"), id)
}

func memberKey(prefix string, id gossip.NodeID) string {
	return fmt.Sprintf("%s/members/%d", strings.TrimSuffix(prefix, "/"), id)
}

func edgeKey(prefix string, id gossip.NodeID) string {
	return fmt.Sprintf("%s/edges/%d", strings.TrimSuffix(prefix, "/"), id)
}

// RegisterNode announces a running node under P/members/<id> with a lease of
// ttl seconds and keeps the lease alive until the returned cancel func is
// called. The published topology is never touched, so revoking the lease
// only removes the membership entry.
func RegisterNode(ctx context.Context, cli Client, prefix string, id gossip.NodeID, addr string, ttl int64) (clientv3.LeaseID, context.CancelFunc, error) {
	lease, err := cli.Grant(ctx, ttl)
	if err != nil {
		return 0, nil, fmt.Errorf("grant lease: %w", err)
	}
	if _, err := cli.Put(ctx, memberKey(prefix, id), addr, clientv3.WithLease(lease.ID)); err != nil {
		return 0, nil, fmt.Errorf("register node %d: %w", id, err)
	}

	kctx, cancel := context.WithCancel(context.Background())
	ch, err := cli.KeepAlive(kctx, lease.ID)
	if err != nil {
		cancel()
		return 0, nil, fmt.Errorf("keepalive: %w", err)
	}
	go func() {
		for range ch {
		}
	}()
	return lease.ID, cancel, nil
}

// PublishTopology writes every host and adjacency list of g under prefix.
func PublishTopology(ctx context.Context, cli clientv3.KV, prefix string, g *topology.Graph) error {
	adj := g.Adjacency()
	ops := make([]clientv3.Op, 0, 2*len(adj))
	for _, id := range g.IDs() {
		addr, _ := g.Addr(id)
		ops = append(ops,
			clientv3.OpPut(nodeKey(prefix, id), addr),
			clientv3.OpPut(edgeKey(prefix, id), formatIDs(adj[id])),
		)
	}
	if _, err := cli.Txn(ctx).Then(ops...).Commit(); err != nil {
		return fmt.Errorf("publish topology: %w", err)
	}
	return nil
}

// LoadTopology reads the topology stored under prefix.
func LoadTopology(ctx context.Context, cli clientv3.KV, prefix string) (*topology.Graph, error) {
	resp, err := cli.Get(ctx, strings.TrimSuffix(prefix, "/")+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("load topology: %w", err)
	}
	return ParseKVs(prefix, resp.Kvs)
}

// ParseKVs builds a graph from the key-values found under prefix.
func ParseKVs(prefix string, kvs []*mvccpb.KeyValue) (*topology.Graph, error) {
	root := strings.TrimSuffix(prefix, "/") + "/"
	g := topology.NewGraph()
	edges := make(map[gossip.NodeID][]gossip.NodeID)
	for _, kv := range kvs {
		rest, ok := strings.CutPrefix(string(kv.Key), root)
		if !ok {
			continue
		}
		kind, idStr, ok := strings.Cut(rest, "/")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(idStr)
		if err != nil {
			return nil, fmt.Errorf("%w: key %q", topology.ErrMalformed, kv.Key)
		}
		id := gossip.NodeID(n)
		switch kind {
		case "nodes":
			g.AddHost(id, string(kv.Value))
		case "edges":
			ids, err := parseIDs(string(kv.Value))
			if err != nil {
				return nil, fmt.Errorf("%w: key %q: %v", topology.ErrMalformed, kv.Key, err)
			}
			edges[id] = ids
		}
	}
	for id, ns := range edges {
		g.SetNeighbors(id, ns)
	}
	if g.Len() == 0 {
		return nil, fmt.Errorf("%w: no nodes under %s", topology.ErrMalformed, root)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func formatIDs(ids []gossip.NodeID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(int(id))
	}
	return strings.Join(parts, " ")
}

func parseIDs(s string) ([]gossip.NodeID, error) {
	fields := strings.Fields(s)
	out := make([]gossip.NodeID, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, err
		}
		out = append(out, gossip.NodeID(n))
	}
	return out, nil
}
