package registry

import (
	"bytes"
	"context"
	"slices"
	"sync"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// memStore is an in-memory Client covering the calls the registry makes.
// Unused methods of the embedded interfaces panic.
type memStore struct {
	clientv3.KV
	clientv3.Lease

	mu        sync.Mutex
	data      map[string]string
	leaseOf   map[string]clientv3.LeaseID
	nextLease clientv3.LeaseID
	keptAlive map[clientv3.LeaseID]bool
}

func newMemStore() *memStore {
	return &memStore{
		data:      make(map[string]string),
		leaseOf:   make(map[string]clientv3.LeaseID),
		keptAlive: make(map[clientv3.LeaseID]bool),
	}
}

func (m *memStore) putLocked(key, val string, lease clientv3.LeaseID) {
	m.data[key] = val
	if lease != 0 {
		m.leaseOf[key] = lease
	} else {
		delete(m.leaseOf, key)
	}
}

// Put binds the key to the latest granted lease when any option is given;
// WithLease is the only option the registry passes.
func (m *memStore) Put(_ context.Context, key, val string, opts ...clientv3.OpOption) (*clientv3.PutResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var lease clientv3.LeaseID
	if len(opts) > 0 {
		lease = m.nextLease
	}
	m.putLocked(key, val, lease)
	return &clientv3.PutResponse{}, nil
}

func (m *memStore) Get(_ context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error) {
	op := clientv3.OpGet(key, opts...)
	end := op.RangeBytes()

	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.data {
		kb := []byte(k)
		if len(end) == 0 {
			if k == key {
				keys = append(keys, k)
			}
			continue
		}
		if bytes.Compare(kb, op.KeyBytes()) >= 0 && bytes.Compare(kb, end) < 0 {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	resp := &clientv3.GetResponse{Count: int64(len(keys))}
	for _, k := range keys {
		resp.Kvs = append(resp.Kvs, &mvccpb.KeyValue{Key: []byte(k), Value: []byte(m.data[k])})
	}
	return resp, nil
}

func (m *memStore) Txn(context.Context) clientv3.Txn { return &memTxn{store: m} }

func (m *memStore) Grant(_ context.Context, ttl int64) (*clientv3.LeaseGrantResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextLease++
	return &clientv3.LeaseGrantResponse{ID: m.nextLease, TTL: ttl}, nil
}

func (m *memStore) KeepAlive(ctx context.Context, id clientv3.LeaseID) (<-chan *clientv3.LeaseKeepAliveResponse, error) {
	m.mu.Lock()
	m.keptAlive[id] = true
	m.mu.Unlock()
	ch := make(chan *clientv3.LeaseKeepAliveResponse)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (m *memStore) Revoke(_ context.Context, id clientv3.LeaseID) (*clientv3.LeaseRevokeResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, l := range m.leaseOf {
		if l == id {
			delete(m.data, k)
			delete(m.leaseOf, k)
		}
	}
	return &clientv3.LeaseRevokeResponse{}, nil
}

func (m *memStore) value(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

type memTxn struct {
	store *memStore
	ops   []clientv3.Op
}

func (t *memTxn) If(...clientv3.Cmp) clientv3.Txn { return t }

func (t *memTxn) Then(ops ...clientv3.Op) clientv3.Txn {
	t.ops = append(t.ops, ops...)
	return t
}

func (t *memTxn) Else(...clientv3.Op) clientv3.Txn { return t }

func (t *memTxn) Commit() (*clientv3.TxnResponse, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for _, op := range t.ops {
		if op.IsPut() {
			t.store.putLocked(string(op.KeyBytes()), string(op.ValueBytes()), 0)
		}
	}
	return &clientv3.TxnResponse{Succeeded: true}, nil
}
