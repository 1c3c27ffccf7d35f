package raft

import (
	"fmt"
	"testing"
	"time"

	"github.com/lucasmdias/raftcore/pkg/rafttypes"
	"github.com/lucasmdias/raftcore/pkg/statemachine"
	"github.com/lucasmdias/raftcore/pkg/transport"
)

// testCluster wires N in-process Nodes over one transport.Local with fast
// timings so elections and replication settle in well under a second.
type testCluster struct {
	t     *testing.T
	tr    *transport.Local
	nodes []*Node
	kvs   []*statemachine.KV
}

func fastConfig(id uint64, addr string) Config {
	cfg := DefaultConfig(id, addr)
	cfg.ElectionTimeoutMin = 40 * time.Millisecond
	cfg.ElectionTimeoutMax = 80 * time.Millisecond
	cfg.HeartbeatInterval = 10 * time.Millisecond
	cfg.SnapshotInterval = 30 * time.Millisecond
	cfg.SnapshotLogLengthThreshold = 3
	cfg.MetadataFlushInterval = 5 * time.Millisecond
	return cfg
}

func newTestCluster(t *testing.T, n int) *testCluster {
	t.Helper()
	tr := transport.NewLocal()

	var servers []rafttypes.ServerInfo
	for i := 1; i <= n; i++ {
		servers = append(servers, rafttypes.ServerInfo{ServerID: uint64(i), ServerAddr: fmt.Sprintf("node-%d", i)})
	}

	c := &testCluster{t: t, tr: tr}
	for i := 1; i <= n; i++ {
		id := uint64(i)
		addr := fmt.Sprintf("node-%d", i)
		cfg := fastConfig(id, addr)
		cfg.DataDir = t.TempDir()
		cfg.SnapshotDir = cfg.DataDir

		kv := statemachine.NewKV()
		node, err := New(cfg, servers, tr, kv)
		if err != nil {
			t.Fatalf("New(node %d): %v", id, err)
		}
		c.nodes = append(c.nodes, node)
		c.kvs = append(c.kvs, kv)
	}
	return c
}

func (c *testCluster) start() {
	for _, n := range c.nodes {
		n.Start()
	}
	c.t.Cleanup(func() {
		for _, n := range c.nodes {
			n.Stop()
		}
	})
}

func (c *testCluster) waitForLeader(timeout time.Duration) *Node {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, n := range c.nodes {
			if n.IsLeader() {
				return n
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	c.t.Fatalf("no leader elected within %s", timeout)
	return nil
}

func (c *testCluster) waitForCommitIndex(index uint64, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		allCaughtUp := true
		for _, n := range c.nodes {
			if n.CommitIndex() < index {
				allCaughtUp = false
				break
			}
		}
		if allCaughtUp {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func (c *testCluster) propose(t *testing.T, leader *Node, cmd statemachine.Command) uint64 {
	t.Helper()
	payload, err := statemachine.EncodeCommand(cmd)
	if err != nil {
		t.Fatalf("EncodeCommand: %v", err)
	}
	index, resultCh, err := leader.Propose(payload)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	select {
	case res := <-resultCh:
		if res.Err != nil {
			t.Fatalf("apply result: %v", res.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("propose of index %d never applied", index)
	}
	return index
}
