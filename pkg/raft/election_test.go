package raft

import (
	"context"
	"testing"
	"time"

	"github.com/lucasmdias/raftcore/pkg/rafttypes"
)

func TestSingleNodeClusterBecomesLeaderImmediately(t *testing.T) {
	c := newTestCluster(t, 1)
	c.start()
	leader := c.waitForLeader(500 * time.Millisecond)
	if leader.ID() != 1 {
		t.Fatalf("expected node 1 to be leader, got %d", leader.ID())
	}
}

func TestThreeNodeClusterElectsExactlyOneLeader(t *testing.T) {
	c := newTestCluster(t, 3)
	c.start()
	c.waitForLeader(2 * time.Second)

	time.Sleep(100 * time.Millisecond)
	leaders := 0
	for _, n := range c.nodes {
		if n.IsLeader() {
			leaders++
		}
	}
	if leaders != 1 {
		t.Fatalf("expected exactly one leader, found %d", leaders)
	}
}

func TestClusterReelectsAfterLeaderStops(t *testing.T) {
	c := newTestCluster(t, 3)
	c.start()
	first := c.waitForLeader(2 * time.Second)
	firstID := first.ID()
	first.Stop()

	deadline := time.Now().Add(3 * time.Second)
	var second *Node
	for time.Now().Before(deadline) {
		for _, n := range c.nodes {
			if n.ID() != firstID && n.IsLeader() {
				second = n
			}
		}
		if second != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if second == nil {
		t.Fatal("no new leader elected after the original leader stopped")
	}
}

func TestLeaderStepsDownOnHigherTermAppendEntries(t *testing.T) {
	c := newTestCluster(t, 1)
	c.start()
	leader := c.waitForLeader(500 * time.Millisecond)

	req := &rafttypes.AppendEntriesRequest{
		Term:     leader.CurrentTerm() + 5,
		LeaderID: 999,
	}
	resp := leader.HandleAppendEntries(context.Background(), req)
	if !resp.Success {
		t.Fatalf("expected success, got %+v", resp)
	}
	if leader.IsLeader() {
		t.Fatal("node should have stepped down after observing a higher term")
	}
	if leader.CurrentTerm() != resp.Term {
		t.Fatalf("expected term to advance to %d, got %d", resp.Term, leader.CurrentTerm())
	}
}
