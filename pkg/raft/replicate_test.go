package raft

import (
	"testing"
	"time"

	"github.com/lucasmdias/raftcore/pkg/statemachine"
)

func TestProposedCommandReplicatesToEveryStore(t *testing.T) {
	c := newTestCluster(t, 3)
	c.start()
	leader := c.waitForLeader(2 * time.Second)

	cmd := statemachine.Command{Type: statemachine.CommandSet, Key: "k1", Value: []byte("v1"), ClientID: "client-a", RequestID: 1}
	c.propose(t, leader, cmd)

	if !c.waitForCommitIndex(leader.CommitIndex(), 2*time.Second) {
		t.Fatal("not every replica caught up to the leader's commit index")
	}

	for i, kv := range c.kvs {
		value, ok := kv.Get("k1")
		if !ok {
			t.Fatalf("store %d: key not found", i)
		}
		if string(value) != "v1" {
			t.Fatalf("store %d: expected v1, got %s", i, value)
		}
	}
}

func TestNonLeaderRejectsPropose(t *testing.T) {
	c := newTestCluster(t, 3)
	c.start()
	leader := c.waitForLeader(2 * time.Second)

	for _, n := range c.nodes {
		if n.ID() == leader.ID() {
			continue
		}
		if _, _, err := n.Propose([]byte("x")); err != ErrNotLeader {
			t.Fatalf("expected ErrNotLeader from follower %d, got %v", n.ID(), err)
		}
	}
}

func TestMultipleCommandsApplyInOrder(t *testing.T) {
	c := newTestCluster(t, 3)
	c.start()
	leader := c.waitForLeader(2 * time.Second)

	for i := 0; i < 5; i++ {
		cmd := statemachine.Command{
			Type:      statemachine.CommandSet,
			Key:       "counter",
			Value:     []byte{byte(i)},
			ClientID:  "client-b",
			RequestID: uint64(i + 1),
		}
		c.propose(t, leader, cmd)
	}

	if !c.waitForCommitIndex(leader.CommitIndex(), 2*time.Second) {
		t.Fatal("replicas never caught up")
	}
	for i, kv := range c.kvs {
		value, ok := kv.Get("counter")
		if !ok || value[0] != byte(4) {
			t.Fatalf("store %d: expected last write to win, got %v ok=%v", i, value, ok)
		}
	}
}

func TestDeleteRemovesKey(t *testing.T) {
	c := newTestCluster(t, 3)
	c.start()
	leader := c.waitForLeader(2 * time.Second)

	c.propose(t, leader, statemachine.Command{Type: statemachine.CommandSet, Key: "gone", Value: []byte("x"), ClientID: "c", RequestID: 1})
	c.propose(t, leader, statemachine.Command{Type: statemachine.CommandDelete, Key: "gone", ClientID: "c", RequestID: 2})

	if !c.waitForCommitIndex(leader.CommitIndex(), 2*time.Second) {
		t.Fatal("replicas never caught up")
	}
	for i, kv := range c.kvs {
		if _, ok := kv.Get("gone"); ok {
			t.Fatalf("store %d: expected key to be deleted", i)
		}
	}
}
