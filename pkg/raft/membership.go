package raft

import (
	"encoding/json"

	"github.com/lucasmdias/raftcore/pkg/rafttypes"
)

// SetConfiguration starts a joint-consensus membership change to newServers.
// It appends C(old,new) immediately (old being the cluster's current stable
// membership) and returns a channel that receives nil once the automatic
// follow-up C(new) entry commits, or an error if the change cannot be
// started or a leadership change aborts it.
func (n *Node) SetConfiguration(newServers []rafttypes.ServerInfo) <-chan error {
	n.mu.Lock()

	select {
	case <-n.stopCh:
		return immediateErr(n.mu.Unlock, ErrStopped)
	default:
	}
	if n.role != rafttypes.Leader {
		return immediateErr(n.mu.Unlock, ErrNotLeader)
	}
	if len(newServers) == 0 {
		return immediateErr(n.mu.Unlock, ErrEmptyTarget)
	}
	// A configuration change is in flight whenever the log's most recently
	// appended or most recently committed configuration is still joint: a
	// persistent, log-derived fact any node inherits on becoming leader,
	// rather than a flag only the originating leader happened to set.
	if n.routingConfig.IsJoint() || n.committedConfig.IsJoint() {
		return immediateErr(n.mu.Unlock, ErrConfigInFlight)
	}

	joint := rafttypes.Configuration{
		OldServers: n.routingConfig.AllServers(),
		NewServers: newServers,
	}
	payload, err := json.Marshal(joint)
	if err != nil {
		return immediateErr(n.mu.Unlock, err)
	}

	term := n.meta.CurrentTerm()
	entries, err := n.log.AppendData(term, []rafttypes.EntryKind{rafttypes.EntryConfiguration}, [][]byte{payload})
	if err != nil {
		return immediateErr(n.mu.Unlock, ErrPersistenceFailed)
	}

	n.applyConfigurationAppendLocked(entries[0])
	ch := make(chan error, 1)
	n.configWaiters = append(n.configWaiters, ch)
	n.replicateAllLocked()
	n.mu.Unlock()
	return ch
}

func immediateErr(unlock func(), err error) <-chan error {
	unlock()
	ch := make(chan error, 1)
	ch <- err
	return ch
}
