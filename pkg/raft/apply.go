package raft

import (
	"encoding/json"

	"github.com/lucasmdias/raftcore/pkg/rafttypes"
)

// wakeApplyLocked nudges the apply loop after commitIndex advances.
func (n *Node) wakeApplyLocked() {
	select {
	case n.applyCh <- struct{}{}:
	default:
	}
}

// Propose appends payload as a Data entry under the current term and returns
// its log index plus a channel that receives exactly one ApplyResult once
// the entry is applied, or an error result if this replica steps down
// before that happens. Returns ErrNotLeader immediately if this replica is
// not the leader.
func (n *Node) Propose(payload []byte) (uint64, <-chan rafttypes.ApplyResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	select {
	case <-n.stopCh:
		return 0, nil, ErrStopped
	default:
	}

	if n.role != rafttypes.Leader {
		return 0, nil, ErrNotLeader
	}

	term := n.meta.CurrentTerm()
	entries, err := n.log.AppendData(term, []rafttypes.EntryKind{rafttypes.EntryData}, [][]byte{payload})
	if err != nil {
		return 0, nil, ErrPersistenceFailed
	}
	index := entries[0].Index

	ch := make(chan rafttypes.ApplyResult, 1)
	n.pending[index] = ch

	n.replicateAllLocked()
	return index, ch, nil
}

// applyLoop applies committed entries to the state machine in index order,
// one at a time, independent of the mutex that guards role/log/peer state.
func (n *Node) applyLoop() {
	defer n.wg.Done()
	for {
		select {
		case <-n.stopCh:
			return
		case <-n.applyCh:
			n.drainApplicable()
		}
	}
}

func (n *Node) drainApplicable() {
	for {
		n.mu.Lock()
		if n.lastApplied >= n.commitIndex {
			n.mu.Unlock()
			return
		}
		nextIndex := n.lastApplied + 1
		entry, ok := n.log.Entry(nextIndex)
		if !ok {
			n.mu.Unlock()
			return
		}
		n.mu.Unlock()

		var applyErr error
		switch entry.Kind {
		case rafttypes.EntryData:
			if n.sm != nil {
				applyErr = n.sm.Apply(entry.Payload)
			}
		case rafttypes.EntryConfiguration:
			n.onConfigurationCommitted(entry)
		case rafttypes.EntryNoop:
			// no-op entries carry no application-visible effect.
		}

		n.mu.Lock()
		n.lastApplied = nextIndex
		if ch, ok := n.pending[nextIndex]; ok {
			select {
			case ch <- rafttypes.ApplyResult{Index: nextIndex, Term: entry.Term, Err: applyErr}:
			default:
			}
			delete(n.pending, nextIndex)
		}
		n.mu.Unlock()
	}
}

// onConfigurationCommitted runs once a Configuration entry is applied (i.e.
// committed). Apart from snapshot installation, committedConfig only advances
// here; routingConfig already advanced when the entry was appended.
func (n *Node) onConfigurationCommitted(entry rafttypes.LogEntry) {
	var cfg rafttypes.Configuration
	if err := json.Unmarshal(entry.Payload, &cfg); err != nil {
		return
	}

	n.mu.Lock()
	n.committedConfig = cfg
	wasLeader := n.role == rafttypes.Leader
	excludesSelf := false

	switch {
	case cfg.IsStable():
		excludesSelf = !rafttypes.DeriveConfigState(cfg, n.id).Newing
		keep := cfg.AllServers()
		keepIDs := make(map[uint64]bool, len(keep))
		for _, s := range keep {
			keepIDs[s.ServerID] = true
		}
		var drop []uint64
		for _, p := range n.peers.Peers() {
			if !keepIDs[p.ID] {
				drop = append(drop, p.ID)
			}
		}
		if len(drop) > 0 {
			n.peers.Remove(drop)
		}
		n.peers.RefreshConfigState(cfg)
		if len(n.configWaiters) > 0 {
			waiters := n.configWaiters
			n.configWaiters = nil
			for _, w := range waiters {
				select {
				case w <- nil:
				default:
				}
			}
		}
		if wasLeader && excludesSelf {
			n.becomeFollowerLocked(n.meta.CurrentTerm())
		}

	case cfg.IsJoint() && wasLeader:
		// The joint entry committed: automatically append the follow-up
		// stable C(new) entry that drops old_servers once it too commits.
		// Gated only on cfg/wasLeader (both log- and role-derived facts any
		// node picks up on becoming leader), not on which node originated
		// the change, so a leadership change mid-transition still converges.
		stable := rafttypes.Configuration{NewServers: cfg.NewServers}
		if payload, err := json.Marshal(stable); err == nil {
			if entries, err := n.log.AppendData(n.meta.CurrentTerm(), []rafttypes.EntryKind{rafttypes.EntryConfiguration}, [][]byte{payload}); err == nil {
				n.applyConfigurationAppendLocked(entries[0])
				n.replicateAllLocked()
			}
		}
	}
	n.mu.Unlock()

	if wasLeader && excludesSelf {
		go n.Stop()
	}
}
