package raft

import (
	"context"

	"github.com/lucasmdias/raftcore/pkg/rafttypes"
)

func (n *Node) rpcContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), n.cfg.HeartbeatInterval)
}

// requestVoteFrom sends one RequestVote RPC and folds the response back in
// under the node's mutex, discarding it if the term or role has since moved
// on.
func (n *Node) requestVoteFrom(p *Peer, term uint64, req *rafttypes.RequestVoteRequest) {
	ctx, cancel := n.rpcContext()
	defer cancel()
	resp, err := n.transport.RequestVote(ctx, p.Addr, req)

	n.mu.Lock()
	defer n.mu.Unlock()
	if err != nil || n.role != rafttypes.Candidate || n.meta.CurrentTerm() != term {
		return
	}
	if resp.Term > term {
		n.becomeFollowerLocked(resp.Term)
		return
	}
	if resp.VoteGranted {
		p.VoteGranted = true
		if n.peers.QuorumVoteGranted(rafttypes.DeriveConfigState(n.routingConfig, n.id)) {
			n.becomeLeaderLocked()
		}
	}
}

// replicateAllLocked fans out one AppendEntries (or InstallSnapshot, if the
// peer has fallen behind the log's retained prefix) to every known peer.
func (n *Node) replicateAllLocked() {
	for _, p := range n.peers.Peers() {
		peer := p
		if peer.NextIndex < n.log.StartIndex() && n.log.StartIndex() > 1 {
			go n.sendInstallSnapshotTo(peer)
			continue
		}
		go n.sendAppendEntriesTo(peer)
	}
}

func (n *Node) sendAppendEntriesTo(peer *Peer) {
	n.mu.Lock()
	if n.role != rafttypes.Leader {
		n.mu.Unlock()
		return
	}
	term := n.meta.CurrentTerm()
	prevIndex := peer.NextIndex - 1
	prevTerm := n.log.PrevLogTerm(prevIndex, n.lastSnapshotIndex, n.lastSnapshotTerm)
	entries := n.log.PackEntries(peer.NextIndex)
	req := &rafttypes.AppendEntriesRequest{
		Term:         term,
		LeaderID:     n.id,
		PrevLogIndex: prevIndex,
		PrevLogTerm:  prevTerm,
		Entries:      entries,
		LeaderCommit: n.commitIndex,
	}
	addr := peer.Addr
	n.mu.Unlock()

	ctx, cancel := n.rpcContext()
	defer cancel()
	resp, err := n.transport.AppendEntries(ctx, addr, req)
	if err != nil {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.role != rafttypes.Leader || n.meta.CurrentTerm() != term {
		return
	}
	if resp.Term > term {
		n.becomeFollowerLocked(resp.Term)
		return
	}
	if resp.Success {
		newMatch := resp.MatchIndex
		if newMatch < prevIndex {
			newMatch = prevIndex + uint64(len(entries))
		}
		if newMatch > peer.MatchIndex {
			peer.MatchIndex = newMatch
		}
		peer.NextIndex = newMatch + 1
		n.advanceCommitIndexLocked()
		return
	}

	if resp.ConflictIndex > 0 {
		peer.NextIndex = resp.ConflictIndex
	} else if peer.NextIndex > 1 {
		peer.NextIndex--
	}
}

// advanceCommitIndexLocked recomputes the joint-consensus quorum-median
// match index and advances commitIndex only up to an entry from the
// leader's current term, per the Raft safety rule against indirectly
// committing older-term entries.
func (n *Node) advanceCommitIndexLocked() {
	leaderState := rafttypes.DeriveConfigState(n.routingConfig, n.id)
	candidate := n.peers.QuorumMatchIndex(leaderState, n.lastLogIndexLocked())
	if candidate <= n.commitIndex {
		return
	}
	entry, ok := n.log.Entry(candidate)
	if !ok || entry.Term != n.meta.CurrentTerm() {
		return
	}
	n.commitIndex = candidate
	n.wakeApplyLocked()
}

// maybeSnapshotLocked starts an asynchronous snapshot if enough entries have
// been applied since the last one.
func (n *Node) maybeSnapshotLocked() {
	if n.sm == nil || n.snapshotInFlight {
		return
	}
	if n.lastApplied <= n.lastSnapshotIndex {
		return
	}
	if n.lastApplied-n.lastSnapshotIndex <= uint64(n.cfg.SnapshotLogLengthThreshold) {
		return
	}
	entry, ok := n.log.Entry(n.lastApplied)
	if !ok {
		return
	}
	n.snapshotInFlight = true
	index, term, cfg := n.lastApplied, entry.Term, n.committedConfig
	go n.takeSnapshotAsync(index, term, cfg)
}

func (n *Node) takeSnapshotAsync(index, term uint64, cfg rafttypes.Configuration) {
	err := n.snap.Take(index, term, cfg, n.sm.TakeSnapshot)

	n.mu.Lock()
	defer n.mu.Unlock()
	n.snapshotInFlight = false
	if err != nil {
		return
	}
	if index > n.lastSnapshotIndex {
		n.lastSnapshotIndex = index
		n.lastSnapshotTerm = term
		n.log.TruncatePrefix(index)
	}
}
