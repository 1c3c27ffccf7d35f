package raft

import (
	"context"

	"github.com/lucasmdias/raftcore/pkg/rafttypes"
)

// HandleRequestVote implements transport.Handler.
func (n *Node) HandleRequestVote(ctx context.Context, req *rafttypes.RequestVoteRequest) *rafttypes.RequestVoteResponse {
	n.mu.Lock()
	defer n.mu.Unlock()

	currentTerm := n.meta.CurrentTerm()
	if req.Term < currentTerm {
		return &rafttypes.RequestVoteResponse{Term: currentTerm, VoteGranted: false}
	}
	if req.Term > currentTerm {
		n.becomeFollowerLocked(req.Term)
		currentTerm = req.Term
	}

	votedFor := n.meta.VotedFor()
	canVote := votedFor == NoneServerID || votedFor == req.CandidateID
	if canVote && n.isLogUpToDateLocked(req.LastLogIndex, req.LastLogTerm) {
		n.meta.SetVotedFor(req.CandidateID)
		n.meta.Sync()
		n.electionTimer.Reset(n.randomElectionTimeout())
		return &rafttypes.RequestVoteResponse{Term: currentTerm, VoteGranted: true}
	}
	return &rafttypes.RequestVoteResponse{Term: currentTerm, VoteGranted: false}
}

// HandleAppendEntries implements transport.Handler.
func (n *Node) HandleAppendEntries(ctx context.Context, req *rafttypes.AppendEntriesRequest) *rafttypes.AppendEntriesResponse {
	n.mu.Lock()
	defer n.mu.Unlock()

	currentTerm := n.meta.CurrentTerm()
	if req.Term < currentTerm {
		return &rafttypes.AppendEntriesResponse{Term: currentTerm, Success: false}
	}
	if req.Term > currentTerm || n.role == rafttypes.Candidate {
		n.becomeFollowerLocked(req.Term)
		currentTerm = req.Term
	} else {
		n.electionTimer.Reset(n.randomElectionTimeout())
	}

	n.leaderID = req.LeaderID
	n.role = rafttypes.Follower

	if req.PrevLogIndex > 0 {
		if req.PrevLogIndex < n.lastSnapshotIndex {
			// Entry already compacted away; tell the leader to fall back to
			// InstallSnapshot rather than guess a conflict point.
			return &rafttypes.AppendEntriesResponse{Term: currentTerm, Success: false, ConflictIndex: n.lastSnapshotIndex + 1}
		}
		entry, ok := n.log.Entry(req.PrevLogIndex)
		if !ok {
			return &rafttypes.AppendEntriesResponse{Term: currentTerm, Success: false, ConflictIndex: n.lastLogIndexLocked() + 1}
		}
		if entry.Term != req.PrevLogTerm {
			return &rafttypes.AppendEntriesResponse{Term: currentTerm, Success: false, ConflictTerm: entry.Term, ConflictIndex: n.firstIndexOfTermLocked(entry.Term)}
		}
	}

	// Entries at or below lastSnapshotIndex are already covered by the local
	// snapshot and are skipped, so every e.Index handled below is still held
	// in-memory or beyond the log's current end.
	for _, e := range req.Entries {
		if e.Index <= n.lastSnapshotIndex {
			continue
		}
		existing, ok := n.log.Entry(e.Index)
		if ok && existing.Term == e.Term {
			continue
		}
		if ok {
			n.log.TruncateSuffix(e.Index - 1)
		}
		if err := n.log.AppendEntries([]rafttypes.LogEntry{e}); err != nil {
			return &rafttypes.AppendEntriesResponse{Term: currentTerm, Success: false}
		}
		if e.Kind == rafttypes.EntryConfiguration {
			n.applyConfigurationAppendLocked(e)
		}
	}

	if req.LeaderCommit > n.commitIndex {
		lastNew := n.lastLogIndexLocked()
		if req.LeaderCommit < lastNew {
			n.commitIndex = req.LeaderCommit
		} else {
			n.commitIndex = lastNew
		}
		n.wakeApplyLocked()
	}

	return &rafttypes.AppendEntriesResponse{Term: currentTerm, Success: true, MatchIndex: n.lastLogIndexLocked()}
}

func (n *Node) firstIndexOfTermLocked(term uint64) uint64 {
	start := n.log.StartIndex()
	for _, e := range n.log.Entries() {
		if e.Term == term {
			return e.Index
		}
	}
	return start
}

// applyConfigurationAppendLocked refreshes routing state as soon as a
// Configuration entry is appended, independent of when it later commits.
func (n *Node) applyConfigurationAppendLocked(e rafttypes.LogEntry) {
	cfg, ok := n.log.LastConfiguration()
	if !ok {
		return
	}
	n.routingConfig = cfg
	n.syncPeersLocked(cfg)
}

// HandleInstallSnapshot implements transport.Handler.
func (n *Node) HandleInstallSnapshot(ctx context.Context, req *rafttypes.InstallSnapshotRequest) *rafttypes.InstallSnapshotResponse {
	n.mu.Lock()
	defer n.mu.Unlock()

	currentTerm := n.meta.CurrentTerm()
	if req.Term < currentTerm {
		return &rafttypes.InstallSnapshotResponse{Term: currentTerm}
	}
	if req.Term > currentTerm {
		n.becomeFollowerLocked(req.Term)
		currentTerm = req.Term
	}
	n.leaderID = req.LeaderID
	n.role = rafttypes.Follower
	n.electionTimer.Reset(n.randomElectionTimeout())

	if err := n.receiveChunkLocked(req); err != nil {
		return &rafttypes.InstallSnapshotResponse{Term: currentTerm}
	}

	if req.Done {
		if err := n.installReceivedSnapshotLocked(req.LastIncludedIndex, req.LastIncludedTerm); err != nil {
			return &rafttypes.InstallSnapshotResponse{Term: currentTerm}
		}
	}

	return &rafttypes.InstallSnapshotResponse{Term: currentTerm}
}
