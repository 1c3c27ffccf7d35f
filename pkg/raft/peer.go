package raft

import (
	"sort"

	"github.com/lucasmdias/raftcore/pkg/rafttypes"
)

// Peer is the leader's volatile view of one remote replica.
type Peer struct {
	ID          uint64
	Addr        string
	NextIndex   uint64
	MatchIndex  uint64
	VoteGranted bool
	ConfigState rafttypes.ConfigState
}

// PeerManager owns every remote Peer known to the leader. It is not
// goroutine-safe on its own; callers serialize access via Node's mutex.
type PeerManager struct {
	peers []*Peer
}

// NewPeerManager returns an empty manager.
func NewPeerManager() *PeerManager {
	return &PeerManager{}
}

// Add registers new peers, seeding next_index at lastLogIndex+1 as required
// when a leader learns of newly-joined servers.
func (pm *PeerManager) Add(newPeers []*Peer, lastLogIndex uint64) {
	for _, p := range newPeers {
		p.NextIndex = lastLogIndex + 1
	}
	pm.peers = append(pm.peers, newPeers...)
}

// Remove drops peers by id, used only once the removal's configuration entry
// has committed.
func (pm *PeerManager) Remove(ids []uint64) {
	remove := make(map[uint64]bool, len(ids))
	for _, id := range ids {
		remove[id] = true
	}
	kept := pm.peers[:0:0]
	for _, p := range pm.peers {
		if !remove[p.ID] {
			kept = append(kept, p)
		}
	}
	pm.peers = kept
}

func (pm *PeerManager) Peers() []*Peer { return pm.peers }

func (pm *PeerManager) Len() int { return len(pm.peers) }

func (pm *PeerManager) Get(id uint64) (*Peer, bool) {
	for _, p := range pm.peers {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

func (pm *PeerManager) Contains(id uint64) bool {
	_, ok := pm.Get(id)
	return ok
}

// ResetVotes clears vote_granted on every peer ahead of a new election round.
func (pm *PeerManager) ResetVotes() {
	for _, p := range pm.peers {
		p.VoteGranted = false
	}
}

// RefreshConfigState recomputes every peer's derived membership flags from
// the current configuration, keeping config_state a pure function of
// (Configuration, id) rather than an independently drifting value.
func (pm *PeerManager) RefreshConfigState(cfg rafttypes.Configuration) {
	for _, p := range pm.peers {
		p.ConfigState = rafttypes.DeriveConfigState(cfg, p.ID)
	}
}

func quorumMatchIndex(matchIndexes []uint64, leaderInConfig bool, leaderLastIndex uint64) uint64 {
	values := matchIndexes
	if leaderInConfig {
		values = append(append([]uint64{}, matchIndexes...), leaderLastIndex)
	}
	if len(values) == 0 {
		return ^uint64(0)
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	return values[(len(values)-1)/2]
}

// QuorumMatchIndex computes the joint-consensus commit candidate: the
// quorum-median match index independently within new_servers and
// old_servers, taking the minimum of the two. A config half with no members
// is trivially satisfied (returns max-uint64, so it never constrains the
// minimum).
func (pm *PeerManager) QuorumMatchIndex(leaderState rafttypes.ConfigState, leaderLastIndex uint64) uint64 {
	var newMatches, oldMatches []uint64
	for _, p := range pm.peers {
		if p.ConfigState.Newing {
			newMatches = append(newMatches, p.MatchIndex)
		}
		if p.ConfigState.Olding {
			oldMatches = append(oldMatches, p.MatchIndex)
		}
	}
	newMedian := quorumMatchIndex(newMatches, leaderState.Newing, leaderLastIndex)
	oldMedian := quorumMatchIndex(oldMatches, leaderState.Olding, leaderLastIndex)
	if newMedian < oldMedian {
		return newMedian
	}
	return oldMedian
}

// QuorumVoteGranted reports whether a strict majority has granted a vote
// independently in every non-empty membership half.
func (pm *PeerManager) QuorumVoteGranted(leaderState rafttypes.ConfigState) bool {
	var totalNew, grantedNew, totalOld, grantedOld int
	if leaderState.Newing {
		totalNew++
		grantedNew++
	}
	if leaderState.Olding {
		totalOld++
		grantedOld++
	}
	for _, p := range pm.peers {
		if p.ConfigState.Newing {
			totalNew++
			if p.VoteGranted {
				grantedNew++
			}
		}
		if p.ConfigState.Olding {
			totalOld++
			if p.VoteGranted {
				grantedOld++
			}
		}
	}
	newQuorum := totalNew == 0 || grantedNew > totalNew/2
	oldQuorum := totalOld == 0 || grantedOld > totalOld/2
	return newQuorum && oldQuorum
}
