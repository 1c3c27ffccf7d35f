// Package raft implements the consensus core: the role state machine,
// RPC handlers, replication, and joint-consensus membership changes for one
// replica of a Raft cluster.
package raft

import (
	"math/rand"
	"sync"
	"time"

	"github.com/lucasmdias/raftcore/pkg/metadata"
	"github.com/lucasmdias/raftcore/pkg/rafttypes"
	"github.com/lucasmdias/raftcore/pkg/raftlog"
	"github.com/lucasmdias/raftcore/pkg/snapshot"
	"github.com/lucasmdias/raftcore/pkg/statemachine"
	"github.com/lucasmdias/raftcore/pkg/timer"
	"github.com/lucasmdias/raftcore/pkg/transport"
)

type eventKind int

const (
	evElectionTimeout eventKind = iota
	evHeartbeatTimeout
	evSnapshotCheck
)

// Node is one replica's consensus core. All mutation of role, log, peer
// table and snapshot metadata is serialized behind mu.
type Node struct {
	mu sync.Mutex

	id  uint64
	cfg Config

	role     rafttypes.Role
	leaderID uint64

	meta *metadata.Manager
	log  *raftlog.Log
	snap *snapshot.Store
	sm   statemachine.StateMachine

	peers *PeerManager

	// routingConfig reflects the most recently appended (possibly
	// uncommitted) Configuration entry; used for quorum arithmetic and
	// routing so an in-flight membership change is honored immediately.
	routingConfig rafttypes.Configuration
	// committedConfig reflects the most recently committed Configuration
	// entry; peers are only physically dropped from the Peer Table once a
	// stable configuration excluding them reaches this state.
	committedConfig rafttypes.Configuration
	configWaiters   []chan error

	commitIndex uint64
	lastApplied uint64

	lastSnapshotIndex uint64
	lastSnapshotTerm  uint64
	snapshotInFlight  bool

	transport transport.Transport

	electionTimer  *timer.Timer
	heartbeatTimer *timer.Timer
	snapshotTimer  *timer.Timer
	events         chan eventKind

	pending map[uint64]chan rafttypes.ApplyResult
	applyCh chan struct{}

	recv *snapshotReceive

	rnd *rand.Rand

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New constructs a Node. initialServers bootstraps the ambient cluster
// membership outside the log; subsequent changes go through SetConfiguration
// and are logged like any other configuration change.
func New(cfg Config, initialServers []rafttypes.ServerInfo, tr transport.Transport, sm statemachine.StateMachine) (*Node, error) {
	metaState, err := metadata.Load(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	metaMgr := metadata.New(cfg.DataDir, metaState, cfg.MetadataFlushInterval)

	logStore, err := raftlog.Open(cfg.DataDir, 1)
	if err != nil {
		metaMgr.Close()
		return nil, err
	}

	snapStore := snapshot.NewStore(cfg.SnapshotDir)

	n := &Node{
		id:             cfg.ServerID,
		cfg:            cfg,
		role:           rafttypes.Follower,
		meta:           metaMgr,
		log:            logStore,
		snap:           snapStore,
		sm:             sm,
		peers:          NewPeerManager(),
		transport:      tr,
		electionTimer:  timer.New("election"),
		heartbeatTimer: timer.New("heartbeat"),
		snapshotTimer:  timer.New("snapshot"),
		events:         make(chan eventKind, 16),
		pending:        make(map[uint64]chan rafttypes.ApplyResult),
		applyCh:        make(chan struct{}, 1),
		rnd:            rand.New(rand.NewSource(time.Now().UnixNano() + int64(cfg.ServerID))),
		stopCh:         make(chan struct{}),
	}

	config := rafttypes.Configuration{NewServers: initialServers}
	if logCfg, ok := logStore.LastConfiguration(); ok {
		config = logCfg
	}
	n.routingConfig = config
	n.committedConfig = config
	n.syncPeersLocked(config)

	if err := n.restoreFromSnapshotLocked(); err != nil {
		metaMgr.Close()
		return nil, err
	}

	return n, nil
}

// syncPeersLocked adds Peer entries for every server in config other than
// self and refreshes every peer's derived membership flags.
func (n *Node) syncPeersLocked(config rafttypes.Configuration) {
	lastIndex := n.log.LastIndex(n.lastSnapshotIndex)
	var toAdd []*Peer
	for _, s := range config.AllServers() {
		if s.ServerID == n.id {
			continue
		}
		if n.peers.Contains(s.ServerID) {
			continue
		}
		toAdd = append(toAdd, &Peer{ID: s.ServerID, Addr: s.ServerAddr})
	}
	if len(toAdd) > 0 {
		n.peers.Add(toAdd, lastIndex)
	}
	n.peers.RefreshConfigState(config)
}

func (n *Node) restoreFromSnapshotLocked() error {
	meta, ok, err := n.snap.ReloadMetadata()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	n.lastSnapshotIndex = meta.LastIncludedIndex
	n.lastSnapshotTerm = meta.LastIncludedTerm
	if n.commitIndex < meta.LastIncludedIndex {
		n.commitIndex = meta.LastIncludedIndex
	}
	if n.lastApplied < meta.LastIncludedIndex {
		n.lastApplied = meta.LastIncludedIndex
	}
	if meta.Configuration != nil {
		n.routingConfig = *meta.Configuration
		n.committedConfig = *meta.Configuration
		n.syncPeersLocked(*meta.Configuration)
	}
	dataPath, err := n.snap.LatestDataPath()
	if err != nil {
		return err
	}
	if dataPath != "" && n.sm != nil {
		if err := n.sm.RestoreSnapshot(dataPath); err != nil {
			return err
		}
	}
	return nil
}

// Start registers this node with its transport and begins the election
// timer and background loops.
func (n *Node) Start() {
	if h, ok := n.transport.(interface {
		Register(uint64, string, transport.Handler)
	}); ok {
		h.Register(n.id, n.cfg.ServerAddr, n)
	}

	n.wg.Add(2)
	go n.run()
	go n.applyLoop()

	n.mu.Lock()
	n.electionTimer.Schedule(n.randomElectionTimeout(), n.signalElectionTimeout)
	n.snapshotTimer.Schedule(n.cfg.SnapshotInterval, n.signalSnapshotCheck)
	n.mu.Unlock()
}

// Stop halts every timer and background goroutine and closes the metadata
// persister. Safe to call more than once.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		close(n.stopCh)
		n.electionTimer.Stop()
		n.heartbeatTimer.Stop()
		n.snapshotTimer.Stop()
		n.wg.Wait()
		n.meta.Close()
	})
}

func (n *Node) signalElectionTimeout()  { n.postEvent(evElectionTimeout) }
func (n *Node) signalHeartbeatTimeout() { n.postEvent(evHeartbeatTimeout) }
func (n *Node) signalSnapshotCheck()    { n.postEvent(evSnapshotCheck) }

func (n *Node) postEvent(ev eventKind) {
	select {
	case n.events <- ev:
	default:
	}
}

func (n *Node) run() {
	defer n.wg.Done()
	for {
		select {
		case <-n.stopCh:
			return
		case ev := <-n.events:
			n.mu.Lock()
			switch ev {
			case evElectionTimeout:
				n.onElectionTimeoutLocked()
			case evHeartbeatTimeout:
				n.onHeartbeatTimeoutLocked()
			case evSnapshotCheck:
				n.maybeSnapshotLocked()
			}
			n.mu.Unlock()
		}
	}
}

func (n *Node) randomElectionTimeout() time.Duration {
	lo := int64(n.cfg.ElectionTimeoutMin)
	hi := int64(n.cfg.ElectionTimeoutMax)
	if hi <= lo {
		return n.cfg.ElectionTimeoutMin
	}
	return time.Duration(lo + n.rnd.Int63n(hi-lo))
}

// GetLeader returns the last known leader id (0 if none) and address.
func (n *Node) GetLeader() (uint64, string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.leaderID == 0 {
		return 0, ""
	}
	if n.leaderID == n.id {
		return n.id, n.cfg.ServerAddr
	}
	if p, ok := n.peers.Get(n.leaderID); ok {
		return n.leaderID, p.Addr
	}
	return n.leaderID, ""
}

// GetConfiguration returns the current routing configuration.
func (n *Node) GetConfiguration() rafttypes.Configuration {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.routingConfig
}

// IsLeader reports whether this replica currently believes it is leader.
func (n *Node) IsLeader() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.role == rafttypes.Leader
}

// ID returns this replica's server id.
func (n *Node) ID() uint64 { return n.id }

// CurrentTerm returns the durable current term.
func (n *Node) CurrentTerm() uint64 { return n.meta.CurrentTerm() }

// CommitIndex returns the highest known committed log index.
func (n *Node) CommitIndex() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.commitIndex
}

// ClusterSize returns the number of voting members in the current routing
// configuration, including self.
func (n *Node) ClusterSize() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.routingConfig.AllServers())
}

func (n *Node) lastLogIndexLocked() uint64 {
	return n.log.LastIndex(n.lastSnapshotIndex)
}

func (n *Node) lastLogTermLocked() uint64 {
	return n.log.LastTerm(n.lastSnapshotTerm)
}

func (n *Node) isLogUpToDateLocked(lastLogIndex, lastLogTerm uint64) bool {
	myTerm := n.lastLogTermLocked()
	myIndex := n.lastLogIndexLocked()
	if lastLogTerm != myTerm {
		return lastLogTerm > myTerm
	}
	return lastLogIndex >= myIndex
}

func (n *Node) becomeFollowerLocked(term uint64) {
	if term > n.meta.CurrentTerm() {
		n.meta.SetCurrentTerm(term)
	}
	// current_term/voted_for must be durable before any RPC response that
	// carries the bumped term goes out, so a crash right after replying
	// can never roll the on-disk term back below what a peer was told.
	n.meta.Sync()
	n.role = rafttypes.Follower
	n.leaderID = 0
	n.heartbeatTimer.Stop()
	n.electionTimer.Reset(n.randomElectionTimeout())

	for idx, ch := range n.pending {
		select {
		case ch <- rafttypes.ApplyResult{Index: idx, Err: ErrNotLeader}:
		default:
		}
		delete(n.pending, idx)
	}
	for _, w := range n.configWaiters {
		select {
		case w <- ErrNotLeader:
		default:
		}
	}
	n.configWaiters = nil
}

func (n *Node) becomeCandidateLocked() {
	newTerm := n.meta.CurrentTerm() + 1
	n.meta.SetCurrentTerm(newTerm)
	n.meta.SetVotedFor(n.id)
	n.meta.Sync()

	n.role = rafttypes.Candidate
	n.leaderID = 0
	n.peers.ResetVotes()
	n.peers.RefreshConfigState(n.routingConfig)
	n.electionTimer.Reset(n.randomElectionTimeout())

	lastIndex := n.lastLogIndexLocked()
	lastTerm := n.lastLogTermLocked()
	term := newTerm
	req := &rafttypes.RequestVoteRequest{
		Term:         term,
		CandidateID:  n.id,
		LastLogIndex: lastIndex,
		LastLogTerm:  lastTerm,
	}

	for _, p := range n.peers.Peers() {
		peer := p
		go n.requestVoteFrom(peer, term, req)
	}
}

func (n *Node) becomeLeaderLocked() {
	n.role = rafttypes.Leader
	n.leaderID = n.id

	lastIndex := n.lastLogIndexLocked()
	for _, p := range n.peers.Peers() {
		p.NextIndex = lastIndex + 1
		p.MatchIndex = 0
	}

	term := n.meta.CurrentTerm()
	entries, err := n.log.AppendData(term, []rafttypes.EntryKind{rafttypes.EntryNoop}, [][]byte{nil})
	if err != nil {
		n.becomeFollowerLocked(term)
		return
	}
	_ = entries

	n.electionTimer.Stop()
	n.heartbeatTimer.Schedule(n.cfg.HeartbeatInterval, n.signalHeartbeatTimeout)
	n.replicateAllLocked()
}

func (n *Node) onElectionTimeoutLocked() {
	if n.role == rafttypes.Leader {
		return
	}
	n.becomeCandidateLocked()
	if n.peers.Len() == 0 {
		// Single-member cluster: the only vote needed is our own.
		n.becomeLeaderLocked()
	}
}

func (n *Node) onHeartbeatTimeoutLocked() {
	if n.role != rafttypes.Leader {
		return
	}
	n.replicateAllLocked()
}
