package transport

import (
	"context"
	"sync"
	"time"

	"github.com/lucasmdias/raftcore/pkg/rafttypes"
)

// Local is an in-process Transport keyed by server address, used by tests
// and simulation. It supports fault injection: disconnecting individual
// links, partitioning a node from the rest of the cluster, and artificial
// latency.
type Local struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	addrByID map[uint64]string
	disabled map[string]map[string]bool
	latency  time.Duration
}

// NewLocal returns an empty Local transport.
func NewLocal() *Local {
	return &Local{
		handlers: make(map[string]Handler),
		addrByID: make(map[uint64]string),
		disabled: make(map[string]map[string]bool),
	}
}

// Register associates serverID/addr with the Handler that should receive
// RPCs sent to addr. serverID lets Register-ed senders identify themselves
// in RPC payloads while Disconnect/Partition operate on addresses.
func (l *Local) Register(serverID uint64, addr string, h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[addr] = h
	l.addrByID[serverID] = addr
	if l.disabled[addr] == nil {
		l.disabled[addr] = make(map[string]bool)
	}
}

// SetLatency applies an artificial delay to every RPC.
func (l *Local) SetLatency(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.latency = d
}

// Disconnect drops delivery from -> to only.
func (l *Local) Disconnect(from, to string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.disabled[from] == nil {
		l.disabled[from] = make(map[string]bool)
	}
	l.disabled[from][to] = true
}

// Connect restores delivery from -> to.
func (l *Local) Connect(from, to string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.disabled[from] != nil {
		delete(l.disabled[from], to)
	}
}

// Partition isolates addr from every other registered node, in both
// directions.
func (l *Local) Partition(addr string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for other := range l.handlers {
		if other == addr {
			continue
		}
		if l.disabled[addr] == nil {
			l.disabled[addr] = make(map[string]bool)
		}
		if l.disabled[other] == nil {
			l.disabled[other] = make(map[string]bool)
		}
		l.disabled[addr][other] = true
		l.disabled[other][addr] = true
	}
}

// Heal restores every connection to and from addr.
func (l *Local) Heal(addr string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disabled[addr] = make(map[string]bool)
	for other := range l.disabled {
		delete(l.disabled[other], addr)
	}
}

func (l *Local) connectedLocked(from, to string) bool {
	if l.disabled[from] == nil {
		return true
	}
	return !l.disabled[from][to]
}

// resolve looks up the Handler and latency for an RPC sent by senderID to
// target, failing if either side is unregistered or the link is disabled.
func (l *Local) resolve(senderID uint64, target string) (Handler, time.Duration, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	fromAddr, ok := l.addrByID[senderID]
	if !ok {
		return nil, 0, false
	}
	h, ok := l.handlers[target]
	if !ok || !l.connectedLocked(fromAddr, target) {
		return nil, 0, false
	}
	return h, l.latency, true
}

func (l *Local) delay(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Local) RequestVote(ctx context.Context, target string, req *rafttypes.RequestVoteRequest) (*rafttypes.RequestVoteResponse, error) {
	h, latency, ok := l.resolve(req.CandidateID, target)
	if !ok {
		return nil, ErrPeerUnreachable
	}
	if err := l.delay(ctx, latency); err != nil {
		return nil, err
	}
	return h.HandleRequestVote(ctx, req), nil
}

func (l *Local) AppendEntries(ctx context.Context, target string, req *rafttypes.AppendEntriesRequest) (*rafttypes.AppendEntriesResponse, error) {
	h, latency, ok := l.resolve(req.LeaderID, target)
	if !ok {
		return nil, ErrPeerUnreachable
	}
	if err := l.delay(ctx, latency); err != nil {
		return nil, err
	}
	return h.HandleAppendEntries(ctx, req), nil
}

func (l *Local) InstallSnapshot(ctx context.Context, target string, req *rafttypes.InstallSnapshotRequest) (*rafttypes.InstallSnapshotResponse, error) {
	h, latency, ok := l.resolve(req.LeaderID, target)
	if !ok {
		return nil, ErrPeerUnreachable
	}
	if err := l.delay(ctx, latency); err != nil {
		return nil, err
	}
	return h.HandleInstallSnapshot(ctx, req), nil
}
