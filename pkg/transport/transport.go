// Package transport defines the wire boundary between replicas and
// provides two implementations: an in-memory Local transport for tests and
// simulation, and a GRPC transport for real processes.
package transport

import (
	"context"
	"errors"

	"github.com/lucasmdias/raftcore/pkg/rafttypes"
)

// ErrPeerUnreachable is returned by Local when the target replica cannot be
// reached (unregistered or disconnected). GRPC returns the underlying
// dial/RPC error instead.
var ErrPeerUnreachable = errors.New("transport: peer unreachable")

// Transport is the context-aware RPC surface between replicas.
type Transport interface {
	RequestVote(ctx context.Context, target string, req *rafttypes.RequestVoteRequest) (*rafttypes.RequestVoteResponse, error)
	AppendEntries(ctx context.Context, target string, req *rafttypes.AppendEntriesRequest) (*rafttypes.AppendEntriesResponse, error)
	InstallSnapshot(ctx context.Context, target string, req *rafttypes.InstallSnapshotRequest) (*rafttypes.InstallSnapshotResponse, error)
}

// Handler is implemented by the consensus core; a transport dispatches
// inbound RPCs to it.
type Handler interface {
	HandleRequestVote(ctx context.Context, req *rafttypes.RequestVoteRequest) *rafttypes.RequestVoteResponse
	HandleAppendEntries(ctx context.Context, req *rafttypes.AppendEntriesRequest) *rafttypes.AppendEntriesResponse
	HandleInstallSnapshot(ctx context.Context, req *rafttypes.InstallSnapshotRequest) *rafttypes.InstallSnapshotResponse
}
