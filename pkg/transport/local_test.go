package transport

import (
	"context"
	"testing"
	"time"

	"github.com/lucasmdias/raftcore/pkg/rafttypes"
)

type stubHandler struct {
	term uint64
}

func (s *stubHandler) HandleRequestVote(ctx context.Context, req *rafttypes.RequestVoteRequest) *rafttypes.RequestVoteResponse {
	return &rafttypes.RequestVoteResponse{Term: s.term, VoteGranted: true}
}

func (s *stubHandler) HandleAppendEntries(ctx context.Context, req *rafttypes.AppendEntriesRequest) *rafttypes.AppendEntriesResponse {
	return &rafttypes.AppendEntriesResponse{Term: s.term, Success: true}
}

func (s *stubHandler) HandleInstallSnapshot(ctx context.Context, req *rafttypes.InstallSnapshotRequest) *rafttypes.InstallSnapshotResponse {
	return &rafttypes.InstallSnapshotResponse{Term: s.term}
}

func TestLocalDeliversToRegisteredHandler(t *testing.T) {
	l := NewLocal()
	l.Register(1, "addr-1", &stubHandler{term: 1})
	l.Register(2, "addr-2", &stubHandler{term: 2})

	resp, err := l.RequestVote(context.Background(), "addr-2", &rafttypes.RequestVoteRequest{Term: 1, CandidateID: 1})
	if err != nil {
		t.Fatalf("RequestVote: %v", err)
	}
	if resp.Term != 2 || !resp.VoteGranted {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestLocalUnreachableWhenUnregistered(t *testing.T) {
	l := NewLocal()
	l.Register(1, "addr-1", &stubHandler{})
	_, err := l.AppendEntries(context.Background(), "addr-2", &rafttypes.AppendEntriesRequest{LeaderID: 1})
	if err != ErrPeerUnreachable {
		t.Fatalf("expected ErrPeerUnreachable, got %v", err)
	}
}

func TestDisconnectBlocksOneDirection(t *testing.T) {
	l := NewLocal()
	l.Register(1, "addr-1", &stubHandler{})
	l.Register(2, "addr-2", &stubHandler{})

	l.Disconnect("addr-1", "addr-2")
	_, err := l.AppendEntries(context.Background(), "addr-2", &rafttypes.AppendEntriesRequest{LeaderID: 1})
	if err != ErrPeerUnreachable {
		t.Fatalf("expected ErrPeerUnreachable after Disconnect, got %v", err)
	}

	// The reverse direction is unaffected.
	_, err = l.AppendEntries(context.Background(), "addr-1", &rafttypes.AppendEntriesRequest{LeaderID: 2})
	if err != nil {
		t.Fatalf("reverse direction should still work: %v", err)
	}

	l.Connect("addr-1", "addr-2")
	_, err = l.AppendEntries(context.Background(), "addr-2", &rafttypes.AppendEntriesRequest{LeaderID: 1})
	if err != nil {
		t.Fatalf("expected delivery after Connect, got %v", err)
	}
}

func TestPartitionAndHeal(t *testing.T) {
	l := NewLocal()
	l.Register(1, "addr-1", &stubHandler{})
	l.Register(2, "addr-2", &stubHandler{})
	l.Register(3, "addr-3", &stubHandler{})

	l.Partition("addr-1")
	if _, err := l.AppendEntries(context.Background(), "addr-2", &rafttypes.AppendEntriesRequest{LeaderID: 1}); err != ErrPeerUnreachable {
		t.Fatalf("expected partitioned node unreachable, got %v", err)
	}
	if _, err := l.AppendEntries(context.Background(), "addr-1", &rafttypes.AppendEntriesRequest{LeaderID: 2}); err != ErrPeerUnreachable {
		t.Fatalf("expected partitioned node unreachable from others, got %v", err)
	}

	l.Heal("addr-1")
	if _, err := l.AppendEntries(context.Background(), "addr-2", &rafttypes.AppendEntriesRequest{LeaderID: 1}); err != nil {
		t.Fatalf("expected delivery restored after Heal, got %v", err)
	}
}

func TestLatencyRespectsContextCancellation(t *testing.T) {
	l := NewLocal()
	l.Register(1, "addr-1", &stubHandler{})
	l.Register(2, "addr-2", &stubHandler{})
	l.SetLatency(200 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := l.AppendEntries(ctx, "addr-2", &rafttypes.AppendEntriesRequest{LeaderID: 1})
	if err == nil {
		t.Fatalf("expected context deadline error")
	}
}
