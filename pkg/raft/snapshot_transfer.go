package raft

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"

	"github.com/lucasmdias/raftcore/pkg/rafttypes"
	"github.com/lucasmdias/raftcore/pkg/snapshot"
)

var errSnapshotOutOfOrder = errors.New("raft: install-snapshot chunk received out of order")

// snapshotReceive buffers the metadata and data streams of one in-flight
// InstallSnapshot transfer from the current leader. The two streams are
// addressed by a single global byte offset: metadata first, then data.
type snapshotReceive struct {
	index   uint64
	term    uint64
	metaBuf bytes.Buffer
	dataBuf bytes.Buffer
}

// receiveChunkLocked folds one InstallSnapshot chunk into the in-flight
// transfer, starting a new one whenever offset 0 begins a (re)transmission
// for a not-yet-seen (index, term) pair.
func (n *Node) receiveChunkLocked(req *rafttypes.InstallSnapshotRequest) error {
	if n.recv == nil || n.recv.index != req.LastIncludedIndex || n.recv.term != req.LastIncludedTerm {
		if req.Offset != 0 {
			return errSnapshotOutOfOrder
		}
		n.recv = &snapshotReceive{index: req.LastIncludedIndex, term: req.LastIncludedTerm}
	}

	switch req.DataType {
	case rafttypes.ChunkMetadata:
		n.recv.metaBuf.Write(req.Data)
	case rafttypes.ChunkSnapshot:
		n.recv.dataBuf.Write(req.Data)
	}
	return nil
}

// installReceivedSnapshotLocked finalizes a completed transfer: it commits
// the buffered bytes through the Store, restores the state machine from the
// result, and compacts the local log up to the new snapshot boundary.
func (n *Node) installReceivedSnapshotLocked(index, term uint64) error {
	recv := n.recv
	n.recv = nil
	if recv == nil {
		return errSnapshotOutOfOrder
	}

	cfg := n.routingConfig
	if recv.metaBuf.Len() > 0 {
		var sidecar snapshot.Metadata
		if err := json.Unmarshal(recv.metaBuf.Bytes(), &sidecar); err == nil && sidecar.Configuration != nil {
			cfg = *sidecar.Configuration
		}
	}

	dataBytes := recv.dataBuf.Bytes()
	if err := n.snap.Take(index, term, cfg, func(path string) error {
		return os.WriteFile(path, dataBytes, 0o600)
	}); err != nil {
		return err
	}

	if n.sm != nil {
		dataPath, err := n.snap.LatestDataPath()
		if err != nil {
			return err
		}
		if dataPath != "" {
			if err := n.sm.RestoreSnapshot(dataPath); err != nil {
				return err
			}
		}
	}

	n.lastSnapshotIndex = index
	n.lastSnapshotTerm = term
	if n.commitIndex < index {
		n.commitIndex = index
	}
	if n.lastApplied < index {
		n.lastApplied = index
	}
	n.log.TruncatePrefix(index)

	n.routingConfig = cfg
	n.committedConfig = cfg
	n.syncPeersLocked(cfg)
	return nil
}

// sendInstallSnapshotTo streams the leader's latest retained snapshot to
// peer: the metadata sidecar first, then the data blob, each split into
// cfg.SnapshotChunkSize chunks sharing one global byte offset.
func (n *Node) sendInstallSnapshotTo(peer *Peer) {
	n.mu.Lock()
	if n.role != rafttypes.Leader {
		n.mu.Unlock()
		return
	}
	term := n.meta.CurrentTerm()
	index := n.lastSnapshotIndex
	snapTerm := n.lastSnapshotTerm
	metaPath, _ := n.snap.LatestMetadataPath()
	dataPath, _ := n.snap.LatestDataPath()
	addr := peer.Addr
	chunkSize := n.cfg.SnapshotChunkSize
	n.mu.Unlock()

	if metaPath == "" && dataPath == "" {
		return
	}
	if chunkSize <= 0 {
		chunkSize = 32 * 1024
	}

	var metaBytes, dataBytes []byte
	var err error
	if metaPath != "" {
		if metaBytes, err = os.ReadFile(metaPath); err != nil {
			return
		}
	}
	if dataPath != "" {
		if dataBytes, err = os.ReadFile(dataPath); err != nil {
			return
		}
	}

	var offset uint64
	send := func(dataType rafttypes.SnapshotChunkType, buf []byte, done bool) (*rafttypes.InstallSnapshotResponse, error) {
		ctx, cancel := n.rpcContext()
		defer cancel()
		req := &rafttypes.InstallSnapshotRequest{
			Term:              term,
			LeaderID:          n.id,
			LastIncludedIndex: index,
			LastIncludedTerm:  snapTerm,
			Offset:            offset,
			Data:              buf,
			DataType:          dataType,
			Done:              done,
		}
		resp, err := n.transport.InstallSnapshot(ctx, addr, req)
		offset += uint64(len(buf))
		return resp, err
	}

	var lastResp *rafttypes.InstallSnapshotResponse
	for i := 0; i < len(metaBytes); i += chunkSize {
		end := min(i+chunkSize, len(metaBytes))
		done := end == len(metaBytes) && len(dataBytes) == 0
		resp, err := send(rafttypes.ChunkMetadata, metaBytes[i:end], done)
		if err != nil {
			return
		}
		lastResp = resp
	}
	for i := 0; i < len(dataBytes); i += chunkSize {
		end := min(i+chunkSize, len(dataBytes))
		done := end == len(dataBytes)
		resp, err := send(rafttypes.ChunkSnapshot, dataBytes[i:end], done)
		if err != nil {
			return
		}
		lastResp = resp
	}
	if lastResp == nil {
		resp, err := send(rafttypes.ChunkMetadata, nil, true)
		if err != nil {
			return
		}
		lastResp = resp
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if lastResp.Term > n.meta.CurrentTerm() {
		n.becomeFollowerLocked(lastResp.Term)
		return
	}
	if n.role != rafttypes.Leader {
		return
	}
	if index+1 > peer.NextIndex {
		peer.NextIndex = index + 1
	}
	if index > peer.MatchIndex {
		peer.MatchIndex = index
	}
	n.advanceCommitIndexLocked()
}
