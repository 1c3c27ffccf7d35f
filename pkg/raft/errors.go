package raft

import "errors"

var (
	ErrNotLeader         = errors.New("raft: not the leader")
	ErrTimeout           = errors.New("raft: operation timed out")
	ErrStopped           = errors.New("raft: node has been stopped")
	ErrEmptyTarget       = errors.New("raft: set-configuration requires a non-empty target list")
	ErrConfigInFlight    = errors.New("raft: a configuration change is already in flight")
	ErrPersistenceFailed = errors.New("raft: durable write failed")
)
