package statemachine

import (
	"path/filepath"
	"testing"
)

func encode(t *testing.T, cmd Command) []byte {
	t.Helper()
	b, err := EncodeCommand(cmd)
	if err != nil {
		t.Fatalf("EncodeCommand: %v", err)
	}
	return b
}

func TestApplySetAndGet(t *testing.T) {
	kv := NewKV()
	payload := encode(t, Command{Type: CommandSet, Key: "a", Value: []byte("1"), ClientID: "c1", RequestID: 1})
	if err := kv.Apply(payload); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	v, ok := kv.Get("a")
	if !ok || string(v) != "1" {
		t.Fatalf("expected a=1, got %q ok=%v", v, ok)
	}
}

func TestApplyDeleteDedup(t *testing.T) {
	kv := NewKV()
	kv.Apply(encode(t, Command{Type: CommandSet, Key: "a", Value: []byte("1"), ClientID: "c1", RequestID: 1}))
	kv.Apply(encode(t, Command{Type: CommandDelete, Key: "a", ClientID: "c1", RequestID: 2}))
	if _, ok := kv.Get("a"); ok {
		t.Fatalf("expected a deleted")
	}

	// Retry of request 2 (already applied) must not resurrect or re-apply.
	kv.Apply(encode(t, Command{Type: CommandSet, Key: "a", Value: []byte("retried"), ClientID: "c1", RequestID: 2}))
	if _, ok := kv.Get("a"); ok {
		t.Fatalf("retried request with stale RequestID must be ignored")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	kv := NewKV()
	kv.Apply(encode(t, Command{Type: CommandSet, Key: "x", Value: []byte("y"), ClientID: "c1", RequestID: 1}))

	path := filepath.Join(t.TempDir(), "snap")
	if err := kv.TakeSnapshot(path); err != nil {
		t.Fatalf("TakeSnapshot: %v", err)
	}

	restored := NewKV()
	if err := restored.RestoreSnapshot(path); err != nil {
		t.Fatalf("RestoreSnapshot: %v", err)
	}
	v, ok := restored.Get("x")
	if !ok || string(v) != "y" {
		t.Fatalf("expected restored x=y, got %q ok=%v", v, ok)
	}

	// The dedup session must survive the snapshot round trip too.
	restored.Apply(encode(t, Command{Type: CommandSet, Key: "x", Value: []byte("stale-retry"), ClientID: "c1", RequestID: 1}))
	v, _ = restored.Get("x")
	if string(v) != "y" {
		t.Fatalf("expected dedup to survive restore, got %q", v)
	}
}
