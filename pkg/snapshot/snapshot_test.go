package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lucasmdias/raftcore/pkg/rafttypes"
)

func TestTakeThenLocateLatest(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	cfg := rafttypes.Configuration{NewServers: []rafttypes.ServerInfo{{ServerID: 1, ServerAddr: "a"}}}
	err := store.Take(10, 2, cfg, func(path string) error {
		return os.WriteFile(path, []byte("blob-1"), 0o600)
	})
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	err = store.Take(20, 3, cfg, func(path string) error {
		return os.WriteFile(path, []byte("blob-2"), 0o600)
	})
	if err != nil {
		t.Fatalf("Take: %v", err)
	}

	dataPath, err := store.LatestDataPath()
	if err != nil {
		t.Fatalf("LatestDataPath: %v", err)
	}
	if filepath.Base(dataPath) != "raft-20-3.snapshot" {
		t.Fatalf("expected newest snapshot, got %s", dataPath)
	}

	meta, ok, err := store.ReloadMetadata()
	if err != nil || !ok {
		t.Fatalf("ReloadMetadata: ok=%v err=%v", ok, err)
	}
	if meta.LastIncludedIndex != 20 || meta.LastIncludedTerm != 3 {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
	if meta.Configuration == nil || len(meta.Configuration.NewServers) != 1 {
		t.Fatalf("expected embedded configuration, got %+v", meta.Configuration)
	}
}

func TestLatestDataPathEmptyDir(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	path, err := store.LatestDataPath()
	if err != nil {
		t.Fatalf("LatestDataPath: %v", err)
	}
	if path != "" {
		t.Fatalf("expected no snapshot, got %s", path)
	}
}

func TestTakeLeavesNoTmpFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	if err := store.Take(1, 1, rafttypes.Configuration{}, func(path string) error {
		return os.WriteFile(path, []byte("x"), 0o600)
	}); err != nil {
		t.Fatalf("Take: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Fatalf("leftover tmp file: %s", e.Name())
		}
	}
}
