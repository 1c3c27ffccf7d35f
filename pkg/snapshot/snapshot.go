// Package snapshot persists state-machine snapshots and their metadata
// sidecar, using the raft-<index>-<term>.snapshot[.metadata] filename
// grammar so the newest snapshot can be located by a directory scan alone.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/lucasmdias/raftcore/pkg/rafttypes"
)

var filenameRE = regexp.MustCompile(`^raft-(\d+)-(\d+)(\.snapshot|\.snapshot\.metadata)$`)

// Metadata is the sidecar persisted next to the opaque state-machine blob.
type Metadata struct {
	LastIncludedIndex uint64                 `json:"last_included_index"`
	LastIncludedTerm  uint64                 `json:"last_included_term"`
	Configuration     *rafttypes.Configuration `json:"configuration,omitempty"`
}

// Store locates, writes and reloads snapshot files under one directory.
type Store struct {
	dir string
}

// NewStore returns a Store rooted at dir. The directory must already exist.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) dataPath(index, term uint64) string {
	return filepath.Join(s.dir, fmt.Sprintf("raft-%d-%d.snapshot", index, term))
}

func (s *Store) metadataPath(index, term uint64) string {
	return filepath.Join(s.dir, fmt.Sprintf("raft-%d-%d.snapshot.metadata", index, term))
}

func (s *Store) tmpDataPath(index, term uint64) string {
	return s.dataPath(index, term) + ".tmp"
}

func (s *Store) tmpMetadataPath(index, term uint64) string {
	return s.metadataPath(index, term) + ".tmp"
}

// Take writes the state-machine blob through writerFn (given the final data
// path to write into, via a .tmp sibling renamed atomically on success),
// then atomically writes the metadata sidecar.
func (s *Store) Take(index, term uint64, config rafttypes.Configuration, writerFn func(path string) error) error {
	tmpData := s.tmpDataPath(index, term)
	if err := writerFn(tmpData); err != nil {
		return err
	}
	if err := os.Rename(tmpData, s.dataPath(index, term)); err != nil {
		return err
	}

	meta := Metadata{LastIncludedIndex: index, LastIncludedTerm: term}
	if !config.IsEmpty() {
		meta.Configuration = &config
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	tmpMeta := s.tmpMetadataPath(index, term)
	if err := os.WriteFile(tmpMeta, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpMeta, s.metadataPath(index, term))
}

// LatestDataPath returns the newest (by index, then term) *.snapshot file,
// or "" if none exists.
func (s *Store) LatestDataPath() (string, error) {
	return s.latestWithSuffix(".snapshot")
}

// LatestMetadataPath returns the newest *.snapshot.metadata file, or "" if
// none exists.
func (s *Store) LatestMetadataPath() (string, error) {
	return s.latestWithSuffix(".snapshot.metadata")
}

func (s *Store) latestWithSuffix(suffix string) (string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}

	var bestIndex, bestTerm uint64
	found := ""
	for _, e := range entries {
		index, term, ext, ok := parseFilename(e.Name())
		if !ok || ext != suffix {
			continue
		}
		if found == "" || index > bestIndex || (index == bestIndex && term > bestTerm) {
			bestIndex, bestTerm = index, term
			found = filepath.Join(s.dir, e.Name())
		}
	}
	return found, nil
}

func parseFilename(name string) (index, term uint64, ext string, ok bool) {
	m := filenameRE.FindStringSubmatch(name)
	if m == nil {
		return 0, 0, "", false
	}
	index, errI := strconv.ParseUint(m[1], 10, 64)
	term, errT := strconv.ParseUint(m[2], 10, 64)
	if errI != nil || errT != nil {
		return 0, 0, "", false
	}
	return index, term, m[3], true
}

// ReloadMetadata loads the newest metadata sidecar, or the zero Metadata and
// ok=false if none exists.
func (s *Store) ReloadMetadata() (Metadata, bool, error) {
	path, err := s.LatestMetadataPath()
	if err != nil || path == "" {
		return Metadata{}, false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, false, err
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, false, err
	}
	return meta, true, nil
}
