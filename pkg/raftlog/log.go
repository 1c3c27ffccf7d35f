// Package raftlog implements the durable, in-memory-backed log store used by
// the consensus core: an ordered, gap-free sequence of entries addressed by
// a monotonic index, with a movable start_index left behind by snapshotting.
package raftlog

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/lucasmdias/raftcore/pkg/rafttypes"
)

const logFileName = "raft.log"

// virtualZeroEntry answers prev-log queries at the head of an empty log.
var virtualZeroEntry = rafttypes.LogEntry{Index: 0, Term: 0, Kind: rafttypes.EntryNoop}

// persistedLog is the exact on-disk JSON shape: a start_index plus the
// entries currently held in memory (§6: "<metadata_dir>/raft.log — JSON
// array of LogEntry plus start_index").
type persistedLog struct {
	StartIndex uint64          `json:"start_index"`
	Entries    []rafttypes.LogEntry `json:"entries"`
}

// Log is the append-only (modulo compaction) sequence of LogEntry, persisted
// as a single file rewritten on every mutation.
type Log struct {
	mu         sync.Mutex
	entries    []rafttypes.LogEntry
	startIndex uint64
	dir        string
}

// New creates a Log rooted at dir with the given initial start index (1 for
// a brand-new replica, or last_included_index+1 when resuming from a
// snapshot without an on-disk log file yet).
func New(dir string, startIndex uint64) *Log {
	return &Log{dir: dir, startIndex: startIndex}
}

// Open creates a Log and reloads any existing on-disk state, falling back to
// the given startIndex if no file is present.
func Open(dir string, startIndex uint64) (*Log, error) {
	l := New(dir, startIndex)
	if err := l.Reload(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Log) path() string {
	return filepath.Join(l.dir, logFileName)
}

// StartIndex returns the index of the oldest entry held in memory.
func (l *Log) StartIndex() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.startIndex
}

// Entries returns a defensive copy of every in-memory entry.
func (l *Log) Entries() []rafttypes.LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]rafttypes.LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// AppendData assigns contiguous indices starting at last+1 to each payload
// and appends them under the given term (leader-side append).
func (l *Log) AppendData(term uint64, kinds []rafttypes.EntryKind, payloads [][]byte) ([]rafttypes.LogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := l.lastIndexLocked(0) + 1
	appended := make([]rafttypes.LogEntry, 0, len(payloads))
	for i, payload := range payloads {
		e := rafttypes.LogEntry{Index: next, Term: term, Kind: kinds[i], Payload: payload}
		l.entries = append(l.entries, e)
		appended = append(appended, e)
		next++
	}
	return appended, l.dumpLocked()
}

// AppendEntries appends entries that already carry their own index/term
// (follower-side append of leader-assigned entries).
func (l *Log) AppendEntries(entries []rafttypes.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entries...)
	return l.dumpLocked()
}

// Entry returns the entry at index, the virtual zero-entry for index 0 or
// any index below start_index, and false beyond the last in-memory index.
func (l *Log) Entry(index uint64) (rafttypes.LogEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entryLocked(index)
}

func (l *Log) entryLocked(index uint64) (rafttypes.LogEntry, bool) {
	if index == 0 {
		return virtualZeroEntry, true
	}
	if index < l.startIndex {
		return virtualZeroEntry, true
	}
	pos := index - l.startIndex
	if pos >= uint64(len(l.entries)) {
		return rafttypes.LogEntry{}, false
	}
	return l.entries[pos], true
}

// PackEntries returns a copy of every entry from fromIndex to the end of the
// in-memory log. Empty if fromIndex is beyond the log or before start_index
// (the latter means the caller must switch to InstallSnapshot).
func (l *Log) PackEntries(fromIndex uint64) []rafttypes.LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if fromIndex < l.startIndex {
		return nil
	}
	if fromIndex > l.lastIndexLocked(0)+1 {
		return nil
	}
	skip := fromIndex - l.startIndex
	if skip >= uint64(len(l.entries)) {
		return nil
	}
	out := make([]rafttypes.LogEntry, len(l.entries)-int(skip))
	copy(out, l.entries[skip:])
	return out
}

// LastIndex returns the index of the last in-memory entry, or
// lastIncludedIndex if the in-memory log is empty.
func (l *Log) LastIndex(lastIncludedIndex uint64) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastIndexLocked(lastIncludedIndex)
}

func (l *Log) lastIndexLocked(lastIncludedIndex uint64) uint64 {
	if len(l.entries) == 0 {
		if lastIncludedIndex > 0 && lastIncludedIndex+1 >= l.startIndex {
			return lastIncludedIndex
		}
		if l.startIndex == 0 {
			return 0
		}
		return l.startIndex - 1
	}
	return l.entries[len(l.entries)-1].Index
}

// LastTerm returns the term of the last in-memory entry, or
// lastIncludedTerm if the in-memory log is empty.
func (l *Log) LastTerm(lastIncludedTerm uint64) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		if lastIncludedTerm > 0 && l.startIndex > 0 {
			return lastIncludedTerm
		}
		return 0
	}
	return l.entries[len(l.entries)-1].Term
}

// PrevLogTerm returns the term at prevIndex, consulting the snapshot
// boundary when prevIndex equals it.
func (l *Log) PrevLogTerm(prevIndex, lastIncludedIndex, lastIncludedTerm uint64) uint64 {
	if prevIndex == 0 {
		return 0
	}
	if prevIndex == lastIncludedIndex {
		return lastIncludedTerm
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, _ := l.entryLocked(prevIndex)
	return entry.Term
}

// TruncateSuffix drops every entry with index > lastKept.
func (l *Log) TruncateSuffix(lastKept uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 || lastKept < l.startIndex {
		l.entries = nil
	} else {
		newLen := int(lastKept - l.startIndex + 1)
		if newLen < len(l.entries) {
			l.entries = l.entries[:newLen]
		}
	}
	return l.dumpLocked()
}

// TruncatePrefix drops every entry with index <= upto and moves start_index
// to upto+1, as happens after a successful snapshot.
func (l *Log) TruncatePrefix(upto uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if upto < l.startIndex {
		return nil
	}
	lastIndex := l.lastIndexLocked(0)
	if lastIndex <= upto {
		l.entries = nil
	} else {
		drain := int(upto - l.startIndex + 1)
		if drain > len(l.entries) {
			l.entries = nil
		} else {
			l.entries = append([]rafttypes.LogEntry{}, l.entries[drain:]...)
		}
	}
	l.startIndex = upto + 1
	return l.dumpLocked()
}

// LastConfiguration scans backward for the most recent Configuration-kind
// entry still held in memory.
func (l *Log) LastConfiguration() (rafttypes.Configuration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].Kind == rafttypes.EntryConfiguration {
			var cfg rafttypes.Configuration
			if err := json.Unmarshal(l.entries[i].Payload, &cfg); err != nil {
				return rafttypes.Configuration{}, false
			}
			return cfg, true
		}
	}
	return rafttypes.Configuration{}, false
}

// Reload repopulates the in-memory log from disk, leaving the log untouched
// (still at its constructor-provided start index) if no file exists yet.
func (l *Log) Reload() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	data, err := os.ReadFile(l.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var p persistedLog
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	l.entries = p.Entries
	l.startIndex = p.StartIndex
	return nil
}

func (l *Log) dumpLocked() error {
	p := persistedLog{StartIndex: l.startIndex, Entries: l.entries}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(p); err != nil {
		return err
	}
	tmp := l.path() + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, l.path())
}
