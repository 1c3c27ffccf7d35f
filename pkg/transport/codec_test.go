package transport

import (
	"testing"

	"github.com/lucasmdias/raftcore/pkg/rafttypes"
)

func TestGobCodecRoundTrip(t *testing.T) {
	codec := gobCodec{}
	if codec.Name() != "gob" {
		t.Fatalf("expected codec name %q, got %q", "gob", codec.Name())
	}

	req := &rafttypes.AppendEntriesRequest{
		Term:     7,
		LeaderID: 3,
		Entries: []rafttypes.LogEntry{
			{Index: 1, Term: 7, Kind: rafttypes.EntryData, Payload: []byte("hello")},
		},
		LeaderCommit: 1,
	}

	data, err := codec.Marshal(req)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var out rafttypes.AppendEntriesRequest
	if err := codec.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if out.Term != req.Term || out.LeaderID != req.LeaderID || len(out.Entries) != 1 {
		t.Fatalf("round trip mismatch: got %+v", out)
	}
	if string(out.Entries[0].Payload) != "hello" {
		t.Fatalf("expected payload %q, got %q", "hello", out.Entries[0].Payload)
	}
}
