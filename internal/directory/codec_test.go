package directory

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/flintlabs/flint/internal/protocol"
)

func mustRoundTrip(t *testing.T, d *Directory) *Directory {
	t.Helper()

	b, err := Encode(d)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return got
}

func TestCodec_RoundTripEmpty(t *testing.T) {
	got := mustRoundTrip(t, New())
	if !reflect.DeepEqual(got, New()) {
		t.Fatalf("got %#v, want empty directory", got)
	}
}

func TestCodec_RoundTripMixedQueues(t *testing.T) {
	d := New()
	d.Join("lobby", peerA, 100)
	d.Join("lobby", peerB, 200)
	d.Join("lobby", peerC, 300)
	d.Enqueue(peerA, protocol.IDAssigned{Peer: peerA})
	d.Enqueue(peerA, protocol.NewPeer{Peer: peerB})
	d.Enqueue(peerB, protocol.PeerLeft{Peer: peerC})
	d.Enqueue(peerC, protocol.Signal{Sender: peerA, Data: json.RawMessage(`{"type":"offer","sdp":"v=0"}`)})

	got := mustRoundTrip(t, d)
	if !reflect.DeepEqual(got, d) {
		t.Fatalf("round trip mismatch:\ngot  %#v\nwant %#v", got, d)
	}
}

func TestCodec_PrunesEmptyRooms(t *testing.T) {
	d := New()
	d.Join("lobby", peerA, 1)
	// An empty room should never be reachable through Directory operations,
	// but the codec still refuses to persist one.
	d.Rooms["ghost"] = []protocol.PeerID{}

	got := mustRoundTrip(t, d)

	want := New()
	want.Join("lobby", peerA, 1)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v, want ghost room pruned", got)
	}
}

func TestCodec_StorageKeepsTypedEvents(t *testing.T) {
	d := New()
	d.Join("lobby", peerA, 1)
	d.Enqueue(peerA, protocol.NewPeer{Peer: peerB})

	b, err := Encode(d)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// Queue entries are tagged objects in storage, not double-encoded strings.
	if !strings.Contains(string(b), `{"NewPeer":"`+string(peerB)+`"}`) {
		t.Fatalf("queue entry not stored as a typed object: %s", b)
	}
	if !strings.Contains(string(b), `"version":1`) {
		t.Fatalf("missing schema version: %s", b)
	}
}

func TestDecode_CanonicalFixture(t *testing.T) {
	raw := `{
		"version": 1,
		"rooms": {"lobby": ["` + string(peerA) + `", "` + string(peerB) + `"]},
		"peers": {
			"` + string(peerA) + `": {"room": "lobby", "last_seen": 123, "queue": [{"NewPeer": "` + string(peerB) + `"}]},
			"` + string(peerB) + `": {"room": "lobby", "last_seen": 456, "queue": []}
		}
	}`

	d, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := d.Members("lobby"); !reflect.DeepEqual(got, []protocol.PeerID{peerA, peerB}) {
		t.Fatalf("members=%v", got)
	}
	if d.Peers[peerA].LastSeen != 123 || d.Peers[peerB].LastSeen != 456 {
		t.Fatalf("last_seen not preserved: %+v", d.Peers)
	}
	want := []protocol.Event{protocol.NewPeer{Peer: peerB}}
	if !reflect.DeepEqual(d.Peers[peerA].Queue, want) {
		t.Fatalf("queue=%#v, want %#v", d.Peers[peerA].Queue, want)
	}
}

func TestDecode_RejectsCorruptInputs(t *testing.T) {
	goodPeer := `{"room":"lobby","last_seen":1,"queue":[]}`

	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{"version":1`},
		{"wrong version", `{"version":2,"rooms":{},"peers":{}}`},
		{"missing version", `{"rooms":{},"peers":{}}`},
		{"unknown top-level field", `{"version":1,"rooms":{},"peers":{},"extra":1}`},
		{"member without record", `{"version":1,"rooms":{"lobby":["` + string(peerA) + `"]},"peers":{}}`},
		{
			"record not listed in room",
			`{"version":1,"rooms":{},"peers":{"` + string(peerA) + `":` + goodPeer + `}}`,
		},
		{
			"duplicate member",
			`{"version":1,"rooms":{"lobby":["` + string(peerA) + `","` + string(peerA) + `"]},"peers":{"` + string(peerA) + `":` + goodPeer + `}}`,
		},
		{
			"room mismatch",
			`{"version":1,"rooms":{"other":["` + string(peerA) + `"]},"peers":{"` + string(peerA) + `":` + goodPeer + `}}`,
		},
		{"empty room persisted", `{"version":1,"rooms":{"lobby":[]},"peers":{}}`},
		{"bad peer key", `{"version":1,"rooms":{},"peers":{"nope":` + goodPeer + `}}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.raw))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !errors.Is(err, ErrCorruptState) {
				t.Fatalf("err=%v, want ErrCorruptState", err)
			}
		})
	}
}

func TestDecode_MalformedQueueEventIsCorruptState(t *testing.T) {
	raw := `{"version":1,"rooms":{"lobby":["` + string(peerA) + `"]},"peers":{"` +
		string(peerA) + `":{"room":"lobby","last_seen":1,"queue":[{"Renamed":"x"}]}}}`

	_, err := Decode([]byte(raw))
	if err == nil {
		t.Fatalf("expected error")
	}
	if !errors.Is(err, ErrCorruptState) {
		t.Fatalf("err=%v, want ErrCorruptState", err)
	}
	if !errors.Is(err, protocol.ErrMalformedEvent) {
		t.Fatalf("err=%v, want ErrMalformedEvent in chain", err)
	}
}
