package directory

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/flintlabs/flint/internal/protocol"
)

// SchemaVersion is the durable state schema this build reads and writes.
// Decode refuses any other version rather than guessing.
const SchemaVersion = 1

// ErrCorruptState is returned when durable bytes cannot be decoded back into
// a consistent Directory. Corruption is fatal for the operation and is never
// auto-healed: silently resetting to an empty Directory would destroy peer
// history and mask data loss.
var ErrCorruptState = errors.New("corrupt state")

type fileDirectory struct {
	Version int                 `json:"version"`
	Rooms   map[string][]string `json:"rooms"`
	Peers   map[string]filePeer `json:"peers"`
}

type filePeer struct {
	Room     string            `json:"room"`
	LastSeen int64             `json:"last_seen"`
	Queue    []json.RawMessage `json:"queue"`
}

// Encode serializes the Directory to its canonical durable form. Queue
// entries are typed event objects; double-encoding is a response-layer
// concern, not a storage one. Rooms that somehow lost all members are pruned
// rather than persisted.
func Encode(d *Directory) ([]byte, error) {
	out := fileDirectory{
		Version: SchemaVersion,
		Rooms:   make(map[string][]string, len(d.Rooms)),
		Peers:   make(map[string]filePeer, len(d.Peers)),
	}

	for room, members := range d.Rooms {
		if len(members) == 0 {
			continue
		}
		ids := make([]string, len(members))
		for i, id := range members {
			ids[i] = string(id)
		}
		out.Rooms[room] = ids
	}

	for id, p := range d.Peers {
		queue := make([]json.RawMessage, len(p.Queue))
		for i, ev := range p.Queue {
			b, err := protocol.MarshalEvent(ev)
			if err != nil {
				return nil, fmt.Errorf("encode queue for peer %s: %w", id, err)
			}
			queue[i] = b
		}
		out.Peers[string(id)] = filePeer{Room: p.Room, LastSeen: p.LastSeen, Queue: queue}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(out); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses durable bytes back into a Directory. Any parse failure,
// schema mismatch, undecodable queue event, or membership inconsistency is
// ErrCorruptState; queue event failures also carry protocol.ErrMalformedEvent
// in the chain.
func Decode(b []byte) (*Directory, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()

	var in fileDirectory
	if err := dec.Decode(&in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	if in.Version != SchemaVersion {
		return nil, fmt.Errorf("%w: unsupported schema version %d (want %d)", ErrCorruptState, in.Version, SchemaVersion)
	}

	d := New()

	for id, fp := range in.Peers {
		pid, err := protocol.ParsePeerID(id)
		if err != nil {
			return nil, fmt.Errorf("%w: peer key: %v", ErrCorruptState, err)
		}
		queue := make([]protocol.Event, len(fp.Queue))
		for i, raw := range fp.Queue {
			ev, err := protocol.UnmarshalEvent(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: peer %s queue[%d]: %w", ErrCorruptState, id, i, err)
			}
			queue[i] = ev
		}
		d.Peers[pid] = &Peer{Room: fp.Room, LastSeen: fp.LastSeen, Queue: queue}
	}

	for room, ids := range in.Rooms {
		if len(ids) == 0 {
			return nil, fmt.Errorf("%w: room %q persisted with no members", ErrCorruptState, room)
		}
		members := make([]protocol.PeerID, len(ids))
		seen := make(map[protocol.PeerID]struct{}, len(ids))
		for i, id := range ids {
			pid, err := protocol.ParsePeerID(id)
			if err != nil {
				return nil, fmt.Errorf("%w: room %q member: %v", ErrCorruptState, room, err)
			}
			if _, dup := seen[pid]; dup {
				return nil, fmt.Errorf("%w: room %q lists %s twice", ErrCorruptState, room, id)
			}
			seen[pid] = struct{}{}

			p, ok := d.Peers[pid]
			if !ok {
				return nil, fmt.Errorf("%w: room %q member %s has no peer record", ErrCorruptState, room, id)
			}
			if p.Room != room {
				return nil, fmt.Errorf("%w: peer %s is in room %q but listed under %q", ErrCorruptState, id, p.Room, room)
			}
			members[i] = pid
		}
		d.Rooms[room] = members
	}

	// Membership and peer records must agree in both directions.
	for id, p := range d.Peers {
		listed := false
		for _, m := range d.Rooms[p.Room] {
			if m == id {
				listed = true
				break
			}
		}
		if !listed {
			return nil, fmt.Errorf("%w: peer %s not listed in its room %q", ErrCorruptState, id, p.Room)
		}
	}

	return d, nil
}
