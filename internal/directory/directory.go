// Package directory holds the broker's root aggregate: every room, every
// peer, and every pending event queue, plus the codec that moves the whole
// aggregate to and from its durable byte form.
package directory

import (
	"sort"

	"github.com/flintlabs/flint/internal/protocol"
)

// Peer is one room member's durable record. A peer belongs to exactly one
// room and owns a FIFO queue of events not yet delivered to it. LastSeen is
// the Unix-second stamp of the peer's most recent operation and drives the
// liveness sweep.
type Peer struct {
	Room     string
	LastSeen int64
	Queue    []protocol.Event
}

// Directory maps room names to their members and peer ids to their records.
// The two structures are one atomic entity: a member id always has a Peer
// entry, and a Peer's room always lists it. The durable store owns the
// Directory between commits; an operation receives a mutable exclusive view
// and must not retain references past its commit.
type Directory struct {
	Rooms map[string][]protocol.PeerID
	Peers map[protocol.PeerID]*Peer
}

func New() *Directory {
	return &Directory{
		Rooms: make(map[string][]protocol.PeerID),
		Peers: make(map[protocol.PeerID]*Peer),
	}
}

// Join inserts a fresh peer into a room, creating the room on first
// reference. Joining an id that is already present would corrupt membership;
// the engine guarantees ids are freshly generated.
func (d *Directory) Join(room string, id protocol.PeerID, now int64) {
	d.Rooms[room] = append(d.Rooms[room], id)
	d.Peers[id] = &Peer{
		Room:     room,
		LastSeen: now,
		Queue:    []protocol.Event{},
	}
}

// Remove deletes a peer and its queue, prunes its room if that was the last
// member, and returns the members remaining in the room afterwards (the
// recipients of a PeerLeft event).
func (d *Directory) Remove(id protocol.PeerID) (room string, remaining []protocol.PeerID, ok bool) {
	p, ok := d.Peers[id]
	if !ok {
		return "", nil, false
	}

	members := d.Rooms[p.Room]
	kept := members[:0]
	for _, m := range members {
		if m != id {
			kept = append(kept, m)
		}
	}
	if len(kept) == 0 {
		delete(d.Rooms, p.Room)
	} else {
		d.Rooms[p.Room] = kept
	}
	delete(d.Peers, id)

	remaining = make([]protocol.PeerID, len(kept))
	copy(remaining, kept)
	return p.Room, remaining, true
}

// Enqueue appends an event to a peer's queue.
func (d *Directory) Enqueue(id protocol.PeerID, ev protocol.Event) bool {
	p, ok := d.Peers[id]
	if !ok {
		return false
	}
	p.Queue = append(p.Queue, ev)
	return true
}

// Drain removes and returns a peer's queued events in enqueue order. A
// drained event is gone: delivery is at most once.
func (d *Directory) Drain(id protocol.PeerID) ([]protocol.Event, bool) {
	p, ok := d.Peers[id]
	if !ok {
		return nil, false
	}
	events := p.Queue
	p.Queue = []protocol.Event{}
	return events, true
}

// Members returns a copy of a room's membership in insertion order.
func (d *Directory) Members(room string) []protocol.PeerID {
	members := d.Rooms[room]
	out := make([]protocol.PeerID, len(members))
	copy(out, members)
	return out
}

// MembersExcluding returns a room's membership without the given id.
func (d *Directory) MembersExcluding(room string, id protocol.PeerID) []protocol.PeerID {
	out := make([]protocol.PeerID, 0, len(d.Rooms[room]))
	for _, m := range d.Rooms[room] {
		if m != id {
			out = append(out, m)
		}
	}
	return out
}

// Touch refreshes a peer's liveness stamp.
func (d *Directory) Touch(id protocol.PeerID, now int64) bool {
	p, ok := d.Peers[id]
	if !ok {
		return false
	}
	p.LastSeen = now
	return true
}

// StalePeers returns every peer whose LastSeen is strictly before cutoff,
// sorted by id so sweeps are deterministic across retries and instances.
func (d *Directory) StalePeers(cutoff int64) []protocol.PeerID {
	var stale []protocol.PeerID
	for id, p := range d.Peers {
		if p.LastSeen < cutoff {
			stale = append(stale, id)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i] < stale[j] })
	return stale
}

// Clone deep-copies the Directory, including queues and their payload bytes.
func (d *Directory) Clone() *Directory {
	out := New()
	for room, members := range d.Rooms {
		ms := make([]protocol.PeerID, len(members))
		copy(ms, members)
		out.Rooms[room] = ms
	}
	for id, p := range d.Peers {
		q := make([]protocol.Event, len(p.Queue))
		for i, ev := range p.Queue {
			q[i] = cloneEvent(ev)
		}
		out.Peers[id] = &Peer{Room: p.Room, LastSeen: p.LastSeen, Queue: q}
	}
	return out
}

func cloneEvent(ev protocol.Event) protocol.Event {
	sig, ok := ev.(protocol.Signal)
	if !ok {
		// The other variants hold only value fields.
		return ev
	}
	data := make([]byte, len(sig.Data))
	copy(data, sig.Data)
	return protocol.Signal{Sender: sig.Sender, Data: data}
}
