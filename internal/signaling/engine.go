package signaling

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/flintlabs/flint/internal/directory"
	"github.com/flintlabs/flint/internal/metrics"
	"github.com/flintlabs/flint/internal/protocol"
	"github.com/flintlabs/flint/internal/store"
)

// DefaultPeerTimeout is the inactivity window after which a peer is presumed
// gone and swept from its room.
const DefaultPeerTimeout = 60 * time.Second

const maxRoomNameBytes = 128

// reservedRooms are path components the HTTP surface claims for itself. A
// room with one of these names would shadow a route, so joins reject them.
var reservedRooms = map[string]struct{}{
	"health":  {},
	"healthz": {},
	"readyz":  {},
	"version": {},
	"metrics": {},
	"signal":  {},
	"poll":    {},
	"events":  {},
}

// ValidateRoomName enforces the room naming rules: 1..128 bytes, no control
// characters, no '/', and not a reserved route name.
func ValidateRoomName(room string) error {
	if room == "" {
		return fmt.Errorf("%w: empty", ErrRoomNameInvalid)
	}
	if len(room) > maxRoomNameBytes {
		return fmt.Errorf("%w: longer than %d bytes", ErrRoomNameInvalid, maxRoomNameBytes)
	}
	for i := 0; i < len(room); i++ {
		if c := room[i]; c < 0x20 || c == 0x7f || c == '/' {
			return fmt.Errorf("%w: control characters and '/' are not allowed", ErrRoomNameInvalid)
		}
	}
	if _, ok := reservedRooms[room]; ok {
		return fmt.Errorf("%w: %q is reserved", ErrRoomNameInvalid, room)
	}
	return nil
}

// Engine applies broker operations to the directory through a durable store.
//
// Every operation is a single Store.Update: sweep peers whose liveness stamp
// has lapsed, then apply the operation's own semantics. The sweep's mutations
// commit even when the operation itself fails, so a Directory never retains
// peers that some execution already observed as gone.
type Engine struct {
	store       store.Store
	clock       Clock
	peerTimeout time.Duration

	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewEngine(st store.Store, clock Clock, peerTimeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *Engine {
	if clock == nil {
		clock = RealClock{}
	}
	if peerTimeout <= 0 {
		peerTimeout = DefaultPeerTimeout
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		store:       st,
		clock:       clock,
		peerTimeout: peerTimeout,
		log:         logger,
		metrics:     m,
	}
}

// Join adds a fresh peer to room and returns its assigned id together with
// the peer's drained queue. The queue holds exactly the IdAssigned event:
// existing members are told about the newcomer via NewPeer and are expected
// to initiate toward it, not the other way around.
func (e *Engine) Join(ctx context.Context, room string) (protocol.PeerID, []protocol.Event, error) {
	if err := ValidateRoomName(room); err != nil {
		e.metrics.Inc(metrics.EventRoomNameInvalid)
		return "", nil, err
	}

	var (
		id     protocol.PeerID
		events []protocol.Event
	)
	err := e.store.Update(ctx, func(d *directory.Directory) (bool, error) {
		now := e.clock.Now()
		e.sweep(d, now)

		// A commit conflict re-runs this with a fresh id; only the id that
		// actually commits escapes to the caller.
		id = protocol.NewPeerID()
		siblings := d.Members(room)
		d.Join(room, id, now.Unix())
		d.Enqueue(id, protocol.IDAssigned{Peer: id})
		for _, m := range siblings {
			d.Enqueue(m, protocol.NewPeer{Peer: id})
		}
		events, _ = d.Drain(id)
		return true, nil
	})
	if err != nil {
		return "", nil, err
	}

	e.metrics.Inc(metrics.EventJoin)
	e.log.Debug("peer joined", "room", room, "peer", id)
	return id, events, nil
}

// Poll refreshes the peer's liveness stamp and returns its drained queue in
// enqueue order. It never blocks waiting for events; an idle peer gets an
// empty slice and polls again. A peer the sweep already removed gets
// ErrUnknownPeer and must re-join.
//
// The room is only used for validation: a peer id is globally unique, so the
// queue it drains is its own regardless of the path it polls on.
func (e *Engine) Poll(ctx context.Context, room string, id protocol.PeerID) ([]protocol.Event, error) {
	if err := ValidateRoomName(room); err != nil {
		e.metrics.Inc(metrics.EventRoomNameInvalid)
		return nil, err
	}

	var events []protocol.Event
	err := e.store.Update(ctx, func(d *directory.Directory) (bool, error) {
		now := e.clock.Now()
		swept := e.sweep(d, now)

		if _, ok := d.Peers[id]; !ok {
			return swept, fmt.Errorf("%w: %s", ErrUnknownPeer, id)
		}
		d.Touch(id, now.Unix())
		events, _ = d.Drain(id)
		return true, nil
	})
	if err != nil {
		e.countOpError(err)
		return nil, err
	}

	e.metrics.Inc(metrics.EventPoll)
	return events, nil
}

// Signal relays an opaque payload from sender to the receiver's queue. Both
// must be live members of the same room; the sender counts as active. A peer
// may signal itself.
func (e *Engine) Signal(ctx context.Context, sender protocol.PeerID, req protocol.SignalRequest) error {
	err := e.store.Update(ctx, func(d *directory.Directory) (bool, error) {
		now := e.clock.Now()
		swept := e.sweep(d, now)

		from, ok := d.Peers[sender]
		if !ok {
			return swept, fmt.Errorf("%w: sender %s", ErrUnknownPeer, sender)
		}
		to, ok := d.Peers[req.Receiver]
		if !ok {
			return swept, fmt.Errorf("%w: receiver %s", ErrUnknownPeer, req.Receiver)
		}
		if from.Room != to.Room {
			return swept, ErrCrossRoomSignal
		}

		d.Touch(sender, now.Unix())
		d.Enqueue(req.Receiver, protocol.Signal{Sender: sender, Data: req.Data})
		return true, nil
	})
	if err != nil {
		e.countOpError(err)
		return err
	}

	e.metrics.Inc(metrics.EventSignal)
	return nil
}

// KeepAlive refreshes the sender's liveness stamp without draining its queue,
// so a peer with nothing to say can stay live between polls.
func (e *Engine) KeepAlive(ctx context.Context, sender protocol.PeerID) error {
	err := e.store.Update(ctx, func(d *directory.Directory) (bool, error) {
		now := e.clock.Now()
		swept := e.sweep(d, now)

		if _, ok := d.Peers[sender]; !ok {
			return swept, fmt.Errorf("%w: %s", ErrUnknownPeer, sender)
		}
		d.Touch(sender, now.Unix())
		return true, nil
	})
	if err != nil {
		e.countOpError(err)
		return err
	}

	e.metrics.Inc(metrics.EventKeepAlive)
	return nil
}

// sweep removes every peer whose LastSeen predates now minus the peer
// timeout and enqueues PeerLeft to the members remaining at the moment of
// each removal. Removal happens in sorted id order so retries and concurrent
// instances converge on identical directories. Reports whether anything
// changed.
func (e *Engine) sweep(d *directory.Directory, now time.Time) bool {
	cutoff := now.Add(-e.peerTimeout).Unix()
	stale := d.StalePeers(cutoff)
	for _, id := range stale {
		room, remaining, ok := d.Remove(id)
		if !ok {
			continue
		}
		for _, m := range remaining {
			d.Enqueue(m, protocol.PeerLeft{Peer: id})
		}
		e.metrics.Inc(metrics.EventPeerSwept)
		e.log.Info("peer swept", "room", room, "peer", id)
	}
	return len(stale) > 0
}

func (e *Engine) countOpError(err error) {
	switch {
	case errors.Is(err, ErrUnknownPeer):
		e.metrics.Inc(metrics.EventUnknownPeer)
	case errors.Is(err, ErrCrossRoomSignal):
		e.metrics.Inc(metrics.EventCrossRoomSignal)
	}
}
