// Package protocol defines the wire vocabulary of the signaling broker:
// peer identifiers, the events delivered to peers, and the requests clients
// may post. Everything here is a closed tagged union; decoding never guesses
// and never drops bytes, because event queues are replayed verbatim from
// durable storage.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedEvent is returned when bytes do not decode to exactly one of
// the known event variants.
var ErrMalformedEvent = errors.New("malformed event")

// Event is one pending delivery for a peer.
//
// The set is closed: IDAssigned, NewPeer, PeerLeft, Signal. Consumers must
// switch exhaustively; UnmarshalEvent rejects anything else.
type Event interface {
	isEvent()
}

// IDAssigned tells a freshly joined peer its own id. It is delivered exactly
// once, only to the peer it names.
type IDAssigned struct {
	Peer PeerID
}

// NewPeer tells an existing room member that a peer joined its room.
type NewPeer struct {
	Peer PeerID
}

// PeerLeft tells a remaining room member that a peer left its room.
type PeerLeft struct {
	Peer PeerID
}

// Signal carries an opaque payload from Sender to the peer whose queue holds
// it. Data is passed through uninterpreted.
type Signal struct {
	Sender PeerID
	Data   json.RawMessage
}

func (IDAssigned) isEvent() {}
func (NewPeer) isEvent()    {}
func (PeerLeft) isEvent()   {}
func (Signal) isEvent()     {}

// Wire tags. These are fixed by the native protocol and must not change.
const (
	tagIDAssigned = "IdAssigned"
	tagNewPeer    = "NewPeer"
	tagPeerLeft   = "PeerLeft"
	tagSignal     = "Signal"
)

type signalBody struct {
	Sender PeerID          `json:"sender"`
	Data   json.RawMessage `json:"data"`
}

// MarshalEvent encodes an event to its tagged-object wire shape, e.g.
// {"NewPeer":"<id>"} or {"Signal":{"sender":"<id>","data":...}}.
//
// Signal payloads are emitted without HTML escaping so the bytes a client
// sent come back out as the same JSON value.
func MarshalEvent(ev Event) ([]byte, error) {
	switch e := ev.(type) {
	case IDAssigned:
		return marshalCompact(map[string]PeerID{tagIDAssigned: e.Peer})
	case NewPeer:
		return marshalCompact(map[string]PeerID{tagNewPeer: e.Peer})
	case PeerLeft:
		return marshalCompact(map[string]PeerID{tagPeerLeft: e.Peer})
	case Signal:
		return marshalCompact(map[string]signalBody{tagSignal: {Sender: e.Sender, Data: e.Data}})
	default:
		return nil, fmt.Errorf("unhandled event type %T", ev)
	}
}

// UnmarshalEvent decodes one tagged-object event. Unknown tags, multiple
// tags, or malformed bodies fail with ErrMalformedEvent.
func UnmarshalEvent(raw []byte) (Event, error) {
	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(raw, &tagged); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if len(tagged) != 1 {
		return nil, fmt.Errorf("%w: expected exactly one tag, got %d", ErrMalformedEvent, len(tagged))
	}

	for tag, body := range tagged {
		switch tag {
		case tagIDAssigned:
			id, err := unmarshalPeerIDBody(body)
			if err != nil {
				return nil, err
			}
			return IDAssigned{Peer: id}, nil
		case tagNewPeer:
			id, err := unmarshalPeerIDBody(body)
			if err != nil {
				return nil, err
			}
			return NewPeer{Peer: id}, nil
		case tagPeerLeft:
			id, err := unmarshalPeerIDBody(body)
			if err != nil {
				return nil, err
			}
			return PeerLeft{Peer: id}, nil
		case tagSignal:
			var sb signalBody
			dec := json.NewDecoder(bytes.NewReader(body))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&sb); err != nil {
				return nil, fmt.Errorf("%w: signal body: %v", ErrMalformedEvent, err)
			}
			sender, err := ParsePeerID(string(sb.Sender))
			if err != nil {
				return nil, fmt.Errorf("%w: signal sender: %v", ErrMalformedEvent, err)
			}
			if len(sb.Data) == 0 {
				return nil, fmt.Errorf("%w: signal missing data", ErrMalformedEvent)
			}
			return Signal{Sender: sender, Data: sb.Data}, nil
		default:
			return nil, fmt.Errorf("%w: unknown tag %q", ErrMalformedEvent, tag)
		}
	}

	// Unreachable: the length check above guarantees one iteration.
	return nil, ErrMalformedEvent
}

// EventStrings re-serializes events for a response envelope. The native
// protocol double-encodes: the events array holds JSON strings, each of which
// is itself one serialized event.
func EventStrings(events []Event) ([]string, error) {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		b, err := MarshalEvent(ev)
		if err != nil {
			return nil, err
		}
		out = append(out, string(b))
	}
	return out, nil
}

// ParseEventStrings is the inverse of EventStrings, used by clients.
func ParseEventStrings(raw []string) ([]Event, error) {
	out := make([]Event, 0, len(raw))
	for _, s := range raw {
		ev, err := UnmarshalEvent([]byte(s))
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

func unmarshalPeerIDBody(body json.RawMessage) (PeerID, error) {
	var s string
	if err := json.Unmarshal(body, &s); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	id, err := ParsePeerID(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return id, nil
}

func marshalCompact(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
