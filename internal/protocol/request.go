package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedRequest is returned when a posted body is not one of the known
// request forms.
var ErrMalformedRequest = errors.New("malformed request")

// Request is what a client posts to the signal endpoint: either a Signal
// addressed to one receiver, or a bare KeepAlive.
type Request interface {
	isRequest()
}

// SignalRequest asks the broker to enqueue an opaque payload onto the
// receiver's queue. The sender is carried out-of-band (X-Peer-Id header).
type SignalRequest struct {
	Receiver PeerID
	Data     json.RawMessage
}

// KeepAliveRequest refreshes the sender's liveness without delivering
// anything. On the wire it is the bare JSON string "KeepAlive".
type KeepAliveRequest struct{}

func (SignalRequest) isRequest()    {}
func (KeepAliveRequest) isRequest() {}

const keepAliveTag = "KeepAlive"

type signalRequestBody struct {
	Receiver PeerID          `json:"receiver"`
	Data     json.RawMessage `json:"data"`
}

// ParseRequest decodes a posted request body. Accepted forms:
//
//	{"Signal":{"receiver":"<id>","data":<opaque JSON>}}
//	"KeepAlive"
//
// Anything else fails with ErrMalformedRequest.
func ParseRequest(raw []byte) (Request, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedRequest)
	}

	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
		}
		if s != keepAliveTag {
			return nil, fmt.Errorf("%w: unknown request %q", ErrMalformedRequest, s)
		}
		return KeepAliveRequest{}, nil
	}

	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &tagged); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if len(tagged) != 1 {
		return nil, fmt.Errorf("%w: expected exactly one tag, got %d", ErrMalformedRequest, len(tagged))
	}
	body, ok := tagged[tagSignal]
	if !ok {
		for tag := range tagged {
			return nil, fmt.Errorf("%w: unknown tag %q", ErrMalformedRequest, tag)
		}
		return nil, ErrMalformedRequest
	}

	var sb signalRequestBody
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&sb); err != nil {
		return nil, fmt.Errorf("%w: signal body: %v", ErrMalformedRequest, err)
	}
	receiver, err := ParsePeerID(string(sb.Receiver))
	if err != nil {
		return nil, fmt.Errorf("%w: signal receiver: %v", ErrMalformedRequest, err)
	}
	if len(sb.Data) == 0 {
		return nil, fmt.Errorf("%w: signal missing data", ErrMalformedRequest)
	}
	return SignalRequest{Receiver: receiver, Data: sb.Data}, nil
}

// MarshalRequest encodes a request in the form ParseRequest accepts. Used by
// the Go client; the broker itself only parses.
func MarshalRequest(req Request) ([]byte, error) {
	switch r := req.(type) {
	case SignalRequest:
		return marshalCompact(map[string]signalRequestBody{tagSignal: {Receiver: r.Receiver, Data: r.Data}})
	case KeepAliveRequest:
		return json.Marshal(keepAliveTag)
	default:
		return nil, fmt.Errorf("unhandled request type %T", req)
	}
}
