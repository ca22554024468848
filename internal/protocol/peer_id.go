package protocol

import (
	"fmt"

	"github.com/google/uuid"
)

// PeerID identifies one peer for the lifetime of the persisted dataset.
//
// IDs are random UUIDv4 strings, never counters: the broker may be restarted
// or scaled out at any time, and an id must stay unique across every room
// that ever existed in the same state file.
type PeerID string

func NewPeerID() PeerID {
	return PeerID(uuid.NewString())
}

// ParsePeerID validates an id received from a client (header, query
// parameter, or request body) and returns it in canonical form.
func ParsePeerID(raw string) (PeerID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid peer id %q: %w", raw, err)
	}
	return PeerID(id.String()), nil
}

func (id PeerID) String() string {
	return string(id)
}
