package signaling

import "errors"

var (
	// ErrRoomNameInvalid is returned before any state access when the room
	// path component is empty, too long, contains control characters or '/',
	// or collides with a reserved route name.
	ErrRoomNameInvalid = errors.New("room name invalid")

	// ErrUnknownPeer is returned when an operation names a peer id that is
	// not in the directory: never allocated here, already departed, or
	// swept for inactivity. The client's only recovery is a fresh join.
	ErrUnknownPeer = errors.New("peer not found")

	ErrCrossRoomSignal = errors.New("peers are not in the same room")
)
