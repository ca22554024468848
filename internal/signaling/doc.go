// Package signaling implements the rendezvous broker: rooms, peers, their
// pending-event queues, and the long-polling HTTP surface that exposes them.
//
// The broker never interprets signaling payloads. Peers join a room, poll for
// membership and Signal events, and relay opaque blobs (SDP offers/answers,
// ICE candidates) to one another until they can establish a direct transport.
// All state lives in a durable store snapshot; every operation is a single
// load-apply-commit cycle so concurrent, even cross-process, executions stay
// linearizable.
package signaling
