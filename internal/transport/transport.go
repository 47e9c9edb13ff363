// Package transport defines the contract with the external realtime media
// SDK. The session core only ever joins and leaves a room and toggles
// media; everything the SDK pushes back is an informative hint. The
// authoritative "session ended" signal always comes from the store's status
// watch, never from the transport layer.
package transport

import (
	"context"
	"errors"
)

// Unrecoverable initialization failures. Either one ends the session flow
// before it starts.
var (
	ErrPermissionDenied = errors.New("transport: media permission denied")
	ErrEngineInit       = errors.New("transport: engine initialization failed")
)

// EventKind classifies transport hints.
type EventKind string

const (
	// EventPeerJoined and EventPeerLeft report membership changes.
	EventPeerJoined EventKind = "peer_joined"
	EventPeerLeft   EventKind = "peer_left"
	// EventRoomState reports a room-level state change.
	EventRoomState EventKind = "room_state"
)

// Event is a transport hint. Hints may update local UI state but never
// drive the termination state machine on their own.
type Event struct {
	Kind   EventKind
	PeerID string
	Detail string
}

// RoomTransport is the narrow surface the coordinator needs from the media
// SDK.
type RoomTransport interface {
	// Join enters the session channel. Returns ErrPermissionDenied or
	// ErrEngineInit when the engine cannot start.
	Join(ctx context.Context, channel string) error

	// Leave exits the channel. Idempotent at the SDK level; the
	// termination latch guarantees the coordinator calls it once.
	Leave(ctx context.Context) error

	// MuteAudio and EnableVideo toggle local media.
	MuteAudio(muted bool) error
	EnableVideo(enabled bool) error

	// Events streams membership and room-state hints.
	Events() <-chan Event
}
