package transport

import (
	"context"
	"sync"
)

// Fake is an in-memory RoomTransport for tests and the simulator.
type Fake struct {
	mu         sync.Mutex
	joined     bool
	channel    string
	joinCalls  int
	leaveCalls int
	muted      bool
	video      bool

	// JoinErr, when set, is returned by Join.
	JoinErr error

	events chan Event
}

// NewFake creates an idle fake transport.
func NewFake() *Fake {
	return &Fake{events: make(chan Event, 16)}
}

// Join implements RoomTransport.
func (f *Fake) Join(ctx context.Context, channel string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joinCalls++
	if f.JoinErr != nil {
		return f.JoinErr
	}
	f.joined = true
	f.channel = channel
	return nil
}

// Leave implements RoomTransport.
func (f *Fake) Leave(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaveCalls++
	f.joined = false
	return nil
}

// MuteAudio implements RoomTransport.
func (f *Fake) MuteAudio(muted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.muted = muted
	return nil
}

// EnableVideo implements RoomTransport.
func (f *Fake) EnableVideo(enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.video = enabled
	return nil
}

// Events implements RoomTransport.
func (f *Fake) Events() <-chan Event {
	return f.events
}

// Push delivers a hint to the coordinator, standing in for the SDK.
func (f *Fake) Push(ev Event) {
	f.events <- ev
}

// Joined reports whether the fake is currently in a channel.
func (f *Fake) Joined() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.joined
}

// Channel returns the last joined channel.
func (f *Fake) Channel() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channel
}

// LeaveCalls returns how many times Leave ran.
func (f *Fake) LeaveCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.leaveCalls
}

var _ RoomTransport = (*Fake)(nil)
