package transport

import (
	"context"
	"sync"

	"github.com/park285/cheese-rooms/internal/room"
)

type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
	StateFailed       ConnState = "failed"
)

// Online is the connectivity bit the reconnect logic watches.
func (s ConnState) Online() bool { return s == StateConnected }

type MessageCallback func(env *Envelope)

type StateCallback func(state ConnState)

// Client is one member's link to a room host.
type Client interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, env Envelope) error
	State() ConnState
	OnMessage(cb MessageCallback) int
	RemoveMessageCallback(id int)
	OnStateChange(cb StateCallback) int
	RemoveStateCallback(id int)
	Close(ctx context.Context) error
}

type callbackEntry struct {
	id       int
	callback MessageCallback
}

type stateCallbackEntry struct {
	id       int
	callback StateCallback
}

// callbacks is the registry shared by every Client implementation.
type callbacks struct {
	cbM      sync.RWMutex
	nextID   int
	msgCbs   []callbackEntry
	stateCbs []stateCallbackEntry
}

func (c *callbacks) OnMessage(cb MessageCallback) int {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	c.nextID++
	c.msgCbs = append(c.msgCbs, callbackEntry{id: c.nextID, callback: cb})
	return c.nextID
}

func (c *callbacks) RemoveMessageCallback(id int) {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	for i, cb := range c.msgCbs {
		if cb.id == id {
			c.msgCbs = append(c.msgCbs[:i], c.msgCbs[i+1:]...)
			break
		}
	}
}

func (c *callbacks) OnStateChange(cb StateCallback) int {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	c.nextID++
	c.stateCbs = append(c.stateCbs, stateCallbackEntry{id: c.nextID, callback: cb})
	return c.nextID
}

func (c *callbacks) RemoveStateCallback(id int) {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	for i, cb := range c.stateCbs {
		if cb.id == id {
			c.stateCbs = append(c.stateCbs[:i], c.stateCbs[i+1:]...)
			break
		}
	}
}

func (c *callbacks) emitMessage(env *Envelope) {
	c.cbM.RLock()
	entries := make([]callbackEntry, len(c.msgCbs))
	copy(entries, c.msgCbs)
	c.cbM.RUnlock()
	for _, entry := range entries {
		if entry.callback != nil {
			entry.callback(env)
		}
	}
}

func (c *callbacks) emitState(state ConnState) {
	c.cbM.RLock()
	entries := make([]stateCallbackEntry, len(c.stateCbs))
	copy(entries, c.stateCbs)
	c.cbM.RUnlock()
	for _, entry := range entries {
		if entry.callback != nil {
			entry.callback(state)
		}
	}
}

// Requests builds request envelopes for one member. It satisfies
// room.Sender and the reconnect Joiner.
type Requests struct {
	c        Client
	memberID string
}

func NewRequests(c Client, memberID string) *Requests {
	return &Requests{c: c, memberID: memberID}
}

func (r *Requests) Join(ctx context.Context, roomID string, mode room.Mode, displayName string) error {
	return r.c.Send(ctx, Envelope{T: TypeJoin, RoomID: roomID, Mode: mode, MemberID: r.memberID, Name: displayName})
}

func (r *Requests) Leave(ctx context.Context, roomID string) error {
	return r.c.Send(ctx, Envelope{T: TypeLeave, RoomID: roomID})
}

// Seat takes seat, or releases every seat when seat is empty.
func (r *Requests) Seat(ctx context.Context, roomID string, seat room.Seat) error {
	return r.c.Send(ctx, Envelope{T: TypeSeat, RoomID: roomID, Seat: seat})
}

func (r *Requests) Start(ctx context.Context, roomID string) error {
	return r.c.Send(ctx, Envelope{T: TypeStart, RoomID: roomID})
}

func (r *Requests) MoveSAN(ctx context.Context, roomID, san string) error {
	return r.c.Send(ctx, Envelope{T: TypeMoveSAN, RoomID: roomID, SAN: san})
}

func (r *Requests) Resign(ctx context.Context, roomID string) error {
	return r.c.Send(ctx, Envelope{T: TypeResign, RoomID: roomID})
}

func (r *Requests) SendChat(ctx context.Context, roomID, text string) error {
	return r.c.Send(ctx, Envelope{T: TypeChat, RoomID: roomID, Text: text})
}
