// Package transport carries room requests and snapshots between clients and
// a room host: a WebSocket client and server, and an in-process loopback.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/park285/cheese-rooms/internal/chat"
	"github.com/park285/cheese-rooms/internal/room"
	"github.com/park285/cheese-rooms/internal/roomhost"
)

// Envelope types. Requests flow client to host, the rest host to client.
const (
	TypeJoin    = "room/join"
	TypeLeave   = "room/leave"
	TypeSeat    = "room/seat"
	TypeStart   = "room/start"
	TypeMoveSAN = "game/moveSAN"
	TypeResign  = "game/resign"
	TypeChat    = "chat/send"

	TypeState   = "room/state"
	TypeChatMsg = "chat/msg"
	TypeError   = "error"
)

var (
	ErrUnknownType  = errors.New("unknown envelope type")
	ErrNotJoined    = errors.New("join first")
	ErrMemberChange = errors.New("member id cannot change on a connection")
	ErrNotConnected = errors.New("not connected")
)

// Envelope is the single JSON frame shape on the wire, tagged by T.
type Envelope struct {
	T        string          `json:"t"`
	RoomID   string          `json:"roomId,omitempty"`
	Mode     room.Mode       `json:"mode,omitempty"`
	MemberID string          `json:"memberId,omitempty"`
	Name     string          `json:"name,omitempty"`
	Seat     room.Seat       `json:"seat,omitempty"`
	SAN      string          `json:"san,omitempty"`
	Text     string          `json:"text,omitempty"`
	State    json.RawMessage `json:"state,omitempty"`
	Chat     *chat.Message   `json:"chat,omitempty"`

	// Error frames: Ref is the request type that failed.
	Ref   string `json:"ref,omitempty"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

// EventEnvelope converts a host event into its outbound frame.
func EventEnvelope(ev roomhost.Event) (Envelope, error) {
	switch ev.Kind {
	case roomhost.EventState:
		raw, err := room.Encode(ev.State)
		if err != nil {
			return Envelope{}, err
		}
		return Envelope{T: TypeState, RoomID: ev.RoomID, State: raw}, nil
	case roomhost.EventChat:
		return Envelope{T: TypeChatMsg, RoomID: ev.RoomID, Chat: ev.Chat}, nil
	default:
		return Envelope{}, fmt.Errorf("event kind %q", ev.Kind)
	}
}

var errorCodes = []struct {
	err  error
	code string
}{
	{room.ErrIllegalMove, "illegal_move"},
	{room.ErrInvariant, "invariant"},
	{room.ErrUnknownRoom, "unknown_room"},
	{roomhost.ErrBadMode, "bad_mode"},
	{roomhost.ErrBadSeat, "bad_seat"},
	{roomhost.ErrSeatTaken, "seat_taken"},
	{roomhost.ErrNotMember, "not_member"},
	{roomhost.ErrNotHost, "not_host"},
	{roomhost.ErrNotReady, "not_ready"},
	{roomhost.ErrStarted, "started"},
	{roomhost.ErrNotStarted, "not_started"},
	{roomhost.ErrFinished, "finished"},
	{roomhost.ErrNotSeated, "not_seated"},
	{roomhost.ErrEmptyChat, "empty_chat"},
	{roomhost.ErrChatTooLong, "chat_too_long"},
	{ErrUnknownType, "unknown_type"},
	{ErrNotJoined, "not_joined"},
	{ErrMemberChange, "member_change"},
}

// ErrorEnvelope reports a failed request. Only the sentinel text goes on the
// wire; anything unrecognized becomes "internal".
func ErrorEnvelope(req *Envelope, err error) Envelope {
	env := Envelope{T: TypeError, RoomID: req.RoomID, Ref: req.T, SAN: req.SAN, Code: "internal", Error: "internal error"}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			env.Code = ec.code
			env.Error = ec.err.Error()
			break
		}
	}
	return env
}

// ErrorFor maps an error frame back to its sentinel, or a plain error.
func ErrorFor(env *Envelope) error {
	for _, ec := range errorCodes {
		if ec.code == env.Code {
			return ec.err
		}
	}
	return errors.New(env.Error)
}
