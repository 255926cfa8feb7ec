// Package protocol defines the JSON wire format shared by the gateway and
// all services: the inbound envelope codec, the message type tables, and
// the error code taxonomy.
//
// Inbound frames are UTF-8 JSON objects discriminated by a "type" field.
// Payload fields may arrive flat at the top level or nested under
// "payload"; both are accepted, and nested fields win when both are
// present. Outbound frames always use flat fields, except game_sync which
// nests the snapshot under "state".
package protocol

import (
	"encoding/json"
	"errors"
	"time"
)

// Inbound message types.
const (
	TypeHeartbeat   = "heartbeat"
	TypeLogin       = "login"
	TypeTokenLogin  = "token_login"
	TypeRegister    = "register"
	TypeLogout      = "logout"
	TypeGetFriends  = "get_friends"
	TypeGetRooms    = "get_rooms"
	TypeCreateRoom  = "create_room"
	TypeJoinRoom    = "join_room"
	TypeLeaveRoom   = "leave_room"
	TypeSetReady    = "set_ready"
	TypeStartGame   = "start_game"
	TypeQuickMatch  = "quick_match"
	TypeCancelMatch = "cancel_match"
	TypeGameAction  = "game_action"
	TypeChatMessage = "chat_message"
)

// Outbound message types.
const (
	TypeWelcome            = "welcome"
	TypeHeartbeatAck       = "heartbeat_ack"
	TypeError              = "error"
	TypeLoginResponse      = "login_response"
	TypeRegisterResponse   = "register_response"
	TypeFriendList         = "friend_list"
	TypeFriendStatus       = "friend_status"
	TypeRoomList           = "room_list"
	TypeRoomUpdate         = "room_update"
	TypeRoomResume         = "room_resume"
	TypeCreateRoomResponse = "create_room_response"
	TypeJoinRoomResponse   = "join_room_response"
	TypeLeaveRoomResponse  = "leave_room_response"
	TypeStartGameResponse  = "start_game_response"
	TypeMatchQueued        = "match_queued"
	TypeMatchFound         = "match_found"
	TypeMatchCancelled     = "match_cancelled"
	TypeMatchTimeout       = "match_timeout"
	TypeMatchError         = "match_error"
	TypeGameStart          = "game_start"
	TypeGameSync           = "game_sync"
	TypeGameActionResponse = "game_action_response"
	TypeGameEnd            = "game_end"
	TypeChatError          = "chat_error"
	TypeNotification       = "notification"
)

// Application error codes carried on "error" envelopes.
const (
	CodeMalformedJSON = 4000
	CodeMissingType   = 4001
	CodeAuthRequired  = 4003
	CodeUnknownType   = 4004
	CodeInternalError = 5000

	// Transport-level close reasons reused as application codes where the
	// client still has a live session to read them on.
	CodeSessionReplaced = 1001
	CodeAtCapacity      = 1013
)

var (
	ErrMalformed   = errors.New("malformed JSON frame")
	ErrMissingType = errors.New("envelope has no type")
)

// Envelope is one parsed inbound frame. Fields outside the standard three
// are kept raw and merged on demand by Bind.
type Envelope struct {
	Type      string
	Timestamp float64
	MsgID     string

	top     map[string]json.RawMessage
	payload map[string]json.RawMessage
}

// Decode parses a raw text frame into an Envelope. It accepts both the
// flat and the payload-nested shape; Bind resolves precedence.
func Decode(raw []byte) (*Envelope, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, ErrMalformed
	}

	env := &Envelope{top: top}

	typRaw, ok := top["type"]
	if !ok {
		return nil, ErrMissingType
	}
	if err := json.Unmarshal(typRaw, &env.Type); err != nil || env.Type == "" {
		return nil, ErrMissingType
	}

	if tsRaw, ok := top["timestamp"]; ok {
		_ = json.Unmarshal(tsRaw, &env.Timestamp)
	}
	if idRaw, ok := top["msg_id"]; ok {
		_ = json.Unmarshal(idRaw, &env.MsgID)
	}

	if payloadRaw, ok := top["payload"]; ok {
		var payload map[string]json.RawMessage
		if err := json.Unmarshal(payloadRaw, &payload); err != nil {
			return nil, ErrMalformed
		}
		env.payload = payload
	}

	return env, nil
}

// Bind unmarshals the envelope's fields into v. Top-level fields act as
// defaults; fields under "payload" take precedence.
func (e *Envelope) Bind(v any) error {
	merged := make(map[string]json.RawMessage, len(e.top)+len(e.payload))
	for k, raw := range e.top {
		if k == "type" || k == "payload" || k == "timestamp" || k == "msg_id" {
			continue
		}
		merged[k] = raw
	}
	for k, raw := range e.payload {
		merged[k] = raw
	}

	buf, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	return json.Unmarshal(buf, v)
}

// Fields returns the merged payload as a generic map, payload-nested
// fields winning. Used for free-form game action data.
func (e *Envelope) Fields() map[string]any {
	out := make(map[string]any, len(e.top)+len(e.payload))
	for k, raw := range e.top {
		if k == "type" || k == "payload" || k == "timestamp" || k == "msg_id" {
			continue
		}
		var v any
		if json.Unmarshal(raw, &v) == nil {
			out[k] = v
		}
	}
	for k, raw := range e.payload {
		var v any
		if json.Unmarshal(raw, &v) == nil {
			out[k] = v
		}
	}
	return out
}

// Outbound is one flat outbound frame: the type plus its fields.
// Marshal flattens Fields next to "type" and "timestamp".
type Outbound struct {
	Type   string
	Fields map[string]any
}

// NewOutbound builds an outbound frame of the given type.
func NewOutbound(typ string, fields map[string]any) *Outbound {
	return &Outbound{Type: typ, Fields: fields}
}

// Marshal serializes the frame with flat fields and a unix-millis timestamp.
func (o *Outbound) Marshal() ([]byte, error) {
	obj := make(map[string]any, len(o.Fields)+2)
	for k, v := range o.Fields {
		obj[k] = v
	}
	obj["type"] = o.Type
	obj["timestamp"] = time.Now().UnixMilli()
	return json.Marshal(obj)
}

// ErrorFrame builds the standard error envelope.
func ErrorFrame(code int, message string) *Outbound {
	return NewOutbound(TypeError, map[string]any{
		"code":    code,
		"message": message,
	})
}
