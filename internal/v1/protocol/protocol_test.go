package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_FlatFields(t *testing.T) {
	env, err := Decode([]byte(`{"type":"join_room","room_id":"r1","timestamp":123,"msg_id":"m1"}`))
	require.NoError(t, err)

	assert.Equal(t, "join_room", env.Type)
	assert.Equal(t, float64(123), env.Timestamp)
	assert.Equal(t, "m1", env.MsgID)

	var req struct {
		RoomID string `json:"room_id"`
	}
	require.NoError(t, env.Bind(&req))
	assert.Equal(t, "r1", req.RoomID)
}

func TestDecode_PayloadWinsOverFlat(t *testing.T) {
	env, err := Decode([]byte(`{"type":"join_room","room_id":"outer","payload":{"room_id":"inner"}}`))
	require.NoError(t, err)

	var req struct {
		RoomID string `json:"room_id"`
	}
	require.NoError(t, env.Bind(&req))
	assert.Equal(t, "inner", req.RoomID)
}

func TestDecode_MalformedJSON(t *testing.T) {
	_, err := Decode([]byte(`{"type":`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecode_MissingType(t *testing.T) {
	_, err := Decode([]byte(`{"room_id":"r1"}`))
	assert.ErrorIs(t, err, ErrMissingType)

	_, err = Decode([]byte(`{"type":""}`))
	assert.ErrorIs(t, err, ErrMissingType)

	_, err = Decode([]byte(`{"type":42}`))
	assert.ErrorIs(t, err, ErrMissingType)
}

func TestDecode_BadPayloadShape(t *testing.T) {
	_, err := Decode([]byte(`{"type":"x","payload":"not an object"}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestFields_MergesWithPayloadPrecedence(t *testing.T) {
	env, err := Decode([]byte(`{"type":"game_action","action":"place","x":1,"payload":{"x":2,"y":3}}`))
	require.NoError(t, err)

	fields := env.Fields()
	assert.Equal(t, "place", fields["action"])
	assert.Equal(t, float64(2), fields["x"])
	assert.Equal(t, float64(3), fields["y"])
	assert.NotContains(t, fields, "type")
}

func TestOutbound_MarshalFlat(t *testing.T) {
	out := NewOutbound(TypeRoomUpdate, map[string]any{"action": "player_joined"})
	data, err := out.Marshal()
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "room_update", got["type"])
	assert.Equal(t, "player_joined", got["action"])
	assert.Contains(t, got, "timestamp")
}

func TestErrorFrame(t *testing.T) {
	data, err := ErrorFrame(CodeUnknownType, "unknown message type: nope").Marshal()
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "error", got["type"])
	assert.Equal(t, float64(CodeUnknownType), got["code"])
}
