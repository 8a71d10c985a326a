package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRequest(t *testing.T) {
	tests := map[string]struct {
		input   string
		want    Request
		wantErr error
	}{
		"join": {
			input: `{"type":"join","payload":{"roomId":"R","identityToken":"tok","displayName":"alice"}}`,
			want:  JoinRequest{RoomID: "R", IdentityToken: "tok", DisplayName: "alice"},
		},
		"move to origin": {
			input: `{"type":"move","payload":{"x":0,"y":0}}`,
			want:  MoveRequest{X: 0, Y: 0},
		},
		"move missing y": {
			input:   `{"type":"move","payload":{"x":1}}`,
			wantErr: ErrMalformed,
		},
		"chat": {
			input: `{"type":"chat","payload":{"text":"hi"}}`,
			want:  ChatRequest{Text: "hi"},
		},
		"unknown type": {
			input:   `{"type":"teleport","payload":{"x":1,"y":1}}`,
			wantErr: ErrUnknownType,
		},
		"missing payload": {
			input:   `{"type":"chat"}`,
			wantErr: ErrMalformed,
		},
		"not json": {
			input:   `hello`,
			wantErr: ErrMalformed,
		},
		"wrong payload shape": {
			input:   `{"type":"move","payload":{"x":"one","y":0}}`,
			wantErr: ErrMalformed,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := DecodeRequest([]byte(tt.input))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeEventShape(t *testing.T) {
	data, err := Encode(Movement{UserID: "a", X: 1, Y: 0})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"movement","payload":{"userId":"a","x":1,"y":0}}`, string(data))

	data, err = Encode(ChatEntry{UserID: "a", DisplayName: "A", Message: "hi", Sequence: 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"chat","payload":{"userId":"a","displayName":"A","message":"hi","sequence":1}}`, string(data))
}

func TestEncodeSpaceJoinedKeepsEmptyLists(t *testing.T) {
	data, err := Encode(SpaceJoined{UserID: "a", Width: 3, Height: 3, Users: []UserInfo{}, Messages: []ChatEntry{}})
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, TypeSpaceJoined, env.Type)
	assert.JSONEq(t, `{"userId":"a","width":3,"height":3,"spawn":{"x":0,"y":0},"users":[],"messages":[]}`, string(env.Payload))
}

func TestDecodeEventRoundTripsServerEvents(t *testing.T) {
	events := []Event{
		SpaceJoined{UserID: "a", Width: 2, Height: 2, Spawn: Position{X: 1}, Users: []UserInfo{{UserID: "b", DisplayName: "B"}}, Messages: []ChatEntry{}},
		UserJoined{UserID: "b", X: 1, DisplayName: "B"},
		MovementRejected{X: 0, Y: 0},
		UserLeft{UserID: "b"},
		Error{Code: CodeNameConflict},
	}
	for _, ev := range events {
		data, err := Encode(ev)
		require.NoError(t, err)
		got, err := DecodeEvent(data)
		require.NoError(t, err)
		assert.Equal(t, ev, got)
	}
}

func TestEncodeRequest(t *testing.T) {
	data, err := EncodeRequest(MoveRequest{X: 2, Y: 0})
	require.NoError(t, err)
	req, err := DecodeRequest(data)
	require.NoError(t, err)
	assert.Equal(t, MoveRequest{X: 2, Y: 0}, req)
}
