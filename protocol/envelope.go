package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrMalformed   = errors.New("malformed envelope")
	ErrUnknownType = errors.New("unknown message type")
)

// Envelope 线上统一外层：{"type": "...", "payload": {...}}
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outEnvelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Encode 编码服务端事件
func Encode(ev Event) ([]byte, error) {
	if ev == nil {
		return nil, fmt.Errorf("encode: %w", ErrMalformed)
	}
	return json.Marshal(outEnvelope{Type: ev.EventType(), Payload: ev})
}

// EncodeRequest 编码客户端请求
func EncodeRequest(req Request) ([]byte, error) {
	if req == nil {
		return nil, fmt.Errorf("encode: %w", ErrMalformed)
	}
	return json.Marshal(outEnvelope{Type: req.RequestType(), Payload: req})
}

func unwrap(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return env, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return env, fmt.Errorf("%w: missing payload for %q", ErrMalformed, env.Type)
	}
	return env, nil
}

// DecodeRequest 解析客户端请求；未知 type 返回 ErrUnknownType
func DecodeRequest(data []byte) (Request, error) {
	env, err := unwrap(data)
	if err != nil {
		return nil, err
	}
	switch env.Type {
	case TypeJoin:
		var req JoinRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return nil, fmt.Errorf("%w: join: %v", ErrMalformed, err)
		}
		return req, nil
	case TypeMove:
		// x/y 必须显式给出，缺省的 0 会被误当成坐标
		var raw struct {
			X *int `json:"x"`
			Y *int `json:"y"`
		}
		if err := json.Unmarshal(env.Payload, &raw); err != nil {
			return nil, fmt.Errorf("%w: move: %v", ErrMalformed, err)
		}
		if raw.X == nil || raw.Y == nil {
			return nil, fmt.Errorf("%w: move requires x and y", ErrMalformed)
		}
		return MoveRequest{X: *raw.X, Y: *raw.Y}, nil
	case TypeChat:
		var req ChatRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return nil, fmt.Errorf("%w: chat: %v", ErrMalformed, err)
		}
		return req, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

// DecodeEvent 解析服务端事件（客户端使用）
func DecodeEvent(data []byte) (Event, error) {
	env, err := unwrap(data)
	if err != nil {
		return nil, err
	}
	var ev Event
	switch env.Type {
	case TypeSpaceJoined:
		var p SpaceJoined
		err = json.Unmarshal(env.Payload, &p)
		ev = p
	case TypeUserJoined:
		var p UserJoined
		err = json.Unmarshal(env.Payload, &p)
		ev = p
	case TypeMovement:
		var p Movement
		err = json.Unmarshal(env.Payload, &p)
		ev = p
	case TypeMovementRejected:
		var p MovementRejected
		err = json.Unmarshal(env.Payload, &p)
		ev = p
	case TypeUserLeft:
		var p UserLeft
		err = json.Unmarshal(env.Payload, &p)
		ev = p
	case TypeChatMessage:
		var p ChatEntry
		err = json.Unmarshal(env.Payload, &p)
		ev = p
	case TypeError:
		var p Error
		err = json.Unmarshal(env.Payload, &p)
		ev = p
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Type, err)
	}
	return ev, nil
}
