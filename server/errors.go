package server

import (
	"errors"

	"gridspace/protocol"
)

var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrNameConflict    = errors.New("display name already in use")
	ErrRoomFull        = errors.New("room full")
	ErrInvalidMove     = errors.New("invalid move")
	ErrTransportClosed = errors.New("transport closed")

	ErrRoomNotFound   = errors.New("room not found")
	ErrInvalidName    = errors.New("invalid display name")
	ErrInvalidChat    = errors.New("invalid chat message")
	ErrAlreadyJoined  = errors.New("session already joined a room")
	ErrNotJoined      = errors.New("session has not joined a room")
	ErrIdentityInRoom = errors.New("identity already present in room")
	ErrNotMember      = errors.New("identity is not a member of the room")
	ErrRoomClosed     = errors.New("room closed")
)

// errorCode 将内部错误映射为线上错误码
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return protocol.CodeUnauthorized
	case errors.Is(err, ErrNameConflict):
		return protocol.CodeNameConflict
	case errors.Is(err, ErrRoomFull):
		return protocol.CodeRoomFull
	case errors.Is(err, ErrRoomNotFound):
		return protocol.CodeRoomNotFound
	case errors.Is(err, ErrInvalidName):
		return protocol.CodeInvalidName
	case errors.Is(err, ErrInvalidChat):
		return protocol.CodeInvalidChat
	case errors.Is(err, ErrAlreadyJoined):
		return protocol.CodeAlreadyJoined
	case errors.Is(err, ErrNotJoined):
		return protocol.CodeNotJoined
	case errors.Is(err, ErrIdentityInRoom):
		return protocol.CodeIdentityInRoom
	case errors.Is(err, protocol.ErrMalformed), errors.Is(err, protocol.ErrUnknownType):
		return protocol.CodeBadRequest
	default:
		return protocol.CodeInternal
	}
}
