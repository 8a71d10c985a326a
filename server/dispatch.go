package server

import (
	"errors"
	"fmt"

	"gridspace/protocol"
)

// dispatch 按请求类型路由；返回 false 表示应关闭连接
func (s *Session) dispatch(req protocol.Request) bool {
	switch r := req.(type) {
	case protocol.JoinRequest:
		return s.handleJoin(r)
	case protocol.MoveRequest:
		s.handleMove(r)
	case protocol.ChatRequest:
		s.handleChat(r)
	default:
		s.sendError(fmt.Errorf("%w: %T", protocol.ErrUnknownType, req))
	}
	return true
}

func (s *Session) handleJoin(req protocol.JoinRequest) bool {
	if s.room != nil {
		s.sendError(ErrAlreadyJoined)
		return true
	}

	identity, err := s.auth.AuthenticateIdentity(s.ctx, req.IdentityToken)
	if err != nil {
		// 未认证：回复错误后关闭，连接不会被接纳
		Log.Infof("conn %s: join refused: %v", s.conn.ID, err)
		s.sendError(ErrUnauthorized)
		s.conn.Shutdown()
		return false
	}

	for attempt := 0; attempt < resolveAttempts; attempt++ {
		room, err := s.registry.Resolve(s.ctx, req.RoomID)
		if err != nil {
			s.sendError(err)
			return true
		}
		_, err = room.Join(s.ctx, JoinParams{Identity: identity, DisplayName: req.DisplayName, Outbox: s.conn})
		if errors.Is(err, ErrRoomClosed) {
			// 刚好被回收，重新解析会得到新房间
			continue
		}
		if err != nil {
			// 重名/满员等：连接保持，客户端可换名重试
			s.sendError(err)
			return true
		}
		s.room = room
		s.identity = identity
		s.displayName = req.DisplayName
		return true
	}
	s.sendError(ErrRoomClosed)
	return true
}

func (s *Session) handleMove(req protocol.MoveRequest) {
	if s.room == nil {
		s.sendError(ErrNotJoined)
		return
	}
	// 拒绝结果由房间以 movement-rejected 直接回给本会话
	if _, err := s.room.Move(s.ctx, s.identity, req.Position()); err != nil && !errors.Is(err, ErrInvalidMove) {
		Log.Debugf("move: room=%s user=%s: %v", s.room.ID, s.identity, err)
	}
}

func (s *Session) handleChat(req protocol.ChatRequest) {
	if s.room == nil {
		s.sendError(ErrNotJoined)
		return
	}
	if _, err := s.room.Chat(s.ctx, s.identity, req.Text); err != nil {
		if errors.Is(err, ErrInvalidChat) {
			s.sendError(err)
			return
		}
		Log.Debugf("chat: room=%s user=%s: %v", s.room.ID, s.identity, err)
	}
}
