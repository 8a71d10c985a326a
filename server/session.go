package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"gridspace/protocol"
)

const (
	maxMessageSize = 64 << 10
	// 房间恰好被回收时重新解析的次数
	resolveAttempts = 3
)

// Session 每个连接一个：身份、所在房间、发送端
// identity/room 只由读泵协程读写
type Session struct {
	ctx      context.Context
	conn     *ClientConn
	registry *Registry
	auth     Authenticator
	idle     time.Duration

	identity    string
	displayName string
	room        *Room
	leaveOnce   sync.Once
	// 读泵退出原因，只在 leave 时记录
	reason error
}

func newSession(ctx context.Context, conn *ClientConn, registry *Registry, auth Authenticator, idle time.Duration) *Session {
	return &Session{ctx: ctx, conn: conn, registry: registry, auth: auth, idle: idle}
}

// readPump 读取客户端消息并分发；退出时保证只触发一次 Leave
func (s *Session) readPump() {
	defer s.leave()
	defer s.conn.Kick("read pump exited")

	ws := s.conn.ws
	ws.SetReadLimit(maxMessageSize)
	extend := func() { _ = ws.SetReadDeadline(time.Now().Add(s.idle)) }
	extend()
	ws.SetPongHandler(func(string) error { extend(); return nil })
	ws.SetPingHandler(func(data string) error {
		extend()
		err := ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(s.conn.writeTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				Log.Debugf("conn %s read: %v", s.conn.ID, err)
			}
			s.reason = fmt.Errorf("%w: %v", ErrTransportClosed, err)
			return
		}
		extend()

		req, err := protocol.DecodeRequest(payload)
		if err != nil {
			Log.Debugf("conn %s: discarding message: %v", s.conn.ID, err)
			s.sendError(err)
			continue
		}
		if !s.dispatch(req) {
			// 等写泵把已入队的 error 发完再断开
			select {
			case <-s.conn.exited:
			case <-time.After(s.conn.writeTimeout):
			}
			return
		}
	}
}

// leave 连接关闭与在途消息竞争时也只执行一次；Leave 本身是房间的串行命令
func (s *Session) leave() {
	s.leaveOnce.Do(func() {
		if s.room == nil {
			return
		}
		if s.reason != nil {
			Log.Infof("conn %s leaving room=%s: %v", s.conn.ID, s.room.ID, s.reason)
		}
		if err := s.room.Leave(context.Background(), s.identity); err != nil && !errors.Is(err, ErrNotMember) {
			Log.Warnf("leave: room=%s user=%s: %v", s.room.ID, s.identity, err)
		}
		s.room = nil
	})
}

func (s *Session) send(ev protocol.Event) {
	data, err := protocol.Encode(ev)
	if err != nil {
		Log.Errorf("encode %s: %v", ev.EventType(), err)
		return
	}
	if !s.conn.Send(data) {
		s.conn.Kick("send buffer full")
	}
}

// sendError 错误只回给发起请求的会话
func (s *Session) sendError(err error) {
	s.send(protocol.Error{Code: errorCode(err), Message: err.Error()})
}
