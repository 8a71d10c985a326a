package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ClientConn 负责发送（写）数据到客户端的轻量包装，实现 Outbox
type ClientConn struct {
	ID string

	ws           *websocket.Conn
	send         chan []byte
	done         chan struct{}
	exited       chan struct{} // 写泵退出后关闭
	closeOnce    sync.Once
	writeTimeout time.Duration
}

func NewClientConn(ws *websocket.Conn, buffer int, writeTimeout time.Duration) *ClientConn {
	return &ClientConn{
		ID:           uuid.NewString(),
		ws:           ws,
		send:         make(chan []byte, buffer),
		done:         make(chan struct{}),
		exited:       make(chan struct{}),
		writeTimeout: writeTimeout,
	}
}

// Send 将要发送的消息压入队列（非阻塞，满则返回 false 由房间决定断开）
func (c *ClientConn) Send(b []byte) bool {
	if b == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

// Kick 立即断开连接，读泵随之退出并触发 Leave
func (c *ClientConn) Kick(reason string) {
	c.closeOnce.Do(func() {
		Log.Debugf("conn %s kicked: %s", c.ID, reason)
		close(c.done)
	})
}

// Shutdown 先发完已入队的消息再正常关闭（例如未认证时的 error 事件）
func (c *ClientConn) Shutdown() {
	select {
	case c.send <- nil:
	default:
		c.Kick("send buffer full on shutdown")
	}
}

// Closed 连接关闭后关闭
func (c *ClientConn) Closed() <-chan struct{} { return c.done }

// writePump 独立协程，负责从 send 队列写出到 WS
func (c *ClientConn) writePump() {
	defer func() {
		c.Kick("write pump exited")
		_ = c.ws.Close()
		close(c.exited)
	}()
	for {
		select {
		case msg := <-c.send:
			if msg == nil {
				_ = c.ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(c.writeTimeout))
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "disconnected"), time.Now().Add(c.writeTimeout))
			return
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 演示环境：允许所有来源（生产环境需严格限制）
		return true
	},
}

// Server 持有注册表与认证方，为每个 WebSocket 连接创建会话
type Server struct {
	cfg      Config
	registry *Registry
	auth     Authenticator
	ctx      context.Context

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewServer(ctx context.Context, cfg Config, registry *Registry, auth Authenticator) *Server {
	return &Server{
		cfg:      cfg,
		registry: registry,
		auth:     auth,
		ctx:      ctx,
		sessions: make(map[string]*Session),
	}
}

func (s *Server) Registry() *Registry { return s.registry }

// HandleWS WebSocket 接入；房间与身份都在第一条 join 消息里给出
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		Log.Warnf("upgrade error: %v", err)
		return
	}

	client := NewClientConn(ws, s.cfg.SendBuffer, s.cfg.WriteTimeout)
	sess := newSession(s.ctx, client, s.registry, s.auth, s.cfg.IdleTimeout)
	s.track(sess)
	Log.Debugf("conn %s opened from %s", client.ID, r.RemoteAddr)

	go client.writePump()
	go func() {
		defer s.untrack(sess)
		sess.readPump()
	}()
}

func (s *Server) track(sess *Session) {
	s.mu.Lock()
	s.sessions[sess.conn.ID] = sess
	s.mu.Unlock()
}

func (s *Server) untrack(sess *Session) {
	s.mu.Lock()
	delete(s.sessions, sess.conn.ID)
	s.mu.Unlock()
}

// Shutdown 断开所有连接并停止房间
func (s *Server) Shutdown() {
	s.mu.Lock()
	for _, sess := range s.sessions {
		sess.conn.Kick("server shutting down")
	}
	s.mu.Unlock()
	s.registry.Close()
}
