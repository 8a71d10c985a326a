package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"gridspace/protocol"
)

var (
	ErrNotJoined = errors.New("not joined")
	ErrClosed    = errors.New("client closed")
)

// ServerError 服务端 error 事件
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// IsCode 判断 err 是否为指定错误码的 ServerError
func IsCode(err error, code string) bool {
	var se *ServerError
	return errors.As(err, &se) && se.Code == code
}

type Option func(*Client)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Client) { c.log = l }
}

// WithHandler 每条事件应用到 View 之后回调（在读协程中执行，不要阻塞）
func WithHandler(fn func(protocol.Event)) Option {
	return func(c *Client) { c.handler = fn }
}

// WithPingInterval 心跳间隔，需小于服务端 idle-timeout；0 关闭心跳
func WithPingInterval(d time.Duration) Option {
	return func(c *Client) { c.pingInterval = d }
}

// Client 一条到服务端的连接，事件依次应用到 View
type Client struct {
	ws   *websocket.Conn
	view *View
	log  *zap.SugaredLogger

	handler      func(protocol.Event)
	pingInterval time.Duration

	writeMu sync.Mutex
	// 只有 Join 等待期间才转交 space-joined / error
	joining atomic.Bool
	replies chan protocol.Event
	done    chan struct{}
	once    sync.Once
	err     error
}

// Dial 建立连接并启动读协程
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c := &Client{
		ws:           ws,
		view:         NewView(),
		log:          zap.NewNop().Sugar(),
		pingInterval: 20 * time.Second,
		replies:      make(chan protocol.Event, 4),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.readLoop()
	if c.pingInterval > 0 {
		go c.pingLoop()
	}
	return c, nil
}

func (c *Client) View() *View { return c.view }

// Done 连接关闭后关闭；Err 返回关闭原因
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Err() error {
	<-c.done
	return c.err
}

// Join 发送 join 并等待 space-joined 或 error
// 重名等错误返回 *ServerError，连接保持可再次 Join
func (c *Client) Join(ctx context.Context, roomID, token, displayName string) (protocol.SpaceJoined, error) {
	// 丢掉上一次 Join 放弃后才到的回复
	for drained := false; !drained; {
		select {
		case <-c.replies:
		default:
			drained = true
		}
	}
	c.joining.Store(true)
	defer c.joining.Store(false)

	if err := c.write(protocol.JoinRequest{RoomID: roomID, IdentityToken: token, DisplayName: displayName}); err != nil {
		return protocol.SpaceJoined{}, err
	}
	for {
		select {
		case ev := <-c.replies:
			switch e := ev.(type) {
			case protocol.SpaceJoined:
				return e, nil
			case protocol.Error:
				return protocol.SpaceJoined{}, &ServerError{Code: e.Code, Message: e.Message}
			}
		case <-c.done:
			// 服务端可能先回 error 再断开
			select {
			case ev := <-c.replies:
				if e, ok := ev.(protocol.Error); ok {
					return protocol.SpaceJoined{}, &ServerError{Code: e.Code, Message: e.Message}
				}
			default:
			}
			return protocol.SpaceJoined{}, c.closeErr()
		case <-ctx.Done():
			return protocol.SpaceJoined{}, ctx.Err()
		}
	}
}

// Move 本地先走一步，再把绝对坐标发给服务端
func (c *Client) Move(dir protocol.Direction) (protocol.Position, error) {
	req, ok := c.view.PredictMove(dir)
	if !ok {
		return c.view.Local(), ErrNotJoined
	}
	return req.Position(), c.write(req)
}

// Chat 只发送，不本地回显；等广播回来后才出现在 View 中
func (c *Client) Chat(text string) error {
	if !c.view.Joined() {
		return ErrNotJoined
	}
	return c.write(protocol.ChatRequest{Text: text})
}

func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.finish(ErrClosed)
	return c.ws.Close()
}

func (c *Client) write(req protocol.Request) error {
	data, err := protocol.EncodeRequest(req)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return c.closeErr()
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", req.RequestType(), err)
	}
	return nil
}

func (c *Client) readLoop() {
	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			c.finish(err)
			return
		}
		ev, err := protocol.DecodeEvent(payload)
		if err != nil {
			c.log.Debugf("discarding event: %v", err)
			continue
		}
		c.view.Apply(ev)

		switch e := ev.(type) {
		case protocol.SpaceJoined:
			c.reply(ev)
		case protocol.Error:
			c.log.Infof("server error: %s %s", e.Code, e.Message)
			c.reply(ev)
		}
		if c.handler != nil {
			c.handler(ev)
		}
	}
}

func (c *Client) reply(ev protocol.Event) {
	if !c.joining.Load() {
		return
	}
	select {
	case c.replies <- ev:
	default:
		c.log.Debugf("dropping unclaimed %s reply", ev.EventType())
	}
}

func (c *Client) pingLoop() {
	t := time.NewTicker(c.pingInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				c.log.Debugf("ping: %v", err)
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) finish(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}

func (c *Client) closeErr() error {
	if c.err != nil && !errors.Is(c.err, ErrClosed) {
		return fmt.Errorf("%w: %v", ErrClosed, c.err)
	}
	return ErrClosed
}
