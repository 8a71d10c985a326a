package server

import "gridspace/protocol"

// Outbox 成员连接的发送端；房间在自己的协程里调用，必须非阻塞
type Outbox interface {
	// Send 入队一条已编码的消息，缓冲已满或连接已关闭时返回 false
	Send(msg []byte) bool
	// Kick 断开该连接（慢消费者），可重复调用
	Kick(reason string)
}

// Member 房间内的成员（服务端权威状态），只由房间协程读写
type Member struct {
	ID   string
	Name string
	Pos  protocol.Position

	nameKey string
	joinSeq uint64
	kicked  bool
	out     Outbox
}

func (m *Member) info() protocol.UserInfo {
	return protocol.UserInfo{UserID: m.ID, X: m.Pos.X, Y: m.Pos.Y, DisplayName: m.Name}
}
