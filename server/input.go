package server

import "gridspace/protocol"

// 房间命令：会话协程通过 cmds 通道投递，由房间协程串行执行
// reply 通道均带 1 个缓冲，房间协程写入时不会阻塞
type command interface {
	apply(r *Room)
}

// JoinParams 加入请求（身份已由认证方确认）
type JoinParams struct {
	Identity    string
	DisplayName string
	Outbox      Outbox
}

// JoinResult 出生点与加入时的快照
type JoinResult struct {
	Spawn    protocol.Position
	Snapshot protocol.SpaceJoined
}

type joinCmd struct {
	params JoinParams
	reply  chan result[JoinResult]
}

// MoveOutcome 移动结果；Accepted 为 false 时 Position 为纠正后的权威坐标，同时返回 ErrInvalidMove
type MoveOutcome struct {
	Accepted bool
	Position protocol.Position
}

type moveCmd struct {
	identity string
	target   protocol.Position
	reply    chan result[MoveOutcome]
}

type chatCmd struct {
	identity string
	text     string
	reply    chan result[uint64]
}

type leaveCmd struct {
	identity string
	reply    chan result[struct{}]
}

type statsCmd struct {
	reply chan result[RoomStats]
}

type result[T any] struct {
	val T
	err error
}

func (c joinCmd) apply(r *Room) {
	v, err := r.join(c.params)
	c.reply <- result[JoinResult]{v, err}
}

func (c moveCmd) apply(r *Room) {
	v, err := r.move(c.identity, c.target)
	c.reply <- result[MoveOutcome]{v, err}
}

func (c chatCmd) apply(r *Room) {
	v, err := r.chat(c.identity, c.text)
	c.reply <- result[uint64]{v, err}
}

func (c leaveCmd) apply(r *Room) {
	err := r.leave(c.identity)
	c.reply <- result[struct{}]{err: err}
}

func (c statsCmd) apply(r *Room) {
	c.reply <- result[RoomStats]{val: r.stats()}
}
