// Package client 是参与者一侧的同步引擎：本地乐观移动、被拒回滚、增量应用他人事件。
package client

import (
	"slices"
	"strings"
	"sync"
	"time"

	"gridspace/protocol"
)

// SystemUserID 本地合成的系统消息（加入/离开提示）使用的 userId，不属于权威聊天序列
const SystemUserID = "SYSTEM"

const defaultMaxPending = 32

// PredictionState 本地位置的两种状态
type PredictionState int

const (
	// Confirmed 本地位置与最近一次权威同步点一致
	Confirmed PredictionState = iota
	// Predicted 自上个同步点以来发出过乐观移动（被接受的移动不回执，不会自动回到 Confirmed）
	Predicted
)

func (s PredictionState) String() string {
	if s == Predicted {
		return "predicted"
	}
	return "confirmed"
}

// Peer 本地记录的其他成员
type Peer struct {
	UserID      string
	DisplayName string
	Pos         protocol.Position
}

// Line 本地聊天列表中的一行；System 行只用于展示
type Line struct {
	UserID      string
	DisplayName string
	Text        string
	Sequence    uint64
	System      bool
	At          time.Time
}

// View 客户端对房间的本地视图
//
// 服务端不对被接受的移动回执，所以 pending 只记录自上次同步点
// （space-joined 或 movement-rejected）以来发出的移动。移动请求不带序号：
// 对旧请求的拒绝可能晚到并覆盖较新的乐观位置，这是协议已知的不一致窗口。
type View struct {
	mu sync.RWMutex

	joined  bool
	self    string
	dims    protocol.Dimensions
	local   protocol.Position
	pending []protocol.Position
	peers   map[string]*Peer
	lines   []Line
	lastSeq uint64
	gaps    int

	maxPending int
	now        func() time.Time
}

func NewView() *View {
	return &View{
		peers:      make(map[string]*Peer),
		maxPending: defaultMaxPending,
		now:        time.Now,
	}
}

// PredictMove 本地立即走一步并返回要发送的绝对坐标请求；未加入或方向无效时 ok=false
func (v *View) PredictMove(dir protocol.Direction) (protocol.MoveRequest, bool) {
	if dir == protocol.DirNone {
		return protocol.MoveRequest{}, false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.joined {
		return protocol.MoveRequest{}, false
	}
	next := v.local.Step(dir)
	v.local = next
	v.pending = append(v.pending, next)
	if over := len(v.pending) - v.maxPending; over > 0 {
		v.pending = slices.Delete(v.pending, 0, over)
	}
	return protocol.MoveRequest{X: next.X, Y: next.Y}, true
}

// Apply 应用一条服务端事件
func (v *View) Apply(ev protocol.Event) {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch e := ev.(type) {
	case protocol.SpaceJoined:
		v.reset(e)
	case protocol.UserJoined:
		if e.UserID == v.self {
			return
		}
		v.peers[e.UserID] = &Peer{UserID: e.UserID, DisplayName: e.DisplayName, Pos: protocol.Position{X: e.X, Y: e.Y}}
		v.system(displayLabel(e.DisplayName, e.UserID) + " joined")
	case protocol.UserLeft:
		p, ok := v.peers[e.UserID]
		if !ok {
			return
		}
		delete(v.peers, e.UserID)
		v.system(displayLabel(p.DisplayName, p.UserID) + " left")
	case protocol.Movement:
		// 同一连接上的事件按发送顺序到达，直接覆盖
		if p, ok := v.peers[e.UserID]; ok {
			p.Pos = protocol.Position{X: e.X, Y: e.Y}
		}
	case protocol.MovementRejected:
		v.local = protocol.Position{X: e.X, Y: e.Y}
		v.pending = nil
	case protocol.ChatEntry:
		v.appendChat(e)
	}
}

// reset 用快照替换全部本地状态，丢弃之前的推测
func (v *View) reset(e protocol.SpaceJoined) {
	v.joined = true
	v.self = e.UserID
	v.dims = protocol.Dimensions{Width: e.Width, Height: e.Height}
	v.local = e.Spawn
	v.pending = nil
	v.peers = make(map[string]*Peer, len(e.Users))
	for _, u := range e.Users {
		if u.UserID == e.UserID {
			continue
		}
		v.peers[u.UserID] = &Peer{UserID: u.UserID, DisplayName: u.DisplayName, Pos: u.Position()}
	}
	v.lines = make([]Line, 0, len(e.Messages))
	v.lastSeq = 0
	v.gaps = 0
	for _, m := range e.Messages {
		v.appendChat(m)
	}
}

// appendChat 按到达顺序追加；按 sequence 去重，迟到的条目插回正确位置
func (v *View) appendChat(e protocol.ChatEntry) {
	line := Line{UserID: e.UserID, DisplayName: e.DisplayName, Text: e.Message, Sequence: e.Sequence, At: v.now()}
	if ts, err := time.Parse(time.RFC3339, e.Timestamp); err == nil {
		line.At = ts
	}

	if e.Sequence > v.lastSeq {
		if v.lastSeq > 0 && e.Sequence > v.lastSeq+1 {
			v.gaps++
		}
		v.lastSeq = e.Sequence
		v.lines = append(v.lines, line)
		return
	}

	idx := len(v.lines)
	for i, l := range v.lines {
		if l.System {
			continue
		}
		if l.Sequence == e.Sequence {
			return
		}
		if l.Sequence > e.Sequence {
			idx = i
			break
		}
	}
	v.lines = slices.Insert(v.lines, idx, line)
}

func (v *View) system(text string) {
	v.lines = append(v.lines, Line{UserID: SystemUserID, Text: text, System: true, At: v.now()})
}

func displayLabel(name, id string) string {
	if strings.TrimSpace(name) != "" {
		return name
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (v *View) Joined() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.joined
}

// Self 自己的身份 id（space-joined 之后有效）
func (v *View) Self() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.self
}

func (v *View) Dimensions() protocol.Dimensions {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.dims
}

// Local 本地（可能是预测的）位置
func (v *View) Local() protocol.Position {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.local
}

// State 服务端对被接受的移动没有回执，因此发出过移动后会一直是 Predicted，
// 直到下一次 movement-rejected 或 space-joined 把本地位置拉回同步点。
// 它表示"本地位置包含未经确认的推测"，不表示有请求仍在途中。
func (v *View) State() PredictionState {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if len(v.pending) > 0 {
		return Predicted
	}
	return Confirmed
}

func (v *View) PendingMoves() []protocol.Position {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return slices.Clone(v.pending)
}

// Peers 按 userId 排序
func (v *View) Peers() []Peer {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]Peer, 0, len(v.peers))
	for _, p := range v.peers {
		out = append(out, *p)
	}
	slices.SortFunc(out, func(a, b Peer) int { return strings.Compare(a.UserID, b.UserID) })
	return out
}

func (v *View) Peer(id string) (Peer, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	p, ok := v.peers[id]
	if !ok {
		return Peer{}, false
	}
	return *p, true
}

func (v *View) Lines() []Line {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return slices.Clone(v.lines)
}

// LastSequence 已见到的最大聊天序号
func (v *View) LastSequence() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.lastSeq
}

// Gaps 观察到的序号跳跃次数；非零说明需要重新 join 获取快照
func (v *View) Gaps() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.gaps
}
