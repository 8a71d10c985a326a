package server

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/text/cases"

	"gridspace/protocol"
)

// RoomOptions 房间限制参数
type RoomOptions struct {
	ChatWindow int // 保留的最近聊天条数
	MaxChatLen int // 单条聊天最大字符数（rune）
	MaxNameLen int // 显示名最大字符数（rune）
}

// RoomStats 房间运行状态（只读副本）
type RoomStats struct {
	ID           string         `json:"id"`
	Width        int            `json:"width"`
	Height       int            `json:"height"`
	Members      int            `json:"members"`
	ChatSequence uint64         `json:"chatSequence"`
	Metrics      map[string]any `json:"metrics"`
}

// Room 房间：成员、坐标、聊天记录都只在房间自己的协程里读写
// 外部只能通过 Join/Move/Chat/Leave 投递命令，房间之间互不阻塞
type Room struct {
	ID string

	dims    protocol.Dimensions
	opts    RoomOptions
	metrics *RoomMetrics

	cmds      chan command
	quit      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once

	// 成员集合变空时回调（由 Registry 注入，用于回收房间）
	onEmpty func(*Room)

	// 以下字段只由房间协程访问
	members map[string]*Member
	names   map[string]string // 折叠后的显示名 -> 身份
	chatLog []protocol.ChatEntry
	chatSeq uint64
	joinSeq uint64
	retired bool
	lazy    bool // 由 Resolve 懒创建；预创建的房间为 false
	fold    cases.Caser
	now     func() time.Time
}

// NewRoom 创建房间，初始化数据结构；需调用 Start 才开始处理命令
func NewRoom(id string, dims protocol.Dimensions, opts RoomOptions) *Room {
	return &Room{
		ID:      id,
		dims:    dims,
		opts:    opts,
		metrics: &RoomMetrics{},
		cmds:    make(chan command, 256), // 足够缓冲，避免网络读阻塞
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		members: make(map[string]*Member),
		names:   make(map[string]string),
		fold:    cases.Fold(),
		now:     time.Now,
	}
}

// Dimensions 房间尺寸在生命周期内不变，可在任意协程读取
func (r *Room) Dimensions() protocol.Dimensions { return r.dims }

func (r *Room) Metrics() *RoomMetrics { return r.metrics }

// Done 房间协程退出（被回收或关闭）后关闭
func (r *Room) Done() <-chan struct{} { return r.done }

// Join 加入房间；space-joined 快照由房间协程直接写入 Outbox，保证它先于后续广播
func (r *Room) Join(ctx context.Context, p JoinParams) (JoinResult, error) {
	reply := make(chan result[JoinResult], 1)
	return call(ctx, r, joinCmd{params: p, reply: reply}, reply)
}

// Move 请求移动到绝对坐标 target
func (r *Room) Move(ctx context.Context, identity string, target protocol.Position) (MoveOutcome, error) {
	reply := make(chan result[MoveOutcome], 1)
	return call(ctx, r, moveCmd{identity: identity, target: target, reply: reply}, reply)
}

// Chat 追加聊天，返回分配的序号
func (r *Room) Chat(ctx context.Context, identity, text string) (uint64, error) {
	reply := make(chan result[uint64], 1)
	return call(ctx, r, chatCmd{identity: identity, text: text, reply: reply}, reply)
}

// Leave 移出成员；房间已回收时视为成功
func (r *Room) Leave(ctx context.Context, identity string) error {
	reply := make(chan result[struct{}], 1)
	_, err := call(ctx, r, leaveCmd{identity: identity, reply: reply}, reply)
	if errors.Is(err, ErrRoomClosed) {
		return nil
	}
	return err
}

func (r *Room) Stats(ctx context.Context) (RoomStats, error) {
	reply := make(chan result[RoomStats], 1)
	return call(ctx, r, statsCmd{reply: reply}, reply)
}

func call[T any](ctx context.Context, r *Room, cmd command, reply chan result[T]) (T, error) {
	var zero T
	select {
	case r.cmds <- cmd:
	case <-r.done:
		return zero, ErrRoomClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.val, res.err
	case <-r.done:
		// 回收前最后一条命令的结果可能已写入
		select {
		case res := <-reply:
			return res.val, res.err
		default:
			return zero, ErrRoomClosed
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// join 被拒且房间从未有人时，懒创建的房间随即回收，避免空房间常驻
func (r *Room) join(p JoinParams) (JoinResult, error) {
	res, err := r.admit(p)
	if err != nil {
		r.metrics.IncJoinRejected()
		if r.lazy && len(r.members) == 0 {
			Log.Infof("room %s: first join rejected, retiring: %v", r.ID, err)
			r.retire()
		}
	}
	return res, err
}

func (r *Room) admit(p JoinParams) (JoinResult, error) {
	name := strings.TrimSpace(p.DisplayName)
	if n := utf8.RuneCountInString(name); n == 0 || (r.opts.MaxNameLen > 0 && n > r.opts.MaxNameLen) {
		return JoinResult{}, fmt.Errorf("%w: %q", ErrInvalidName, p.DisplayName)
	}
	if _, ok := r.members[p.Identity]; ok {
		return JoinResult{}, ErrIdentityInRoom
	}
	key := r.fold.String(name)
	if _, taken := r.names[key]; taken {
		return JoinResult{}, fmt.Errorf("%w: %q", ErrNameConflict, name)
	}
	spawn, ok := r.spawnPoint()
	if !ok {
		return JoinResult{}, ErrRoomFull
	}

	existing := r.sortedMembers()
	users := make([]protocol.UserInfo, 0, len(existing))
	for _, m := range existing {
		users = append(users, m.info())
	}
	messages := make([]protocol.ChatEntry, len(r.chatLog))
	copy(messages, r.chatLog)

	r.joinSeq++
	m := &Member{
		ID:      p.Identity,
		Name:    name,
		Pos:     spawn,
		nameKey: key,
		joinSeq: r.joinSeq,
		out:     p.Outbox,
	}
	r.members[m.ID] = m
	r.names[key] = m.ID
	r.metrics.IncJoin()

	snapshot := protocol.SpaceJoined{
		UserID:   m.ID,
		Width:    r.dims.Width,
		Height:   r.dims.Height,
		Spawn:    spawn,
		Users:    users,
		Messages: messages,
	}
	r.sendTo(m, snapshot)
	r.broadcast(protocol.UserJoined{UserID: m.ID, X: spawn.X, Y: spawn.Y, DisplayName: name}, m.ID)

	Log.Infof("join: room=%s user=%s name=%q spawn=(%d,%d) members=%d", r.ID, m.ID, name, spawn.X, spawn.Y, len(r.members))
	return JoinResult{Spawn: spawn, Snapshot: snapshot}, nil
}

// spawnPoint 按行优先从 (0,0) 扫描，取第一个无人占据的格子
func (r *Room) spawnPoint() (protocol.Position, bool) {
	occupied := make(map[protocol.Position]struct{}, len(r.members))
	for _, m := range r.members {
		occupied[m.Pos] = struct{}{}
	}
	for y := 0; y < r.dims.Height; y++ {
		for x := 0; x < r.dims.Width; x++ {
			p := protocol.Position{X: x, Y: y}
			if _, ok := occupied[p]; !ok {
				return p, true
			}
		}
	}
	return protocol.Position{}, false
}

// move 校验顺序：先一步距离，再边界；允许与他人同格
func (r *Room) move(identity string, target protocol.Position) (MoveOutcome, error) {
	m, ok := r.members[identity]
	if !ok {
		r.metrics.IncIgnored()
		Log.Warnf("move ignored: room=%s unknown user=%s", r.ID, identity)
		return MoveOutcome{}, ErrNotMember
	}
	if !protocol.Adjacent(m.Pos, target) || !r.dims.Contains(target) {
		r.metrics.IncMoveRejected()
		Log.Debugf("move rejected: room=%s user=%s from=(%d,%d) to=(%d,%d)", r.ID, m.ID, m.Pos.X, m.Pos.Y, target.X, target.Y)
		r.sendTo(m, protocol.MovementRejected{X: m.Pos.X, Y: m.Pos.Y})
		return MoveOutcome{Accepted: false, Position: m.Pos},
			fmt.Errorf("%w: (%d,%d) -> (%d,%d)", ErrInvalidMove, m.Pos.X, m.Pos.Y, target.X, target.Y)
	}
	m.Pos = target
	r.metrics.IncMoveAccepted()
	// 发起者已乐观应用，不回显
	r.broadcast(protocol.Movement{UserID: m.ID, X: target.X, Y: target.Y}, m.ID)
	return MoveOutcome{Accepted: true, Position: target}, nil
}

func (r *Room) chat(identity, text string) (uint64, error) {
	m, ok := r.members[identity]
	if !ok {
		r.metrics.IncIgnored()
		Log.Warnf("chat ignored: room=%s unknown user=%s", r.ID, identity)
		return 0, ErrNotMember
	}
	text = strings.TrimSpace(text)
	if n := utf8.RuneCountInString(text); n == 0 || (r.opts.MaxChatLen > 0 && n > r.opts.MaxChatLen) {
		return 0, ErrInvalidChat
	}

	r.chatSeq++
	entry := protocol.ChatEntry{
		UserID:      m.ID,
		DisplayName: m.Name,
		Message:     text,
		Sequence:    r.chatSeq,
		Timestamp:   r.now().UTC().Format(time.RFC3339),
	}
	r.chatLog = append(r.chatLog, entry)
	if over := len(r.chatLog) - r.opts.ChatWindow; over > 0 {
		r.chatLog = slices.Delete(r.chatLog, 0, over)
	}
	r.metrics.IncChat()
	// 包括发送者本人：客户端不做本地回显，以广播顺序为准
	r.broadcast(entry, "")
	return entry.Sequence, nil
}

func (r *Room) leave(identity string) error {
	m, ok := r.members[identity]
	if !ok {
		r.metrics.IncIgnored()
		Log.Warnf("leave ignored: room=%s unknown user=%s", r.ID, identity)
		return ErrNotMember
	}
	delete(r.members, identity)
	delete(r.names, m.nameKey)
	r.metrics.IncLeave()
	r.broadcast(protocol.UserLeft{UserID: identity}, "")
	Log.Infof("leave: room=%s user=%s members=%d", r.ID, identity, len(r.members))

	if len(r.members) == 0 {
		r.retire()
	}
	return nil
}

// retire 最后一人离开：丢弃全部状态并通知注册表回收
func (r *Room) retire() {
	r.retired = true
	r.chatLog = nil
	r.chatSeq = 0
	r.joinSeq = 0
	if r.onEmpty != nil {
		r.onEmpty(r)
	}
}

func (r *Room) stats() RoomStats {
	return RoomStats{
		ID:           r.ID,
		Width:        r.dims.Width,
		Height:       r.dims.Height,
		Members:      len(r.members),
		ChatSequence: r.chatSeq,
		Metrics:      r.metrics.Snapshot(),
	}
}

// sortedMembers 按加入顺序枚举，保证快照确定
func (r *Room) sortedMembers() []*Member {
	out := make([]*Member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b *Member) int {
		switch {
		case a.joinSeq < b.joinSeq:
			return -1
		case a.joinSeq > b.joinSeq:
			return 1
		default:
			return 0
		}
	})
	return out
}

// broadcast 编码一次后逐个入队；except 非空时跳过该成员
func (r *Room) broadcast(ev protocol.Event, except string) {
	data, err := protocol.Encode(ev)
	if err != nil {
		Log.Errorf("encode %s: %v", ev.EventType(), err)
		return
	}
	for _, m := range r.sortedMembers() {
		if m.ID == except {
			continue
		}
		r.deliver(m, data)
	}
}

func (r *Room) sendTo(m *Member, ev protocol.Event) {
	data, err := protocol.Encode(ev)
	if err != nil {
		Log.Errorf("encode %s: %v", ev.EventType(), err)
		return
	}
	r.deliver(m, data)
}

// deliver 非阻塞入队；缓冲满则断开该成员，不拖慢整个房间
func (r *Room) deliver(m *Member, data []byte) {
	if m.out == nil || m.kicked {
		return
	}
	if m.out.Send(data) {
		return
	}
	m.kicked = true
	r.metrics.IncSlowConsumer()
	Log.Warnf("slow consumer disconnected: room=%s user=%s", r.ID, m.ID)
	m.out.Kick("send buffer full")
}
