package server

import (
	"sync/atomic"
)

// RoomMetrics 记录房间运行期的关键指标（用于监控与调试）
type RoomMetrics struct {
	Joins          int64 // 成功加入
	JoinsRejected  int64 // 重名、满员、非法显示名等
	Leaves         int64
	MovesAccepted  int64
	MovesRejected  int64
	ChatsAppended  int64
	SlowConsumers  int64 // 因发送缓冲满被断开的连接
	Ignored        int64 // 未知身份的命令
	CommandCount   int64
	TotalCommandNs int64 // 命令处理累计耗时（纳秒）
}

func (m *RoomMetrics) IncJoin()         { atomic.AddInt64(&m.Joins, 1) }
func (m *RoomMetrics) IncJoinRejected() { atomic.AddInt64(&m.JoinsRejected, 1) }
func (m *RoomMetrics) IncLeave()        { atomic.AddInt64(&m.Leaves, 1) }
func (m *RoomMetrics) IncMoveAccepted() { atomic.AddInt64(&m.MovesAccepted, 1) }
func (m *RoomMetrics) IncMoveRejected() { atomic.AddInt64(&m.MovesRejected, 1) }
func (m *RoomMetrics) IncChat()         { atomic.AddInt64(&m.ChatsAppended, 1) }
func (m *RoomMetrics) IncSlowConsumer() { atomic.AddInt64(&m.SlowConsumers, 1) }
func (m *RoomMetrics) IncIgnored()      { atomic.AddInt64(&m.Ignored, 1) }
func (m *RoomMetrics) AddCommand(ns int64) {
	atomic.AddInt64(&m.CommandCount, 1)
	atomic.AddInt64(&m.TotalCommandNs, ns)
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *RoomMetrics) Snapshot() map[string]any {
	count := atomic.LoadInt64(&m.CommandCount)
	total := atomic.LoadInt64(&m.TotalCommandNs)
	var avgUs float64
	if count > 0 {
		avgUs = float64(total) / float64(count) / 1e3
	}
	return map[string]any{
		"joins":          atomic.LoadInt64(&m.Joins),
		"joins_rejected": atomic.LoadInt64(&m.JoinsRejected),
		"leaves":         atomic.LoadInt64(&m.Leaves),
		"moves_accepted": atomic.LoadInt64(&m.MovesAccepted),
		"moves_rejected": atomic.LoadInt64(&m.MovesRejected),
		"chats_appended": atomic.LoadInt64(&m.ChatsAppended),
		"slow_consumers": atomic.LoadInt64(&m.SlowConsumers),
		"ignored":        atomic.LoadInt64(&m.Ignored),
		"command_count":  count,
		"avg_command_us": avgUs,
	}
}

// RegistryMetrics 注册表级别的房间生命周期计数
type RegistryMetrics struct {
	RoomsCreated int64
	RoomsEvicted int64
}

func (m *RegistryMetrics) IncCreated() { atomic.AddInt64(&m.RoomsCreated, 1) }
func (m *RegistryMetrics) IncEvicted() { atomic.AddInt64(&m.RoomsEvicted, 1) }

func (m *RegistryMetrics) Snapshot() map[string]any {
	return map[string]any{
		"rooms_created": atomic.LoadInt64(&m.RoomsCreated),
		"rooms_evicted": atomic.LoadInt64(&m.RoomsEvicted),
	}
}
