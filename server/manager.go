package server

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"gridspace/protocol"
)

// Registry 管理 roomID -> Room 的映射：懒创建、成员清空后回收
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room

	resolver RoomConfigResolver
	opts     RoomOptions
	metrics  RegistryMetrics
	closed   bool
}

func NewRegistry(resolver RoomConfigResolver, opts RoomOptions) *Registry {
	return &Registry{
		rooms:    make(map[string]*Room),
		resolver: resolver,
		opts:     opts,
	}
}

// Resolve 返回已有房间，不存在时按配置创建
// 查询配置在锁外进行，写入时再次检查，保证同一 id 只有一个 Room
func (m *Registry) Resolve(ctx context.Context, id string) (*Room, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: empty room id", ErrRoomNotFound)
	}
	if r, ok := m.Lookup(id); ok {
		return r, nil
	}

	dims, err := m.resolver.ResolveRoomConfig(ctx, id)
	if err != nil {
		return nil, err
	}
	r, _, err := m.getOrCreate(id, dims, true)
	return r, err
}

// Create 以显式尺寸预创建房间；已存在时返回原房间且不覆盖配置
func (m *Registry) Create(id string, dims protocol.Dimensions) (*Room, bool, error) {
	if strings.TrimSpace(id) == "" {
		return nil, false, fmt.Errorf("%w: empty room id", ErrRoomNotFound)
	}
	if !dims.Valid() {
		return nil, false, fmt.Errorf("room %q: dimensions must be at least 1x1", id)
	}
	return m.getOrCreate(id, dims, false)
}

// lazy 的房间在第一次 join 被拒时自行回收
func (m *Registry) getOrCreate(id string, dims protocol.Dimensions, lazy bool) (*Room, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, ErrRoomClosed
	}
	if r, ok := m.rooms[id]; ok {
		return r, false, nil
	}
	r := NewRoom(id, dims, m.opts)
	r.onEmpty = m.evict
	r.lazy = lazy
	m.rooms[id] = r
	r.Start()
	m.metrics.IncCreated()
	Log.Infof("room created: id=%s size=%dx%d", id, dims.Width, dims.Height)
	return r, true, nil
}

func (m *Registry) Lookup(id string) (*Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	return r, ok
}

// Rooms 按 id 排序返回当前存活的房间
func (m *Registry) Rooms() []*Room {
	m.mu.Lock()
	out := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, r)
	}
	m.mu.Unlock()
	slices.SortFunc(out, func(a, b *Room) int { return strings.Compare(a.ID, b.ID) })
	return out
}

func (m *Registry) Metrics() map[string]any {
	snap := m.metrics.Snapshot()
	m.mu.Lock()
	snap["rooms_active"] = len(m.rooms)
	m.mu.Unlock()
	return snap
}

// evict 在房间协程内被调用；只移除仍指向该对象的映射
func (m *Registry) evict(r *Room) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.rooms[r.ID]; ok && cur == r {
		delete(m.rooms, r.ID)
		m.metrics.IncEvicted()
		Log.Infof("room evicted: id=%s", r.ID)
	}
}

// Close 停止所有房间，之后不再创建新房间
func (m *Registry) Close() {
	m.mu.Lock()
	m.closed = true
	rooms := make([]*Room, 0, len(m.rooms))
	for id, r := range m.rooms {
		rooms = append(rooms, r)
		delete(m.rooms, id)
	}
	m.mu.Unlock()
	for _, r := range rooms {
		r.Close()
	}
}
