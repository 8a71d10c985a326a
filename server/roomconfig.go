package server

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"gridspace/protocol"
)

// RoomConfigResolver 房间创建时查询尺寸（由外部 CRUD 层实现）
// 未知房间返回 ErrRoomNotFound
type RoomConfigResolver interface {
	ResolveRoomConfig(ctx context.Context, roomID string) (protocol.Dimensions, error)
}

// StaticRoomConfig 固定表 + 默认尺寸；Strict 时不在表中的房间视为不存在
type StaticRoomConfig struct {
	Default protocol.Dimensions
	Rooms   map[string]protocol.Dimensions
	Strict  bool
}

func (c *StaticRoomConfig) ResolveRoomConfig(_ context.Context, roomID string) (protocol.Dimensions, error) {
	if d, ok := c.Rooms[roomID]; ok {
		return d, nil
	}
	if c.Strict {
		return protocol.Dimensions{}, fmt.Errorf("%w: %q", ErrRoomNotFound, roomID)
	}
	return c.Default, nil
}

type roomsFile struct {
	Rooms []struct {
		ID     string `json:"id"`
		Width  int    `json:"width"`
		Height int    `json:"height"`
	} `json:"rooms"`
}

// LoadRoomConfig 读取 {"rooms":[{"id":"lobby","width":20,"height":12}]}
func LoadRoomConfig(path string, def protocol.Dimensions, strict bool) (*StaticRoomConfig, error) {
	cfg := &StaticRoomConfig{Default: def, Rooms: map[string]protocol.Dimensions{}, Strict: strict}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rooms file %q: %w", path, err)
	}
	var f roomsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing rooms file %q: %w", path, err)
	}
	for i, rc := range f.Rooms {
		d := protocol.Dimensions{Width: rc.Width, Height: rc.Height}
		if rc.ID == "" {
			return nil, fmt.Errorf("room %d: id is required", i)
		}
		if !d.Valid() {
			return nil, fmt.Errorf("room %q: dimensions must be at least 1x1", rc.ID)
		}
		cfg.Rooms[rc.ID] = d
	}
	return cfg, nil
}
