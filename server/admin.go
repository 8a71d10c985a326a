package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"gridspace/protocol"
)

const statsTimeout = 2 * time.Second

// HandleAdminRooms 房间管理
// GET  /admin/rooms                                 列出存活房间
// POST /admin/rooms {"id":"lobby","width":20,"height":12}  预创建房间（已存在时不覆盖）
func (s *Server) HandleAdminRooms(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"rooms": s.roomStats(r.Context())})
		return
	case http.MethodPost:
		var body struct {
			ID     string `json:"id"`
			Width  int    `json:"width"`
			Height int    `json:"height"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		room, created, err := s.registry.Create(body.ID, protocol.Dimensions{Width: body.Width, Height: body.Height})
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, ErrRoomClosed) {
				status = http.StatusServiceUnavailable
			}
			http.Error(w, err.Error(), status)
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		d := room.Dimensions()
		writeJSON(w, status, map[string]any{"id": room.ID, "width": d.Width, "height": d.Height, "created": created})
		Log.Infof("admin: room %s requested size=%dx%d created=%v", body.ID, body.Width, body.Height, created)
		return
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
}

// HandleMetrics 输出注册表与各房间的运行指标
// GET /metrics
func (s *Server) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"registry": s.registry.Metrics(),
		"rooms":    s.roomStats(r.Context()),
	})
}

// roomStats 通过各房间的命令循环读取，不直接触碰房间状态
func (s *Server) roomStats(ctx context.Context) []RoomStats {
	ctx, cancel := context.WithTimeout(ctx, statsTimeout)
	defer cancel()
	out := make([]RoomStats, 0)
	for _, room := range s.registry.Rooms() {
		st, err := room.Stats(ctx)
		if err != nil {
			// 房间刚被回收或繁忙，跳过
			continue
		}
		out = append(out, st)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
