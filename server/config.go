package server

import (
	"errors"
	"fmt"
	"time"

	"gridspace/protocol"
)

// Config 服务端运行配置，由 main 中的 flag 填充
type Config struct {
	Addr      string
	LogFile   string
	Debug     bool
	JWTSecret string

	// RoomsFile 可选的房间尺寸配置（JSON）；StrictRooms 时未配置的房间拒绝加入
	RoomsFile   string
	StrictRooms bool

	DefaultDims protocol.Dimensions
	ChatWindow  int
	MaxChatLen  int
	MaxNameLen  int

	SendBuffer   int
	IdleTimeout  time.Duration
	WriteTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		DefaultDims:  protocol.Dimensions{Width: 10, Height: 10},
		ChatWindow:   50,
		MaxChatLen:   500,
		MaxNameLen:   32,
		SendBuffer:   64,
		IdleTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("jwt secret is required"))
	}
	if !c.DefaultDims.Valid() {
		errs = append(errs, fmt.Errorf("room dimensions must be at least 1x1, got %dx%d", c.DefaultDims.Width, c.DefaultDims.Height))
	}
	if c.ChatWindow < 0 {
		errs = append(errs, errors.New("chat window must not be negative"))
	}
	if c.MaxChatLen < 1 {
		errs = append(errs, errors.New("max chat length must be positive"))
	}
	if c.MaxNameLen < 1 {
		errs = append(errs, errors.New("max name length must be positive"))
	}
	if c.SendBuffer < 1 {
		errs = append(errs, errors.New("send buffer must be positive"))
	}
	if c.IdleTimeout <= 0 {
		errs = append(errs, errors.New("idle timeout must be positive"))
	}
	if c.WriteTimeout <= 0 {
		errs = append(errs, errors.New("write timeout must be positive"))
	}
	if c.StrictRooms && c.RoomsFile == "" {
		errs = append(errs, errors.New("strict rooms requires a rooms file"))
	}
	return errors.Join(errs...)
}

// RoomOptions 每个房间共享的限制参数
func (c Config) RoomOptions() RoomOptions {
	return RoomOptions{
		ChatWindow: c.ChatWindow,
		MaxChatLen: c.MaxChatLen,
		MaxNameLen: c.MaxNameLen,
	}
}
