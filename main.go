package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"gridspace/server"
)

// gridspace 入口：启动 HTTP + WebSocket 服务，并初始化房间注册表
func main() {
	// 本地开发可把 GRIDSPACE_JWT_SECRET 放在 .env，文件不存在时忽略
	envErr := godotenv.Load()

	cfg := server.DefaultConfig()
	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "server listen address, e.g. :8080")
	flag.StringVar(&cfg.LogFile, "log-file", "", "log file path (rolled); empty logs to stderr")
	flag.BoolVar(&cfg.Debug, "debug", false, "enable debug logging")
	flag.StringVar(&cfg.JWTSecret, "jwt-secret", os.Getenv("GRIDSPACE_JWT_SECRET"), "HS256 secret for identity tokens")
	flag.StringVar(&cfg.RoomsFile, "rooms", "", "optional JSON file with per-room dimensions")
	flag.BoolVar(&cfg.StrictRooms, "strict-rooms", false, "refuse joins to rooms missing from the rooms file")
	flag.IntVar(&cfg.DefaultDims.Width, "room-width", cfg.DefaultDims.Width, "default room width")
	flag.IntVar(&cfg.DefaultDims.Height, "room-height", cfg.DefaultDims.Height, "default room height")
	flag.IntVar(&cfg.ChatWindow, "chat-window", cfg.ChatWindow, "recent chat entries kept per room")
	flag.IntVar(&cfg.MaxChatLen, "max-chat-len", cfg.MaxChatLen, "max chat message length in characters")
	flag.IntVar(&cfg.MaxNameLen, "max-name-len", cfg.MaxNameLen, "max display name length in characters")
	flag.IntVar(&cfg.SendBuffer, "send-buffer", cfg.SendBuffer, "per-connection outbound queue size")
	flag.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "disconnect after this long without inbound traffic")
	flag.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "per-message write deadline")
	flag.Parse()

	if err := server.InitLogger(cfg.LogFile, cfg.Debug); err != nil {
		panic(err)
	}
	defer server.SyncLogger()
	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		server.Log.Warnf("loading .env: %v", envErr)
	}

	if err := cfg.Validate(); err != nil {
		server.Log.Fatalf("invalid config: %v", err)
	}

	resolver, err := server.LoadRoomConfig(cfg.RoomsFile, cfg.DefaultDims, cfg.StrictRooms)
	if err != nil {
		server.Log.Fatalf("loading rooms: %v", err)
	}
	auth, err := server.NewJWTAuthenticator(cfg.JWTSecret)
	if err != nil {
		server.Log.Fatalf("auth: %v", err)
	}

	// 优雅退出（Ctrl+C）
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := server.NewRegistry(resolver, cfg.RoomOptions())
	srvState := server.NewServer(ctx, cfg, registry, auth)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srvState.HandleWS)
	// 管理与监控接口
	mux.HandleFunc("/admin/rooms", srvState.HandleAdminRooms)
	mux.HandleFunc("/metrics", srvState.HandleMetrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: cfg.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		server.Log.Infof("gridspace listening on %s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		server.Log.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srvState.Shutdown()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		server.Log.Errorf("server: %v", err)
	}
}
