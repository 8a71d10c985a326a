// spacebot 连接 gridspace，随机游走并定期发言，用于演示与压测
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gridspace/client"
	"gridspace/protocol"
	"gridspace/server"
)

type botConfig struct {
	url       string
	room      string
	name      string
	token     string
	secret    string
	bots      int
	interval  time.Duration
	chatEvery int
	duration  time.Duration
}

func main() {
	var cfg botConfig
	flag.StringVar(&cfg.url, "url", "ws://localhost:8080/ws", "server websocket url")
	flag.StringVar(&cfg.room, "room", "lobby", "room id to join")
	flag.StringVar(&cfg.name, "name", "bot", "display name prefix")
	flag.StringVar(&cfg.token, "token", "", "identity token (single bot only)")
	flag.StringVar(&cfg.secret, "secret", os.Getenv("GRIDSPACE_JWT_SECRET"), "mint tokens locally with this HS256 secret")
	flag.IntVar(&cfg.bots, "bots", 1, "number of concurrent bots")
	flag.DurationVar(&cfg.interval, "interval", 250*time.Millisecond, "delay between moves")
	flag.IntVar(&cfg.chatEvery, "chat-every", 20, "send a chat message every N moves (0 disables)")
	flag.DurationVar(&cfg.duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	log := logger.Sugar()
	defer func() { _ = log.Sync() }()

	if cfg.token == "" && cfg.secret == "" {
		log.Fatal("either -token or -secret is required")
	}
	if cfg.token != "" && cfg.bots > 1 {
		log.Fatal("-token identifies a single user; use -secret with -bots")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if cfg.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.duration)
		defer cancel()
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.bots; i++ {
		g.Go(func() error {
			return runBot(gctx, cfg, i, log.With("bot", i))
		})
	}
	if err := g.Wait(); err != nil && gctx.Err() == nil {
		log.Fatalf("bot failed: %v", err)
	}
	log.Info("done")
}

func runBot(ctx context.Context, cfg botConfig, idx int, log *zap.SugaredLogger) error {
	token := cfg.token
	if token == "" {
		var err error
		token, err = server.IssueToken(cfg.secret, fmt.Sprintf("%s-%d", cfg.name, idx), time.Hour)
		if err != nil {
			return fmt.Errorf("minting token: %w", err)
		}
	}

	c, err := client.Dial(ctx, cfg.url, client.WithLogger(log), client.WithHandler(func(ev protocol.Event) {
		switch e := ev.(type) {
		case protocol.ChatEntry:
			log.Infof("[#%d] %s: %s", e.Sequence, e.DisplayName, e.Message)
		case protocol.MovementRejected:
			log.Debugf("move rejected, back to (%d,%d)", e.X, e.Y)
		}
	}))
	if err != nil {
		return err
	}
	defer c.Close()

	// 重名时换个后缀再试
	var joined protocol.SpaceJoined
	for attempt := 0; ; attempt++ {
		name := fmt.Sprintf("%s-%d", cfg.name, idx)
		if attempt > 0 {
			name = fmt.Sprintf("%s-%d-%d", cfg.name, idx, attempt)
		}
		joined, err = c.Join(ctx, cfg.room, token, name)
		if err == nil {
			break
		}
		if client.IsCode(err, protocol.CodeNameConflict) && attempt < 5 {
			continue
		}
		return fmt.Errorf("join %s: %w", cfg.room, err)
	}
	log.Infof("joined %s (%dx%d) at (%d,%d) with %d peers", cfg.room, joined.Width, joined.Height, joined.Spawn.X, joined.Spawn.Y, len(joined.Users))

	dirs := []protocol.Direction{protocol.DirUp, protocol.DirDown, protocol.DirLeft, protocol.DirRight}
	t := time.NewTicker(cfg.interval)
	defer t.Stop()
	for n := 1; ; n++ {
		select {
		case <-ctx.Done():
			return nil
		case <-c.Done():
			return c.Err()
		case <-t.C:
		}
		dir := walkDirection(c.View(), dirs)
		if _, err := c.Move(dir); err != nil {
			return err
		}
		if cfg.chatEvery > 0 && n%cfg.chatEvery == 0 {
			pos := c.View().Local()
			if err := c.Chat(fmt.Sprintf("at (%d,%d), %d peers around", pos.X, pos.Y, len(c.View().Peers()))); err != nil {
				return err
			}
		}
	}
}

// walkDirection 随机选一个不会走出边界的方向
func walkDirection(v *client.View, dirs []protocol.Direction) protocol.Direction {
	dims := v.Dimensions()
	local := v.Local()
	for _, i := range rand.Perm(len(dirs)) {
		if dims.Contains(local.Step(dirs[i])) {
			return dirs[i]
		}
	}
	return dirs[rand.IntN(len(dirs))]
}
