package server

import "time"

// Start 启动房间命令循环（单协程串行处理），重复调用无副作用
func (r *Room) Start() {
	r.startOnce.Do(func() {
		go r.run()
	})
}

// Close 停止命令循环；等待中的调用方收到 ErrRoomClosed
func (r *Room) Close() {
	r.closeOnce.Do(func() {
		close(r.quit)
	})
}

func (r *Room) run() {
	defer close(r.done)
	for {
		select {
		case <-r.quit:
			return
		case cmd := <-r.cmds:
			// 核心循环：一次只执行一条命令 → 广播结果
			start := time.Now()
			cmd.apply(r)
			r.metrics.AddCommand(time.Since(start).Nanoseconds())
			if r.retired {
				return
			}
		}
	}
}
