package server

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridspace/protocol"
)

func newTestRegistry(t *testing.T, resolver RoomConfigResolver) *Registry {
	t.Helper()
	if resolver == nil {
		resolver = &StaticRoomConfig{Default: protocol.Dimensions{Width: 3, Height: 3}}
	}
	m := NewRegistry(resolver, RoomOptions{ChatWindow: 50, MaxChatLen: 100, MaxNameLen: 16})
	t.Cleanup(m.Close)
	return m
}

func TestRegistryConcurrentResolveCreatesOneRoom(t *testing.T) {
	m := newTestRegistry(t, nil)

	const n = 64
	rooms := make([]*Room, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := m.Resolve(context.Background(), "R")
			if err == nil {
				rooms[i] = r
			}
		}(i)
	}
	wg.Wait()

	for _, r := range rooms {
		require.NotNil(t, r)
		assert.Same(t, rooms[0], r)
	}
	assert.EqualValues(t, 1, m.Metrics()["rooms_created"])
}

func TestRegistryEvictsEmptyRoom(t *testing.T) {
	ctx := context.Background()
	m := newTestRegistry(t, nil)

	r, err := m.Resolve(ctx, "R")
	require.NoError(t, err)
	_, err = r.Join(ctx, JoinParams{Identity: "A", DisplayName: "alice", Outbox: &fakeOutbox{}})
	require.NoError(t, err)
	_, err = r.Chat(ctx, "A", "remember me")
	require.NoError(t, err)
	require.NoError(t, r.Leave(ctx, "A"))

	require.Eventually(t, func() bool {
		_, ok := m.Lookup("R")
		return !ok
	}, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, m.Metrics()["rooms_evicted"])

	// 下一次 join 从空快照开始
	r2, err := m.Resolve(ctx, "R")
	require.NoError(t, err)
	assert.NotSame(t, r, r2)
	res, err := r2.Join(ctx, JoinParams{Identity: "B", DisplayName: "bob", Outbox: &fakeOutbox{}})
	require.NoError(t, err)
	assert.Empty(t, res.Snapshot.Users)
	assert.Empty(t, res.Snapshot.Messages)
}

func TestRegistryRetiresRoomWhenFirstJoinFails(t *testing.T) {
	ctx := context.Background()
	m := newTestRegistry(t, nil)

	for _, id := range []string{"a", "b", "c"} {
		r, err := m.Resolve(ctx, id)
		require.NoError(t, err)
		_, err = r.Join(ctx, JoinParams{Identity: "A", DisplayName: "   ", Outbox: &fakeOutbox{}})
		require.ErrorIs(t, err, ErrInvalidName)
		select {
		case <-r.Done():
		case <-time.After(time.Second):
			t.Fatalf("room %s still running after rejected first join", id)
		}
	}
	assert.Empty(t, m.Rooms())
	assert.EqualValues(t, 3, m.Metrics()["rooms_evicted"])
	assert.EqualValues(t, 0, m.Metrics()["rooms_active"])

	// 回收后同一 id 可以正常加入
	r, err := m.Resolve(ctx, "a")
	require.NoError(t, err)
	_, err = r.Join(ctx, JoinParams{Identity: "A", DisplayName: "alice", Outbox: &fakeOutbox{}})
	require.NoError(t, err)
	assert.Len(t, m.Rooms(), 1)
}

func TestRegistryKeepsPreCreatedRoomAfterFailedJoin(t *testing.T) {
	ctx := context.Background()
	m := newTestRegistry(t, nil)

	r, created, err := m.Create("hall", protocol.Dimensions{Width: 4, Height: 4})
	require.NoError(t, err)
	require.True(t, created)

	_, err = r.Join(ctx, JoinParams{Identity: "A", DisplayName: "", Outbox: &fakeOutbox{}})
	require.ErrorIs(t, err, ErrInvalidName)

	_, err = r.Join(ctx, JoinParams{Identity: "A", DisplayName: "alice", Outbox: &fakeOutbox{}})
	require.NoError(t, err)
	got, ok := m.Lookup("hall")
	require.True(t, ok)
	assert.Same(t, r, got)
	assert.EqualValues(t, 0, m.Metrics()["rooms_evicted"])
}

func TestRegistryCreateDoesNotOverwrite(t *testing.T) {
	m := newTestRegistry(t, nil)

	r, created, err := m.Create("big", protocol.Dimensions{Width: 20, Height: 10})
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := m.Create("big", protocol.Dimensions{Width: 1, Height: 1})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, r, again)
	assert.Equal(t, protocol.Dimensions{Width: 20, Height: 10}, again.Dimensions())

	resolved, err := m.Resolve(context.Background(), "big")
	require.NoError(t, err)
	assert.Same(t, r, resolved, "resolver default must not replace a pre-created room")

	_, _, err = m.Create("tiny", protocol.Dimensions{Width: 0, Height: 3})
	assert.Error(t, err)
}

func TestRegistryStrictResolver(t *testing.T) {
	m := newTestRegistry(t, &StaticRoomConfig{
		Default: protocol.Dimensions{Width: 3, Height: 3},
		Rooms:   map[string]protocol.Dimensions{"lobby": {Width: 8, Height: 4}},
		Strict:  true,
	})

	r, err := m.Resolve(context.Background(), "lobby")
	require.NoError(t, err)
	assert.Equal(t, protocol.Dimensions{Width: 8, Height: 4}, r.Dimensions())

	_, err = m.Resolve(context.Background(), "nowhere")
	assert.ErrorIs(t, err, ErrRoomNotFound)
	_, err = m.Resolve(context.Background(), "")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestRegistryClose(t *testing.T) {
	m := newTestRegistry(t, nil)
	r, err := m.Resolve(context.Background(), "R")
	require.NoError(t, err)

	m.Close()
	<-r.Done()
	_, err = m.Resolve(context.Background(), "R")
	assert.ErrorIs(t, err, ErrRoomClosed)
	assert.Empty(t, m.Rooms())
}

func TestLoadRoomConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rooms.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"rooms":[{"id":"lobby","width":20,"height":12}]}`), 0o644))

	cfg, err := LoadRoomConfig(path, protocol.Dimensions{Width: 5, Height: 5}, false)
	require.NoError(t, err)
	d, err := cfg.ResolveRoomConfig(context.Background(), "lobby")
	require.NoError(t, err)
	assert.Equal(t, protocol.Dimensions{Width: 20, Height: 12}, d)
	d, err = cfg.ResolveRoomConfig(context.Background(), "elsewhere")
	require.NoError(t, err)
	assert.Equal(t, protocol.Dimensions{Width: 5, Height: 5}, d)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"rooms":[{"id":"x","width":0,"height":2}]}`), 0o644))
	_, err = LoadRoomConfig(bad, protocol.Dimensions{Width: 5, Height: 5}, false)
	assert.Error(t, err)

	_, err = LoadRoomConfig(filepath.Join(dir, "missing.json"), protocol.Dimensions{Width: 5, Height: 5}, false)
	assert.Error(t, err)
}
