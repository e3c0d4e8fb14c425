package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/annel0/tilesync/internal/auth"
	"github.com/annel0/tilesync/internal/config"
	"github.com/annel0/tilesync/internal/devserver"
	"github.com/annel0/tilesync/internal/eventbus"
	"github.com/annel0/tilesync/internal/network"
	"github.com/annel0/tilesync/internal/protocol"
	"github.com/annel0/tilesync/internal/world"
)

type recorder struct {
	mu     sync.Mutex
	events []world.Event
}

func (r *recorder) record(ev world.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []world.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]world.Event(nil), r.events...)
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

func (r *recorder) types() []world.EventType {
	var out []world.EventType
	for _, ev := range r.snapshot() {
		out = append(out, ev.GetType())
	}
	return out
}

func (r *recorder) count(t world.EventType) int {
	n := 0
	for _, ev := range r.snapshot() {
		if ev.GetType() == t {
			n++
		}
	}
	return n
}

func startDevServer(t *testing.T, transport string, accounts auth.AccountRepository) *devserver.Server {
	t.Helper()
	srv, err := devserver.New(devserver.Config{Width: 8, Height: 8, Seed: 3, Accounts: accounts})
	require.NoError(t, err)
	require.NoError(t, srv.Start(transport, "127.0.0.1:0"))
	t.Cleanup(func() { _ = srv.Stop() })
	return srv
}

func testConfig(srv *devserver.Server, user string) config.ClientConfig {
	cfg := config.Default().Client
	cfg.Address = srv.Addr().String()
	cfg.Username = user
	cfg.PollInterval = time.Millisecond
	cfg.LoginTimeout = 5 * time.Second
	cfg.LoadTimeout = 5 * time.Second
	return cfg
}

func connect(t *testing.T, srv *devserver.Server, user string, tweak ...func(*config.ClientConfig)) (*Client, *recorder) {
	t.Helper()
	cfg := testConfig(srv, user)
	for _, f := range tweak {
		f(&cfg)
	}

	rec := &recorder{}
	bus := eventbus.New()
	bus.SubscribeAll(rec.record)

	c, err := Connect(context.Background(), cfg, WithBus(bus))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Dispose() })
	return c, rec
}

// pollFor опрашивает клиента, пока cond не станет истинным
func pollFor(t *testing.T, c *Client, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		require.True(t, time.Now().Before(deadline), "condition not met in time")
		require.NoError(t, c.Poll())
		time.Sleep(time.Millisecond)
	}
}

func coords(xy ...uint16) []world.BlockCoords {
	out := make([]world.BlockCoords, 0, len(xy)/2)
	for i := 0; i+1 < len(xy); i += 2 {
		out = append(out, world.BlockCoords{X: xy[i], Y: xy[i+1]})
	}
	return out
}

func TestConnectAndLoadBlocks(t *testing.T) {
	srv := startDevServer(t, network.TransportTCP, nil)
	c, rec := connect(t, srv, "alice")

	assert.Equal(t, StateRunning, c.State())
	w, h := c.WorldSize()
	assert.Equal(t, uint16(8), w)
	assert.Equal(t, uint16(8), h)
	assert.Equal(t, protocol.AccessNormal, c.AccessLevel())
	assert.True(t, c.ServerVariant())
	assert.NotEmpty(t, c.SessionID())

	_, err := c.LandTile(9, 9)
	assert.ErrorIs(t, err, world.ErrBlockNotLoaded)

	require.NoError(t, c.LoadBlocks(context.Background(), coords(1, 1, 2, 2)...))
	assert.True(t, c.IsLoaded(world.BlockCoords{X: 1, Y: 1}))
	assert.True(t, c.IsLoaded(world.BlockCoords{X: 2, Y: 2}))
	assert.Equal(t, 2, rec.count(world.EventBlockLoaded))
	assert.GreaterOrEqual(t, rec.count(world.EventMapChanged), 1)

	want, _ := srv.Block(1, 1)
	tile, err := c.LandTile(9, 10)
	require.NoError(t, err)
	assert.Equal(t, want.Land[2*8+1].TileID, tile.TileID)
	assert.Equal(t, want.Land[2*8+1].Z, tile.Z)
}

func TestLoadBlocksSkipsResident(t *testing.T) {
	srv := startDevServer(t, network.TransportTCP, nil)
	c, _ := connect(t, srv, "alice")

	require.NoError(t, c.LoadBlocks(context.Background(), coords(0, 0, 0, 0, 1, 0)...))
	sent := c.Status().Network.PacketsSent

	require.NoError(t, c.LoadBlocks(context.Background(), coords(0, 0)...))
	require.NoError(t, c.LoadBlocks(context.Background(), coords(0, 0, 1, 0)...))
	require.NoError(t, c.LoadBlocks(context.Background()))
	require.NoError(t, c.Poll())
	assert.Equal(t, sent, c.Status().Network.PacketsSent)
}

func TestLoadBlocksOutOfBounds(t *testing.T) {
	srv := startDevServer(t, network.TransportTCP, nil)
	c, _ := connect(t, srv, "alice")

	err := c.LoadBlocks(context.Background(), coords(8, 0)...)
	assert.ErrorIs(t, err, world.ErrOutOfBounds)
}

func TestSetPosTwiceSendsOnePacket(t *testing.T) {
	srv := startDevServer(t, network.TransportTCP, nil)
	c, _ := connect(t, srv, "alice")
	require.NoError(t, c.Poll())
	sent := c.Status().Network.PacketsSent

	require.NoError(t, c.SetPos(12, 30))
	require.NoError(t, c.SetPos(12, 30))
	require.NoError(t, c.Poll())

	assert.Equal(t, sent+1, c.Status().Network.PacketsSent)
	x, y := c.Pos()
	assert.Equal(t, uint16(12), x)
	assert.Equal(t, uint16(30), y)

	assert.ErrorIs(t, c.SetPos(64, 0), world.ErrOutOfBounds)
}

func TestCacheCapacityTwoEvictsOldest(t *testing.T) {
	srv := startDevServer(t, network.TransportTCP, nil)
	c, rec := connect(t, srv, "alice", func(cfg *config.ClientConfig) { cfg.CacheSize = 2 })

	for _, bc := range coords(0, 0, 1, 0, 2, 0) {
		require.NoError(t, c.LoadBlocks(context.Background(), bc))
	}

	assert.False(t, c.IsLoaded(world.BlockCoords{X: 0, Y: 0}))
	assert.True(t, c.IsLoaded(world.BlockCoords{X: 1, Y: 0}))
	assert.True(t, c.IsLoaded(world.BlockCoords{X: 2, Y: 0}))

	var unloaded []world.BlockUnloaded
	for _, ev := range rec.snapshot() {
		if u, ok := ev.(world.BlockUnloaded); ok {
			unloaded = append(unloaded, u)
		}
	}
	require.Len(t, unloaded, 1)
	assert.Equal(t, world.BlockCoords{X: 0, Y: 0}, unloaded[0].Coords)
}

func TestLoadBlocksCountsArrivalsEvictedDuringWait(t *testing.T) {
	srv := startDevServer(t, network.TransportTCP, nil)
	c, _ := connect(t, srv, "alice", func(cfg *config.ClientConfig) { cfg.CacheSize = 1 })

	require.NoError(t, c.LoadBlocks(context.Background(), coords(0, 0, 1, 0, 2, 0)...))
	assert.Equal(t, 1, c.CacheStats().Len)
}

func TestLoadBlocksTimeout(t *testing.T) {
	srv := startDevServer(t, network.TransportTCP, nil)
	c, _ := connect(t, srv, "alice", func(cfg *config.ClientConfig) { cfg.LoadTimeout = 50 * time.Millisecond })
	srv.WithholdBlocks(true)

	err := c.LoadBlocks(context.Background(), coords(3, 3)...)
	assert.ErrorIs(t, err, ErrLoadTimeout)
	assert.Equal(t, StateRunning, c.State())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	c.cfg.LoadTimeout = 5 * time.Second
	err = c.LoadBlocks(ctx, coords(3, 3)...)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrLoadTimeout)
}

func TestStaticInsertEchoIsIdempotent(t *testing.T) {
	srv := startDevServer(t, network.TransportTCP, nil)
	c, rec := connect(t, srv, "alice")
	require.NoError(t, c.LoadBlocks(context.Background(), coords(1, 1)...))
	rec.reset()

	tile := world.StaticTile{X: 10, Y: 11, Z: 5, TileID: 0x4242}
	matching := func() int {
		seq, err := c.StaticTiles(10, 11)
		require.NoError(t, err)
		n := 0
		for s := range seq {
			if s.Matches(tile.Wire()) {
				n++
			}
		}
		return n
	}

	require.NoError(t, c.AddStaticTile(tile))
	assert.Zero(t, matching(), "no optimistic update")
	pollFor(t, c, func() bool { return rec.count(world.EventStaticAdded) == 1 })
	assert.Equal(t, 1, matching())

	// повторное эхо того же пакета, затем маркер в том же потоке
	srv.Broadcast(&protocol.StaticInsert{Tile: tile.Wire()})
	srv.Broadcast(&protocol.Chat{Sender: "srv", Text: "marker"})
	pollFor(t, c, func() bool { return rec.count(world.EventChatReceived) == 1 })

	assert.Equal(t, 1, matching())
	assert.Equal(t, 1, rec.count(world.EventStaticAdded))
	assert.Equal(t, StateRunning, c.State())
}

func TestLandReplaceEchoUpdatesIDOnly(t *testing.T) {
	srv := startDevServer(t, network.TransportTCP, nil)
	c, rec := connect(t, srv, "alice")
	require.NoError(t, c.LoadBlocks(context.Background(), coords(1, 1)...))
	before, err := c.LandTile(9, 9)
	require.NoError(t, err)
	rec.reset()

	require.NoError(t, c.ReplaceLandTile(9, 9, 0x0999))
	pollFor(t, c, func() bool { return rec.count(world.EventLandReplaced) == 1 })

	after, err := c.LandTile(9, 9)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0999), after.TileID)
	assert.Equal(t, before.Z, after.Z)
	assert.Equal(t, []world.EventType{world.EventLandReplaced, world.EventMapChanged}, rec.types())
}

func TestStaticEditsRoundTrip(t *testing.T) {
	srv := startDevServer(t, network.TransportTCP, nil)
	c, rec := connect(t, srv, "alice")
	require.NoError(t, c.LoadBlocks(context.Background(), coords(0, 0, 1, 0)...))
	rec.reset()

	tile := world.StaticTile{X: 3, Y: 3, Z: 0, TileID: 0x0100}
	require.NoError(t, c.AddStaticTile(tile))
	pollFor(t, c, func() bool { return rec.count(world.EventStaticAdded) == 1 })

	require.NoError(t, c.HueStaticTile(tile, 33))
	pollFor(t, c, func() bool { return rec.count(world.EventStaticHued) == 1 })
	tile.Hue = 33

	require.NoError(t, c.ElevateStaticTile(tile, 7))
	pollFor(t, c, func() bool { return rec.count(world.EventStaticElevated) == 1 })
	tile.Z = 7

	require.NoError(t, c.ReplaceStaticTile(tile, 0x0101))
	pollFor(t, c, func() bool { return rec.count(world.EventStaticReplaced) == 1 })
	tile.TileID = 0x0101

	require.NoError(t, c.MoveStaticTile(tile, 12, 4))
	pollFor(t, c, func() bool { return rec.count(world.EventStaticMoved) == 1 })

	seq, err := c.StaticTiles(12, 4)
	require.NoError(t, err)
	var found []world.StaticTile
	for s := range seq {
		if s.TileID == 0x0101 {
			found = append(found, s)
		}
	}
	require.Len(t, found, 1)
	assert.Equal(t, int8(7), found[0].Z)
	assert.Equal(t, uint16(33), found[0].Hue)

	moved := found[0]
	require.NoError(t, c.RemoveStaticTile(moved))
	pollFor(t, c, func() bool { return rec.count(world.EventStaticRemoved) == 1 })

	require.NoError(t, c.ElevateLandTile(1, 1, -20))
	pollFor(t, c, func() bool { return rec.count(world.EventLandElevated) == 1 })
	land, err := c.LandTile(1, 1)
	require.NoError(t, err)
	assert.Equal(t, int8(-20), land.Z)

	assert.ErrorIs(t, c.MoveStaticTile(moved, 64, 0), world.ErrOutOfBounds)
}

func TestTransportFailureClosesSession(t *testing.T) {
	srv := startDevServer(t, network.TransportTCP, nil)
	c, rec := connect(t, srv, "alice")
	require.NoError(t, c.LoadBlocks(context.Background(), coords(0, 0)...))

	srv.BroadcastRaw([]byte{0x7F, 0, 0, 0, 0, 0})

	deadline := time.Now().Add(5 * time.Second)
	var err error
	for err == nil && time.Now().Before(deadline) {
		err = c.Poll()
		time.Sleep(time.Millisecond)
	}
	require.ErrorIs(t, err, network.ErrDisconnected)
	assert.ErrorIs(t, err, network.ErrUnknownPacket)
	assert.Equal(t, StateClosed, c.State())
	assert.Equal(t, 1, rec.count(world.EventDisconnected))

	// все операции завершаются сразу
	assert.ErrorIs(t, c.Poll(), network.ErrDisconnected)
	assert.ErrorIs(t, c.LoadBlocks(context.Background(), coords(1, 1)...), network.ErrDisconnected)
	assert.ErrorIs(t, c.SetPos(1, 1), network.ErrDisconnected)
	assert.ErrorIs(t, c.Flush(), network.ErrDisconnected)
	_, err = c.LandTile(0, 0)
	assert.ErrorIs(t, err, network.ErrDisconnected)
	assert.NoError(t, c.Dispose())
	assert.Equal(t, "Closed", c.Status().State)
}

func TestServerShutdownClosesSession(t *testing.T) {
	srv := startDevServer(t, network.TransportTCP, nil)
	c, _ := connect(t, srv, "alice")
	require.NoError(t, srv.Stop())

	done := make(chan error, 1)
	go func() {
		done <- c.LoadBlocks(context.Background(), coords(4, 4)...)
	}()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, network.ErrDisconnected)
	case <-time.After(5 * time.Second):
		t.Fatal("LoadBlocks hangs after server shutdown")
	}
	assert.Equal(t, StateClosed, c.State())
}

func TestLoginRejected(t *testing.T) {
	repo := auth.NewMemoryAccountRepo(bcrypt.MinCost)
	_, err := repo.AddAccount("alice", "secret", protocol.AccessNormal)
	require.NoError(t, err)
	srv := startDevServer(t, network.TransportTCP, repo)

	cfg := testConfig(srv, "alice")
	cfg.Password = "wrong"
	_, err = Connect(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrLoginRejected)

	cfg.Password = "secret"
	c, err := Connect(context.Background(), cfg)
	require.NoError(t, err)
	assert.NoError(t, c.Dispose())
}

func TestDisposeIsIdempotent(t *testing.T) {
	srv := startDevServer(t, network.TransportTCP, nil)
	c, _ := connect(t, srv, "alice")

	require.NoError(t, c.Flush())
	require.NoError(t, c.Dispose())
	require.NoError(t, c.Dispose())
	assert.Equal(t, StateClosed, c.State())

	assert.ErrorIs(t, c.Poll(), ErrNotRunning)
	assert.ErrorIs(t, c.SendChatMessage("late"), ErrNotRunning)
	assert.ErrorIs(t, c.ResizeCache(4), ErrNotRunning)
	_, err := c.StaticTiles(0, 0)
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestChatAndClientPresence(t *testing.T) {
	srv := startDevServer(t, network.TransportTCP, nil)
	alice, aliceRec := connect(t, srv, "alice")
	bob, _ := connect(t, srv, "bob")

	assert.Equal(t, []string{"alice"}, bob.Clients())
	pollFor(t, alice, func() bool { return aliceRec.count(world.EventClientConnected) == 1 })
	assert.Equal(t, []string{"bob"}, alice.Clients())

	require.NoError(t, bob.SendChatMessage("hello"))
	require.NoError(t, bob.Poll())
	pollFor(t, alice, func() bool { return aliceRec.count(world.EventChatReceived) == 1 })
	for _, ev := range aliceRec.snapshot() {
		if chat, ok := ev.(world.ChatReceived); ok {
			assert.Equal(t, "bob", chat.Sender)
			assert.Equal(t, "hello", chat.Text)
		}
	}

	require.NoError(t, bob.Dispose())
	pollFor(t, alice, func() bool { return aliceRec.count(world.EventClientDisconnected) == 1 })
	assert.Empty(t, alice.Clients())
}

func TestAccessChangedNotification(t *testing.T) {
	srv := startDevServer(t, network.TransportTCP, nil)
	c, rec := connect(t, srv, "alice")

	require.True(t, srv.SetAccess("alice", protocol.AccessAdministrator))
	pollFor(t, c, func() bool { return rec.count(world.EventAccessChanged) == 1 })
	assert.Equal(t, protocol.AccessAdministrator, c.AccessLevel())
}

func TestPanickingSubscriberDoesNotBreakClient(t *testing.T) {
	srv := startDevServer(t, network.TransportTCP, nil)
	c, _ := connect(t, srv, "alice")
	eventbus.Subscribe(c.Bus(), func(world.BlockLoaded) { panic("subscriber bug") })

	require.NoError(t, c.LoadBlocks(context.Background(), coords(0, 0, 0, 1)...))
	assert.Equal(t, StateRunning, c.State())
	assert.Equal(t, uint64(2), c.Bus().Stats().Panics)
}

func TestResizeCacheReleasesBlocks(t *testing.T) {
	srv := startDevServer(t, network.TransportTCP, nil)
	c, rec := connect(t, srv, "alice")
	require.NoError(t, c.LoadBlocks(context.Background(), coords(0, 0, 1, 0, 2, 0)...))
	rec.reset()

	require.NoError(t, c.ResizeCache(1))
	assert.Equal(t, 2, rec.count(world.EventBlockUnloaded))
	assert.Equal(t, 1, rec.count(world.EventMapChanged))
	assert.Equal(t, 1, c.CacheStats().Len)
	assert.Error(t, c.ResizeCache(-1))
}

func TestConcurrentCallers(t *testing.T) {
	srv := startDevServer(t, network.TransportTCP, nil)
	c, _ := connect(t, srv, "alice")

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := range 8 {
		wg.Add(1)
		go func(i uint16) {
			defer wg.Done()
			errs <- c.LoadBlocks(context.Background(), world.BlockCoords{X: i % 8, Y: i / 2})
		}(uint16(i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestKCPTransport(t *testing.T) {
	srv := startDevServer(t, network.TransportKCP, nil)
	c, _ := connect(t, srv, "alice", func(cfg *config.ClientConfig) { cfg.Transport = network.TransportKCP })

	require.NoError(t, c.LoadBlocks(context.Background(), coords(5, 5)...))
	assert.True(t, c.IsLoaded(world.BlockCoords{X: 5, Y: 5}))
}
