package network

import (
	"bytes"
	"io"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/tilesync/internal/protocol"
)

// fakeConn детерминированный net.Conn: Read без данных возвращает таймаут
type fakeConn struct {
	mu      sync.Mutex
	in      bytes.Buffer
	out     bytes.Buffer
	readErr error
	closed  bool
}

func (c *fakeConn) feed(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.in.Write(b)
}

func (c *fakeConn) written() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.out.Bytes()...)
}

func (c *fakeConn) Read(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed:
		return 0, net.ErrClosed
	case c.in.Len() > 0:
		return c.in.Read(b)
	case c.readErr != nil:
		return 0, c.readErr
	}
	return 0, os.ErrDeadlineExceeded
}

func (c *fakeConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, net.ErrClosed
	}
	return c.out.Write(b)
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) LocalAddr() net.Addr                { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1} }
func (c *fakeConn) RemoteAddr() net.Addr               { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 2597} }
func (c *fakeConn) SetDeadline(t time.Time) error      { return nil }
func (c *fakeConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

type harness struct {
	conn  *fakeConn
	sess  *Session
	codec *protocol.Codec
	chats []string
	clock time.Time
}

func newHarness(t *testing.T, extra ...Route) *harness {
	t.Helper()
	h := &harness{conn: &fakeConn{}, clock: time.Unix(1_700_000_000, 0)}

	routes := append([]Route{
		Handle(func(p *protocol.Chat) error {
			h.chats = append(h.chats, p.Text)
			return nil
		}),
	}, extra...)
	table, err := NewTable(routes...)
	require.NoError(t, err)

	cfg := DefaultSessionConfig()
	cfg.ConnID = "test"
	h.sess, err = NewSession(h.conn, table, cfg)
	require.NoError(t, err)
	h.sess.now = func() time.Time { return h.clock }
	h.sess.lastIO = h.clock

	h.codec, err = protocol.NewCodec(0)
	require.NoError(t, err)
	t.Cleanup(h.codec.Close)
	return h
}

func (h *harness) frame(t *testing.T, p protocol.Packet) []byte {
	t.Helper()
	b, err := h.codec.Marshal(p)
	require.NoError(t, err)
	return b
}

func (h *harness) sentIDs(t *testing.T) []protocol.PacketID {
	t.Helper()
	buf := h.conn.written()
	var ids []protocol.PacketID
	for len(buf) > 0 {
		f, n, err := h.codec.DecodeFrame(buf)
		require.NoError(t, err)
		ids = append(ids, f.ID)
		buf = buf[n:]
	}
	return ids
}

func TestPollDispatchesFramesInOrder(t *testing.T) {
	h := newHarness(t)
	var stream []byte
	for _, text := range []string{"a", "b", "c"} {
		stream = append(stream, h.frame(t, &protocol.Chat{Sender: "s", Text: text})...)
	}
	h.conn.feed(stream)

	n, err := h.sess.PollOnce()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"a", "b", "c"}, h.chats)
	assert.Equal(t, uint64(3), h.sess.Stats().PacketsReceived)
}

func TestPartialFrameWaitsForRest(t *testing.T) {
	h := newHarness(t)
	frame := h.frame(t, &protocol.Chat{Sender: "s", Text: "hello"})

	h.conn.feed(frame[:4])
	n, err := h.sess.PollOnce()
	require.NoError(t, err)
	assert.Zero(t, n)

	h.conn.feed(frame[4 : len(frame)-1])
	n, err = h.sess.PollOnce()
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, h.chats)

	h.conn.feed(frame[len(frame)-1:])
	n, err = h.sess.PollOnce()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"hello"}, h.chats)
}

func TestSendIsQueuedUntilPoll(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.sess.Send(&protocol.ClientPosition{X: 1, Y: 2}))
	require.NoError(t, h.sess.Send(&protocol.ServerFlush{}))
	assert.Empty(t, h.conn.written())
	assert.Equal(t, 2, h.sess.Stats().Queued)

	_, err := h.sess.PollOnce()
	require.NoError(t, err)
	assert.Equal(t, []protocol.PacketID{protocol.IDClientPosition, protocol.IDServerFlush}, h.sentIDs(t))
	assert.Equal(t, uint64(2), h.sess.Stats().PacketsSent)
	assert.Zero(t, h.sess.Stats().Queued)
}

func TestHeartbeatAfterIdle(t *testing.T) {
	h := newHarness(t)

	h.clock = h.clock.Add(59 * time.Second)
	_, err := h.sess.PollOnce()
	require.NoError(t, err)
	assert.Empty(t, h.conn.written())

	h.clock = h.clock.Add(time.Second)
	_, err = h.sess.PollOnce()
	require.NoError(t, err)
	assert.Equal(t, []protocol.PacketID{protocol.IDNoOp}, h.sentIDs(t))

	// отправка heartbeat сбрасывает таймер простоя
	_, err = h.sess.PollOnce()
	require.NoError(t, err)
	assert.Len(t, h.sentIDs(t), 1)
	assert.Equal(t, uint64(1), h.sess.Stats().Heartbeats)
}

func TestInboundTrafficResetsIdle(t *testing.T) {
	h := newHarness(t)

	h.clock = h.clock.Add(50 * time.Second)
	h.conn.feed(h.frame(t, &protocol.Chat{Text: "x"}))
	_, err := h.sess.PollOnce()
	require.NoError(t, err)

	h.clock = h.clock.Add(50 * time.Second)
	_, err = h.sess.PollOnce()
	require.NoError(t, err)
	assert.Empty(t, h.conn.written())
}

func TestUnknownPacketTearsDown(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sess.Send(&protocol.NoOp{}))
	h.conn.feed([]byte{0x7F, 0, 0, 0, 0, 0})

	_, err := h.sess.PollOnce()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDisconnected)
	assert.ErrorIs(t, err, ErrUnknownPacket)
	assert.True(t, h.conn.closed)
	assert.Empty(t, h.conn.written(), "queued packets are discarded")

	assert.ErrorIs(t, h.sess.Send(&protocol.NoOp{}), ErrDisconnected)
	_, err = h.sess.PollOnce()
	assert.ErrorIs(t, err, ErrDisconnected)
	assert.False(t, h.sess.Stats().Connected)
}

func TestMalformedFrameTearsDown(t *testing.T) {
	h := newHarness(t)
	h.conn.feed([]byte{byte(protocol.IDChat), 0x80, 0, 0, 0, 0})

	_, err := h.sess.PollOnce()
	assert.ErrorIs(t, err, ErrDisconnected)
	assert.ErrorIs(t, err, protocol.ErrBadFrameFlags)
}

func TestHandlerErrorIsFatal(t *testing.T) {
	h := newHarness(t, Handle(func(*protocol.ClientList) error { return io.ErrUnexpectedEOF }))
	h.conn.feed(h.frame(t, &protocol.ClientList{Names: []string{"a"}}))

	_, err := h.sess.PollOnce()
	assert.ErrorIs(t, err, ErrDisconnected)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadErrorTearsDown(t *testing.T) {
	h := newHarness(t)
	h.conn.readErr = io.EOF

	_, err := h.sess.PollOnce()
	assert.ErrorIs(t, err, ErrDisconnected)
	assert.ErrorIs(t, err, io.EOF)
	assert.ErrorIs(t, h.sess.Err(), ErrDisconnected)
}

func TestCloseDrainsQueue(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sess.Send(&protocol.ServerFlush{}))

	require.NoError(t, h.sess.Close())
	assert.Equal(t, []protocol.PacketID{protocol.IDServerFlush}, h.sentIDs(t))
	assert.True(t, h.conn.closed)

	assert.ErrorIs(t, h.sess.Send(&protocol.NoOp{}), ErrClosing)
	assert.NoError(t, h.sess.Close())
}

func TestSessionOverPipe(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	var got []string
	table, err := NewTable(Handle(func(p *protocol.Chat) error {
		got = append(got, p.Text)
		return nil
	}))
	require.NoError(t, err)
	sess, err := NewSession(client, table, DefaultSessionConfig())
	require.NoError(t, err)
	defer sess.Close()

	codec, err := protocol.NewCodec(0)
	require.NoError(t, err)
	defer codec.Close()
	frame, err := codec.Marshal(&protocol.Chat{Sender: "srv", Text: "over pipe"})
	require.NoError(t, err)

	go func() { _, _ = server.Write(frame) }()

	require.Eventually(t, func() bool {
		_, err := sess.PollOnce()
		return err == nil && len(got) == 1
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, "over pipe", got[0])
}
