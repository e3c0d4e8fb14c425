package devserver

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/annel0/tilesync/internal/network"
	"github.com/annel0/tilesync/internal/protocol"
)

var errLoginRejected = errors.New("login rejected")

// conn соединение одного клиента. Поля входа защищены Server.mu.
type conn struct {
	srv   *Server
	nc    net.Conn
	id    string
	table *network.Table

	wmu sync.Mutex

	loggedIn bool
	username string
	access   protocol.AccessLevel
	x, y     uint16
}

func newConn(s *Server, nc net.Conn) *conn {
	c := &conn{srv: s, nc: nc, id: newConnID()}
	table, err := network.NewTable(
		network.Handle(c.onLogin),
		network.Handle(func(*protocol.NoOp) error { return nil }),
		network.Handle(c.onPosition),
		network.Handle(c.onFlush),
		network.Handle(c.onRadar),
		network.Handle(c.onRequestBlocks),
		network.Handle(c.onLandReplace),
		network.Handle(c.onLandElevate),
		network.Handle(c.onStaticInsert),
		network.Handle(c.onStaticDelete),
		network.Handle(c.onStaticReplace),
		network.Handle(c.onStaticMove),
		network.Handle(c.onStaticElevate),
		network.Handle(c.onStaticHue),
		network.Handle(c.onChat),
	)
	if err != nil {
		panic(err)
	}
	c.table = table
	return c
}

func (c *conn) serve() {
	defer c.srv.remove(c)
	defer c.nc.Close()

	log := c.srv.logger
	log.Debug("connection %s from %s", c.id, c.nc.RemoteAddr())

	buf := make([]byte, 0, 64<<10)
	chunk := make([]byte, 32<<10)
	for {
		n, readErr := c.nc.Read(chunk)
		buf = append(buf, chunk[:n]...)

		off := 0
		for {
			frame, used, err := c.srv.codec.DecodeFrame(buf[off:])
			if errors.Is(err, protocol.ErrIncompleteFrame) {
				break
			}
			if err != nil {
				log.LogProtocolError(c.id, err, buf[off:])
				return
			}
			log.LogPacket(c.id, "IN", frame.ID, frame.Payload)
			if err := c.table.Dispatch(frame); err != nil {
				if errors.Is(err, errLoginRejected) {
					log.Info("%s: %v", c.id, err)
				} else {
					log.LogProtocolError(c.id, err, buf[off:off+used])
				}
				return
			}
			off += used
		}
		buf = append(buf[:0], buf[off:]...)

		if readErr != nil {
			if !errors.Is(readErr, net.ErrClosed) {
				log.Debug("%s read: %v", c.id, readErr)
			}
			return
		}
	}
}

func (c *conn) send(p protocol.Packet) error {
	frame, err := c.srv.codec.Marshal(p)
	if err != nil {
		return err
	}
	c.srv.logger.LogPacket(c.id, "OUT", p.ID(), frame)
	return c.writeRaw(frame)
}

func (c *conn) writeRaw(b []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.nc.SetWriteDeadline(time.Now().Add(c.srv.cfg.WriteTimeout))
	_, err := c.nc.Write(b)
	return err
}

// session возвращает состояние входа
func (c *conn) session() (loggedIn bool, name string, access protocol.AccessLevel) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	return c.loggedIn, c.username, c.access
}

func (c *conn) onLogin(p *protocol.LoginRequest) error {
	s := c.srv
	if ok, _, _ := c.session(); ok {
		s.logger.Warn("%s: repeated login ignored", c.id)
		return nil
	}

	result, access := s.authenticate(p.Username, p.Password)

	s.mu.Lock()
	var others []string
	if result == protocol.LoginOK {
		for other := range s.conns {
			if !other.loggedIn {
				continue
			}
			if strings.EqualFold(other.username, p.Username) {
				result = protocol.LoginAlreadyLoggedIn
				break
			}
			others = append(others, other.username)
		}
	}
	if result == protocol.LoginOK {
		c.loggedIn = true
		c.username = p.Username
		c.access = access
	}
	s.mu.Unlock()

	resp := &protocol.LoginResponse{Result: result, Access: access}
	if result != protocol.LoginOK {
		_ = c.send(resp)
		return fmt.Errorf("%w for %q: %s", errLoginRejected, p.Username, result)
	}

	resp.Width, resp.Height = s.cfg.Width, s.cfg.Height
	resp.ServerVariant = true
	resp.Clients = others
	if err := c.send(resp); err != nil {
		return err
	}
	s.logger.Info("✅ %s logged in as %s (%s)", c.id, p.Username, access)
	s.broadcast(&protocol.ClientConnected{Name: p.Username}, c)
	return nil
}

func (c *conn) requireLogin() error {
	if ok, _, _ := c.session(); !ok {
		return errors.New("packet before login")
	}
	return nil
}

func (c *conn) onPosition(p *protocol.ClientPosition) error {
	if err := c.requireLogin(); err != nil {
		return err
	}
	c.srv.mu.Lock()
	c.x, c.y = p.X, p.Y
	c.srv.mu.Unlock()
	return nil
}

func (c *conn) onFlush(*protocol.ServerFlush) error {
	if err := c.requireLogin(); err != nil {
		return err
	}
	c.srv.logger.Info("💾 flush requested by %s", c.id)
	return nil
}

func (c *conn) onRadar(*protocol.RequestRadarMap) error {
	if err := c.requireLogin(); err != nil {
		return err
	}
	c.srv.logger.Debug("radar map requested by %s", c.id)
	return nil
}

func (c *conn) onRequestBlocks(p *protocol.RequestBlocks) error {
	if err := c.requireLogin(); err != nil {
		return err
	}
	s := c.srv

	s.mu.Lock()
	if s.withhold {
		s.mu.Unlock()
		return nil
	}
	blocks := make([]protocol.BlockData, 0, len(p.Coords))
	for _, bc := range p.Coords {
		if bc.X >= s.cfg.Width || bc.Y >= s.cfg.Height {
			continue
		}
		d := *s.blockLocked(bc.X, bc.Y)
		d.Statics = append([]protocol.StaticTile(nil), d.Statics...)
		blocks = append(blocks, d)
	}
	s.mu.Unlock()

	for len(blocks) > 0 {
		n := min(len(blocks), maxBlocksPerDelivery)
		if err := c.send(&protocol.BlockDelivery{Blocks: blocks[:n]}); err != nil {
			return err
		}
		blocks = blocks[n:]
	}
	return nil
}

func (c *conn) onChat(p *protocol.Chat) error {
	if err := c.requireLogin(); err != nil {
		return err
	}
	_, name, _ := c.session()
	c.srv.broadcast(&protocol.Chat{Sender: name, Text: p.Text}, nil)
	return nil
}
