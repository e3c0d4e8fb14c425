package devserver

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xtaci/kcp-go/v5"

	"github.com/annel0/tilesync/internal/auth"
	"github.com/annel0/tilesync/internal/logging"
	"github.com/annel0/tilesync/internal/network"
	"github.com/annel0/tilesync/internal/protocol"
	"github.com/annel0/tilesync/internal/world"
)

// maxBlocksPerDelivery ограничение блоков в одном пакете доставки
const maxBlocksPerDelivery = 64

// Config параметры сервера разработки
type Config struct {
	Width, Height uint16 // в блоках
	Seed          int64
	// Accounts nil: открытый сервер: любой логин, доступ Normal
	Accounts      auth.AccountRepository
	CompressAbove int
	WriteTimeout  time.Duration
}

// Server авторитетный сервер мира в памяти. Предназначен для локальной
// разработки и интеграционных тестов клиента.
type Server struct {
	cfg     Config
	terrain *Terrain
	codec   *protocol.Codec
	logger  *logging.Logger

	mu       sync.Mutex
	blocks   map[uint32]*protocol.BlockData
	conns    map[*conn]struct{}
	withhold bool
	closed   bool

	// editMu упорядочивает применение правок и рассылку эха
	editMu sync.Mutex

	listener net.Listener
	wg       sync.WaitGroup
}

// New создаёт сервер
func New(cfg Config) (*Server, error) {
	if cfg.Width == 0 || cfg.Height == 0 {
		return nil, fmt.Errorf("invalid world size %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.CompressAbove == 0 {
		cfg.CompressAbove = 512
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	codec, err := protocol.NewCodec(cfg.CompressAbove)
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:     cfg,
		terrain: NewTerrain(cfg.Seed),
		codec:   codec,
		logger:  logging.GetDevServerLogger(),
		blocks:  make(map[uint32]*protocol.BlockData),
		conns:   make(map[*conn]struct{}),
	}, nil
}

// Start открывает слушатель и принимает соединения в фоне
func (s *Server) Start(transport, addr string) error {
	var (
		l   net.Listener
		err error
	)
	switch transport {
	case network.TransportTCP, "":
		l, err = net.Listen("tcp", addr)
	case network.TransportKCP:
		l, err = network.ListenKCP(addr)
	default:
		err = fmt.Errorf("unknown transport %q", transport)
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()

	s.logger.Info("🚀 devserver listening on %s (%s), world %dx%d blocks", l.Addr(), transport, s.cfg.Width, s.cfg.Height)
	s.wg.Add(1)
	go s.acceptLoop(l)
	return nil
}

// Addr адрес слушателя
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop(l net.Listener) {
	defer s.wg.Done()
	for {
		nc, err := l.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) && !s.isClosed() {
				s.logger.Error("accept: %v", err)
			}
			return
		}
		if sess, ok := nc.(*kcp.UDPSession); ok {
			network.ConfigureKCP(sess)
		}

		c := newConn(s, nc)
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = nc.Close()
			return
		}
		s.conns[c] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			c.serve()
		}()
	}
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Stop закрывает слушатель и все соединения, дожидаясь завершения горутин
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	l := s.listener
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	var err error
	if l != nil {
		err = l.Close()
	}
	for _, c := range conns {
		_ = c.nc.Close()
	}
	s.wg.Wait()
	s.codec.Close()
	s.logger.Info("devserver stopped")
	return err
}

func (s *Server) remove(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	name := c.username
	wasLogged := c.loggedIn
	c.loggedIn = false
	s.mu.Unlock()

	if wasLogged {
		s.logger.Info("👋 %s disconnected", name)
		s.broadcast(&protocol.ClientDisconnected{Name: name}, c)
	}
}

// loggedIn снимок подключённых клиентов, кроме except
func (s *Server) loggedIn(except *conn) []*conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		if c.loggedIn && c != except {
			out = append(out, c)
		}
	}
	return out
}

func (s *Server) broadcast(p protocol.Packet, except *conn) {
	frame, err := s.codec.Marshal(p)
	if err != nil {
		s.logger.Error("broadcast %s: %v", p.ID(), err)
		return
	}
	for _, c := range s.loggedIn(except) {
		if err := c.writeRaw(frame); err != nil {
			s.logger.Debug("broadcast to %s: %v", c.id, err)
		}
	}
}

// Broadcast рассылает пакет всем авторизованным клиентам
func (s *Server) Broadcast(p protocol.Packet) {
	s.broadcast(p, nil)
}

// BroadcastRaw рассылает произвольные байты всем авторизованным клиентам
func (s *Server) BroadcastRaw(b []byte) {
	for _, c := range s.loggedIn(nil) {
		_ = c.writeRaw(b)
	}
}

// Clients имена авторизованных клиентов
func (s *Server) Clients() []string {
	conns := s.loggedIn(nil)
	names := make([]string, 0, len(conns))
	s.mu.Lock()
	for _, c := range conns {
		names = append(names, c.username)
	}
	s.mu.Unlock()
	slices.Sort(names)
	return names
}

// SetAccess меняет уровень доступа подключённого клиента и уведомляет его
func (s *Server) SetAccess(username string, level protocol.AccessLevel) bool {
	s.mu.Lock()
	var target *conn
	for c := range s.conns {
		if c.loggedIn && strings.EqualFold(c.username, username) {
			c.access = level
			target = c
			break
		}
	}
	s.mu.Unlock()
	if target == nil {
		return false
	}
	return target.send(&protocol.AccessChanged{Access: level}) == nil
}

// WithholdBlocks заставляет сервер игнорировать запросы блоков
func (s *Server) WithholdBlocks(on bool) {
	s.mu.Lock()
	s.withhold = on
	s.mu.Unlock()
}

// Block копия авторитетного состояния блока
func (s *Server) Block(x, y uint16) (protocol.BlockData, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if x >= s.cfg.Width || y >= s.cfg.Height {
		return protocol.BlockData{}, false
	}
	d := *s.blockLocked(x, y)
	d.Statics = slices.Clone(d.Statics)
	return d, true
}

// blockLocked возвращает блок, генерируя его при первом обращении
func (s *Server) blockLocked(x, y uint16) *protocol.BlockData {
	id := world.BlockID(x, y)
	if d, ok := s.blocks[id]; ok {
		return d
	}
	d := s.terrain.Block(x, y)
	s.blocks[id] = &d
	return &d
}

func (s *Server) tileInBounds(x, y uint16) bool {
	return int(x) < int(s.cfg.Width)*protocol.BlockSize && int(y) < int(s.cfg.Height)*protocol.BlockSize
}

func (s *Server) authenticate(username, password string) (protocol.LoginResult, protocol.AccessLevel) {
	if s.cfg.Accounts == nil {
		if username == "" {
			return protocol.LoginInvalidUser, protocol.AccessNone
		}
		return protocol.LoginOK, protocol.AccessNormal
	}
	acc, err := s.cfg.Accounts.ValidateCredentials(username, password)
	switch {
	case errors.Is(err, auth.ErrUserNotFound):
		return protocol.LoginInvalidUser, protocol.AccessNone
	case err != nil:
		return protocol.LoginInvalidPassword, protocol.AccessNone
	case acc.Access == protocol.AccessNone:
		return protocol.LoginNoAccess, protocol.AccessNone
	}
	return protocol.LoginOK, acc.Access
}

func newConnID() string {
	return uuid.NewString()[:8]
}
