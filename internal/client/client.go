package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/annel0/tilesync/internal/config"
	"github.com/annel0/tilesync/internal/eventbus"
	"github.com/annel0/tilesync/internal/logging"
	"github.com/annel0/tilesync/internal/network"
	"github.com/annel0/tilesync/internal/protocol"
	"github.com/annel0/tilesync/internal/world"
)

const tracerName = "github.com/annel0/tilesync/internal/client"

// State состояние жизненного цикла клиента
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateInitialized
	StateRunning
	StateDisposing
	StateClosed
)

var stateNames = [...]string{"Connecting", "Authenticating", "Initialized", "Running", "Disposing", "Closed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

var (
	// ErrNotRunning операция недоступна в текущем состоянии
	ErrNotRunning = errors.New("client not running")
	// ErrLoginRejected сервер отклонил вход
	ErrLoginRejected = errors.New("login rejected")
	// ErrLoginTimeout ответ на вход не пришёл вовремя
	ErrLoginTimeout = errors.New("login timed out")
	// ErrLoadTimeout запрошенные блоки не пришли вовремя
	ErrLoadTimeout = errors.New("block load timed out")
)

// Option настраивает клиента при создании
type Option func(*Client)

// WithBus использует заданную шину уведомлений (подписки до входа)
func WithBus(bus *eventbus.Bus) Option {
	return func(c *Client) { c.bus = bus }
}

// WithSessionID задаёт идентификатор сессии вместо случайного
func WithSessionID(id string) Option {
	return func(c *Client) { c.sessionID = id }
}

// loadWaiter ожидающий вызов LoadBlocks: блоки, которые ещё не пришли
type loadWaiter struct {
	pending map[uint32]struct{}
}

// Client кеширующий клиент ландшафта. Все методы безопасны для вызова
// из разных горутин; подписчики шины вызываются вне внутренней блокировки.
type Client struct {
	mu sync.Mutex

	cfg       config.ClientConfig
	sessionID string
	state     State
	err       error

	sess   *network.Session
	land   *world.Landscape
	bus    *eventbus.Bus
	logger *logging.Logger
	tracer trace.Tracer

	login         *protocol.LoginResponse
	access        protocol.AccessLevel
	serverVariant bool
	x, y          uint16
	clients       map[string]struct{}
	waiters       map[*loadWaiter]struct{}
}

// Connect устанавливает соединение по cfg.Transport и выполняет вход
func Connect(ctx context.Context, cfg config.ClientConfig, opts ...Option) (*Client, error) {
	conn, err := network.Dial(ctx, cfg.Transport, cfg.Address, cfg.DialTimeout)
	if err != nil {
		return nil, err
	}
	return New(ctx, conn, cfg, opts...)
}

// New выполняет вход поверх установленного соединения. Возвращает клиента
// в состоянии Running. При ошибке соединение закрыто.
func New(ctx context.Context, conn net.Conn, cfg config.ClientConfig, opts ...Option) (*Client, error) {
	c := &Client{
		cfg:       withDefaults(cfg),
		sessionID: uuid.NewString(),
		state:     StateConnecting,
		logger:    logging.GetClientLogger(),
		tracer:    otel.Tracer(tracerName),
		clients:   make(map[string]struct{}),
		waiters:   make(map[*loadWaiter]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.bus == nil {
		c.bus = eventbus.New()
	}
	sessionState.WithLabelValues(c.state.String()).Inc()

	ctx, span := c.tracer.Start(ctx, "client.login", trace.WithAttributes(
		attribute.String("tilesync.session_id", c.sessionID),
		attribute.String("tilesync.username", c.cfg.Username),
		attribute.String("net.peer.addr", conn.RemoteAddr().String()),
	))
	defer span.End()

	if err := c.start(ctx, conn); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return c, nil
}

func (c *Client) start(ctx context.Context, conn net.Conn) error {
	defer c.bus.Deliver()
	c.mu.Lock()
	defer c.mu.Unlock()

	table, err := c.routes()
	if err != nil {
		_ = conn.Close()
		return err
	}

	scfg := network.DefaultSessionConfig()
	scfg.ConnID = c.sessionID[:min(8, len(c.sessionID))]
	scfg.ReadPollTimeout = c.cfg.ReadPollTimeout
	scfg.WriteTimeout = c.cfg.WriteTimeout
	scfg.HeartbeatIdle = c.cfg.HeartbeatIdle
	sess, err := network.NewSession(conn, table, scfg)
	if err != nil {
		_ = conn.Close()
		return err
	}
	c.sess = sess
	c.setStateLocked(StateAuthenticating)

	err = c.sendLocked(&protocol.LoginRequest{Username: c.cfg.Username, Password: c.cfg.Password})
	if err == nil {
		err = c.pollUntil(ctx, c.cfg.LoginTimeout, ErrLoginTimeout, func() bool { return c.login != nil })
	}
	if err != nil {
		loginsTotal.WithLabelValues("error").Inc()
		c.abortLocked()
		return err
	}

	resp := c.login
	loginsTotal.WithLabelValues(resp.Result.String()).Inc()
	if resp.Result != protocol.LoginOK {
		c.abortLocked()
		return fmt.Errorf("%w: %s", ErrLoginRejected, resp.Result)
	}

	if err := c.initLandscape(resp.Width, resp.Height); err != nil {
		c.abortLocked()
		return err
	}
	c.access = resp.Access
	c.serverVariant = resp.ServerVariant
	for _, name := range resp.Clients {
		c.clients[name] = struct{}{}
	}
	c.setStateLocked(StateRunning)

	c.logger.Info("✅ %s logged in as %s (%s), world %dx%d blocks, cache %d",
		c.sessionID, c.cfg.Username, c.access, resp.Width, resp.Height, c.land.Cache().Capacity())
	return nil
}

// initLandscape создаёт ландшафт и кеш по размерам из ответа на вход
func (c *Client) initLandscape(width, height uint16) error {
	land, err := world.NewLandscape(width, height, c.cfg.CacheSize, c.bus)
	if err != nil {
		return fmt.Errorf("init landscape: %w", err)
	}
	c.land = land
	c.setStateLocked(StateInitialized)
	return nil
}

func withDefaults(cfg config.ClientConfig) config.ClientConfig {
	def := config.Default().Client
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.ReadPollTimeout <= 0 {
		cfg.ReadPollTimeout = def.ReadPollTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.HeartbeatIdle <= 0 {
		cfg.HeartbeatIdle = def.HeartbeatIdle
	}
	if cfg.LoginTimeout <= 0 {
		cfg.LoginTimeout = def.LoginTimeout
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = def.LoadTimeout
	}
	if cfg.CacheSize < 0 {
		cfg.CacheSize = world.DefaultCacheSize
	}
	return cfg
}

func (c *Client) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.logger.Debug("%s state %s -> %s", c.sessionID, c.state, s)
	sessionState.WithLabelValues(c.state.String()).Dec()
	sessionState.WithLabelValues(s.String()).Inc()
	c.state = s
}

// stoppedErrLocked ошибка для операций после закрытия
func (c *Client) stoppedErrLocked() error {
	if c.err != nil {
		return c.err
	}
	return ErrNotRunning
}

func (c *Client) runningLocked() error {
	switch c.state {
	case StateRunning:
		return nil
	case StateDisposing, StateClosed:
		return c.stoppedErrLocked()
	}
	return ErrNotRunning
}

// failLocked переводит клиента в Closed после ошибки транспорта или кадрирования
func (c *Client) failLocked(err error) {
	if c.state == StateClosed {
		return
	}
	c.err = err
	c.setStateLocked(StateClosed)
	c.logger.Warn("%s session lost: %v", c.sessionID, err)
	c.bus.Notify(world.Disconnected{Err: err})
}

// abortLocked закрывает сессию при неудачном входе
func (c *Client) abortLocked() {
	if c.sess != nil {
		_ = c.sess.Close()
	}
	c.setStateLocked(StateClosed)
}

func (c *Client) sendLocked(p protocol.Packet) error {
	err := c.sess.Send(p)
	if err != nil && errors.Is(err, network.ErrDisconnected) {
		c.failLocked(err)
	}
	return err
}

func (c *Client) pollLocked() error {
	if c.state >= StateDisposing {
		return c.stoppedErrLocked()
	}
	if _, err := c.sess.PollOnce(); err != nil {
		c.failLocked(err)
		return err
	}
	return nil
}

// pollUntil повторяет шаг опроса, пока done не вернёт true. Между шагами
// блокировка отпускается, уведомления доставляются, поток спит PollInterval.
// Вызывается под c.mu.
func (c *Client) pollUntil(ctx context.Context, timeout time.Duration, timeoutErr error, done func() bool) error {
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	timer := time.NewTimer(c.cfg.PollInterval)
	defer timer.Stop()

	for {
		if err := c.pollLocked(); err != nil {
			return err
		}
		if done() {
			return nil
		}

		c.mu.Unlock()
		c.bus.Deliver()
		timer.Reset(c.cfg.PollInterval)
		var waitErr error
		select {
		case <-waitCtx.Done():
			waitErr = waitCtx.Err()
		case <-timer.C:
		}
		c.mu.Lock()

		if waitErr != nil {
			if err := ctx.Err(); err != nil {
				return err
			}
			return timeoutErr
		}
		if c.state >= StateDisposing {
			return c.stoppedErrLocked()
		}
	}
}
