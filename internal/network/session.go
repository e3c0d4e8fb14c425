package network

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/annel0/tilesync/internal/logging"
	"github.com/annel0/tilesync/internal/protocol"
)

var (
	// ErrDisconnected сессия разорвана ошибкой ввода-вывода или кадрирования
	ErrDisconnected = errors.New("disconnected")
	// ErrClosing сессия закрыта вызывающей стороной
	ErrClosing = errors.New("session closed")
)

// DefaultHeartbeatIdle простой соединения, после которого отправляется NoOp
const DefaultHeartbeatIdle = time.Minute

const readChunk = 32 << 10

// SessionConfig параметры сессии
type SessionConfig struct {
	ConnID          string        // для логов
	ReadPollTimeout time.Duration // дедлайн одной попытки чтения
	WriteTimeout    time.Duration
	HeartbeatIdle   time.Duration
	CompressAbove   int // 0: без сжатия исходящих
}

// DefaultSessionConfig значения по умолчанию
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		ReadPollTimeout: time.Millisecond,
		WriteTimeout:    10 * time.Second,
		HeartbeatIdle:   DefaultHeartbeatIdle,
		CompressAbove:   1024,
	}
}

// SessionStats статистика соединения
type SessionStats struct {
	PacketsSent     uint64    `json:"packets_sent"`
	PacketsReceived uint64    `json:"packets_received"`
	BytesSent       uint64    `json:"bytes_sent"`
	BytesReceived   uint64    `json:"bytes_received"`
	Heartbeats      uint64    `json:"heartbeats"`
	Queued          int       `json:"queued"`
	LastActivity    time.Time `json:"last_activity"`
	RemoteAddr      string    `json:"remote_addr"`
	Connected       bool      `json:"connected"`
}

// Session кадрированный поток пакетов поверх net.Conn без фоновых горутин.
// Все методы вызываются из одной горутины (или под внешним мьютексом).
type Session struct {
	conn   net.Conn
	codec  *protocol.Codec
	table  *Table
	cfg    SessionConfig
	logger *logging.Logger

	inbuf   []byte
	readbuf []byte

	outbuf       []byte
	queued       int
	flushPending bool

	lastIO time.Time
	err    error
	stats  SessionStats

	now func() time.Time
}

// NewSession оборачивает установленное соединение
func NewSession(conn net.Conn, table *Table, cfg SessionConfig) (*Session, error) {
	if cfg.ReadPollTimeout <= 0 {
		cfg.ReadPollTimeout = time.Millisecond
	}
	if cfg.HeartbeatIdle <= 0 {
		cfg.HeartbeatIdle = DefaultHeartbeatIdle
	}
	if cfg.ConnID == "" {
		cfg.ConnID = conn.RemoteAddr().String()
	}

	codec, err := protocol.NewCodec(cfg.CompressAbove)
	if err != nil {
		return nil, err
	}

	s := &Session{
		conn:    conn,
		codec:   codec,
		table:   table,
		cfg:     cfg,
		logger:  logging.GetNetworkLogger(),
		readbuf: make([]byte, readChunk),
		now:     time.Now,
	}
	s.lastIO = s.now()
	s.stats.RemoteAddr = conn.RemoteAddr().String()
	s.stats.Connected = true
	activeSessions.Inc()
	return s, nil
}

// Err возвращает причину закрытия или nil
func (s *Session) Err() error {
	return s.err
}

// Send ставит пакет в исходящую очередь. Отправка происходит в PollOnce.
func (s *Session) Send(p protocol.Packet) error {
	if s.err != nil {
		return s.err
	}
	out, err := s.codec.AppendFrame(s.outbuf, p)
	if err != nil {
		return err
	}
	s.logger.LogPacket(s.cfg.ConnID, "OUT", p.ID(), out[len(s.outbuf):])
	s.outbuf = out
	s.queued++
	s.flushPending = true
	packetsTotal.WithLabelValues("out", p.ID().String()).Inc()
	return nil
}

// PollOnce делает ровно одну неблокирующую попытку чтения, разбирает и
// диспетчеризует полные кадры по порядку, при простое ставит heartbeat и
// отправляет исходящую очередь. Возвращает число обработанных пакетов.
func (s *Session) PollOnce() (int, error) {
	if s.err != nil {
		return 0, s.err
	}

	if err := s.readAvailable(); err != nil {
		return 0, s.fail(err)
	}

	n, err := s.dispatchFrames()
	if err != nil {
		return n, s.fail(err)
	}
	if s.err != nil {
		return n, s.err
	}

	if s.now().Sub(s.lastIO) >= s.cfg.HeartbeatIdle {
		if err := s.Send(&protocol.NoOp{}); err != nil {
			return n, err
		}
		s.stats.Heartbeats++
		heartbeatsTotal.Inc()
		s.logger.Debug("%s idle, heartbeat queued", s.cfg.ConnID)
	}

	if err := s.flush(); err != nil {
		return n, s.fail(err)
	}
	return n, nil
}

func (s *Session) readAvailable() error {
	if err := s.conn.SetReadDeadline(s.now().Add(s.cfg.ReadPollTimeout)); err != nil {
		return err
	}
	n, err := s.conn.Read(s.readbuf)
	if n > 0 {
		s.inbuf = append(s.inbuf, s.readbuf[:n]...)
		s.lastIO = s.now()
		s.stats.BytesReceived += uint64(n)
		bytesTotal.WithLabelValues("in").Add(float64(n))
	}
	if err != nil && !isTimeout(err) {
		return err
	}
	return nil
}

func (s *Session) dispatchFrames() (int, error) {
	off, handled := 0, 0
	defer func() {
		if s.inbuf != nil {
			s.inbuf = append(s.inbuf[:0], s.inbuf[off:]...)
		}
	}()

	for s.err == nil {
		frame, used, err := s.codec.DecodeFrame(s.inbuf[off:])
		if errors.Is(err, protocol.ErrIncompleteFrame) {
			break
		}
		if err != nil {
			s.logger.LogProtocolError(s.cfg.ConnID, err, s.inbuf[off:])
			return handled, err
		}

		s.logger.LogPacket(s.cfg.ConnID, "IN", frame.ID, frame.Payload)
		if err := s.table.Dispatch(frame); err != nil {
			s.logger.LogProtocolError(s.cfg.ConnID, err, s.inbuf[off:off+used])
			return handled, err
		}
		off += used
		handled++
		s.stats.PacketsReceived++
		packetsTotal.WithLabelValues("in", frame.ID.String()).Inc()
	}
	return handled, nil
}

func (s *Session) flush() error {
	if !s.flushPending {
		return nil
	}
	if s.cfg.WriteTimeout > 0 {
		if err := s.conn.SetWriteDeadline(s.now().Add(s.cfg.WriteTimeout)); err != nil {
			return err
		}
	}
	for len(s.outbuf) > 0 {
		n, err := s.conn.Write(s.outbuf)
		s.stats.BytesSent += uint64(n)
		bytesTotal.WithLabelValues("out").Add(float64(n))
		s.outbuf = s.outbuf[n:]
		if err != nil {
			return err
		}
	}
	s.stats.PacketsSent += uint64(s.queued)
	s.outbuf = s.outbuf[:0]
	s.queued = 0
	s.flushPending = false
	s.lastIO = s.now()
	return nil
}

// fail разрывает сессию: сокет закрыт, очередь и буферы отброшены
func (s *Session) fail(cause error) error {
	if s.err != nil {
		return s.err
	}
	s.err = fmt.Errorf("%w: %w", ErrDisconnected, cause)
	s.teardown()
	disconnectsTotal.WithLabelValues("error").Inc()
	s.logger.Warn("%s disconnected: %v", s.cfg.ConnID, cause)
	return s.err
}

func (s *Session) teardown() {
	_ = s.conn.Close()
	s.codec.Close()
	s.inbuf, s.readbuf, s.outbuf = nil, nil, nil
	s.queued = 0
	s.flushPending = false
	s.stats.Connected = false
	activeSessions.Dec()
}

// Close блокирует новые отправки, дописывает очередь и закрывает сокет.
// Повторный вызов ничего не делает.
func (s *Session) Close() error {
	if s.err != nil {
		return nil
	}
	flushErr := s.flush()
	s.err = ErrClosing
	s.teardown()
	disconnectsTotal.WithLabelValues("close").Inc()
	if flushErr != nil {
		return fmt.Errorf("final flush: %w", flushErr)
	}
	return nil
}

// Stats возвращает копию статистики
func (s *Session) Stats() SessionStats {
	st := s.stats
	st.Queued = s.queued
	st.LastActivity = s.lastIO
	return st
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
