package client

import (
	"iter"
	"slices"

	"github.com/annel0/tilesync/internal/eventbus"
	"github.com/annel0/tilesync/internal/network"
	"github.com/annel0/tilesync/internal/protocol"
	"github.com/annel0/tilesync/internal/world"
)

// LandTile возвращает тайл земли из кеша. Блок должен быть загружен.
func (c *Client) LandTile(x, y uint16) (world.LandTile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.runningLocked(); err != nil {
		return world.LandTile{}, err
	}
	return c.land.LandTile(x, y)
}

// StaticTiles возвращает статики ячейки в порядке наложения. Последовательность
// построена по снимку и не видит последующих изменений.
func (c *Client) StaticTiles(x, y uint16) (iter.Seq[world.StaticTile], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.runningLocked(); err != nil {
		return nil, err
	}
	seq, err := c.land.StaticTiles(x, y)
	if err != nil {
		return nil, err
	}
	return slices.Values(slices.Collect(seq)), nil
}

// IsLoaded сообщает, находится ли блок в кеше
func (c *Client) IsLoaded(bc world.BlockCoords) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.land != nil && c.land.IsLoaded(bc)
}

// State текущее состояние
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err причина обрыва сессии или nil
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Username имя, под которым выполнен вход
func (c *Client) Username() string { return c.cfg.Username }

// SessionID идентификатор сессии
func (c *Client) SessionID() string { return c.sessionID }

// Bus шина уведомлений клиента
func (c *Client) Bus() *eventbus.Bus { return c.bus }

// AccessLevel текущий уровень доступа
func (c *Client) AccessLevel() protocol.AccessLevel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.access
}

// ServerVariant флаг варианта сервера из ответа на вход
func (c *Client) ServerVariant() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverVariant
}

// Pos последняя отправленная позиция
func (c *Client) Pos() (x, y uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.x, c.y
}

// Clients имена других подключённых клиентов
func (c *Client) Clients() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientsLocked()
}

func (c *Client) clientsLocked() []string {
	names := make([]string, 0, len(c.clients))
	for name := range c.clients {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// WorldSize размер мира в блоках (нули до входа)
func (c *Client) WorldSize() (width, height uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.land == nil {
		return 0, 0
	}
	return c.land.Width(), c.land.Height()
}

// CacheStats статистика кеша блоков
func (c *Client) CacheStats() world.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.land == nil {
		return world.CacheStats{}
	}
	return c.land.Cache().Stats()
}

// Status снимок состояния для эндпоинта /status
type Status struct {
	SessionID     string               `json:"session_id"`
	Username      string               `json:"username"`
	State         string               `json:"state"`
	Access        string               `json:"access"`
	ServerVariant bool                 `json:"server_variant"`
	X             uint16               `json:"x"`
	Y             uint16               `json:"y"`
	WorldWidth    uint16               `json:"world_width"`
	WorldHeight   uint16               `json:"world_height"`
	Clients       []string             `json:"clients"`
	Cache         world.CacheStats     `json:"cache"`
	Network       network.SessionStats `json:"network"`
	Events        eventbus.Stats       `json:"events"`
	LastError     string               `json:"last_error,omitempty"`
}

// Status возвращает снимок состояния клиента
func (c *Client) Status() Status {
	c.mu.Lock()
	st := Status{
		SessionID:     c.sessionID,
		Username:      c.cfg.Username,
		State:         c.state.String(),
		Access:        c.access.String(),
		ServerVariant: c.serverVariant,
		X:             c.x,
		Y:             c.y,
		Clients:       c.clientsLocked(),
	}
	if c.land != nil {
		st.WorldWidth, st.WorldHeight = c.land.Width(), c.land.Height()
		st.Cache = c.land.Cache().Stats()
	}
	if c.sess != nil {
		st.Network = c.sess.Stats()
	}
	if c.err != nil {
		st.LastError = c.err.Error()
	}
	c.mu.Unlock()

	st.Events = c.bus.Stats()
	return st
}
