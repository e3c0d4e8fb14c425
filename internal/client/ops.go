package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/annel0/tilesync/internal/protocol"
	"github.com/annel0/tilesync/internal/world"
)

// Poll выполняет один шаг опроса и доставляет накопленные уведомления
func (c *Client) Poll() error {
	defer c.bus.Deliver()
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.runningLocked(); err != nil {
		return err
	}
	return c.pollLocked()
}

// LoadBlocks загружает блоки, которых нет в кеше, одним запросом и ждёт их
// прихода. Уже загруженные и повторяющиеся координаты отфильтровываются;
// если грузить нечего, запрос не отправляется.
func (c *Client) LoadBlocks(ctx context.Context, coords ...world.BlockCoords) error {
	ctx, span := c.tracer.Start(ctx, "client.load_blocks")
	defer span.End()
	defer c.bus.Deliver()
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.runningLocked(); err != nil {
		return err
	}

	seen := make(map[uint32]struct{}, len(coords))
	missing := make([]protocol.BlockCoords, 0, len(coords))
	for _, bc := range coords {
		if !c.land.InBounds(bc) {
			return fmt.Errorf("block (%d,%d): %w", bc.X, bc.Y, world.ErrOutOfBounds)
		}
		id := world.BlockID(bc.X, bc.Y)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if !c.land.IsLoaded(bc) {
			missing = append(missing, bc)
		}
	}
	span.SetAttributes(
		attribute.Int("tilesync.blocks.requested", len(coords)),
		attribute.Int("tilesync.blocks.missing", len(missing)),
	)
	if len(missing) == 0 {
		return nil
	}

	w := &loadWaiter{pending: make(map[uint32]struct{}, len(missing))}
	for _, bc := range missing {
		w.pending[world.BlockID(bc.X, bc.Y)] = struct{}{}
	}
	c.waiters[w] = struct{}{}
	defer delete(c.waiters, w)

	if err := c.sendLocked(&protocol.RequestBlocks{Coords: missing}); err != nil {
		return err
	}

	start := time.Now()
	err := c.pollUntil(ctx, c.cfg.LoadTimeout, ErrLoadTimeout, func() bool { return len(w.pending) == 0 })
	loadDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, ErrLoadTimeout) {
			loadTimeouts.Inc()
			err = fmt.Errorf("%w: %d of %d blocks missing", err, len(w.pending), len(missing))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// SetPos сообщает серверу позицию клиента. Повтор той же позиции ничего не отправляет.
func (c *Client) SetPos(x, y uint16) error {
	defer c.bus.Deliver()
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.runningLocked(); err != nil {
		return err
	}
	if x == c.x && y == c.y {
		return nil
	}
	if !c.land.TileInBounds(x, y) {
		return fmt.Errorf("position (%d,%d): %w", x, y, world.ErrOutOfBounds)
	}
	if err := c.sendLocked(&protocol.ClientPosition{X: x, Y: y}); err != nil {
		return err
	}
	c.x, c.y = x, y
	return nil
}

type tilePos struct{ x, y uint16 }

// sendEdit отправляет запрос правки. Локальное состояние не меняется до эха сервера.
func (c *Client) sendEdit(p protocol.Packet, at ...tilePos) error {
	defer c.bus.Deliver()
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.runningLocked(); err != nil {
		return err
	}
	for _, pos := range at {
		if !c.land.TileInBounds(pos.x, pos.y) {
			return fmt.Errorf("%s at (%d,%d): %w", p.ID(), pos.x, pos.y, world.ErrOutOfBounds)
		}
	}
	return c.sendLocked(p)
}

func (c *Client) send(p protocol.Packet) error {
	defer c.bus.Deliver()
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.runningLocked(); err != nil {
		return err
	}
	return c.sendLocked(p)
}

// AddStaticTile просит сервер добавить статику
func (c *Client) AddStaticTile(t world.StaticTile) error {
	return c.sendEdit(&protocol.StaticInsert{Tile: t.Wire()}, tilePos{t.X, t.Y})
}

// RemoveStaticTile просит сервер удалить статику
func (c *Client) RemoveStaticTile(t world.StaticTile) error {
	return c.sendEdit(&protocol.StaticDelete{Tile: t.Wire()}, tilePos{t.X, t.Y})
}

// ReplaceStaticTile просит сервер заменить графику статики
func (c *Client) ReplaceStaticTile(t world.StaticTile, newTileID uint16) error {
	return c.sendEdit(&protocol.StaticReplace{Tile: t.Wire(), NewTileID: newTileID}, tilePos{t.X, t.Y})
}

// MoveStaticTile просит сервер переместить статику
func (c *Client) MoveStaticTile(t world.StaticTile, newX, newY uint16) error {
	return c.sendEdit(&protocol.StaticMove{Tile: t.Wire(), NewX: newX, NewY: newY}, tilePos{t.X, t.Y}, tilePos{newX, newY})
}

// ElevateStaticTile просит сервер изменить высоту статики
func (c *Client) ElevateStaticTile(t world.StaticTile, newZ int8) error {
	return c.sendEdit(&protocol.StaticElevate{Tile: t.Wire(), NewZ: newZ}, tilePos{t.X, t.Y})
}

// HueStaticTile просит сервер перекрасить статику
func (c *Client) HueStaticTile(t world.StaticTile, newHue uint16) error {
	return c.sendEdit(&protocol.StaticHue{Tile: t.Wire(), NewHue: newHue}, tilePos{t.X, t.Y})
}

// ReplaceLandTile просит сервер заменить графику земли
func (c *Client) ReplaceLandTile(x, y, tileID uint16) error {
	return c.sendEdit(&protocol.LandReplace{X: x, Y: y, TileID: tileID}, tilePos{x, y})
}

// ElevateLandTile просит сервер изменить высоту земли
func (c *Client) ElevateLandTile(x, y uint16, z int8) error {
	return c.sendEdit(&protocol.LandElevate{X: x, Y: y, Z: z}, tilePos{x, y})
}

// SendChatMessage отправляет сообщение в чат
func (c *Client) SendChatMessage(text string) error {
	return c.send(&protocol.Chat{Text: text})
}

// RequestRadarMap просит сервер обновить радарную карту
func (c *Client) RequestRadarMap() error {
	return c.send(&protocol.RequestRadarMap{})
}

// Flush просит сервер сохранить состояние
func (c *Client) Flush() error {
	return c.send(&protocol.ServerFlush{})
}

// ResizeCache меняет ёмкость кеша блоков; вытесненные блоки публикуют BlockUnloaded
func (c *Client) ResizeCache(capacity int) error {
	defer c.bus.Deliver()
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.runningLocked(); err != nil {
		return err
	}
	if err := c.land.Resize(capacity); err != nil {
		return err
	}
	c.land.FlushMapChanged()
	return nil
}

// Dispose завершает сессию: отправляет очередь и закрывает транспорт.
// Повторный вызов и вызов после обрыва ничего не делают.
func (c *Client) Dispose() error {
	_, span := c.tracer.Start(context.Background(), "client.dispose")
	defer span.End()
	defer c.bus.Deliver()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state >= StateDisposing {
		return nil
	}
	c.setStateLocked(StateDisposing)
	var err error
	if c.sess != nil {
		err = c.sess.Close()
	}
	c.setStateLocked(StateClosed)
	c.logger.Info("%s disposed", c.sessionID)
	if err != nil {
		span.RecordError(err)
	}
	return err
}
