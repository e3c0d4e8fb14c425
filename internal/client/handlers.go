package client

import (
	"github.com/annel0/tilesync/internal/network"
	"github.com/annel0/tilesync/internal/protocol"
	"github.com/annel0/tilesync/internal/world"
)

// routes таблица входящих пакетов. Обработчики выполняются внутри
// Session.PollOnce, то есть под c.mu.
func (c *Client) routes() (*network.Table, error) {
	return network.NewTable(
		network.Handle(c.onLoginResponse),
		network.Handle(func(*protocol.NoOp) error { return nil }),
		network.Handle(c.onAccessChanged),
		network.Handle(c.onBlockDelivery),

		network.Handle(func(p *protocol.LandReplace) error {
			return c.applyWorld(p.ID(), func(l *world.Landscape) error { return l.ApplyLandReplace(p) })
		}),
		network.Handle(func(p *protocol.LandElevate) error {
			return c.applyWorld(p.ID(), func(l *world.Landscape) error { return l.ApplyLandElevate(p) })
		}),
		network.Handle(func(p *protocol.StaticInsert) error {
			return c.applyWorld(p.ID(), func(l *world.Landscape) error { return l.ApplyStaticInsert(p) })
		}),
		network.Handle(func(p *protocol.StaticDelete) error {
			return c.applyWorld(p.ID(), func(l *world.Landscape) error { return l.ApplyStaticDelete(p) })
		}),
		network.Handle(func(p *protocol.StaticReplace) error {
			return c.applyWorld(p.ID(), func(l *world.Landscape) error { return l.ApplyStaticReplace(p) })
		}),
		network.Handle(func(p *protocol.StaticMove) error {
			return c.applyWorld(p.ID(), func(l *world.Landscape) error { return l.ApplyStaticMove(p) })
		}),
		network.Handle(func(p *protocol.StaticElevate) error {
			return c.applyWorld(p.ID(), func(l *world.Landscape) error { return l.ApplyStaticElevate(p) })
		}),
		network.Handle(func(p *protocol.StaticHue) error {
			return c.applyWorld(p.ID(), func(l *world.Landscape) error { return l.ApplyStaticHue(p) })
		}),

		network.Handle(c.onChat),
		network.Handle(c.onClientList),
		network.Handle(c.onClientConnected),
		network.Handle(c.onClientDisconnected),
	)
}

// applyWorld применяет изменение мира и публикует один MapChanged на пакет.
// Нарушения согласованности кеша логируются и не рвут соединение.
func (c *Client) applyWorld(id protocol.PacketID, apply func(*world.Landscape) error) error {
	if c.land == nil {
		c.logger.Warn("%s %s before login, ignored", c.sessionID, id)
		return nil
	}
	err := apply(c.land)
	c.land.FlushMapChanged()
	if err != nil {
		c.logger.Warn("%s %s: %v", c.sessionID, id, err)
	}
	return nil
}

func (c *Client) onLoginResponse(p *protocol.LoginResponse) error {
	if c.state != StateAuthenticating {
		c.logger.Warn("%s unexpected login response (%s) in state %s", c.sessionID, p.Result, c.state)
		return nil
	}
	c.login = p
	return nil
}

func (c *Client) onBlockDelivery(p *protocol.BlockDelivery) error {
	return c.applyWorld(p.ID(), func(l *world.Landscape) error {
		ids, err := l.ApplyBlocks(p)
		c.markArrived(ids)
		return err
	})
}

// markArrived отмечает доставленные блоки у всех ожидающих LoadBlocks.
// Учитывается факт прихода: блок, вытесненный до конца ожидания, уже засчитан.
func (c *Client) markArrived(ids []uint32) {
	for w := range c.waiters {
		for _, id := range ids {
			delete(w.pending, id)
		}
	}
}

func (c *Client) onAccessChanged(p *protocol.AccessChanged) error {
	old := c.access
	c.access = p.Access
	if old != p.Access {
		c.logger.Info("%s access %s -> %s", c.sessionID, old, p.Access)
		c.bus.Notify(world.AccessChanged{Old: old, New: p.Access})
	}
	return nil
}

func (c *Client) onChat(p *protocol.Chat) error {
	c.bus.Notify(world.ChatReceived{Sender: p.Sender, Text: p.Text})
	return nil
}

func (c *Client) onClientList(p *protocol.ClientList) error {
	clear(c.clients)
	for _, name := range p.Names {
		c.clients[name] = struct{}{}
	}
	return nil
}

func (c *Client) onClientConnected(p *protocol.ClientConnected) error {
	c.clients[p.Name] = struct{}{}
	c.bus.Notify(world.ClientConnected{Name: p.Name})
	return nil
}

func (c *Client) onClientDisconnected(p *protocol.ClientDisconnected) error {
	delete(c.clients, p.Name)
	c.bus.Notify(world.ClientDisconnected{Name: p.Name})
	return nil
}
