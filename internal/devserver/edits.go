package devserver

import (
	"github.com/annel0/tilesync/internal/protocol"
)

// edit применяет правку к авторитетному состоянию под s.mu и рассылает эхо.
// apply возвращает пакет-эхо или nil, если правка отклонена.
func (c *conn) edit(kind string, apply func(s *Server) protocol.Packet) error {
	if err := c.requireLogin(); err != nil {
		return err
	}
	s := c.srv
	if _, name, access := c.session(); access < protocol.AccessNormal {
		s.logger.Warn("%s: %s denied for %s (%s)", c.id, kind, name, access)
		return nil
	}

	s.editMu.Lock()
	defer s.editMu.Unlock()

	s.mu.Lock()
	echo := apply(s)
	s.mu.Unlock()

	if echo == nil {
		s.logger.Debug("%s: %s rejected", c.id, kind)
		return nil
	}
	s.broadcast(echo, nil)
	return nil
}

func cellOf(x, y uint16) int {
	return int(y%protocol.BlockSize)*protocol.BlockSize + int(x%protocol.BlockSize)
}

func (s *Server) landLocked(x, y uint16) *protocol.LandCell {
	if !s.tileInBounds(x, y) {
		return nil
	}
	d := s.blockLocked(x/protocol.BlockSize, y/protocol.BlockSize)
	return &d.Land[cellOf(x, y)]
}

// findStaticLocked возвращает блок и индекс первой совпадающей статики
func (s *Server) findStaticLocked(t protocol.StaticTile) (*protocol.BlockData, int) {
	if !s.tileInBounds(t.X, t.Y) {
		return nil, -1
	}
	d := s.blockLocked(t.X/protocol.BlockSize, t.Y/protocol.BlockSize)
	for i, cur := range d.Statics {
		if cur == t {
			return d, i
		}
	}
	return d, -1
}

func (c *conn) onLandReplace(p *protocol.LandReplace) error {
	return c.edit("land replace", func(s *Server) protocol.Packet {
		cell := s.landLocked(p.X, p.Y)
		if cell == nil {
			return nil
		}
		cell.TileID = p.TileID
		return p
	})
}

func (c *conn) onLandElevate(p *protocol.LandElevate) error {
	return c.edit("land elevate", func(s *Server) protocol.Packet {
		cell := s.landLocked(p.X, p.Y)
		if cell == nil {
			return nil
		}
		cell.Z = p.Z
		return p
	})
}

func (c *conn) onStaticInsert(p *protocol.StaticInsert) error {
	return c.edit("static insert", func(s *Server) protocol.Packet {
		d, idx := s.findStaticLocked(p.Tile)
		if d == nil || idx >= 0 {
			return nil
		}
		d.Statics = append(d.Statics, p.Tile)
		return p
	})
}

func (c *conn) onStaticDelete(p *protocol.StaticDelete) error {
	return c.edit("static delete", func(s *Server) protocol.Packet {
		d, idx := s.findStaticLocked(p.Tile)
		if idx < 0 {
			return nil
		}
		d.Statics = append(d.Statics[:idx], d.Statics[idx+1:]...)
		return p
	})
}

func (c *conn) onStaticReplace(p *protocol.StaticReplace) error {
	return c.edit("static replace", func(s *Server) protocol.Packet {
		d, idx := s.findStaticLocked(p.Tile)
		if idx < 0 {
			return nil
		}
		d.Statics[idx].TileID = p.NewTileID
		return p
	})
}

func (c *conn) onStaticElevate(p *protocol.StaticElevate) error {
	return c.edit("static elevate", func(s *Server) protocol.Packet {
		d, idx := s.findStaticLocked(p.Tile)
		if idx < 0 {
			return nil
		}
		d.Statics[idx].Z = p.NewZ
		return p
	})
}

func (c *conn) onStaticHue(p *protocol.StaticHue) error {
	return c.edit("static hue", func(s *Server) protocol.Packet {
		d, idx := s.findStaticLocked(p.Tile)
		if idx < 0 {
			return nil
		}
		d.Statics[idx].Hue = p.NewHue
		return p
	})
}

func (c *conn) onStaticMove(p *protocol.StaticMove) error {
	return c.edit("static move", func(s *Server) protocol.Packet {
		if !s.tileInBounds(p.NewX, p.NewY) {
			return nil
		}
		src, idx := s.findStaticLocked(p.Tile)
		if idx < 0 {
			return nil
		}
		src.Statics = append(src.Statics[:idx], src.Statics[idx+1:]...)

		moved := p.Tile
		moved.X, moved.Y = p.NewX, p.NewY
		dst := s.blockLocked(p.NewX/protocol.BlockSize, p.NewY/protocol.BlockSize)
		dst.Statics = append(dst.Statics, moved)
		return p
	})
}
