package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	// BlockSize сторона блока в тайлах
	BlockSize = 8
	// CellsPerBlock количество ячеек земли в блоке
	CellsPerBlock = BlockSize * BlockSize
	// landCellBytes размер упакованной ячейки земли: TileID (LE uint16) + Z
	landCellBytes = 3
)

// BlockCoords координаты блока в сетке блоков
type BlockCoords struct {
	X, Y uint16
}

// LandCell описание земли в одной ячейке блока
type LandCell struct {
	TileID uint16
	Z      int8
}

// StaticTile описание статики в мировых координатах
type StaticTile struct {
	X, Y   uint16
	Z      int8
	TileID uint16
	Hue    uint16
}

// String для логов
func (t StaticTile) String() string {
	return fmt.Sprintf("static(0x%04X @%d,%d,%d hue=%d)", t.TileID, t.X, t.Y, t.Z, t.Hue)
}

// BlockData содержимое одного блока на проводе
type BlockData struct {
	X, Y    uint16
	Land    [CellsPerBlock]LandCell // индекс = y*BlockSize + x внутри блока
	Statics []StaticTile
}

func appendTile(e *encoder, num protowire.Number, t StaticTile) {
	e.message(num, func(m *encoder) {
		m.uint(1, uint64(t.X))
		m.uint(2, uint64(t.Y))
		m.sint(3, int64(t.Z))
		m.uint(4, uint64(t.TileID))
		m.uint(5, uint64(t.Hue))
	})
}

func decodeTile(b []byte) (StaticTile, error) {
	var t StaticTile
	err := walk(b, func(num protowire.Number, f field) error {
		switch num {
		case 1:
			t.X = f.uint16()
		case 2:
			t.Y = f.uint16()
		case 3:
			t.Z = f.int8()
		case 4:
			t.TileID = f.uint16()
		case 5:
			t.Hue = f.uint16()
		}
		return nil
	})
	return t, err
}

func appendCoords(e *encoder, num protowire.Number, c BlockCoords) {
	e.message(num, func(m *encoder) {
		m.uint(1, uint64(c.X))
		m.uint(2, uint64(c.Y))
	})
}

func decodeCoords(b []byte) (BlockCoords, error) {
	var c BlockCoords
	err := walk(b, func(num protowire.Number, f field) error {
		switch num {
		case 1:
			c.X = f.uint16()
		case 2:
			c.Y = f.uint16()
		}
		return nil
	})
	return c, err
}

// ---------------------------------------------------------------- сессия

// LoginRequest первый пакет клиента
type LoginRequest struct {
	Username string
	Password string
}

func (p *LoginRequest) ID() PacketID { return IDLoginRequest }

func (p *LoginRequest) AppendPayload(b []byte) []byte {
	e := encoder{buf: b}
	e.str(1, p.Username)
	e.str(2, p.Password)
	return e.buf
}

func (p *LoginRequest) DecodePayload(b []byte) error {
	return walk(b, func(num protowire.Number, f field) error {
		switch num {
		case 1:
			p.Username = f.str()
		case 2:
			p.Password = f.str()
		}
		return nil
	})
}

// LoginResponse ответ сервера: результат, доступ и размеры мира в блоках
type LoginResponse struct {
	Result        LoginResult
	Access        AccessLevel
	Width         uint16
	Height        uint16
	ServerVariant bool
	Clients       []string
}

func (p *LoginResponse) ID() PacketID { return IDLoginResponse }

func (p *LoginResponse) AppendPayload(b []byte) []byte {
	e := encoder{buf: b}
	e.uint(1, uint64(p.Result))
	e.uint(2, uint64(p.Access))
	e.uint(3, uint64(p.Width))
	e.uint(4, uint64(p.Height))
	e.bool(5, p.ServerVariant)
	for _, name := range p.Clients {
		e.str(6, name)
	}
	return e.buf
}

func (p *LoginResponse) DecodePayload(b []byte) error {
	return walk(b, func(num protowire.Number, f field) error {
		switch num {
		case 1:
			p.Result = LoginResult(f.uint8())
		case 2:
			p.Access = AccessLevel(f.uint8())
		case 3:
			p.Width = f.uint16()
		case 4:
			p.Height = f.uint16()
		case 5:
			p.ServerVariant = f.bool()
		case 6:
			p.Clients = append(p.Clients, f.str())
		}
		return nil
	})
}

// NoOp пакет поддержания соединения
type NoOp struct{}

func (p *NoOp) ID() PacketID                  { return IDNoOp }
func (p *NoOp) AppendPayload(b []byte) []byte { return b }
func (p *NoOp) DecodePayload([]byte) error    { return nil }

// ClientPosition сообщает серверу текущую позицию клиента
type ClientPosition struct {
	X, Y uint16
}

func (p *ClientPosition) ID() PacketID { return IDClientPosition }

func (p *ClientPosition) AppendPayload(b []byte) []byte {
	e := encoder{buf: b}
	e.uint(1, uint64(p.X))
	e.uint(2, uint64(p.Y))
	return e.buf
}

func (p *ClientPosition) DecodePayload(b []byte) error {
	return walk(b, func(num protowire.Number, f field) error {
		switch num {
		case 1:
			p.X = f.uint16()
		case 2:
			p.Y = f.uint16()
		}
		return nil
	})
}

// ServerFlush просит сервер сохранить накопленные изменения
type ServerFlush struct{}

func (p *ServerFlush) ID() PacketID                  { return IDServerFlush }
func (p *ServerFlush) AppendPayload(b []byte) []byte { return b }
func (p *ServerFlush) DecodePayload([]byte) error    { return nil }

// RequestRadarMap запрос обновления миникарты
type RequestRadarMap struct{}

func (p *RequestRadarMap) ID() PacketID                  { return IDRequestRadarMap }
func (p *RequestRadarMap) AppendPayload(b []byte) []byte { return b }
func (p *RequestRadarMap) DecodePayload([]byte) error    { return nil }

// AccessChanged новый уровень доступа, назначенный сервером
type AccessChanged struct {
	Access AccessLevel
}

func (p *AccessChanged) ID() PacketID { return IDAccessChanged }

func (p *AccessChanged) AppendPayload(b []byte) []byte {
	e := encoder{buf: b}
	e.uint(1, uint64(p.Access))
	return e.buf
}

func (p *AccessChanged) DecodePayload(b []byte) error {
	return walk(b, func(num protowire.Number, f field) error {
		if num == 1 {
			p.Access = AccessLevel(f.uint8())
		}
		return nil
	})
}

// ---------------------------------------------------------------- блоки

// RequestBlocks пакетный запрос блоков
type RequestBlocks struct {
	Coords []BlockCoords
}

func (p *RequestBlocks) ID() PacketID { return IDRequestBlocks }

func (p *RequestBlocks) AppendPayload(b []byte) []byte {
	e := encoder{buf: b}
	for _, c := range p.Coords {
		appendCoords(&e, 1, c)
	}
	return e.buf
}

func (p *RequestBlocks) DecodePayload(b []byte) error {
	return walk(b, func(num protowire.Number, f field) error {
		if num != 1 {
			return nil
		}
		c, err := decodeCoords(f.b)
		if err != nil {
			return err
		}
		p.Coords = append(p.Coords, c)
		return nil
	})
}

// BlockDelivery один или несколько блоков от сервера
type BlockDelivery struct {
	Blocks []BlockData
}

func (p *BlockDelivery) ID() PacketID { return IDBlockDelivery }

func (p *BlockDelivery) AppendPayload(b []byte) []byte {
	e := encoder{buf: b}
	for i := range p.Blocks {
		blk := &p.Blocks[i]
		e.message(1, func(m *encoder) {
			m.uint(1, uint64(blk.X))
			m.uint(2, uint64(blk.Y))
			land := make([]byte, 0, CellsPerBlock*landCellBytes)
			for _, cell := range blk.Land {
				land = append(land, byte(cell.TileID), byte(cell.TileID>>8), byte(cell.Z))
			}
			m.bytes(3, land)
			for _, t := range blk.Statics {
				appendTile(m, 4, t)
			}
		})
	}
	return e.buf
}

func (p *BlockDelivery) DecodePayload(b []byte) error {
	return walk(b, func(num protowire.Number, f field) error {
		if num != 1 {
			return nil
		}
		var blk BlockData
		err := walk(f.b, func(num protowire.Number, f field) error {
			switch num {
			case 1:
				blk.X = f.uint16()
			case 2:
				blk.Y = f.uint16()
			case 3:
				if len(f.b) != CellsPerBlock*landCellBytes {
					return fmt.Errorf("land data: expected %d bytes, got %d", CellsPerBlock*landCellBytes, len(f.b))
				}
				for i := range blk.Land {
					off := i * landCellBytes
					blk.Land[i] = LandCell{
						TileID: uint16(f.b[off]) | uint16(f.b[off+1])<<8,
						Z:      int8(f.b[off+2]),
					}
				}
			case 4:
				t, err := decodeTile(f.b)
				if err != nil {
					return err
				}
				blk.Statics = append(blk.Statics, t)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("block: %w", err)
		}
		p.Blocks = append(p.Blocks, blk)
		return nil
	})
}

// ---------------------------------------------------------------- земля

// LandReplace замена тайла земли
type LandReplace struct {
	X, Y   uint16
	TileID uint16
}

func (p *LandReplace) ID() PacketID { return IDLandReplace }

func (p *LandReplace) AppendPayload(b []byte) []byte {
	e := encoder{buf: b}
	e.uint(1, uint64(p.X))
	e.uint(2, uint64(p.Y))
	e.uint(3, uint64(p.TileID))
	return e.buf
}

func (p *LandReplace) DecodePayload(b []byte) error {
	return walk(b, func(num protowire.Number, f field) error {
		switch num {
		case 1:
			p.X = f.uint16()
		case 2:
			p.Y = f.uint16()
		case 3:
			p.TileID = f.uint16()
		}
		return nil
	})
}

// LandElevate изменение высоты тайла земли
type LandElevate struct {
	X, Y uint16
	Z    int8
}

func (p *LandElevate) ID() PacketID { return IDLandElevate }

func (p *LandElevate) AppendPayload(b []byte) []byte {
	e := encoder{buf: b}
	e.uint(1, uint64(p.X))
	e.uint(2, uint64(p.Y))
	e.sint(3, int64(p.Z))
	return e.buf
}

func (p *LandElevate) DecodePayload(b []byte) error {
	return walk(b, func(num protowire.Number, f field) error {
		switch num {
		case 1:
			p.X = f.uint16()
		case 2:
			p.Y = f.uint16()
		case 3:
			p.Z = f.int8()
		}
		return nil
	})
}

// ---------------------------------------------------------------- статика

// StaticInsert добавление статики
type StaticInsert struct {
	Tile StaticTile
}

func (p *StaticInsert) ID() PacketID { return IDStaticInsert }

func (p *StaticInsert) AppendPayload(b []byte) []byte {
	e := encoder{buf: b}
	appendTile(&e, 1, p.Tile)
	return e.buf
}

func (p *StaticInsert) DecodePayload(b []byte) error {
	return decodeTileOnly(b, &p.Tile)
}

// StaticDelete удаление статики
type StaticDelete struct {
	Tile StaticTile
}

func (p *StaticDelete) ID() PacketID { return IDStaticDelete }

func (p *StaticDelete) AppendPayload(b []byte) []byte {
	e := encoder{buf: b}
	appendTile(&e, 1, p.Tile)
	return e.buf
}

func (p *StaticDelete) DecodePayload(b []byte) error {
	return decodeTileOnly(b, &p.Tile)
}

func decodeTileOnly(b []byte, dst *StaticTile) error {
	return walk(b, func(num protowire.Number, f field) error {
		if num != 1 {
			return nil
		}
		t, err := decodeTile(f.b)
		if err != nil {
			return err
		}
		*dst = t
		return nil
	})
}

// StaticReplace замена графики статики
type StaticReplace struct {
	Tile      StaticTile
	NewTileID uint16
}

func (p *StaticReplace) ID() PacketID { return IDStaticReplace }

func (p *StaticReplace) AppendPayload(b []byte) []byte {
	e := encoder{buf: b}
	appendTile(&e, 1, p.Tile)
	e.uint(2, uint64(p.NewTileID))
	return e.buf
}

func (p *StaticReplace) DecodePayload(b []byte) error {
	return walkTileAnd(b, &p.Tile, func(num protowire.Number, f field) {
		if num == 2 {
			p.NewTileID = f.uint16()
		}
	})
}

// StaticMove перемещение статики в другую ячейку
type StaticMove struct {
	Tile       StaticTile
	NewX, NewY uint16
}

func (p *StaticMove) ID() PacketID { return IDStaticMove }

func (p *StaticMove) AppendPayload(b []byte) []byte {
	e := encoder{buf: b}
	appendTile(&e, 1, p.Tile)
	e.uint(2, uint64(p.NewX))
	e.uint(3, uint64(p.NewY))
	return e.buf
}

func (p *StaticMove) DecodePayload(b []byte) error {
	return walkTileAnd(b, &p.Tile, func(num protowire.Number, f field) {
		switch num {
		case 2:
			p.NewX = f.uint16()
		case 3:
			p.NewY = f.uint16()
		}
	})
}

// StaticElevate изменение высоты статики
type StaticElevate struct {
	Tile StaticTile
	NewZ int8
}

func (p *StaticElevate) ID() PacketID { return IDStaticElevate }

func (p *StaticElevate) AppendPayload(b []byte) []byte {
	e := encoder{buf: b}
	appendTile(&e, 1, p.Tile)
	e.sint(2, int64(p.NewZ))
	return e.buf
}

func (p *StaticElevate) DecodePayload(b []byte) error {
	return walkTileAnd(b, &p.Tile, func(num protowire.Number, f field) {
		if num == 2 {
			p.NewZ = f.int8()
		}
	})
}

// StaticHue перекраска статики
type StaticHue struct {
	Tile   StaticTile
	NewHue uint16
}

func (p *StaticHue) ID() PacketID { return IDStaticHue }

func (p *StaticHue) AppendPayload(b []byte) []byte {
	e := encoder{buf: b}
	appendTile(&e, 1, p.Tile)
	e.uint(2, uint64(p.NewHue))
	return e.buf
}

func (p *StaticHue) DecodePayload(b []byte) error {
	return walkTileAnd(b, &p.Tile, func(num protowire.Number, f field) {
		if num == 2 {
			p.NewHue = f.uint16()
		}
	})
}

func walkTileAnd(b []byte, dst *StaticTile, rest func(num protowire.Number, f field)) error {
	return walk(b, func(num protowire.Number, f field) error {
		if num == 1 {
			t, err := decodeTile(f.b)
			if err != nil {
				return err
			}
			*dst = t
			return nil
		}
		rest(num, f)
		return nil
	})
}

// ---------------------------------------------------------------- чат и клиенты

// Chat сообщение чата. Sender заполняет сервер.
type Chat struct {
	Sender string
	Text   string
}

func (p *Chat) ID() PacketID { return IDChat }

func (p *Chat) AppendPayload(b []byte) []byte {
	e := encoder{buf: b}
	e.str(1, p.Sender)
	e.str(2, p.Text)
	return e.buf
}

func (p *Chat) DecodePayload(b []byte) error {
	return walk(b, func(num protowire.Number, f field) error {
		switch num {
		case 1:
			p.Sender = f.str()
		case 2:
			p.Text = f.str()
		}
		return nil
	})
}

// ClientList полный список подключённых клиентов
type ClientList struct {
	Names []string
}

func (p *ClientList) ID() PacketID { return IDClientList }

func (p *ClientList) AppendPayload(b []byte) []byte {
	e := encoder{buf: b}
	for _, name := range p.Names {
		e.str(1, name)
	}
	return e.buf
}

func (p *ClientList) DecodePayload(b []byte) error {
	return walk(b, func(num protowire.Number, f field) error {
		if num == 1 {
			p.Names = append(p.Names, f.str())
		}
		return nil
	})
}

// ClientConnected другой клиент подключился
type ClientConnected struct {
	Name string
}

func (p *ClientConnected) ID() PacketID { return IDClientConnected }

func (p *ClientConnected) AppendPayload(b []byte) []byte {
	e := encoder{buf: b}
	e.str(1, p.Name)
	return e.buf
}

func (p *ClientConnected) DecodePayload(b []byte) error {
	return walk(b, func(num protowire.Number, f field) error {
		if num == 1 {
			p.Name = f.str()
		}
		return nil
	})
}

// ClientDisconnected другой клиент отключился
type ClientDisconnected struct {
	Name string
}

func (p *ClientDisconnected) ID() PacketID { return IDClientDisconnected }

func (p *ClientDisconnected) AppendPayload(b []byte) []byte {
	e := encoder{buf: b}
	e.str(1, p.Name)
	return e.buf
}

func (p *ClientDisconnected) DecodePayload(b []byte) error {
	return walk(b, func(num protowire.Number, f field) error {
		if num == 1 {
			p.Name = f.str()
		}
		return nil
	})
}
