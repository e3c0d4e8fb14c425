package world

import (
	"fmt"

	"github.com/annel0/tilesync/internal/protocol"
)

const (
	// BlockSize сторона блока в тайлах
	BlockSize = protocol.BlockSize
	// CellsPerBlock число ячеек в блоке
	CellsPerBlock = protocol.CellsPerBlock
	// MaxBlockCoord верхняя граница (не включительно) координаты блока для BlockID
	MaxBlockCoord = 0x8000
)

// BlockCoords координаты блока для пакетного запроса
type BlockCoords = protocol.BlockCoords

// BlockID вычисляет идентификатор блока по координатам в сетке блоков.
// Детерминирована и инъективна для x, y < MaxBlockCoord.
func BlockID(x, y uint16) uint32 {
	return uint32(x&0x7FFF)<<15 | uint32(y&0x7FFF)
}

// CoordsFromID обратное преобразование BlockID
func CoordsFromID(id uint32) BlockCoords {
	return BlockCoords{X: uint16(id >> 15 & 0x7FFF), Y: uint16(id & 0x7FFF)}
}

// BlockOf возвращает координаты блока, содержащего тайл (x, y)
func BlockOf(x, y uint16) BlockCoords {
	return BlockCoords{X: x / BlockSize, Y: y / BlockSize}
}

func cellIndex(x, y uint16) int {
	return int(y%BlockSize)*BlockSize + int(x%BlockSize)
}

// LandTile тайл земли
type LandTile struct {
	X, Y   uint16
	TileID uint16
	Z      int8
}

// String для логов
func (t LandTile) String() string {
	return fmt.Sprintf("land(0x%04X @%d,%d,%d)", t.TileID, t.X, t.Y, t.Z)
}

// StaticTile объект, размещённый в ячейке. В одной ячейке может быть несколько статик;
// Order задаёт порядок вставки и разрешает равные Z при сортировке.
type StaticTile struct {
	X, Y   uint16
	Z      int8
	TileID uint16
	Hue    uint16
	Order  uint32
}

// String для логов
func (t StaticTile) String() string {
	return fmt.Sprintf("static(0x%04X @%d,%d,%d hue=%d)", t.TileID, t.X, t.Y, t.Z, t.Hue)
}

// Wire описание статики для пакетов протокола
func (t StaticTile) Wire() protocol.StaticTile {
	return protocol.StaticTile{X: t.X, Y: t.Y, Z: t.Z, TileID: t.TileID, Hue: t.Hue}
}

// Matches сравнивает статику с описанием из пакета (без учёта Order)
func (t StaticTile) Matches(w protocol.StaticTile) bool {
	return t.X == w.X && t.Y == w.Y && t.Z == w.Z && t.TileID == w.TileID && t.Hue == w.Hue
}

// stackLess порядок статик внутри ячейки: по Z, затем по порядку вставки
func stackLess(a, b *StaticTile) bool {
	if a.Z != b.Z {
		return a.Z < b.Z
	}
	return a.Order < b.Order
}
