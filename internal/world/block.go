package world

import (
	"sort"

	"github.com/annel0/tilesync/internal/protocol"
)

// Block участок мира BlockSize x BlockSize тайлов: земля и статика.
// Принадлежит BlockCache после вставки.
type Block struct {
	X, Y uint16 // координаты блока в сетке блоков

	land    [CellsPerBlock]LandTile
	statics [CellsPerBlock][]*StaticTile

	nextOrder uint32
}

// NewBlock создаёт пустой блок с координатами тайлов
func NewBlock(x, y uint16) *Block {
	b := &Block{X: x, Y: y}
	for i := range b.land {
		b.land[i].X = x*BlockSize + uint16(i%BlockSize)
		b.land[i].Y = y*BlockSize + uint16(i/BlockSize)
	}
	return b
}

// BlockFromData строит блок из данных пакета доставки
func BlockFromData(d protocol.BlockData) *Block {
	b := NewBlock(d.X, d.Y)
	for i, cell := range d.Land {
		b.land[i].TileID = cell.TileID
		b.land[i].Z = cell.Z
	}
	for _, t := range d.Statics {
		if BlockOf(t.X, t.Y) != b.Coords() {
			continue
		}
		b.addStatic(t)
	}
	return b
}

// Data преобразует блок в данные пакета доставки
func (b *Block) Data() protocol.BlockData {
	d := protocol.BlockData{X: b.X, Y: b.Y}
	for i, tile := range b.land {
		d.Land[i] = protocol.LandCell{TileID: tile.TileID, Z: tile.Z}
	}
	for _, cell := range b.statics {
		for _, s := range cell {
			d.Statics = append(d.Statics, s.Wire())
		}
	}
	return d
}

// ID идентификатор блока
func (b *Block) ID() uint32 {
	return BlockID(b.X, b.Y)
}

// Coords координаты блока
func (b *Block) Coords() BlockCoords {
	return BlockCoords{X: b.X, Y: b.Y}
}

// Land возвращает тайл земли по мировым координатам внутри блока
func (b *Block) Land(x, y uint16) LandTile {
	return b.land[cellIndex(x, y)]
}

// SetLand заменяет тайл земли по мировым координатам внутри блока
func (b *Block) SetLand(x, y uint16, tileID uint16, z int8) {
	idx := cellIndex(x, y)
	b.land[idx].TileID = tileID
	b.land[idx].Z = z
}

// StaticCount количество статик во всём блоке
func (b *Block) StaticCount() int {
	n := 0
	for _, cell := range b.statics {
		n += len(cell)
	}
	return n
}

// cell возвращает упорядоченный список статик ячейки
func (b *Block) cell(x, y uint16) []*StaticTile {
	return b.statics[cellIndex(x, y)]
}

// addStatic вставляет статику с новым порядковым номером
func (b *Block) addStatic(w protocol.StaticTile) *StaticTile {
	b.nextOrder++
	s := &StaticTile{X: w.X, Y: w.Y, Z: w.Z, TileID: w.TileID, Hue: w.Hue, Order: b.nextOrder}
	idx := cellIndex(w.X, w.Y)
	b.statics[idx] = append(b.statics[idx], s)
	b.sortCell(idx)
	return s
}

// findStatic ищет первую статику, совпадающую с описанием
func (b *Block) findStatic(w protocol.StaticTile) *StaticTile {
	for _, s := range b.cell(w.X, w.Y) {
		if s.Matches(w) {
			return s
		}
	}
	return nil
}

// removeStatic удаляет конкретную статику из ячейки
func (b *Block) removeStatic(s *StaticTile) bool {
	idx := cellIndex(s.X, s.Y)
	cell := b.statics[idx]
	for i, cur := range cell {
		if cur == s {
			copy(cell[i:], cell[i+1:])
			cell[len(cell)-1] = nil
			b.statics[idx] = cell[:len(cell)-1]
			return true
		}
	}
	return false
}

func (b *Block) sortCell(idx int) {
	cell := b.statics[idx]
	sort.SliceStable(cell, func(i, j int) bool { return stackLess(cell[i], cell[j]) })
}
