package devserver

import (
	"math"

	"github.com/aquilax/go-perlin"

	"github.com/annel0/tilesync/internal/protocol"
)

// Графика тайлов генератора
const (
	TileWater uint16 = 0x00A8
	TileSand  uint16 = 0x0016
	TileGrass uint16 = 0x0003
	TileRock  uint16 = 0x00DC
	TileTree  uint16 = 0x0CCA
)

// Terrain детерминированный по сиду генератор блоков
type Terrain struct {
	height *perlin.Perlin
	trees  *perlin.Perlin
}

// NewTerrain создаёт генератор
func NewTerrain(seed int64) *Terrain {
	alpha := 2.0  // Сглаживание шума
	beta := 2.0   // Частота шума
	n := int32(3) // Количество октав
	return &Terrain{
		height: perlin.NewPerlin(alpha, beta, n, seed),
		trees:  perlin.NewPerlin(alpha, beta, n, seed+1),
	}
}

// Elevation высота земли в точке мира
func (t *Terrain) Elevation(wx, wy int) int8 {
	v := t.height.Noise2D(float64(wx)/48, float64(wy)/48)
	return int8(math.Max(-120, math.Min(120, math.Round(v*60))))
}

// LandFor графика земли по высоте
func LandFor(z int8) uint16 {
	switch {
	case z < -6:
		return TileWater
	case z < 2:
		return TileSand
	case z < 20:
		return TileGrass
	default:
		return TileRock
	}
}

// Block генерирует блок с координатами (bx, by)
func (t *Terrain) Block(bx, by uint16) protocol.BlockData {
	d := protocol.BlockData{X: bx, Y: by}
	for i := range d.Land {
		wx := int(bx)*protocol.BlockSize + i%protocol.BlockSize
		wy := int(by)*protocol.BlockSize + i/protocol.BlockSize
		z := t.Elevation(wx, wy)
		land := LandFor(z)
		d.Land[i] = protocol.LandCell{TileID: land, Z: z}

		if land != TileGrass || (wx+wy)%3 != 0 {
			continue
		}
		if t.trees.Noise2D(float64(wx)/7, float64(wy)/7) > 0.25 {
			d.Statics = append(d.Statics, protocol.StaticTile{
				X: uint16(wx), Y: uint16(wy), Z: z, TileID: TileTree,
			})
		}
	}
	return d
}
