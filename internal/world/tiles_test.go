package world

import (
	"math/rand"
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockIDRoundTripOnEdges(t *testing.T) {
	edges := []uint16{0, 1, 2, 0x3FFF, 0x4000, 0x7FFE, 0x7FFF}
	for _, fixed := range edges {
		for v := uint16(0); v < MaxBlockCoord; v++ {
			if got := CoordsFromID(BlockID(v, fixed)); got != (BlockCoords{X: v, Y: fixed}) {
				t.Fatalf("BlockID(%d,%d) round trip gave %+v", v, fixed, got)
			}
			if got := CoordsFromID(BlockID(fixed, v)); got != (BlockCoords{X: fixed, Y: v}) {
				t.Fatalf("BlockID(%d,%d) round trip gave %+v", fixed, v, got)
			}
		}
	}
}

func TestBlockIDIsInjective(t *testing.T) {
	// CoordsFromID: левый обратный для BlockID, значит BlockID инъективна
	roundTrip := func(x, y uint16) bool {
		x &= 0x7FFF
		y &= 0x7FFF
		return CoordsFromID(BlockID(x, y)) == BlockCoords{X: x, Y: y}
	}
	require.NoError(t, quick.Check(roundTrip, &quick.Config{MaxCount: 200000}))

	seen := make(map[uint32]BlockCoords)
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50000; i++ {
		c := BlockCoords{X: uint16(rng.Intn(MaxBlockCoord)), Y: uint16(rng.Intn(MaxBlockCoord))}
		id := BlockID(c.X, c.Y)
		if prev, ok := seen[id]; ok {
			require.Equal(t, prev, c, "collision for id %d", id)
		}
		seen[id] = c
	}
}

func TestBlockIDIsDeterministic(t *testing.T) {
	assert.Equal(t, BlockID(123, 456), BlockID(123, 456))
	assert.Equal(t, uint32(0), BlockID(0, 0))
	assert.Equal(t, uint32(1), BlockID(0, 1))
	assert.Equal(t, uint32(1<<15), BlockID(1, 0))
}

func TestBlockOf(t *testing.T) {
	assert.Equal(t, BlockCoords{X: 0, Y: 0}, BlockOf(7, 7))
	assert.Equal(t, BlockCoords{X: 1, Y: 2}, BlockOf(8, 23))
	assert.Equal(t, 8*7+1, cellIndex(9, 15))
}
