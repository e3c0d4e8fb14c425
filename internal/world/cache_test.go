package world

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cacheRecorder struct {
	loaded   []uint32
	reloaded []uint32
	released []uint32
}

func newRecordedCache(capacity int) (*BlockCache, *cacheRecorder) {
	rec := &cacheRecorder{}
	c := NewBlockCache(capacity)
	c.OnLoaded = func(b *Block, reloaded bool) {
		if reloaded {
			rec.reloaded = append(rec.reloaded, b.ID())
			return
		}
		rec.loaded = append(rec.loaded, b.ID())
	}
	c.OnReleased = func(b *Block) {
		rec.released = append(rec.released, b.ID())
	}
	return c, rec
}

func insertBlock(c *BlockCache, x, y uint16) uint32 {
	b := NewBlock(x, y)
	c.Insert(b.ID(), b)
	return b.ID()
}

func TestCacheInsertThenContains(t *testing.T) {
	c, rec := newRecordedCache(4)

	id := insertBlock(c, 1, 2)
	assert.True(t, c.Contains(id))
	assert.Equal(t, []uint32{id}, rec.loaded)

	got, ok := c.Get(id)
	require.True(t, ok)
	assert.Equal(t, uint16(1), got.X)

	// Повторная вставка заменяет блок и сообщает о перезагрузке
	insertBlock(c, 1, 2)
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, []uint32{id}, rec.reloaded)
	assert.True(t, c.Contains(id))
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c, rec := newRecordedCache(2)

	a := insertBlock(c, 0, 0)
	b := insertBlock(c, 0, 1)
	// Get делает A недавно использованным
	_, ok := c.Get(a)
	require.True(t, ok)

	cc := insertBlock(c, 0, 2)
	assert.ElementsMatch(t, []uint32{a, cc}, c.IDs())
	assert.Equal(t, []uint32{b}, rec.released)
}

func TestCacheContainsDoesNotTouchRecency(t *testing.T) {
	c, rec := newRecordedCache(2)

	a := insertBlock(c, 0, 0)
	insertBlock(c, 0, 1)
	assert.True(t, c.Contains(a))

	insertBlock(c, 0, 2)
	assert.Equal(t, []uint32{a}, rec.released)
	assert.False(t, c.Contains(a))
}

func TestCacheResizeDown(t *testing.T) {
	c, rec := newRecordedCache(DefaultCacheSize)
	for y := uint16(0); y < 10; y++ {
		insertBlock(c, 3, y)
	}
	require.Equal(t, 10, c.Len())

	require.NoError(t, c.Resize(4))
	assert.Equal(t, 4, c.Len())
	assert.Equal(t, 4, c.Capacity())
	// Ровно одно уведомление на каждый вытесненный блок, старейшие первыми
	require.Len(t, rec.released, 6)
	for i, id := range rec.released {
		assert.Equal(t, BlockID(3, uint16(i)), id)
	}

	// Увеличение ёмкости не теряет блоки
	require.NoError(t, c.Resize(100))
	assert.Equal(t, 4, c.Len())
	assert.Len(t, rec.released, 6)

	require.NoError(t, c.Resize(0))
	assert.Equal(t, 0, c.Len())
	assert.Len(t, rec.released, 10)

	assert.Error(t, c.Resize(-1))
}

func TestCacheZeroCapacityReleasesImmediately(t *testing.T) {
	c, rec := newRecordedCache(0)
	id := insertBlock(c, 5, 5)
	assert.False(t, c.Contains(id))
	assert.Equal(t, []uint32{id}, rec.loaded)
	assert.Equal(t, []uint32{id}, rec.released)
}

func TestCacheStats(t *testing.T) {
	c, _ := newRecordedCache(1)
	a := insertBlock(c, 0, 0)
	c.Get(a)
	c.Get(BlockID(9, 9))
	insertBlock(c, 0, 1)

	s := c.Stats()
	assert.Equal(t, 1, s.Len)
	assert.Equal(t, 1, s.Capacity)
	assert.Equal(t, uint64(1), s.Hits)
	assert.Equal(t, uint64(1), s.Misses)
	assert.Equal(t, uint64(1), s.Evictions)
}
