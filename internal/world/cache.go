package world

import (
	"fmt"

	"github.com/golang/groupcache/lru"
)

// DefaultCacheSize ёмкость кеша блоков по умолчанию
const DefaultCacheSize = 1024

// BlockCache ограниченный кеш блоков с вытеснением давно неиспользуемых (LRU).
// Использованием считается Get и Insert; Contains порядок не меняет.
// Не потокобезопасен: вызывающий сериализует доступ.
type BlockCache struct {
	lru      *lru.Cache
	blocks   map[uint32]*Block
	capacity int

	// OnLoaded вызывается после вставки; reloaded: заменён существующий блок
	OnLoaded func(b *Block, reloaded bool)
	// OnReleased вызывается для каждого вытесненного блока
	OnReleased func(b *Block)

	hits, misses, evictions uint64
}

// CacheStats счётчики кеша
type CacheStats struct {
	Len       int    `json:"len"`
	Capacity  int    `json:"capacity"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

// NewBlockCache создаёт кеш. Отрицательная ёмкость трактуется как 0.
func NewBlockCache(capacity int) *BlockCache {
	if capacity < 0 {
		capacity = 0
	}
	c := &BlockCache{
		blocks:   make(map[uint32]*Block),
		capacity: capacity,
	}
	// MaxEntries не задан: ёмкость (включая 0) соблюдает trim
	c.lru = &lru.Cache{OnEvicted: c.evicted}
	return c
}

func (c *BlockCache) evicted(key lru.Key, value interface{}) {
	id := key.(uint32)
	b := value.(*Block)
	delete(c.blocks, id)
	c.evictions++
	blocksEvicted.Inc()
	blocksResident.Dec()
	if c.OnReleased != nil {
		c.OnReleased(b)
	}
}

// Contains проверяет наличие блока без изменения порядка вытеснения
func (c *BlockCache) Contains(id uint32) bool {
	_, ok := c.blocks[id]
	return ok
}

// Get возвращает блок, если он в кеше. Загрузку не инициирует.
func (c *BlockCache) Get(id uint32) (*Block, bool) {
	v, ok := c.lru.Get(id)
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	return v.(*Block), true
}

// Insert помещает блок в кеш, заменяя существующий с тем же ID,
// и вытесняет старые блоки сверх ёмкости.
func (c *BlockCache) Insert(id uint32, b *Block) {
	_, reloaded := c.blocks[id]
	c.blocks[id] = b
	c.lru.Add(id, b)
	if !reloaded {
		blocksResident.Inc()
	}

	if c.OnLoaded != nil {
		c.OnLoaded(b, reloaded)
	}
	c.trim()
}

// Resize меняет ёмкость; при уменьшении сразу вытесняет лишние блоки
func (c *BlockCache) Resize(capacity int) error {
	if capacity < 0 {
		return fmt.Errorf("cache capacity must be >= 0, got %d", capacity)
	}
	c.capacity = capacity
	c.trim()
	return nil
}

func (c *BlockCache) trim() {
	for c.lru.Len() > c.capacity {
		c.lru.RemoveOldest()
	}
}

// Len количество блоков в кеше
func (c *BlockCache) Len() int {
	return c.lru.Len()
}

// Capacity текущая ёмкость
func (c *BlockCache) Capacity() int {
	return c.capacity
}

// IDs возвращает идентификаторы блоков в кеше (порядок не определён)
func (c *BlockCache) IDs() []uint32 {
	ids := make([]uint32, 0, len(c.blocks))
	for id := range c.blocks {
		ids = append(ids, id)
	}
	return ids
}

// Stats возвращает счётчики кеша
func (c *BlockCache) Stats() CacheStats {
	return CacheStats{
		Len:       c.lru.Len(),
		Capacity:  c.capacity,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}
