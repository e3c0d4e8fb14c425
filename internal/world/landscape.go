package world

import (
	"errors"
	"fmt"
	"iter"

	"github.com/annel0/tilesync/internal/logging"
	"github.com/annel0/tilesync/internal/protocol"
)

// MaxWorldBlocks предел размера мира в блоках по каждой оси (координаты тайлов uint16)
const MaxWorldBlocks = 0x10000 / BlockSize

var (
	// ErrBlockNotLoaded запрос тайла в блоке, которого нет в кеше
	ErrBlockNotLoaded = errors.New("block not loaded")
	// ErrOutOfBounds координаты за пределами мира
	ErrOutOfBounds = errors.New("coordinates out of bounds")
	// ErrConsistency изменение пришло для незагруженного блока или отсутствующей статики
	ErrConsistency = errors.New("cache consistency violation")
	// ErrDuplicateStatic повторное добавление идентичной статики
	ErrDuplicateStatic = errors.New("duplicate static")
)

// Landscape отображает запросы к тайлам на блоки в кеше и применяет
// изменения, пришедшие от сервера, с генерацией уведомлений.
type Landscape struct {
	width, height uint16 // в блоках
	cache         *BlockCache
	notifier      Notifier
	logger        *logging.Logger

	mapChanged bool
}

// NewLandscape создаёт ландшафт width x height блоков с кешем заданной ёмкости
func NewLandscape(width, height uint16, cacheSize int, notifier Notifier) (*Landscape, error) {
	if width == 0 || height == 0 || int(width) > MaxWorldBlocks || int(height) > MaxWorldBlocks {
		return nil, fmt.Errorf("invalid world size %dx%d blocks", width, height)
	}
	if notifier == nil {
		notifier = NotifierFunc(func(Event) {})
	}

	l := &Landscape{
		width:    width,
		height:   height,
		cache:    NewBlockCache(cacheSize),
		notifier: notifier,
		logger:   logging.GetWorldLogger(),
	}
	l.cache.OnLoaded = func(b *Block, reloaded bool) {
		l.notify(BlockLoaded{ID: b.ID(), Coords: b.Coords(), Reloaded: reloaded})
	}
	l.cache.OnReleased = func(b *Block) {
		l.notify(BlockUnloaded{ID: b.ID(), Coords: b.Coords()})
	}
	return l, nil
}

func (l *Landscape) notify(ev Event) {
	if ev.GetType().ChangesMap() {
		l.mapChanged = true
	}
	l.notifier.Notify(ev)
}

// FlushMapChanged публикует один MapChanged, если с прошлого вызова были изменения
func (l *Landscape) FlushMapChanged() bool {
	if !l.mapChanged {
		return false
	}
	l.mapChanged = false
	l.notifier.Notify(MapChanged{})
	return true
}

// Width ширина мира в блоках
func (l *Landscape) Width() uint16 { return l.width }

// Height высота мира в блоках
func (l *Landscape) Height() uint16 { return l.height }

// CellWidth ширина мира в тайлах
func (l *Landscape) CellWidth() int { return int(l.width) * BlockSize }

// CellHeight высота мира в тайлах
func (l *Landscape) CellHeight() int { return int(l.height) * BlockSize }

// Cache возвращает кеш блоков
func (l *Landscape) Cache() *BlockCache { return l.cache }

// InBounds проверяет координаты блока
func (l *Landscape) InBounds(c BlockCoords) bool {
	return c.X < l.width && c.Y < l.height
}

// TileInBounds проверяет координаты тайла
func (l *Landscape) TileInBounds(x, y uint16) bool {
	return int(x) < l.CellWidth() && int(y) < l.CellHeight()
}

// IsLoaded сообщает, находится ли блок в кеше
func (l *Landscape) IsLoaded(c BlockCoords) bool {
	return l.cache.Contains(BlockID(c.X, c.Y))
}

// Resize меняет ёмкость кеша
func (l *Landscape) Resize(capacity int) error {
	return l.cache.Resize(capacity)
}

func (l *Landscape) blockFor(x, y uint16) (*Block, error) {
	if !l.TileInBounds(x, y) {
		return nil, fmt.Errorf("tile (%d,%d): %w", x, y, ErrOutOfBounds)
	}
	c := BlockOf(x, y)
	b, ok := l.cache.Get(BlockID(c.X, c.Y))
	if !ok {
		return nil, fmt.Errorf("tile (%d,%d) block (%d,%d): %w", x, y, c.X, c.Y, ErrBlockNotLoaded)
	}
	return b, nil
}

// LandTile возвращает тайл земли. Блок должен быть загружен.
func (l *Landscape) LandTile(x, y uint16) (LandTile, error) {
	b, err := l.blockFor(x, y)
	if err != nil {
		return LandTile{}, err
	}
	return b.Land(x, y), nil
}

// StaticTiles возвращает ленивую последовательность статик ячейки в порядке наложения.
// Последовательность можно обходить повторно; каждый обход читает текущее состояние блока.
func (l *Landscape) StaticTiles(x, y uint16) (iter.Seq[StaticTile], error) {
	b, err := l.blockFor(x, y)
	if err != nil {
		return nil, err
	}
	return func(yield func(StaticTile) bool) {
		for _, s := range b.cell(x, y) {
			if !yield(*s) {
				return
			}
		}
	}, nil
}

// ApplyBlocks помещает доставленные блоки в кеш. Возвращает ID вставленных блоков.
func (l *Landscape) ApplyBlocks(p *protocol.BlockDelivery) ([]uint32, error) {
	ids := make([]uint32, 0, len(p.Blocks))
	var errs []error
	for _, data := range p.Blocks {
		c := BlockCoords{X: data.X, Y: data.Y}
		if !l.InBounds(c) {
			errs = append(errs, fmt.Errorf("delivered block (%d,%d): %w", c.X, c.Y, ErrOutOfBounds))
			continue
		}
		b := BlockFromData(data)
		l.cache.Insert(b.ID(), b)
		ids = append(ids, b.ID())
	}
	return ids, errors.Join(errs...)
}

// mutationBlock возвращает блок для изменения, пришедшего от сервера
func (l *Landscape) mutationBlock(kind string, x, y uint16) (*Block, error) {
	if !l.TileInBounds(x, y) {
		consistencyViolations.WithLabelValues(kind).Inc()
		return nil, fmt.Errorf("%s at (%d,%d): %w", kind, x, y, ErrOutOfBounds)
	}
	c := BlockOf(x, y)
	b, ok := l.cache.Get(BlockID(c.X, c.Y))
	if !ok {
		consistencyViolations.WithLabelValues(kind).Inc()
		return nil, fmt.Errorf("%s at (%d,%d): %w: block (%d,%d) not cached", kind, x, y, ErrConsistency, c.X, c.Y)
	}
	return b, nil
}

func (l *Landscape) mutationStatic(kind string, w protocol.StaticTile) (*Block, *StaticTile, error) {
	b, err := l.mutationBlock(kind, w.X, w.Y)
	if err != nil {
		return nil, nil, err
	}
	s := b.findStatic(w)
	if s == nil {
		consistencyViolations.WithLabelValues(kind).Inc()
		return nil, nil, fmt.Errorf("%s %s: %w: static not found", kind, w, ErrConsistency)
	}
	return b, s, nil
}

// ApplyLandReplace заменяет графику тайла земли, высота не меняется
func (l *Landscape) ApplyLandReplace(p *protocol.LandReplace) error {
	b, err := l.mutationBlock("land_replace", p.X, p.Y)
	if err != nil {
		return err
	}
	old := b.Land(p.X, p.Y)
	b.SetLand(p.X, p.Y, p.TileID, old.Z)
	l.notify(LandReplaced{Tile: b.Land(p.X, p.Y), OldTileID: old.TileID})
	return nil
}

// ApplyLandElevate меняет высоту тайла земли
func (l *Landscape) ApplyLandElevate(p *protocol.LandElevate) error {
	b, err := l.mutationBlock("land_elevate", p.X, p.Y)
	if err != nil {
		return err
	}
	old := b.Land(p.X, p.Y)
	b.SetLand(p.X, p.Y, old.TileID, p.Z)
	l.notify(LandElevated{Tile: b.Land(p.X, p.Y), OldZ: old.Z})
	return nil
}

// ApplyStaticInsert добавляет статику. Идентичная уже существующей статика
// отклоняется с ErrDuplicateStatic без изменений и уведомлений.
func (l *Landscape) ApplyStaticInsert(p *protocol.StaticInsert) error {
	b, err := l.mutationBlock("static_insert", p.Tile.X, p.Tile.Y)
	if err != nil {
		return err
	}
	if b.findStatic(p.Tile) != nil {
		consistencyViolations.WithLabelValues("static_duplicate").Inc()
		return fmt.Errorf("%s: %w", p.Tile, ErrDuplicateStatic)
	}
	s := b.addStatic(p.Tile)
	l.notify(StaticAdded{Tile: *s})
	return nil
}

// ApplyStaticDelete удаляет статику
func (l *Landscape) ApplyStaticDelete(p *protocol.StaticDelete) error {
	b, s, err := l.mutationStatic("static_delete", p.Tile)
	if err != nil {
		return err
	}
	b.removeStatic(s)
	l.notify(StaticRemoved{Tile: *s})
	return nil
}

// ApplyStaticReplace меняет графику статики
func (l *Landscape) ApplyStaticReplace(p *protocol.StaticReplace) error {
	_, s, err := l.mutationStatic("static_replace", p.Tile)
	if err != nil {
		return err
	}
	old := s.TileID
	s.TileID = p.NewTileID
	l.notify(StaticReplaced{Tile: *s, OldTileID: old})
	return nil
}

// ApplyStaticElevate меняет высоту статики и пересортировывает ячейку
func (l *Landscape) ApplyStaticElevate(p *protocol.StaticElevate) error {
	b, s, err := l.mutationStatic("static_elevate", p.Tile)
	if err != nil {
		return err
	}
	old := s.Z
	s.Z = p.NewZ
	b.sortCell(cellIndex(s.X, s.Y))
	l.notify(StaticElevated{Tile: *s, OldZ: old})
	return nil
}

// ApplyStaticHue меняет цвет статики
func (l *Landscape) ApplyStaticHue(p *protocol.StaticHue) error {
	_, s, err := l.mutationStatic("static_hue", p.Tile)
	if err != nil {
		return err
	}
	old := s.Hue
	s.Hue = p.NewHue
	l.notify(StaticHued{Tile: *s, OldHue: old})
	return nil
}

// ApplyStaticMove перемещает статику. Если целевой блок не загружен,
// статика удаляется локально: сервер пришлёт её вместе с блоком.
func (l *Landscape) ApplyStaticMove(p *protocol.StaticMove) error {
	src, s, err := l.mutationStatic("static_move", p.Tile)
	if err != nil {
		return err
	}
	if !l.TileInBounds(p.NewX, p.NewY) {
		consistencyViolations.WithLabelValues("static_move").Inc()
		return fmt.Errorf("static_move to (%d,%d): %w", p.NewX, p.NewY, ErrOutOfBounds)
	}

	dstCoords := BlockOf(p.NewX, p.NewY)
	dst, ok := l.cache.Get(BlockID(dstCoords.X, dstCoords.Y))
	if !ok {
		src.removeStatic(s)
		l.logger.Debug("static %s moved into unloaded block (%d,%d), dropped locally", s, dstCoords.X, dstCoords.Y)
		l.notify(StaticRemoved{Tile: *s})
		return nil
	}

	src.removeStatic(s)
	w := s.Wire()
	w.X, w.Y = p.NewX, p.NewY
	moved := dst.addStatic(w)
	l.notify(StaticMoved{Tile: *moved, OldX: s.X, OldY: s.Y})
	return nil
}
