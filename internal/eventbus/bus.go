package eventbus

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/annel0/tilesync/internal/logging"
	"github.com/annel0/tilesync/internal/world"
)

// Subscription возвращается при подписке; позволяет отписаться.
type Subscription interface {
	Unsubscribe()
}

// Handler потребляет события.
type Handler func(ev world.Event)

// Stats агрегированные счётчики шины.
type Stats struct {
	Published   uint64 `json:"published"`
	Delivered   uint64 `json:"delivered"`
	Panics      uint64 `json:"panics"`
	Pending     int    `json:"pending"`
	Subscribers int    `json:"subscribers"`
}

type subscriber struct {
	id      int
	handler Handler
	removed atomic.Bool
}

// Bus очередь уведомлений клиента. Notify только ставит событие в очередь,
// подписчики вызываются из Deliver в порядке публикации.
type Bus struct {
	mu          sync.Mutex
	queue       []world.Event
	subscribers []*subscriber
	nextID      int
	stats       Stats

	// delivering удерживается на время разбора очереди
	delivering sync.Mutex
	logger     *logging.Logger
}

// New создаёт пустую шину.
func New() *Bus {
	return &Bus{logger: logging.GetEventsLogger()}
}

// Notify ставит событие в очередь. Безопасно вызывать под любыми блокировками.
func (b *Bus) Notify(ev world.Event) {
	if ev == nil {
		return
	}
	b.mu.Lock()
	b.queue = append(b.queue, ev)
	b.stats.Published++
	b.mu.Unlock()
	eventsPublished.WithLabelValues(ev.GetType().String()).Inc()
}

// Deliver разбирает очередь и вызывает подписчиков. Повторный вызов изнутри
// подписчика (или из другой горутины во время разбора) возвращается сразу:
// очередь дочитает внешний вызов.
func (b *Bus) Deliver() {
	for {
		if !b.delivering.TryLock() {
			return
		}
		b.drain()
		b.delivering.Unlock()

		if b.Pending() == 0 {
			return
		}
	}
}

func (b *Bus) drain() {
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.mu.Unlock()
			return
		}
		ev := b.queue[0]
		b.queue[0] = nil
		b.queue = b.queue[1:]
		subs := make([]*subscriber, len(b.subscribers))
		copy(subs, b.subscribers)
		b.mu.Unlock()

		for _, s := range subs {
			b.invoke(s, ev)
		}
	}
}

func (b *Bus) invoke(s *subscriber, ev world.Event) {
	if s.removed.Load() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			b.mu.Lock()
			b.stats.Panics++
			b.mu.Unlock()
			subscriberPanics.Inc()
			b.logger.Error("subscriber %d panicked on %s: %v\n%s", s.id, ev.GetType(), r, debug.Stack())
		}
	}()

	s.handler(ev)

	b.mu.Lock()
	b.stats.Delivered++
	b.mu.Unlock()
}

// SubscribeAll подписывает обработчик на все события.
func (b *Bus) SubscribeAll(h Handler) Subscription {
	if h == nil {
		panic("eventbus: nil handler")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	s := &subscriber{id: b.nextID, handler: h}
	b.subscribers = append(b.subscribers, s)
	return &busSub{bus: b, id: s.id}
}

// Subscribe подписывает обработчик на события конкретного типа E.
func Subscribe[E world.Event](b *Bus, fn func(E)) Subscription {
	if fn == nil {
		panic(fmt.Sprintf("eventbus: nil handler for %T", *new(E)))
	}
	return b.SubscribeAll(func(ev world.Event) {
		if e, ok := ev.(E); ok {
			fn(e)
		}
	})
}

func (b *Bus) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subscribers {
		if s.id == id {
			s.removed.Store(true)
			b.subscribers = append(b.subscribers[:i:i], b.subscribers[i+1:]...)
			return
		}
	}
}

// Pending количество событий в очереди
func (b *Bus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Stats возвращает копию счётчиков.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stats
	s.Pending = len(b.queue)
	s.Subscribers = len(b.subscribers)
	return s
}

type busSub struct {
	bus  *Bus
	id   int
	once sync.Once
}

func (s *busSub) Unsubscribe() {
	s.once.Do(func() { s.bus.unsubscribe(s.id) })
}
