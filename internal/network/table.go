package network

import (
	"errors"
	"fmt"

	"github.com/annel0/tilesync/internal/protocol"
)

var (
	// ErrUnknownPacket входящий ID без обработчика. Дальнейшее кадрирование
	// потока недостоверно, соединение разрывается.
	ErrUnknownPacket = errors.New("unknown packet")
	// ErrMalformedPacket тело пакета не разбирается
	ErrMalformedPacket = errors.New("malformed packet")
)

// Route связывает ID пакета с разбором и обработчиком
type Route struct {
	id     protocol.PacketID
	handle func(payload []byte) error
}

// ID пакета маршрута
func (r Route) ID() protocol.PacketID { return r.id }

// Handle создаёт маршрут для типа пакета P. Обработчик получает разобранный пакет;
// возвращённая им ошибка считается фатальной для соединения.
func Handle[P any, PT interface {
	*P
	protocol.Packet
}](fn func(PT) error) Route {
	id := PT(new(P)).ID()
	return Route{
		id: id,
		handle: func(payload []byte) error {
			p := PT(new(P))
			if err := p.DecodePayload(payload); err != nil {
				return fmt.Errorf("%w: %s: %w", ErrMalformedPacket, id, err)
			}
			return fn(p)
		},
	}
}

// Table неизменяемая таблица диспетчеризации входящих пакетов
type Table struct {
	routes [256]func(payload []byte) error
}

// NewTable строит таблицу. Повторная регистрация одного ID: ошибка.
func NewTable(routes ...Route) (*Table, error) {
	t := &Table{}
	for _, r := range routes {
		if r.handle == nil {
			return nil, fmt.Errorf("route %s: nil handler", r.id)
		}
		if t.routes[r.id] != nil {
			return nil, fmt.Errorf("route %s registered twice", r.id)
		}
		t.routes[r.id] = r.handle
	}
	return t, nil
}

// Handles сообщает, есть ли обработчик для ID
func (t *Table) Handles(id protocol.PacketID) bool {
	return t.routes[id] != nil
}

// Dispatch разбирает тело кадра и вызывает обработчик
func (t *Table) Dispatch(f protocol.Frame) error {
	h := t.routes[f.ID]
	if h == nil {
		return fmt.Errorf("%w: 0x%02X", ErrUnknownPacket, uint8(f.ID))
	}
	return h(f.Payload)
}
