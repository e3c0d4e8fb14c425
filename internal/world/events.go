package world

import (
	"encoding/json"

	"github.com/annel0/tilesync/internal/protocol"
)

// EventType определяет тип уведомления
type EventType uint8

const (
	EventMapChanged         EventType = iota // Обобщённый сигнал после любых изменений карты
	EventBlockLoaded                         // Блок загружен (или перезагружен) в кеш
	EventBlockUnloaded                       // Блок вытеснен из кеша
	EventLandReplaced                        // Заменён тайл земли
	EventLandElevated                        // Изменена высота земли
	EventStaticAdded                         // Добавлена статика
	EventStaticRemoved                       // Удалена статика
	EventStaticReplaced                      // Заменена графика статики
	EventStaticMoved                         // Статика перемещена
	EventStaticElevated                      // Изменена высота статики
	EventStaticHued                          // Изменён цвет статики
	EventChatReceived                        // Сообщение чата
	EventClientConnected                     // Подключился другой клиент
	EventClientDisconnected                  // Отключился другой клиент
	EventAccessChanged                       // Сервер изменил уровень доступа
	EventDisconnected                        // Сессия закрыта из-за ошибки
)

var eventNames = [...]string{
	EventMapChanged:         "MapChanged",
	EventBlockLoaded:        "BlockLoaded",
	EventBlockUnloaded:      "BlockUnloaded",
	EventLandReplaced:       "LandReplaced",
	EventLandElevated:       "LandElevated",
	EventStaticAdded:        "StaticAdded",
	EventStaticRemoved:      "StaticRemoved",
	EventStaticReplaced:     "StaticReplaced",
	EventStaticMoved:        "StaticMoved",
	EventStaticElevated:     "StaticElevated",
	EventStaticHued:         "StaticHued",
	EventChatReceived:       "ChatReceived",
	EventClientConnected:    "ClientConnected",
	EventClientDisconnected: "ClientDisconnected",
	EventAccessChanged:      "AccessChanged",
	EventDisconnected:       "Disconnected",
}

// String имя типа события
func (t EventType) String() string {
	if int(t) < len(eventNames) {
		return eventNames[t]
	}
	return "Unknown"
}

// ChangesMap сообщает, входит ли событие в сигнал MapChanged
func (t EventType) ChangesMap() bool {
	return t >= EventBlockLoaded && t <= EventStaticHued
}

// Event интерфейс всех уведомлений
type Event interface {
	GetType() EventType
}

// Notifier получает уведомления о зафиксированных изменениях
type Notifier interface {
	Notify(ev Event)
}

// NotifierFunc адаптер функции к Notifier
type NotifierFunc func(ev Event)

// Notify вызывает f(ev)
func (f NotifierFunc) Notify(ev Event) { f(ev) }

// MapChanged обобщённое уведомление об изменении карты
type MapChanged struct{}

func (MapChanged) GetType() EventType { return EventMapChanged }

// BlockLoaded блок появился в кеше. Reloaded: блок с таким ID был заменён.
type BlockLoaded struct {
	ID       uint32
	Coords   BlockCoords
	Reloaded bool
}

func (BlockLoaded) GetType() EventType { return EventBlockLoaded }

// BlockUnloaded блок вытеснен из кеша
type BlockUnloaded struct {
	ID     uint32
	Coords BlockCoords
}

func (BlockUnloaded) GetType() EventType { return EventBlockUnloaded }

// LandReplaced тайл земли получил новую графику
type LandReplaced struct {
	Tile      LandTile // состояние после изменения
	OldTileID uint16
}

func (LandReplaced) GetType() EventType { return EventLandReplaced }

// LandElevated тайл земли получил новую высоту
type LandElevated struct {
	Tile LandTile
	OldZ int8
}

func (LandElevated) GetType() EventType { return EventLandElevated }

// StaticAdded добавлена статика
type StaticAdded struct {
	Tile StaticTile
}

func (StaticAdded) GetType() EventType { return EventStaticAdded }

// StaticRemoved удалена статика
type StaticRemoved struct {
	Tile StaticTile
}

func (StaticRemoved) GetType() EventType { return EventStaticRemoved }

// StaticReplaced статика получила новую графику
type StaticReplaced struct {
	Tile      StaticTile
	OldTileID uint16
}

func (StaticReplaced) GetType() EventType { return EventStaticReplaced }

// StaticMoved статика перемещена
type StaticMoved struct {
	Tile       StaticTile
	OldX, OldY uint16
}

func (StaticMoved) GetType() EventType { return EventStaticMoved }

// StaticElevated статика получила новую высоту
type StaticElevated struct {
	Tile StaticTile
	OldZ int8
}

func (StaticElevated) GetType() EventType { return EventStaticElevated }

// StaticHued статика получила новый цвет
type StaticHued struct {
	Tile   StaticTile
	OldHue uint16
}

func (StaticHued) GetType() EventType { return EventStaticHued }

// ChatReceived сообщение чата от сервера
type ChatReceived struct {
	Sender string
	Text   string
}

func (ChatReceived) GetType() EventType { return EventChatReceived }

// ClientConnected другой клиент вошёл
type ClientConnected struct {
	Name string
}

func (ClientConnected) GetType() EventType { return EventClientConnected }

// ClientDisconnected другой клиент вышел
type ClientDisconnected struct {
	Name string
}

func (ClientDisconnected) GetType() EventType { return EventClientDisconnected }

// AccessChanged сервер изменил уровень доступа
type AccessChanged struct {
	Old, New protocol.AccessLevel
}

func (AccessChanged) GetType() EventType { return EventAccessChanged }

// Disconnected сессия перешла в Closed из-за ошибки транспорта или протокола
type Disconnected struct {
	Err error
}

func (Disconnected) GetType() EventType { return EventDisconnected }

// MarshalJSON сериализует ошибку текстом
func (d Disconnected) MarshalJSON() ([]byte, error) {
	msg := ""
	if d.Err != nil {
		msg = d.Err.Error()
	}
	return json.Marshal(struct {
		Error string `json:"error"`
	}{Error: msg})
}
