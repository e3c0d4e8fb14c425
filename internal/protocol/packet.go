// Package protocol описывает пакеты протокола синхронизации ландшафта и их кадрирование.
package protocol

import "fmt"

// PacketID дискриминатор типа пакета в заголовке кадра
type PacketID uint8

const (
	// Сессия
	IDLoginRequest    PacketID = 0x01
	IDLoginResponse   PacketID = 0x02
	IDNoOp            PacketID = 0x03
	IDClientPosition  PacketID = 0x04
	IDServerFlush     PacketID = 0x09
	IDRequestRadarMap PacketID = 0x0A

	// Блоки
	IDRequestBlocks PacketID = 0x05
	IDBlockDelivery PacketID = 0x06

	// Изменения мира (запрос клиента и подтверждение сервера используют один пакет)
	IDLandReplace   PacketID = 0x10
	IDLandElevate   PacketID = 0x11
	IDStaticInsert  PacketID = 0x12
	IDStaticDelete  PacketID = 0x13
	IDStaticReplace PacketID = 0x14
	IDStaticMove    PacketID = 0x15
	IDStaticElevate PacketID = 0x16
	IDStaticHue     PacketID = 0x17

	// Чат и список клиентов
	IDChat               PacketID = 0x20
	IDClientList         PacketID = 0x21
	IDClientConnected    PacketID = 0x22
	IDClientDisconnected PacketID = 0x23
	IDAccessChanged      PacketID = 0x24
)

var packetNames = map[PacketID]string{
	IDLoginRequest:       "LoginRequest",
	IDLoginResponse:      "LoginResponse",
	IDNoOp:               "NoOp",
	IDClientPosition:     "ClientPosition",
	IDServerFlush:        "ServerFlush",
	IDRequestRadarMap:    "RequestRadarMap",
	IDRequestBlocks:      "RequestBlocks",
	IDBlockDelivery:      "BlockDelivery",
	IDLandReplace:        "LandReplace",
	IDLandElevate:        "LandElevate",
	IDStaticInsert:       "StaticInsert",
	IDStaticDelete:       "StaticDelete",
	IDStaticReplace:      "StaticReplace",
	IDStaticMove:         "StaticMove",
	IDStaticElevate:      "StaticElevate",
	IDStaticHue:          "StaticHue",
	IDChat:               "Chat",
	IDClientList:         "ClientList",
	IDClientConnected:    "ClientConnected",
	IDClientDisconnected: "ClientDisconnected",
	IDAccessChanged:      "AccessChanged",
}

// String возвращает имя пакета для логов и метрик
func (id PacketID) String() string {
	if name, ok := packetNames[id]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(0x%02X)", uint8(id))
}

// Known сообщает, определён ли такой тип пакета
func (id PacketID) Known() bool {
	_, ok := packetNames[id]
	return ok
}

// Packet реализуется всеми пакетами протокола
type Packet interface {
	ID() PacketID
	// AppendPayload дописывает закодированное тело пакета к b
	AppendPayload(b []byte) []byte
	// DecodePayload разбирает тело пакета
	DecodePayload(b []byte) error
}

// AccessLevel уровень доступа клиента, назначенный сервером
type AccessLevel uint8

const (
	AccessNone          AccessLevel = 0
	AccessView          AccessLevel = 1
	AccessNormal        AccessLevel = 2
	AccessDeveloper     AccessLevel = 3
	AccessAdministrator AccessLevel = 255
)

// String возвращает название уровня доступа
func (a AccessLevel) String() string {
	switch a {
	case AccessNone:
		return "none"
	case AccessView:
		return "view"
	case AccessNormal:
		return "normal"
	case AccessDeveloper:
		return "developer"
	case AccessAdministrator:
		return "administrator"
	}
	return fmt.Sprintf("level(%d)", uint8(a))
}

// LoginResult код ответа на LoginRequest
type LoginResult uint8

const (
	LoginOK LoginResult = iota
	LoginInvalidUser
	LoginInvalidPassword
	LoginAlreadyLoggedIn
	LoginNoAccess
)

// String возвращает описание результата входа
func (r LoginResult) String() string {
	switch r {
	case LoginOK:
		return "ok"
	case LoginInvalidUser:
		return "invalid user"
	case LoginInvalidPassword:
		return "invalid password"
	case LoginAlreadyLoggedIn:
		return "already logged in"
	case LoginNoAccess:
		return "no access"
	}
	return fmt.Sprintf("result(%d)", uint8(r))
}
