package network

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/xtaci/kcp-go/v5"
)

// Транспорты клиента
const (
	TransportTCP = "tcp"
	TransportKCP = "kcp"
)

// Dial устанавливает потоковое соединение с сервером по выбранному транспорту.
func Dial(ctx context.Context, transport, addr string, timeout time.Duration) (net.Conn, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	switch transport {
	case TransportTCP, "":
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
		}
		if tcp, ok := conn.(*net.TCPConn); ok {
			_ = tcp.SetNoDelay(true)
		}
		return conn, nil

	case TransportKCP:
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// без шифрования и FEC
		conn, err := kcp.DialWithOptions(addr, nil, 0, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to %s over kcp: %w", addr, err)
		}
		ConfigureKCP(conn)
		return conn, nil

	default:
		return nil, fmt.Errorf("unknown transport %q", transport)
	}
}

// ConfigureKCP применяет настройки сессии KCP для клиента и сервера
func ConfigureKCP(conn *kcp.UDPSession) {
	conn.SetStreamMode(true)
	conn.SetNoDelay(1, 20, 2, 1)
	conn.SetWindowSize(512, 512)
	conn.SetMtu(1400)
	conn.SetACKNoDelay(true)
}

// ListenKCP открывает KCP слушатель с теми же настройками
func ListenKCP(addr string) (*kcp.Listener, error) {
	l, err := kcp.ListenWithOptions(addr, nil, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("kcp listen %s: %w", addr, err)
	}
	return l, nil
}
