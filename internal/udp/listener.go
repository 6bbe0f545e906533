package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

const maxDatagram = 512

// Listener receives datagrams on a local address.
type Listener struct {
	conn *net.UDPConn
}

func Listen(addr string) (*Listener, error) {
	la, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("udp: resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", la)
	if err != nil {
		return nil, fmt.Errorf("udp: listen %s: %w", addr, err)
	}
	return &Listener{conn: conn}, nil
}

func (l *Listener) Addr() net.Addr { return l.conn.LocalAddr() }

// Serve calls handle for every datagram until ctx is done or the listener
// is closed. handle runs on the Serve goroutine and must not keep p.
func (l *Listener) Serve(ctx context.Context, handle func(p []byte, from net.Addr)) error {
	if l == nil || l.conn == nil {
		return fmt.Errorf("udp: listener is nil")
	}
	buf := make([]byte, maxDatagram)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_ = l.conn.SetReadDeadline(time.Now().Add(250 * time.Millisecond))
		n, from, err := l.conn.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("udp: read: %w", err)
		}
		if n > 0 {
			handle(buf[:n], from)
		}
	}
}

func (l *Listener) Close() error {
	if l == nil || l.conn == nil {
		return nil
	}
	return l.conn.Close()
}
