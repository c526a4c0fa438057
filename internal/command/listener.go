package command

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"time"
)

// Listener receives one command per UDP datagram and replies to the sender
// with "OK" or "ERR <reason>".
type Listener struct {
	pc net.PacketConn
	d  *Dispatcher
}

func Listen(addr string, d *Dispatcher) (*Listener, error) {
	if d == nil {
		return nil, errors.New("command: dispatcher is nil")
	}
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("command: listen %s: %w", addr, err)
	}
	return &Listener{pc: pc, d: d}, nil
}

func (l *Listener) Addr() net.Addr { return l.pc.LocalAddr() }

// Serve handles datagrams until ctx is done or the socket fails.
func (l *Listener) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		_ = l.pc.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, 512)
	for {
		n, from, err := l.pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("command: read: %w", err)
		}
		line := strings.TrimSpace(string(buf[:n]))
		reply := l.d.Handle(line)
		log.Printf("command: %s from %s: %s", line, from, reply)
		if _, err := l.pc.WriteTo([]byte(reply), from); err != nil {
			log.Printf("command: reply to %s failed: %v", from, err)
		}
	}
}

func (l *Listener) Close() error {
	return l.pc.Close()
}
