// Package udp sends telemetry datagrams to the ground station link.
package udp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

type udpConn interface {
	Write(p []byte) (int, error)
	Close() error
}

type resolveFunc func(network, address string) (*net.UDPAddr, error)

type dialFunc func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)

func dialUDP(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
	return net.DialUDP(network, laddr, raddr)
}

type Broadcaster struct {
	dest string
	conn udpConn

	mu       sync.Mutex
	interval time.Duration
	changed  chan struct{}
}

func NewBroadcaster(dest string) (*Broadcaster, error) {
	return newBroadcaster(dest, net.ResolveUDPAddr, dialUDP)
}

func newBroadcaster(dest string, resolve resolveFunc, dial dialFunc) (*Broadcaster, error) {
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("udp: resolve dest: %w", err)
	}

	// DialUDP selects a suitable local address automatically.
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("udp: dial: %w", err)
	}

	return &Broadcaster{dest: dest, conn: conn}, nil
}

func (b *Broadcaster) Dest() string { return b.dest }

func (b *Broadcaster) Send(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	_, err := b.conn.Write(payload)
	return err
}

// SetInterval changes the period used by Run. It takes effect immediately.
func (b *Broadcaster) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	b.mu.Lock()
	b.interval = d
	ch := b.changed
	b.mu.Unlock()
	if ch != nil {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (b *Broadcaster) Interval() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.interval
}

// Run sends payload() every interval until ctx is done. Send failures are
// passed to onErr (if set) and do not stop the loop.
func (b *Broadcaster) Run(ctx context.Context, interval time.Duration, payload func() []byte, onErr func(error)) error {
	if payload == nil {
		return fmt.Errorf("udp: payload func is nil")
	}
	changed := make(chan struct{}, 1)
	b.mu.Lock()
	if b.interval <= 0 {
		b.interval = interval
	}
	if b.interval <= 0 {
		b.mu.Unlock()
		return fmt.Errorf("udp: interval must be > 0")
	}
	b.changed = changed
	cur := b.interval
	b.mu.Unlock()

	t := time.NewTicker(cur)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
			cur = b.Interval()
			t.Reset(cur)
		case <-t.C:
			if err := b.Send(payload()); err != nil && onErr != nil {
				onErr(err)
			}
		}
	}
}

func (b *Broadcaster) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Close()
}
