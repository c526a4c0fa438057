package serial

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	tarm "github.com/tarm/serial"
)

const tarmReadTimeout = 500 * time.Millisecond

// tarmPort copies a tarm/serial port into a Buffer on a background
// goroutine, since the library cannot report the receive backlog itself.
type tarmPort struct {
	port io.ReadWriteCloser
	buf  *Buffer

	closeOnce sync.Once
	done      chan struct{}
	closed    chan struct{}
}

func openTarm(path string, baud int) (Port, error) {
	p, err := tarm.OpenPort(&tarm.Config{Name: path, Baud: baud, ReadTimeout: tarmReadTimeout})
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", path, err)
	}
	return newPumpedPort(p, NewBuffer(DefaultBufferSize)), nil
}

func newPumpedPort(port io.ReadWriteCloser, buf *Buffer) *tarmPort {
	tp := &tarmPort{port: port, buf: buf, done: make(chan struct{}), closed: make(chan struct{})}
	go tp.pump()
	return tp
}

func (p *tarmPort) pump() {
	defer close(p.done)
	chunk := make([]byte, 256)
	for {
		n, err := p.port.Read(chunk)
		if n > 0 {
			_, _ = p.buf.Write(chunk[:n])
		}
		if err == nil {
			continue
		}
		select {
		case <-p.closed:
			return
		default:
		}
		// tarm reports a read timeout as io.EOF.
		if errors.Is(err, io.EOF) {
			continue
		}
		log.Printf("serial: read failed: %v", err)
		_ = p.buf.Close()
		return
	}
}

func (p *tarmPort) Read(b []byte) (int, error) { return p.buf.Read(b) }

func (p *tarmPort) Write(b []byte) (int, error) { return p.port.Write(b) }

func (p *tarmPort) Buffered() (int, error) { return p.buf.Buffered() }

func (p *tarmPort) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.closed)
		err = p.port.Close()
		_ = p.buf.Close()
		<-p.done
	})
	return err
}
