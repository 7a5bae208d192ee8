//go:build windows

package sink

import (
	"context"
	"fmt"
	"io"
	"net"

	"github.com/Microsoft/go-winio"
)

// SYSTEM and the owner get full control, interactive users read.
const pipeSecurity = "D:P(A;;GA;;;SY)(A;;GA;;;OW)(A;;GR;;;IU)"

type pipeConn struct {
	net.Conn
	listener net.Listener
}

func (p *pipeConn) Close() error {
	err := p.Conn.Close()
	p.listener.Close()
	return err
}

// OpenPipe creates the named pipe at path and waits for one reader to
// connect. The returned writer closes the pipe when closed.
func OpenPipe(ctx context.Context, path string) (io.WriteCloser, error) {
	listener, err := winio.ListenPipe(path, &winio.PipeConfig{
		SecurityDescriptor: pipeSecurity,
		OutputBufferSize:   64 * 1024,
	})
	if err != nil {
		return nil, fmt.Errorf("listen pipe %s: %w", path, err)
	}
	log.Info("waiting for pipe reader", "pipe", path)

	type accepted struct {
		conn net.Conn
		err  error
	}
	ch := make(chan accepted, 1)
	go func() {
		conn, err := listener.Accept()
		ch <- accepted{conn, err}
	}()

	select {
	case <-ctx.Done():
		listener.Close()
		return nil, ctx.Err()
	case a := <-ch:
		if a.err != nil {
			listener.Close()
			return nil, fmt.Errorf("accept pipe %s: %w", path, a.err)
		}
		return &pipeConn{Conn: a.conn, listener: listener}, nil
	}
}
