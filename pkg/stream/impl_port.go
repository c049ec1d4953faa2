// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/sockline/pkg/engine"
)

// Port is a point-to-point byte stream without a listening side, e.g., a serial device or a file.
//
// Read might return io.EOF while no data is available. The Port is polled again until it is closed.
type Port interface {
	io.ReadWriteCloser
}

// Waiter is implemented by Ports which can signal new data after Read has returned io.EOF.
type Waiter interface {
	// Wait blocks until new data might be available or the context is done.
	Wait(ctx context.Context) error
}

// PortOpener opens a Port. It is called for each connection attempt.
type PortOpener func(ctx context.Context) (Port, error)

const (
	// portPollInterval is the delay between two reads of an idle Port without a Waiter.
	portPollInterval = 100 * time.Millisecond

	portBufferSize = 4096
)

// errNoListener is returned when starting a Server for a Port.
var errNoListener = errors.New("ports cannot be listened on")

type portAddr struct {
	network, address string
}

func (pa portAddr) Network() string { return pa.network }
func (pa portAddr) String() string  { return pa.address }

// portConn turns a polled Port into a Conn. A background pump moves the Port's data into a pipe, which is read by
// the session's receive loop; closing the portConn cancels the pump.
type portConn struct {
	port   Port
	addr   portAddr
	reader *io.PipeReader

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

func newPortConn(port Port, addr portAddr) *portConn {
	reader, writer := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())

	pc := &portConn{
		port:   port,
		addr:   addr,
		reader: reader,
		ctx:    ctx,
		cancel: cancel,
	}
	go pc.pump(writer)

	return pc
}

func (pc *portConn) pump(writer *io.PipeWriter) {
	buf := make([]byte, portBufferSize)

	for {
		n, err := pc.port.Read(buf)
		if n > 0 {
			if _, wErr := writer.Write(buf[:n]); wErr != nil {
				return
			}
		}

		switch {
		case pc.ctx.Err() != nil:
			_ = writer.Close()
			return

		case err == nil:
			continue

		case errors.Is(err, io.EOF):
			if waitErr := pc.wait(); waitErr != nil {
				if pc.ctx.Err() == nil {
					_ = writer.CloseWithError(waitErr)
				} else {
					_ = writer.Close()
				}
				return
			}

		default:
			log.WithError(err).WithField("port", pc.addr).Debug("Reading from port failed")
			_ = writer.CloseWithError(err)
			return
		}
	}
}

// wait for new data after an empty read.
func (pc *portConn) wait() error {
	if waiter, ok := pc.port.(Waiter); ok {
		return waiter.Wait(pc.ctx)
	}

	select {
	case <-time.After(portPollInterval):
		return nil
	case <-pc.ctx.Done():
		return pc.ctx.Err()
	}
}

func (pc *portConn) Read(p []byte) (int, error) {
	return pc.reader.Read(p)
}

func (pc *portConn) Write(p []byte) (int, error) {
	return pc.port.Write(p)
}

func (pc *portConn) Close() error {
	pc.closeOnce.Do(func() {
		pc.cancel()
		_ = pc.reader.Close()
		pc.closeErr = pc.port.Close()
	})
	return pc.closeErr
}

func (pc *portConn) RemoteAddr() net.Addr {
	return pc.addr
}

// portBacking dials Ports. It has no listening side and does not support handshakes.
type portBacking struct {
	name string
	open PortOpener
}

func (pb portBacking) scheme() string {
	return pb.name
}

func (pb portBacking) dial(ctx context.Context, address string, timeout time.Duration) (Conn, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	port, err := pb.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", address, err)
	}
	return newPortConn(port, portAddr{network: pb.name, address: address}), nil
}

func (pb portBacking) listen(string) (listener, error) {
	return nil, errNoListener
}

// NewPortClient creates a Client for a Port. The address names the Port, e.g., its device path, and the scheme its
// kind, e.g., "serial". Connecting fails with engine.ErrHandshakeUnsupported if the Policy requires a handshake.
func NewPortClient(scheme, address string, open PortOpener, policy *engine.Policy) *Client {
	return newClient(portBacking{name: scheme, open: open}, address, policy)
}
