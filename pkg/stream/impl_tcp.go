// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/dtn7/sockline/pkg/connstring"
	"github.com/dtn7/sockline/pkg/engine"
)

type tcpBacking struct{}

func (tcpBacking) scheme() string {
	return "tcp"
}

func (tcpBacking) dial(ctx context.Context, address string, timeout time.Duration) (Conn, error) {
	return dialTCP(ctx, address, timeout)
}

func (tcpBacking) listen(address string) (listener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return nil, err
	}

	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, err
	}
	return &tcpListener{ln}, nil
}

type tcpListener struct {
	ln *net.TCPListener
}

func (tl *tcpListener) accept() (Conn, error) {
	if err := tl.ln.SetDeadline(time.Now().Add(acceptTimeout)); err != nil {
		return nil, err
	}

	conn, err := tl.ln.Accept()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, errAcceptTimeout
		}
		return nil, err
	}
	return conn, nil
}

func (tl *tcpListener) close() error {
	return tl.ln.Close()
}

func (tl *tcpListener) addr() net.Addr {
	return tl.ln.Addr()
}

// NewTCPClient creates a new Client for a TCP server. The Policy is cloned; a nil Policy results in the defaults.
func NewTCPClient(config connstring.TCPClient, policy *engine.Policy) *Client {
	return newClient(tcpBacking{}, config.Address(), policy)
}

// NewTCPServer creates a new Server, listening on a TCP port after being started.
func NewTCPServer(config connstring.TCPServer, policy *engine.Policy) *Server {
	return newServer(tcpBacking{}, config.Address(), policy)
}
