// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package stream implements clients and servers on top of reliable byte streams, i.e., TCP connections or QUIC
// streams.
//
// Each established connection is a session with its own send queue and receive loop. In payload-aware mode, each
// payload is processed by the Policy's pipeline and framed by a header; the receive loop reassembles payloads from
// arbitrarily segmented reads. Otherwise, payloads are written as they are and each read is delivered directly.
package stream

import (
	"context"
	"errors"
	"io"
	"net"
	"time"
)

// Conn is a bidirectional byte stream to a peer.
type Conn interface {
	io.ReadWriteCloser

	RemoteAddr() net.Addr
}

// errAcceptTimeout is returned by a listener's accept to allow checking for a shutdown.
var errAcceptTimeout = errors.New("accept timed out")

// acceptTimeout bounds each accept call of a listener.
const acceptTimeout = 50 * time.Millisecond

// listener accepts new Conns.
type listener interface {
	// accept the next Conn or return errAcceptTimeout after acceptTimeout.
	accept() (Conn, error)

	close() error

	addr() net.Addr
}

// backing creates Conns and listeners of one protocol.
type backing interface {
	// scheme is used as the prefix of an engine's address, e.g., "tcp".
	scheme() string

	dial(ctx context.Context, address string, timeout time.Duration) (Conn, error)

	listen(address string) (listener, error)
}
