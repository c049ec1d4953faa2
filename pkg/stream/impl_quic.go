// SPDX-FileCopyrightText: 2022 Markus Sommer
// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package stream

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"io"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/lucas-clemente/quic-go"

	"github.com/dtn7/sockline/pkg/connstring"
	"github.com/dtn7/sockline/pkg/engine"
)

const (
	quicProtocol = "sockline"

	// quicShutdown is the application error code when closing a connection.
	quicShutdown quic.ApplicationErrorCode = 0
)

// quicTLSConfig generates a bare-bones TLS config with a self-signed certificate for the listener.
func quicTLSConfig() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}

	template := x509.Certificate{SerialNumber: big.NewInt(1)}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})

	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{tlsCert},
		NextProtos:   []string{quicProtocol},
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// quicDialerTLSConfig does not verify the listener's self-signed certificate. Peers are authenticated by the
// handshake's passphrase instead.
func quicDialerTLSConfig() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{quicProtocol},
	}
}

func quicConfig(handshakeTimeout time.Duration) *quic.Config {
	return &quic.Config{
		HandshakeIdleTimeout: handshakeTimeout,
		KeepAlivePeriod:      1 * time.Second,
		MaxIdleTimeout:       5 * time.Second,
		EnableDatagrams:      false,
		MaxIncomingStreams:   1,
	}
}

// quicConn is a single bidirectional stream of a QUIC connection.
//
// The passive side accepts the stream on its first usage, because a QUIC stream is announced with its first frame.
type quicConn struct {
	conn quic.Connection

	stream     quic.Stream
	streamOnce sync.Once
	streamErr  error
}

func (qc *quicConn) awaitStream() error {
	qc.streamOnce.Do(func() {
		if qc.stream == nil {
			qc.stream, qc.streamErr = qc.conn.AcceptStream(context.Background())
		}
	})
	return qc.streamErr
}

// closedByPeer translates the peer's regular shutdown into io.EOF.
func closedByPeer(err error) error {
	var appErr *quic.ApplicationError
	if errors.As(err, &appErr) && appErr.Remote && appErr.ErrorCode == quicShutdown {
		return io.EOF
	}
	return err
}

func (qc *quicConn) Read(p []byte) (int, error) {
	if err := qc.awaitStream(); err != nil {
		return 0, closedByPeer(err)
	}

	n, err := qc.stream.Read(p)
	return n, closedByPeer(err)
}

func (qc *quicConn) Write(p []byte) (int, error) {
	if err := qc.awaitStream(); err != nil {
		return 0, err
	}
	return qc.stream.Write(p)
}

func (qc *quicConn) Close() error {
	return qc.conn.CloseWithError(quicShutdown, "closed")
}

func (qc *quicConn) RemoteAddr() net.Addr {
	return qc.conn.RemoteAddr()
}

type quicBacking struct{}

func (quicBacking) scheme() string {
	return "quic"
}

func (quicBacking) dial(ctx context.Context, address string, timeout time.Duration) (Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := quic.DialAddrContext(dialCtx, address, quicDialerTLSConfig(), quicConfig(timeout))
	if err != nil {
		return nil, err
	}

	stream, err := conn.OpenStreamSync(dialCtx)
	if err != nil {
		_ = conn.CloseWithError(quicShutdown, "stream failed")
		return nil, err
	}

	qc := &quicConn{conn: conn, stream: stream}
	qc.streamOnce.Do(func() {})
	return qc, nil
}

func (quicBacking) listen(address string) (listener, error) {
	tlsConf, err := quicTLSConfig()
	if err != nil {
		return nil, err
	}

	ln, err := quic.ListenAddr(address, tlsConf, quicConfig(engine.DefaultHandshakeTimeout))
	if err != nil {
		return nil, err
	}
	return &quicListener{ln}, nil
}

type quicListener struct {
	ln quic.Listener
}

func (ql *quicListener) accept() (Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), acceptTimeout)
	defer cancel()

	conn, err := ql.ln.Accept(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, errAcceptTimeout
		}
		return nil, err
	}
	return &quicConn{conn: conn}, nil
}

func (ql *quicListener) close() error {
	return ql.ln.Close()
}

func (ql *quicListener) addr() net.Addr {
	return ql.ln.Addr()
}

// NewQUICClient creates a new Client using one QUIC stream as its connection.
func NewQUICClient(config connstring.TCPClient, policy *engine.Policy) *Client {
	return newClient(quicBacking{}, config.Address(), policy)
}

// NewQUICServer creates a new Server accepting QUIC connections on a UDP port.
func NewQUICServer(config connstring.TCPServer, policy *engine.Policy) *Server {
	return newServer(quicBacking{}, config.Address(), policy)
}
