// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package stream

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/sockline/pkg/codec"
	"github.com/dtn7/sockline/pkg/engine"
	"github.com/dtn7/sockline/pkg/transport"
)

// sendQueueSize is the number of payloads waiting for their transmission.
const sendQueueSize = 64

type sendRequest struct {
	data   []byte
	result chan error
}

// sessionConfig is a snapshot of the Policy at the time of establishing a session.
type sessionConfig struct {
	peer              uuid.UUID
	pipeline          codec.Pipeline
	marker            []byte
	payloadAware      bool
	receiveBufferSize int
	receiveTimeout    time.Duration
}

func newSessionConfig(policy *engine.Policy, peer uuid.UUID, key string) sessionConfig {
	return sessionConfig{
		peer:              peer,
		pipeline:          policy.Pipeline(key),
		marker:            policy.Marker(),
		payloadAware:      policy.PayloadAware(),
		receiveBufferSize: policy.ReceiveBufferSize(),
		receiveTimeout:    policy.ReceiveTimeout(),
	}
}

// sessionHandler receives a session's events. All methods are called from the session's receive loop.
type sessionHandler interface {
	// sessionStarted is called once as the session's first event.
	sessionStarted(s *session)

	sessionData(s *session, data []byte)
	sessionException(s *session, err error)
	sessionReceiveTimeout(s *session)

	// sessionClosed is called once as the session's last event. The error is nil for a regular shutdown.
	sessionClosed(s *session, err error)
}

// session is an established connection with its send queue and its receive loop.
type session struct {
	sessionConfig

	provider    *transport.Provider[Conn]
	handler     sessionHandler
	remote      string
	connectedAt time.Time

	sendQueue  chan sendRequest
	queueMutex sync.RWMutex
	stopped    bool

	timedOut uint32

	stopSyn  chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newSession(provider *transport.Provider[Conn], config sessionConfig, handler sessionHandler) *session {
	remote := ""
	if addr := provider.Conn().RemoteAddr(); addr != nil {
		remote = addr.String()
	}

	return &session{
		sessionConfig: config,
		provider:      provider,
		handler:       handler,
		remote:        remote,

		sendQueue: make(chan sendRequest, sendQueueSize),
		stopSyn:   make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// start the session's loops. The statistics are reset to exclude the handshake.
func (s *session) start() {
	s.provider.ResetStats()
	s.connectedAt = time.Now()

	go s.sender()
	go s.receiver()
}

func (s *session) log() *log.Entry {
	return log.WithFields(log.Fields{
		"peer":   s.peer,
		"remote": s.remote,
	})
}

func (s *session) stats() transport.Stats {
	return s.provider.Stats()
}

func (s *session) info() engine.PeerInfo {
	return engine.PeerInfo{
		ID:            s.peer,
		RemoteAddress: s.remote,
		ConnectedAt:   s.connectedAt,
		Stats:         s.stats(),
	}
}

// checkPayloadSize rejects payloads which cannot be framed.
func checkPayloadSize(data []byte, marker []byte) error {
	if size := len(data) + codec.HeaderSize(marker); size > codec.MaxPayloadSize {
		return engine.PayloadTooLarge(size, codec.MaxPayloadSize)
	}
	return nil
}

// frame a payload for its transmission.
func (s *session) frame(data []byte) ([]byte, error) {
	if err := checkPayloadSize(data, s.marker); err != nil {
		return nil, err
	}

	if !s.payloadAware {
		return data, nil
	}

	processed, err := s.pipeline.Transmit(data)
	if err != nil {
		return nil, err
	}

	framed := codec.AddHeader(processed, s.marker)
	if len(framed) > codec.MaxPayloadSize {
		return nil, engine.PayloadTooLarge(len(framed), codec.MaxPayloadSize)
	}
	return framed, nil
}

// sendAsync enqueues a payload. Payloads are transmitted in the order of their enqueuing.
func (s *session) sendAsync(data []byte) <-chan error {
	result := make(chan error, 1)

	framed, err := s.frame(data)
	if err != nil {
		result <- err
		return result
	}

	s.queueMutex.RLock()
	defer s.queueMutex.RUnlock()

	if s.stopped {
		result <- engine.ErrNotConnected
		return result
	}

	select {
	case s.sendQueue <- sendRequest{data: framed, result: result}:
	case <-s.stopSyn:
		result <- engine.ErrNotConnected
	}
	return result
}

func (s *session) sender() {
	for {
		select {
		case <-s.stopSyn:
			return

		case req := <-s.sendQueue:
			pending := s.provider.WaitAsync(0, nil)
			n, err := s.provider.Conn().Write(req.data)
			if !s.provider.CompleteSend(pending, n) && err == nil {
				err = engine.ErrNotConnected
			}
			req.result <- err

			if err != nil {
				s.log().WithError(err).Debug("Sending failed, closing session")
				s.close()
				return
			}

			s.log().WithField("bytes", n).Debug("Sent payload")
		}
	}
}

// Read from the connection, guarded by the receive timeout. This is the receive loop's io.Reader.
func (s *session) Read(p []byte) (int, error) {
	return transport.ReadWithTimeout(s.provider, p, s.receiveTimeout, func() {
		atomic.StoreUint32(&s.timedOut, 1)
		s.provider.Reset()
	})
}

func (s *session) isStopped() bool {
	select {
	case <-s.stopSyn:
		return true
	default:
		return false
	}
}

func (s *session) receiver() {
	var cause error
	defer func() {
		s.close()
		s.handler.sessionClosed(s, cause)
		close(s.done)
	}()

	s.handler.sessionStarted(s)

	acc := codec.NewAccumulator(s, s.marker, s.receiveBufferSize)
	resumed := false

	for {
		var data []byte
		var err error
		if s.payloadAware {
			data, err = acc.Next()
		} else {
			data, err = acc.ReadRaw()
		}

		switch {
		case err == nil:
			resumed = false

			if s.payloadAware {
				if data, err = s.pipeline.Receive(data); err != nil {
					s.log().WithError(err).Warn("Dropping unprocessable payload")
					s.handler.sessionException(s, err)
					continue
				}
			}

			s.log().WithField("bytes", len(data)).Debug("Received payload")
			s.handler.sessionData(s, data)

		case atomic.LoadUint32(&s.timedOut) == 1:
			s.log().Info("Receive timeout expired")
			s.handler.sessionReceiveTimeout(s)
			cause = engine.ErrReceiveTimeout
			return

		case s.isStopped(), errors.Is(err, transport.ErrStale):
			return

		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			s.log().Debug("Peer closed the connection")
			return

		case !resumed:
			s.log().WithError(err).Warn("Receiving failed, resuming")
			s.handler.sessionException(s, err)
			acc.Reset()
			resumed = true

		default:
			s.log().WithError(err).Warn("Receiving failed again, closing session")
			cause = fmt.Errorf("receiving failed: %w", err)
			return
		}
	}
}

// close the session's connection and fail all waiting payloads. Multiple calls are safe.
func (s *session) close() {
	s.stopOnce.Do(func() {
		close(s.stopSyn)
		s.provider.Reset()

		s.queueMutex.Lock()
		s.stopped = true
		s.queueMutex.Unlock()

		for {
			select {
			case req := <-s.sendQueue:
				req.result <- engine.ErrNotConnected
			default:
				return
			}
		}
	})
}

// closeAndWait closes the session and waits for its final event.
func (s *session) closeAndWait() {
	s.close()
	<-s.done
}
