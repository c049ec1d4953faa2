// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package statusapi

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	subscriberQueueSize = 64
	writeTimeout        = 5 * time.Second
)

// subscriber is a WebSocket connection receiving Events.
type subscriber struct {
	conn   *websocket.Conn
	events chan Event

	closeSyn     chan struct{}
	shutdownOnce sync.Once
}

func newSubscriber(conn *websocket.Conn) *subscriber {
	return &subscriber{
		conn:     conn,
		events:   make(chan Event, subscriberQueueSize),
		closeSyn: make(chan struct{}),
	}
}

func (sub *subscriber) log() *log.Entry {
	return log.WithField("subscriber", sub.conn.RemoteAddr().String())
}

// start the writer and block until the connection is closed.
func (sub *subscriber) start() {
	go sub.handleWriter()
	sub.handleConn()
}

func (sub *subscriber) shutdown() {
	sub.shutdownOnce.Do(func() {
		sub.log().Debug("Closing subscriber")

		close(sub.closeSyn)
		_ = sub.conn.Close()
	})
}

// offer an Event without blocking.
func (sub *subscriber) offer(event Event) {
	select {
	case sub.events <- event:
	case <-sub.closeSyn:
	default:
		sub.log().WithField("event", event.Type).Debug("Subscriber is too slow, dropping event")
	}
}

func (sub *subscriber) handleWriter() {
	defer sub.shutdown()

	for {
		select {
		case <-sub.closeSyn:
			return

		case event := <-sub.events:
			if err := sub.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if err := sub.conn.WriteJSON(event); err != nil {
				sub.log().WithError(err).Debug("Writing event errored")
				return
			}
		}
	}
}

// handleConn reads, and discards, incoming messages to detect a closed connection.
func (sub *subscriber) handleConn() {
	defer sub.shutdown()

	for {
		if _, _, err := sub.conn.NextReader(); err != nil {
			select {
			case <-sub.closeSyn:
			default:
				sub.log().WithError(err).Debug("Subscriber disconnected")
			}
			return
		}
	}
}
