// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package transport binds a connection primitive to its traffic statistics and pending operations.
package transport

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// Stats are the cumulative traffic statistics of a Provider.
type Stats struct {
	BytesSent     uint64 `json:"bytes_sent"`
	BytesReceived uint64 `json:"bytes_received"`
}

func (s Stats) String() string {
	return fmt.Sprintf("sent=%d,received=%d", s.BytesSent, s.BytesReceived)
}

// Provider owns a connection primitive, e.g., a net.Conn, a serial port or a file, for exactly one session.
// A new Provider must be created for each connection attempt; a Provider is never reused after Reset.
type Provider[T io.Closer] struct {
	bytesSent     uint64
	bytesReceived uint64

	// generation is increased on Reset, invalidating all Pending operations.
	generation uint64

	conn T

	resetOnce sync.Once
	closed    uint32
}

// NewProvider for a freshly established connection primitive.
func NewProvider[T io.Closer](conn T) *Provider[T] {
	return &Provider[T]{conn: conn}
}

// Conn returns the wrapped connection primitive.
func (p *Provider[T]) Conn() T {
	return p.conn
}

// Stats returns a snapshot of the traffic statistics.
func (p *Provider[T]) Stats() Stats {
	return Stats{
		BytesSent:     atomic.LoadUint64(&p.bytesSent),
		BytesReceived: atomic.LoadUint64(&p.bytesReceived),
	}
}

// AddSent increases the sent bytes counter.
func (p *Provider[T]) AddSent(n int) {
	atomic.AddUint64(&p.bytesSent, uint64(n))
}

// AddReceived increases the received bytes counter.
func (p *Provider[T]) AddReceived(n int) {
	atomic.AddUint64(&p.bytesReceived, uint64(n))
}

// ResetStats zeroes both counters.
func (p *Provider[T]) ResetStats() {
	atomic.StoreUint64(&p.bytesSent, 0)
	atomic.StoreUint64(&p.bytesReceived, 0)
}

// Closed reports if Reset was called.
func (p *Provider[T]) Closed() bool {
	return atomic.LoadUint32(&p.closed) == 1
}

// Reset releases the connection primitive, clears the statistics, and invalidates all Pending operations.
// Errors on closing are swallowed. Multiple calls are safe.
func (p *Provider[T]) Reset() {
	p.resetOnce.Do(func() {
		atomic.StoreUint32(&p.closed, 1)
		atomic.AddUint64(&p.generation, 1)

		func() {
			defer func() { _ = recover() }()
			_ = p.conn.Close()
		}()

		p.ResetStats()
	})
}

// CompleteReceive finishes a Pending receive operation of n bytes. The statistics are only updated if the
// operation is still current; false indicates stale data which must be discarded.
func (p *Provider[T]) CompleteReceive(pd *Pending, n int) bool {
	if !pd.Complete() {
		return false
	}
	p.AddReceived(n)
	return true
}

// CompleteSend is CompleteReceive's counterpart for sending.
func (p *Provider[T]) CompleteSend(pd *Pending, n int) bool {
	if !pd.Complete() {
		return false
	}
	p.AddSent(n)
	return true
}
