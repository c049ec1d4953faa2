// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"io"
	"sync/atomic"
	"time"
)

const (
	pendingOpen uint32 = iota
	pendingCompleted
	pendingExpired
)

// Pending is an in-flight operation guarded by a timeout. Exactly one of completion and expiry wins; a completion
// arriving after the expiry, or after the Provider's Reset, is reported as stale.
type Pending struct {
	generation    uint64
	generationRef *uint64

	state uint32

	timer *time.Timer
}

// WaitAsync registers a watchdog for an operation which is about to start. If the operation is not completed
// within the timeout, onTimeout is called from another goroutine. A non-positive timeout disables the watchdog.
func (p *Provider[T]) WaitAsync(timeout time.Duration, onTimeout func()) *Pending {
	pd := &Pending{
		generation:    atomic.LoadUint64(&p.generation),
		generationRef: &p.generation,
	}

	if timeout > 0 {
		pd.timer = time.AfterFunc(timeout, func() {
			if atomic.CompareAndSwapUint32(&pd.state, pendingOpen, pendingExpired) && onTimeout != nil {
				onTimeout()
			}
		})
	}

	return pd
}

// Complete marks the operation as done. False is returned if the operation has already expired or its Provider
// was reset in the meantime.
func (pd *Pending) Complete() bool {
	if !atomic.CompareAndSwapUint32(&pd.state, pendingOpen, pendingCompleted) {
		return false
	}

	if pd.timer != nil {
		pd.timer.Stop()
	}

	return atomic.LoadUint64(pd.generationRef) == pd.generation
}

// Expired reports if the watchdog fired before a completion.
func (pd *Pending) Expired() bool {
	return atomic.LoadUint32(&pd.state) == pendingExpired
}

// ReadWithTimeout performs a single blocking read guarded by a watchdog. On expiry, onTimeout is called, which
// should unblock the read, e.g., by closing the connection. The read's result is discarded if it is stale.
func ReadWithTimeout[T io.ReadCloser](p *Provider[T], buf []byte, timeout time.Duration, onTimeout func()) (int, error) {
	pd := p.WaitAsync(timeout, onTimeout)

	n, err := p.Conn().Read(buf)
	if !p.CompleteReceive(pd, n) {
		return 0, ErrStale
	}
	return n, err
}
