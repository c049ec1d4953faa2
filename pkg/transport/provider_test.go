// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"errors"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"
)

type dummyConn struct {
	closed int32
}

func (dc *dummyConn) Close() error {
	atomic.AddInt32(&dc.closed, 1)
	return errors.New("dummy close error")
}

func TestProviderReset(t *testing.T) {
	conn := &dummyConn{}
	p := NewProvider(conn)

	p.AddSent(23)
	p.AddReceived(42)

	if s := p.Stats(); s.BytesSent != 23 || s.BytesReceived != 42 {
		t.Fatalf("Stats are wrong: %v", s)
	}

	p.Reset()
	p.Reset()

	if c := atomic.LoadInt32(&conn.closed); c != 1 {
		t.Fatalf("Connection was closed %d times", c)
	}
	if s := p.Stats(); s != (Stats{}) {
		t.Fatalf("Stats were not reset: %v", s)
	}
	if !p.Closed() {
		t.Fatal("Provider is not marked as closed")
	}
}

func TestPendingCompleteBeforeTimeout(t *testing.T) {
	p := NewProvider(&dummyConn{})

	var fired int32
	pd := p.WaitAsync(100*time.Millisecond, func() { atomic.StoreInt32(&fired, 1) })

	if !p.CompleteReceive(pd, 10) {
		t.Fatal("Completion before the timeout was considered stale")
	}

	time.Sleep(200 * time.Millisecond)

	if atomic.LoadInt32(&fired) != 0 {
		t.Fatal("Timeout fired after completion")
	}
	if s := p.Stats(); s.BytesReceived != 10 {
		t.Fatalf("Stats are wrong: %v", s)
	}
}

func TestPendingLateCompletion(t *testing.T) {
	p := NewProvider(&dummyConn{})

	timeout := make(chan struct{})
	pd := p.WaitAsync(10*time.Millisecond, func() { close(timeout) })

	select {
	case <-timeout:
	case <-time.After(time.Second):
		t.Fatal("Timeout did not fire")
	}

	if !pd.Expired() {
		t.Fatal("Pending is not marked as expired")
	}
	if p.CompleteReceive(pd, 10) {
		t.Fatal("Late completion was not considered stale")
	}
	if s := p.Stats(); s.BytesReceived != 0 {
		t.Fatalf("Late completion updated the stats: %v", s)
	}
}

func TestPendingAfterReset(t *testing.T) {
	p := NewProvider(&dummyConn{})

	pd := p.WaitAsync(0, nil)
	p.Reset()

	if pd.Complete() {
		t.Fatal("Completion after Reset was not considered stale")
	}
}

func TestReadWithTimeout(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c2.Close()

	p := NewProvider[net.Conn](c1)

	go func() { _, _ = c2.Write([]byte("ok")) }()

	buf := make([]byte, 8)
	if n, err := ReadWithTimeout(p, buf, time.Second, p.Reset); err != nil || string(buf[:n]) != "ok" {
		t.Fatalf("Read returned %q, %v", buf[:n], err)
	}

	if n, err := ReadWithTimeout(p, buf, 50*time.Millisecond, p.Reset); !errors.Is(err, ErrStale) {
		t.Fatalf("Timed out read returned %d, %v", n, err)
	}

	if _, err := c1.Read(buf); err != io.ErrClosedPipe {
		t.Fatalf("Connection was not closed by the timeout: %v", err)
	}
}
