// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package serial

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/tarm/serial"

	"github.com/dtn7/sockline/pkg/connstring"
	"github.com/dtn7/sockline/pkg/engine"
)

func TestPortConfig(t *testing.T) {
	tests := []struct {
		config   connstring.Serial
		parity   serial.Parity
		stopBits serial.StopBits
		err      error
	}{
		{connstring.Serial{Port: "/dev/ttyS0", BaudRate: 9600, DataBits: 8},
			serial.ParityNone, serial.Stop1, nil},
		{connstring.Serial{Port: "/dev/ttyS0", BaudRate: 9600, DataBits: 7,
			Parity: connstring.ParityEven, StopBits: connstring.StopBitsTwo},
			serial.ParityEven, serial.Stop2, nil},
		{connstring.Serial{Port: "/dev/ttyS0", BaudRate: 9600, DataBits: 8,
			Parity: connstring.ParityMark, StopBits: connstring.StopBitsOnePointFive},
			serial.ParityMark, serial.Stop1Half, nil},
		{connstring.Serial{Port: "/dev/ttyS0", BaudRate: 9600, DataBits: 8,
			Parity: connstring.ParitySpace, StopBits: connstring.StopBitsNone, DtrEnable: true},
			serial.ParitySpace, serial.Stop1, nil},
		{connstring.Serial{Port: "/dev/ttyS0", BaudRate: 9600, DataBits: 9},
			0, 0, connstring.ErrInvalidValue},
		{connstring.Serial{Port: "/dev/ttyS0", BaudRate: 9600, DataBits: 8, Parity: "Sometimes"},
			0, 0, connstring.ErrInvalidValue},
	}

	for _, test := range tests {
		c, err := portConfig(test.config)
		switch {
		case test.err != nil:
			if !errors.Is(err, test.err) {
				t.Fatalf("%v resulted in %v, expected %v", test.config, err, test.err)
			}

		case err != nil:
			t.Fatalf("%v resulted in %v", test.config, err)

		default:
			if c.Name != test.config.Port || c.Baud != test.config.BaudRate || int(c.Size) != test.config.DataBits {
				t.Fatalf("%v resulted in %v", test.config, c)
			}
			if c.Parity != test.parity || c.StopBits != test.stopBits {
				t.Fatalf("%v resulted in parity %v and stop bits %v", test.config, c.Parity, c.StopBits)
			}
			if c.ReadTimeout != readTimeout {
				t.Fatalf("Read timeout is %v", c.ReadTimeout)
			}
		}
	}
}

// packetModem delivers its packets one by one and records written packets.
type packetModem struct {
	mtu     int
	packets [][]byte
	written [][]byte
}

func (pm *packetModem) Read(p []byte) (int, error) {
	if len(pm.packets) == 0 {
		return 0, errors.New("no more packets")
	}

	packet := pm.packets[0]
	pm.packets = pm.packets[1:]
	return copy(p, packet), nil
}

func (pm *packetModem) Write(p []byte) (int, error) {
	if len(p) > pm.mtu {
		return 0, errors.New("packet exceeds MTU")
	}
	pm.written = append(pm.written, append([]byte(nil), p...))
	return len(p), nil
}

func (pm *packetModem) Close() error {
	return nil
}

func (pm *packetModem) Mtu() (int, error) {
	return pm.mtu, nil
}

func TestModemPortWrite(t *testing.T) {
	m := &packetModem{mtu: 4}
	mp, err := newModemPort("/dev/null", m)
	if err != nil {
		t.Fatal(err)
	}

	data := []byte("0123456789")
	if n, err := mp.Write(data); err != nil {
		t.Fatal(err)
	} else if n != len(data) {
		t.Fatalf("Wrote %d bytes", n)
	}

	if len(m.written) != 3 {
		t.Fatalf("Modem sent %d packets", len(m.written))
	}
	if joined := bytes.Join(m.written, nil); !bytes.Equal(joined, data) {
		t.Fatalf("Modem sent %q", joined)
	}
}

func TestModemPortRead(t *testing.T) {
	m := &packetModem{mtu: 8, packets: [][]byte{[]byte("hello"), []byte("world")}}
	mp, err := newModemPort("/dev/null", m)
	if err != nil {
		t.Fatal(err)
	}

	var received []byte
	buf := make([]byte, 3)
	for len(received) < 10 {
		n, err := mp.Read(buf)
		if err != nil {
			t.Fatal(err)
		}
		received = append(received, buf[:n]...)
	}

	if string(received) != "helloworld" {
		t.Fatalf("Received %q", received)
	}
	if _, err := mp.Read(buf); err == nil {
		t.Fatal("Reading beyond the last packet succeeded")
	}
}

func TestModemPortInvalidMtu(t *testing.T) {
	if _, err := newModemPort("/dev/null", &packetModem{}); err == nil {
		t.Fatal("Modem without MTU was accepted")
	}
}

func TestClientMissingPort(t *testing.T) {
	policy := engine.NewPolicy()
	if err := policy.SetMaxConnectionAttempts(1); err != nil {
		t.Fatal(err)
	}

	device := filepath.Join(t.TempDir(), "ttyMissing")
	client := NewClient(connstring.Serial{Port: device, BaudRate: 9600, DataBits: 8}, policy)
	defer client.Close()

	go func() {
		for range client.Channel() {
		}
	}()

	if addr := client.Address(); addr != "serial://"+device {
		t.Fatalf("Address is %s", addr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err == nil {
		t.Fatal("Opening a missing serial port succeeded")
	}
	if state := client.State(); state != engine.Disconnected {
		t.Fatalf("Client is %v", state)
	}
}
