// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package serial

import (
	"fmt"
	"io"

	"github.com/dtn7/rf95modem-go/rf95"
	log "github.com/sirupsen/logrus"
)

// modem is a packet radio which transmits packets of at most Mtu bytes.
type modem interface {
	io.ReadWriteCloser

	Mtu() (int, error)
}

// modemPort transmits a byte stream over a modem by splitting it into packets.
type modemPort struct {
	device string
	modem  modem
	mtu    int

	// pending holds the rest of a received packet which did not fit into the last read.
	pending []byte
}

func openModem(device string) (*modemPort, error) {
	m, err := rf95.OpenSerial(device)
	if err != nil {
		return nil, err
	}

	mp, err := newModemPort(device, m)
	if err != nil {
		_ = m.Close()
		return nil, err
	}

	if status, statusErr := m.FetchStatus(); statusErr == nil {
		log.WithFields(log.Fields{
			"device":    device,
			"frequency": status.Frequency,
			"mode":      status.Mode,
			"mtu":       mp.mtu,
		}).Info("Opened rf95modem")
	}

	return mp, nil
}

func newModemPort(device string, m modem) (*modemPort, error) {
	mtu, err := m.Mtu()
	if err != nil {
		return nil, err
	} else if mtu <= 0 {
		return nil, fmt.Errorf("modem %s reports an MTU of %d", device, mtu)
	}

	return &modemPort{
		device: device,
		modem:  m,
		mtu:    mtu,
	}, nil
}

func (mp *modemPort) Read(p []byte) (int, error) {
	if len(mp.pending) == 0 {
		buf := make([]byte, mp.mtu)
		n, err := mp.modem.Read(buf)
		if err != nil {
			return 0, err
		}
		mp.pending = buf[:n]
	}

	n := copy(p, mp.pending)
	mp.pending = mp.pending[n:]
	return n, nil
}

func (mp *modemPort) Write(p []byte) (n int, err error) {
	for n < len(p) {
		end := n + mp.mtu
		if end > len(p) {
			end = len(p)
		}

		var m int
		m, err = mp.modem.Write(p[n:end])
		n += m
		if err != nil {
			return
		}
	}
	return
}

func (mp *modemPort) Close() error {
	return mp.modem.Close()
}

func (mp *modemPort) String() string {
	return fmt.Sprintf("rf95modem%s", mp.device)
}
