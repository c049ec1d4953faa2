// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package serial connects to a peer over a serial port, optionally through a rf95modem for LoRa.
//
// A serial link has no listening side and no handshake; both ends act as a client.
package serial

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tarm/serial"

	"github.com/dtn7/sockline/pkg/connstring"
	"github.com/dtn7/sockline/pkg/engine"
	"github.com/dtn7/sockline/pkg/stream"
)

// readTimeout bounds each read, allowing the background reader to check for its cancellation.
const readTimeout = 100 * time.Millisecond

// NewClient for a serial port. The Policy is cloned; a nil Policy results in the defaults.
func NewClient(config connstring.Serial, policy *engine.Policy) *stream.Client {
	return stream.NewPortClient("serial", config.Port, opener(config), policy)
}

func opener(config connstring.Serial) stream.PortOpener {
	if config.Modem == "rf95" {
		return func(context.Context) (stream.Port, error) {
			return openModem(config.Port)
		}
	}

	return func(context.Context) (stream.Port, error) {
		c, err := portConfig(config)
		if err != nil {
			return nil, err
		}

		log.WithFields(log.Fields{
			"port":      c.Name,
			"baud":      c.Baud,
			"parity":    config.Parity,
			"stop bits": c.StopBits,
			"data bits": c.Size,
		}).Debug("Opening serial port")

		return serial.OpenPort(c)
	}
}

// portConfig translates a connection string's configuration into the serial library's one.
func portConfig(config connstring.Serial) (*serial.Config, error) {
	c := &serial.Config{
		Name:        config.Port,
		Baud:        config.BaudRate,
		ReadTimeout: readTimeout,
	}

	if config.DataBits < 5 || config.DataBits > 8 {
		return nil, fmt.Errorf("%w: %d data bits", connstring.ErrInvalidValue, config.DataBits)
	}
	c.Size = byte(config.DataBits)

	switch config.Parity {
	case connstring.ParityNone, "":
		c.Parity = serial.ParityNone
	case connstring.ParityOdd:
		c.Parity = serial.ParityOdd
	case connstring.ParityEven:
		c.Parity = serial.ParityEven
	case connstring.ParityMark:
		c.Parity = serial.ParityMark
	case connstring.ParitySpace:
		c.Parity = serial.ParitySpace
	default:
		return nil, fmt.Errorf("%w: parity %s", connstring.ErrInvalidValue, config.Parity)
	}

	switch config.StopBits {
	case connstring.StopBitsOne, "":
		c.StopBits = serial.Stop1
	case connstring.StopBitsOnePointFive:
		c.StopBits = serial.Stop1Half
	case connstring.StopBitsTwo:
		c.StopBits = serial.Stop2
	case connstring.StopBitsNone:
		log.WithField("port", config.Port).Warn("Stop bits of None are not supported, using One")
		c.StopBits = serial.Stop1
	default:
		return nil, fmt.Errorf("%w: stop bits %s", connstring.ErrInvalidValue, config.StopBits)
	}

	if config.DtrEnable || config.RtsEnable {
		log.WithFields(log.Fields{
			"port": config.Port,
			"dtr":  config.DtrEnable,
			"rts":  config.RtsEnable,
		}).Warn("DTR and RTS control lines are not supported and stay at their defaults")
	}

	return c, nil
}
