// SPDX-FileCopyrightText: 2020, 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/sockline/pkg/engine"
	"github.com/dtn7/sockline/pkg/factory"
)

// lines of an input are passed to the returned channel, which is closed at EOF.
func lines(r io.Reader) <-chan []byte {
	c := make(chan []byte)

	go func() {
		defer close(c)

		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			line := make([]byte, len(scanner.Bytes()))
			copy(line, scanner.Bytes())
			c <- line
		}
		if err := scanner.Err(); err != nil {
			log.WithError(err).Warn("Reading input errored")
		}
	}()

	return c
}

// printStatus writes received payloads to w and logs all other Status messages. It returns false for a
// Disconnected client.
func printStatus(w io.Writer, status engine.Status) bool {
	entry := log.WithFields(log.Fields{
		"type": status.Type,
		"peer": status.Peer,
	})
	if status.Err != nil {
		entry = entry.WithError(status.Err)
	}

	switch status.Type {
	case engine.DataReceived:
		if _, err := fmt.Fprintf(w, "%s\n", status.Data); err != nil {
			entry.WithError(err).Warn("Writing payload errored")
		}

	case engine.PeerDisconnected:
		entry.Info("Disconnected")
		_, isClient := status.Sender.(engine.Client)
		return !isClient

	default:
		entry.Info("Received status")
	}
	return true
}

// runConnect for the "connect" CLI option.
func runConnect(conn string) {
	client, err := factory.NewClient(conn, nil)
	if err != nil {
		printFatal(err, "Creating client errored")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	connected := client.ConnectAsync(ctx)
	input := lines(os.Stdin)

	for {
		select {
		case err := <-connected:
			connected = nil
			if err != nil {
				_ = client.Close()
				if ctx.Err() != nil {
					return
				}
				printFatal(err, "Connecting errored")
			}

		case status, ok := <-client.Channel():
			if !ok || !printStatus(os.Stdout, status) {
				_ = client.Close()
				return
			}

		case line, ok := <-input:
			if !ok {
				_ = client.Close()
				return
			}
			if err := client.Send(line); err != nil {
				log.WithError(err).Warn("Sending errored")
			}

		case <-ctx.Done():
			_ = client.Close()
			return
		}
	}
}

// runListen for the "listen" CLI option.
func runListen(conn string) {
	server, err := factory.NewServer(conn, nil)
	if err != nil {
		printFatal(err, "Creating server errored")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	started := make(chan error, 1)
	go func() { started <- server.Start() }()

	input := lines(os.Stdin)

	for {
		select {
		case err := <-started:
			started = nil
			if err != nil {
				_ = server.Close()
				printFatal(err, "Starting server errored")
			}
			log.WithField("server", server).Info("Listening")

		case status, ok := <-server.Channel():
			if !ok {
				return
			}
			printStatus(os.Stdout, status)

		case line, ok := <-input:
			if !ok {
				input = nil
				continue
			}
			if err := server.Broadcast(line); err != nil {
				log.WithError(err).Warn("Broadcasting errored")
			}

		case <-ctx.Done():
			if err := server.Stop(); err != nil {
				log.WithError(err).Warn("Stopping server errored")
			}
			_ = server.Close()
			return
		}
	}
}
