// SPDX-FileCopyrightText: 2020, 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// sockcat connects stdin and stdout to a client or server, created from a connection string.
package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
)

// printUsage of sockcat and exit with an error code afterwards.
func printUsage() {
	_, _ = fmt.Fprintf(os.Stderr, "Usage of %s connect|listen:\n\n", os.Args[0])

	_, _ = fmt.Fprintf(os.Stderr, "%s connect connection-string\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  Connects to a server, e.g., \"protocol=tcp; server=localhost; port=8888\".\n")
	_, _ = fmt.Fprintf(os.Stderr, "  Each line of stdin is sent as a payload, received payloads are written to stdout.\n\n")

	_, _ = fmt.Fprintf(os.Stderr, "%s listen connection-string\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  Starts a server, e.g., \"protocol=udp; port=8888\". Each line of stdin is\n")
	_, _ = fmt.Fprintf(os.Stderr, "  broadcasted to all clients, received payloads are written to stdout.\n\n")

	_, _ = fmt.Fprintf(os.Stderr, "Keys of the engine's policy, e.g., \"handshake=true; passphrase=secret\", might be\n")
	_, _ = fmt.Fprintf(os.Stderr, "appended to the connection string. Set SOCKCAT_DEBUG for verbose logging.\n")

	os.Exit(1)
}

// printFatal of an error with a short context description and exits afterwards.
func printFatal(err error, msg string) {
	log.WithError(err).Fatal(msg)
}

func main() {
	if len(os.Args) != 3 {
		printUsage()
	}

	log.SetOutput(os.Stderr)
	if _, debug := os.LookupEnv("SOCKCAT_DEBUG"); debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.WarnLevel)
	}

	switch os.Args[1] {
	case "connect":
		runConnect(os.Args[2])

	case "listen":
		runListen(os.Args[2])

	default:
		printUsage()
	}
}
