// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// sockd supervises servers and clients described by a TOML configuration. Received payloads and state changes are
// logged and, optionally, published by a status API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/sockline/pkg/statusapi"
)

// statusServer binds the status API to a HTTP server.
type statusServer struct {
	api    *statusapi.API
	server *http.Server
}

func newStatusServer(listen, prefix string, source statusapi.Source) *statusServer {
	r := mux.NewRouter()

	router := r
	if prefix != "" {
		router = r.PathPrefix(prefix).Subrouter()
	}

	ss := &statusServer{
		api: statusapi.NewAPI(router, source),
		server: &http.Server{
			Addr:    listen,
			Handler: r,
		},
	}

	go func() {
		if err := ss.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).WithField("listen", listen).Error("Status API's HTTP server failed")
		}
	}()

	log.WithField("listen", listen).Info("Started status API")
	return ss
}

// Close all subscriptions and shut down the HTTP server.
func (ss *statusServer) Close() {
	ss.api.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := ss.server.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("Shutting down the status API errored")
	}
}

// waitSigint blocks the current thread until a SIGINT appears.
func waitSigint() {
	signalSyn := make(chan os.Signal, 1)
	signalAck := make(chan struct{})

	signal.Notify(signalSyn, os.Interrupt)

	go func() {
		<-signalSyn
		close(signalAck)
	}()

	<-signalAck
}

func main() {
	if len(os.Args) != 2 {
		log.Fatalf("Usage: %s configuration.toml", os.Args[0])
	}

	d, err := parseDaemon(os.Args[1])
	if err != nil {
		if d != nil {
			d.Close()
		}

		log.WithFields(log.Fields{
			"error": err,
		}).Fatal("Failed to parse config")
	}

	waitSigint()
	log.Info("Shutting down..")

	d.Close()
}
