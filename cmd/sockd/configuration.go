// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/sockline/pkg/connstring"
	"github.com/dtn7/sockline/pkg/discovery"
	"github.com/dtn7/sockline/pkg/engine"
	"github.com/dtn7/sockline/pkg/factory"
	"github.com/dtn7/sockline/pkg/settings"
)

// tomlConfig describes the TOML-configuration.
type tomlConfig struct {
	Logging   logConf
	Manager   managerConf
	Policy    map[string]interface{}
	Settings  settingsConf
	Discovery discoveryConf
	Status    statusConf
	Listen    []engineConf
	Peer      []engineConf
}

// logConf describes the Logging-configuration block.
type logConf struct {
	Level        string
	ReportCaller bool `toml:"report-caller"`
	Format       string
}

// managerConf describes the supervision of all engines.
type managerConf struct {
	Retry   string
	Retries int
}

// settingsConf describes the settings store. An empty Store disables persistence.
type settingsConf struct {
	Store string
	Prune string
}

// discoveryConf describes the Discovery-configuration block.
type discoveryConf struct {
	IPv4     bool
	IPv6     bool
	Interval uint
	Port     int
}

// statusConf describes the status API, disabled for an empty Listen address.
type statusConf struct {
	Listen string
	Prefix string
}

// engineConf describes a server, "listen", or a client, "peer", by its connection string.
type engineConf struct {
	Conn     string
	Announce bool
}

// setupLogging configures logrus based on the Logging-configuration block.
func setupLogging(conf logConf) {
	if conf.Level != "" {
		if lvl, err := log.ParseLevel(conf.Level); err != nil {
			log.WithFields(log.Fields{
				"level":    conf.Level,
				"error":    err,
				"provided": "panic,fatal,error,warn,info,debug,trace",
			}).Warn("Failed to set log level. Please select one of the provided ones")
		} else {
			log.SetLevel(lvl)
		}
	}

	log.SetReportCaller(conf.ReportCaller)

	switch conf.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})

	case "json":
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})

	default:
		log.Warn("Unknown logging format")
	}
}

// parsePolicy creates the default Policy from the Policy-configuration block. TOML values of any type are applied
// by their string representation, e.g., handshake = true or retry-delay = "2s".
func parsePolicy(conf map[string]interface{}) (*engine.Policy, error) {
	policy := engine.NewPolicy()
	if len(conf) == 0 {
		return policy, nil
	}

	values := make(map[string]string, len(conf))
	for key, value := range conf {
		values[key] = fmt.Sprint(value)
	}

	if err := policy.Apply(values); err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}
	return policy, nil
}

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	return time.ParseDuration(s)
}

// initializer is implemented by every engine through its engine.Lifecycle.
type initializer interface {
	Initialize(store engine.SettingsStore, category string, policy *engine.Policy) error
}

// initialize an engine's Policy from the settings store, using its address as the category.
func initialize(e interface {
	engine.Engine
	Policy() *engine.Policy
}, store engine.SettingsStore) error {
	if store == nil {
		return nil
	}

	lc, ok := e.(initializer)
	if !ok {
		return nil
	}
	return lc.Initialize(store, e.Address(), e.Policy())
}

// parseAnnouncement for a server's connection string.
func parseAnnouncement(conn string, server engine.Server) (discovery.Announcement, error) {
	protocol, err := connstring.Protocol(conn)
	if err != nil {
		return discovery.Announcement{}, err
	}

	var port int
	switch protocol {
	case factory.UDP:
		config, udpErr := connstring.ParseUDP(conn)
		if udpErr != nil {
			return discovery.Announcement{}, udpErr
		} else if config.LocalPort == 0 {
			return discovery.Announcement{}, fmt.Errorf("%w: an ephemeral port cannot be announced", connstring.ErrMissingKey)
		}
		port = config.LocalPort

	default:
		config, tcpErr := connstring.ParseTCPServer(conn)
		if tcpErr != nil {
			return discovery.Announcement{}, tcpErr
		}
		port = config.Port
	}

	return discovery.Announcement{
		Protocol: protocol,
		ID:       server.ID(),
		Port:     uint(port),
	}, nil
}

// daemon bundles everything started from the configuration.
type daemon struct {
	manager   *engine.Manager
	store     *settings.BadgerStore
	discovery *discovery.Manager
	status    *statusServer
}

// parseDaemon creates and starts all components based on the given TOML configuration.
func parseDaemon(filename string) (d *daemon, err error) {
	var conf tomlConfig
	if _, err = toml.DecodeFile(filename, &conf); err != nil {
		return
	}

	setupLogging(conf.Logging)

	policy, err := parsePolicy(conf.Policy)
	if err != nil {
		return
	}

	retry, err := parseDuration(conf.Manager.Retry, 10*time.Second)
	if err != nil {
		err = fmt.Errorf("manager.retry: %w", err)
		return
	}
	if conf.Manager.Retries == 0 {
		conf.Manager.Retries = 10
	}

	d = &daemon{}

	// Settings
	var store engine.SettingsStore
	if conf.Settings.Store != "" {
		if d.store, err = settings.NewBadgerStore(conf.Settings.Store); err != nil {
			return
		}
		store = d.store

		if conf.Settings.Prune != "" {
			prune, pruneErr := time.ParseDuration(conf.Settings.Prune)
			if pruneErr != nil {
				err = fmt.Errorf("settings.prune: %w", pruneErr)
				return
			}
			d.store.DeleteOlder(time.Now().Add(-prune))
		}
	}

	d.manager = engine.NewManager(retry, conf.Manager.Retries)

	var announcements []discovery.Announcement

	// Listen/Server
	for _, listen := range conf.Listen {
		server, sErr := factory.NewServer(listen.Conn, policy)
		if sErr != nil {
			err = fmt.Errorf("listen %q: %w", listen.Conn, sErr)
			return
		}

		if iErr := initialize(server, store); iErr != nil {
			log.WithError(iErr).WithField("server", server).Warn("Failed to load persisted settings")
		}

		if listen.Announce {
			if announcement, aErr := parseAnnouncement(listen.Conn, server); aErr != nil {
				log.WithError(aErr).WithField("server", server).Warn("Server cannot be announced")
			} else {
				announcements = append(announcements, announcement)
			}
		}

		d.manager.Register(server)
	}

	// Peer/Client
	for _, peer := range conf.Peer {
		client, cErr := factory.NewClient(peer.Conn, policy)
		if cErr != nil {
			log.WithFields(log.Fields{
				"peer":  peer.Conn,
				"error": cErr,
			}).Warn("Failed to create a client for a peer")
			continue
		}

		if iErr := initialize(client, store); iErr != nil {
			log.WithError(iErr).WithField("client", client).Warn("Failed to load persisted settings")
		}

		d.manager.Register(client)
	}

	// Status API
	if conf.Status.Listen != "" {
		d.status = newStatusServer(conf.Status.Listen, conf.Status.Prefix, d.manager)
	}

	go d.handleStatus()

	// Discovery
	if conf.Discovery.IPv4 || conf.Discovery.IPv6 {
		if conf.Discovery.Interval == 0 {
			conf.Discovery.Interval = 10
		}
		if conf.Discovery.Port == 0 {
			conf.Discovery.Port = discovery.DefaultPort
		}

		d.discovery, err = discovery.NewManager(
			policy, d.manager, announcements, time.Duration(conf.Discovery.Interval)*time.Second,
			conf.Discovery.Port, conf.Discovery.IPv4, conf.Discovery.IPv6)
		if err != nil {
			return
		}
	}

	return
}

// handleStatus logs the Manager's Status messages and publishes them to the status API.
func (d *daemon) handleStatus() {
	for status := range d.manager.Channel() {
		entry := log.WithFields(log.Fields{
			"engine": status.Sender,
			"type":   status.Type,
			"peer":   status.Peer,
		})

		switch status.Type {
		case engine.DataReceived:
			entry.WithField("size", len(status.Data)).Debug("Received payload")
		case engine.PeerConnected, engine.PeerDisconnected, engine.ServerStarted, engine.ServerStopped:
			entry.WithError(status.Err).Info("Engine changed its state")
		default:
			if status.Err != nil {
				entry = entry.WithError(status.Err)
			}
			entry.Warn("Engine reported a problem")
		}

		if d.status != nil {
			d.status.api.Publish(status)
		}
	}
}

// Close all components.
func (d *daemon) Close() {
	if d.discovery != nil {
		d.discovery.Close()
	}

	if d.status != nil {
		d.status.Close()
	}

	if d.manager != nil {
		if err := d.manager.Close(); err != nil {
			log.WithError(err).Warn("Closing the engines errored")
		}
	}

	if d.store != nil {
		if err := d.store.Close(); err != nil {
			log.WithError(err).Warn("Closing the settings store errored")
		}
	}
}
