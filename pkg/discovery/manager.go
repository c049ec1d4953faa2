// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package discovery

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/schollz/peerdiscovery"

	"github.com/dtn7/sockline/pkg/engine"
	"github.com/dtn7/sockline/pkg/factory"
)

// Registrar supervises the clients created for discovered servers, e.g., an engine.Manager.
type Registrar interface {
	// Has checks if an engine for this address is already known.
	Has(address string) bool

	Register(e engine.Engine)
}

// Manager publishes and receives Announcements.
type Manager struct {
	// Policy for the clients of discovered servers.
	Policy    *engine.Policy
	Registrar Registrar

	// own IDs of the announced servers, so that this host's Announcements are ignored.
	own map[uuid.UUID]struct{}

	stopChan4 chan struct{}
	stopChan6 chan struct{}
}

// NewManager for Announcements will be created and started.
func NewManager(
	policy *engine.Policy, registrar Registrar,
	announcements []Announcement, announcementInterval time.Duration,
	port int, ipv4, ipv6 bool) (*Manager, error) {

	var manager = &Manager{
		Policy:    policy,
		Registrar: registrar,
		own:       make(map[uuid.UUID]struct{}),
	}
	if ipv4 {
		manager.stopChan4 = make(chan struct{})
	}
	if ipv6 {
		manager.stopChan6 = make(chan struct{})
	}
	for _, announcement := range announcements {
		manager.own[announcement.ID] = struct{}{}
	}

	log.WithFields(log.Fields{
		"interval":      announcementInterval,
		"port":          port,
		"IPv4":          ipv4,
		"IPv6":          ipv6,
		"announcements": announcements,
	}).Info("Starting discovery Manager")

	msg, err := MarshalAnnouncements(announcements)
	if err != nil {
		return nil, err
	}

	sets := []struct {
		active           bool
		multicastAddress string
		stopChan         chan struct{}
		ipVersion        peerdiscovery.IPVersion
	}{
		{ipv4, address4, manager.stopChan4, peerdiscovery.IPv4},
		{ipv6, address6, manager.stopChan6, peerdiscovery.IPv6},
	}

	for _, set := range sets {
		if !set.active {
			continue
		}

		set := peerdiscovery.Settings{
			Limit:            -1,
			Port:             fmt.Sprintf("%d", port),
			MulticastAddress: set.multicastAddress,
			Payload:          msg,
			Delay:            announcementInterval,
			TimeLimit:        -1,
			StopChan:         set.stopChan,
			AllowSelf:        true,
			IPVersion:        set.ipVersion,
			Notify:           manager.notify,
		}

		discoverErrChan := make(chan error)
		go func() {
			_, discoverErr := peerdiscovery.Discover(set)
			discoverErrChan <- discoverErr
		}()

		select {
		case discoverErr := <-discoverErrChan:
			if discoverErr != nil {
				return nil, discoverErr
			}

		case <-time.After(time.Second):
			break
		}
	}

	return manager, nil
}

func (manager *Manager) notify(discovered peerdiscovery.Discovered) {
	announcements, err := UnmarshalAnnouncements(discovered.Payload)
	if err != nil {
		log.WithError(err).WithField("peer", discovered.Address).Warn("Peer discovery failed to parse incoming package")
		return
	}

	for _, announcement := range announcements {
		manager.handleDiscovery(announcement, discovered.Address)
	}
}

// handleDiscovery registers a client for an announced server, unless it is one of ours or already known.
func (manager *Manager) handleDiscovery(announcement Announcement, addr string) {
	logger := log.WithFields(log.Fields{
		"peer":    addr,
		"message": announcement,
	})
	logger.Debug("Peer discovery received a message")

	if _, ok := manager.own[announcement.ID]; ok {
		return
	}

	client, err := factory.NewClient(announcement.connString(addr), manager.Policy)
	if err != nil {
		logger.WithError(err).Warn("Announcement cannot be connected to")
		return
	}

	if manager.Registrar.Has(client.Address()) {
		_ = client.Close()
		return
	}

	logger.WithField("client", client).Info("Registering client for discovered server")
	manager.Registrar.Register(client)
}

// Close this Manager.
func (manager *Manager) Close() {
	for _, c := range []chan struct{}{manager.stopChan4, manager.stopChan6} {
		if c != nil {
			c <- struct{}{}
		}
	}
}
