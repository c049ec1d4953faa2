// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package discovery announces running servers through UDP multicast packages and registers clients for the servers
// announced by other hosts.
package discovery

const (
	// address4 is the default multicast IPv4 address used for discovery.
	address4 = "224.23.23.42"

	// address6 is the default multicast IPv6 address used for discovery.
	address6 = "ff02::42"

	// DefaultPort is the default multicast UDP port used for discovery.
	DefaultPort = 35042
)
