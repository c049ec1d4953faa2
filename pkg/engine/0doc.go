// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package engine defines the lifecycle contract shared by all client and server engines.
//
// A concrete transport, e.g., the stream or the UDP engines, implements the Client or Server interface and embeds
// a Lifecycle. The Lifecycle tracks the state, its timestamps and the outgoing Status channel. A Policy carries the
// handshake, cipher, compression and timeout settings and validates each change against the current configuration.
//
// Every event of an engine is reported as a Status on its channel. This channel must always be read, otherwise the
// engine will block. A Manager might be used to supervise multiple engines and to reconnect lost clients.
package engine
