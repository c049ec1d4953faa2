// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package connstring

import (
	"fmt"
	"net"
	"strconv"
)

const (
	// DefaultServer is the TCP client's default remote host.
	DefaultServer = "localhost"

	// DefaultPort is the default port for both TCP clients and servers.
	DefaultPort = 8888

	// DefaultBaudRate of a serial port.
	DefaultBaudRate = 9600

	// DefaultDataBits of a serial port.
	DefaultDataBits = 8
)

// TCPClient configures a stream client.
type TCPClient struct {
	Server string
	Port   int
}

// Address to be dialed.
func (c TCPClient) Address() string {
	return net.JoinHostPort(c.Server, strconv.Itoa(c.Port))
}

// ParseTCPClient from "Server=<host>; Port=<port>", defaulting to localhost:8888.
func ParseTCPClient(s string) (c TCPClient, err error) {
	values, err := Parse(s)
	if err != nil {
		return
	}

	c.Server = values.GetDefault("server", DefaultServer)
	c.Port, err = values.portValue("port", DefaultPort)
	return
}

// TCPServer configures a stream server.
type TCPServer struct {
	// Host is an optional bind address; empty binds all interfaces.
	Host string
	Port int
}

// Address to listen on.
func (c TCPServer) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ParseTCPServer from "Port=<port>", defaulting to 8888. An additional "Host" key restricts the bind address.
func ParseTCPServer(s string) (c TCPServer, err error) {
	values, err := Parse(s)
	if err != nil {
		return
	}

	c.Host = values.GetDefault("host", "")
	c.Port, err = values.portValue("port", DefaultPort)
	return
}

// UDP configures a datagram client or server.
type UDP struct {
	// Server is the remote "<host>:<port>". It is only required for clients.
	Server string

	// LocalPort to bind; zero lets the operating system decide.
	LocalPort int
}

// LocalAddress to bind.
func (c UDP) LocalAddress() string {
	return net.JoinHostPort("", strconv.Itoa(c.LocalPort))
}

// ParseUDP from "Server=<host>:<port>; Port=<local-port>". The legacy keys "RemotePort" and "LocalPort" are
// normalized: a RemotePort is joined to a port-less Server, a LocalPort stands in for Port.
func ParseUDP(s string) (c UDP, err error) {
	values, err := Parse(s)
	if err != nil {
		return
	}

	c.Server = values.GetDefault("server", "")
	if c.Server != "" {
		host, portStr, splitErr := net.SplitHostPort(c.Server)
		if splitErr != nil {
			remotePort, ok := values.Get("remoteport")
			if !ok {
				err = fmt.Errorf("%w: server %q lacks a port and no remoteport is given", ErrMissingKey, c.Server)
				return
			}
			host, portStr = c.Server, remotePort
		}

		var port int
		if port, err = parsePort(portStr); err != nil {
			return
		}
		c.Server = net.JoinHostPort(host, strconv.Itoa(port))
	}

	portKey := "port"
	if _, ok := values.Get(portKey); !ok {
		portKey = "localport"
	}
	c.LocalPort, err = values.portValue(portKey, 0)
	return
}

// RequireServer checks the presence of a remote address, as needed by clients.
func (c UDP) RequireServer() error {
	if c.Server == "" {
		return fmt.Errorf("%w: server", ErrMissingKey)
	}
	return nil
}

// Serial parity and stop bit names.
const (
	ParityNone  = "None"
	ParityOdd   = "Odd"
	ParityEven  = "Even"
	ParityMark  = "Mark"
	ParitySpace = "Space"

	StopBitsNone         = "None"
	StopBitsOne          = "One"
	StopBitsTwo          = "Two"
	StopBitsOnePointFive = "OnePointFive"
)

// Serial configures a serial port client.
type Serial struct {
	Port      string
	BaudRate  int
	Parity    string
	StopBits  string
	DataBits  int
	DtrEnable bool
	RtsEnable bool

	// Modem selects an optional modem protocol on top of the port, e.g., "rf95".
	Modem string
}

// ParseSerial from "Port=<name>; BaudRate=<n>; Parity=<..>; StopBits=<..>; DataBits=<n>; DtrEnable=<bool>;
// RtsEnable=<bool>". Only the Port is required.
func ParseSerial(s string) (c Serial, err error) {
	values, err := Parse(s)
	if err != nil {
		return
	}

	if c.Port = values.GetDefault("port", ""); c.Port == "" {
		err = fmt.Errorf("%w: port", ErrMissingKey)
		return
	}

	if c.BaudRate, err = values.intValue("baudrate", DefaultBaudRate); err != nil {
		return
	}
	if c.DataBits, err = values.intValue("databits", DefaultDataBits); err != nil {
		return
	}
	if c.Parity, err = values.oneOf("parity", ParityNone,
		ParityNone, ParityOdd, ParityEven, ParityMark, ParitySpace); err != nil {
		return
	}
	if c.StopBits, err = values.oneOf("stopbits", StopBitsOne,
		StopBitsNone, StopBitsOne, StopBitsTwo, StopBitsOnePointFive); err != nil {
		return
	}
	if c.DtrEnable, err = values.boolValue("dtrenable"); err != nil {
		return
	}
	if c.RtsEnable, err = values.boolValue("rtsenable"); err != nil {
		return
	}
	c.Modem, err = values.oneOf("modem", "", "rf95")
	return
}

// File configures a file client.
type File struct {
	// File is read from and, without Output, written to.
	File string

	// Output optionally separates the written file from the read one.
	Output string
}

// ParseFile from "File=<path>" with an optional "Output=<path>".
func ParseFile(s string) (c File, err error) {
	values, err := Parse(s)
	if err != nil {
		return
	}

	if c.File = values.GetDefault("file", ""); c.File == "" {
		err = fmt.Errorf("%w: file", ErrMissingKey)
		return
	}
	c.Output = values.GetDefault("output", c.File)
	return
}
