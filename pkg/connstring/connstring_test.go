// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package connstring

import (
	"errors"
	"reflect"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		s       string
		values  Values
		invalid bool
	}{
		{"", Values{}, false},
		{"Server=example.org; Port=9000", Values{"server": "example.org", "port": "9000"}, false},
		{"SERVER = example.org ;port=1;", Values{"server": "example.org", "port": "1"}, false},
		{"protocol=tcp;;port=1", Values{"protocol": "tcp", "port": "1"}, false},
		{"file=/tmp/a=b", Values{"file": "/tmp/a=b"}, false},
		{"port=1;port=2", Values{"port": "2"}, false},
		{"port", nil, true},
		{"=value", nil, true},
		{" =value", nil, true},
	}

	for _, test := range tests {
		values, err := Parse(test.s)
		if test.invalid {
			if !errors.Is(err, ErrMalformed) {
				t.Fatalf("Parsing %q should fail, got %v", test.s, err)
			}
			continue
		}

		if err != nil {
			t.Fatalf("Parsing %q failed: %v", test.s, err)
		} else if !reflect.DeepEqual(values, test.values) {
			t.Fatalf("Parsing %q resulted in %v, expected %v", test.s, values, test.values)
		}
	}
}

func TestValuesString(t *testing.T) {
	values, err := Parse("Server=a; Protocol=tcp; Port=1")
	if err != nil {
		t.Fatal(err)
	}

	if s := values.String(); s != "protocol=tcp; port=1; server=a" {
		t.Fatalf("String is %q", s)
	}
	if v, ok := values.Get("SERVER"); !ok || v != "a" {
		t.Fatalf("Get returned %q, %t", v, ok)
	}
}

func TestProtocol(t *testing.T) {
	tests := map[string]string{
		"":                       "tcp",
		"server=a":               "tcp",
		"Protocol=UDP; server=a": "udp",
		"protocol=serial":        "serial",
	}

	for s, expected := range tests {
		if protocol, err := Protocol(s); err != nil {
			t.Fatal(err)
		} else if protocol != expected {
			t.Fatalf("Protocol of %q is %q, expected %q", s, protocol, expected)
		}
	}
}

func TestParseTCPClient(t *testing.T) {
	tests := []struct {
		s       string
		address string
		err     error
	}{
		{"", "localhost:8888", nil},
		{"Server=example.org", "example.org:8888", nil},
		{"server=::1; port=9000", "[::1]:9000", nil},
		{"port=65535", "localhost:65535", nil},
		{"port=0", "", ErrInvalidPort},
		{"port=65536", "", ErrInvalidPort},
		{"port=http", "", ErrInvalidPort},
	}

	for _, test := range tests {
		c, err := ParseTCPClient(test.s)
		if test.err != nil {
			if !errors.Is(err, test.err) {
				t.Fatalf("Parsing %q resulted in %v, expected %v", test.s, err, test.err)
			}
			continue
		}

		if err != nil {
			t.Fatal(err)
		} else if a := c.Address(); a != test.address {
			t.Fatalf("Address of %q is %q, expected %q", test.s, a, test.address)
		}
	}
}

func TestParseTCPServer(t *testing.T) {
	if c, err := ParseTCPServer(""); err != nil || c.Address() != ":8888" {
		t.Fatalf("Default server resulted in %v, %v", c, err)
	}
	if c, err := ParseTCPServer("Port=9000; Host=127.0.0.1"); err != nil || c.Address() != "127.0.0.1:9000" {
		t.Fatalf("Server resulted in %v, %v", c, err)
	}
	if _, err := ParseTCPServer("port=-1"); !errors.Is(err, ErrInvalidPort) {
		t.Fatalf("Negative port resulted in %v", err)
	}
}

func TestParseUDP(t *testing.T) {
	tests := []struct {
		s   string
		c   UDP
		err error
	}{
		{"Server=example.org:9000; Port=9001", UDP{"example.org:9000", 9001}, nil},
		{"Server=example.org; RemotePort=9000; LocalPort=9001", UDP{"example.org:9000", 9001}, nil},
		{"Server=example.org:9000; Port=9001; LocalPort=1", UDP{"example.org:9000", 9001}, nil},
		{"Port=9001", UDP{"", 9001}, nil},
		{"", UDP{"", 0}, nil},
		{"Server=example.org", UDP{}, ErrMissingKey},
		{"Server=example.org:0", UDP{}, ErrInvalidPort},
		{"Server=example.org; RemotePort=x", UDP{}, ErrInvalidPort},
	}

	for _, test := range tests {
		c, err := ParseUDP(test.s)
		if test.err != nil {
			if !errors.Is(err, test.err) {
				t.Fatalf("Parsing %q resulted in %v, expected %v", test.s, err, test.err)
			}
			continue
		}

		if err != nil {
			t.Fatal(err)
		} else if c != test.c {
			t.Fatalf("Parsing %q resulted in %v, expected %v", test.s, c, test.c)
		}
	}

	if err := (UDP{}).RequireServer(); !errors.Is(err, ErrMissingKey) {
		t.Fatalf("Missing server resulted in %v", err)
	}
}

func TestParseSerial(t *testing.T) {
	c, err := ParseSerial("Port=/dev/ttyUSB0; BaudRate=115200; Parity=even; StopBits=two; DataBits=7; DtrEnable=true")
	if err != nil {
		t.Fatal(err)
	}

	expected := Serial{
		Port:      "/dev/ttyUSB0",
		BaudRate:  115200,
		Parity:    ParityEven,
		StopBits:  StopBitsTwo,
		DataBits:  7,
		DtrEnable: true,
	}
	if c != expected {
		t.Fatalf("Parsed %v, expected %v", c, expected)
	}

	if c, err := ParseSerial("port=COM1"); err != nil {
		t.Fatal(err)
	} else if c.BaudRate != DefaultBaudRate || c.DataBits != DefaultDataBits || c.Parity != ParityNone || c.StopBits != StopBitsOne {
		t.Fatalf("Defaults are wrong: %v", c)
	}

	invalids := []string{"BaudRate=9600", "Port=a; Parity=sometimes", "Port=a; BaudRate=-5", "Port=a; RtsEnable=maybe", "Port=a; Modem=b"}
	for _, s := range invalids {
		if _, err := ParseSerial(s); err == nil {
			t.Fatalf("Parsing %q did not fail", s)
		}
	}
}

func TestParseFile(t *testing.T) {
	if c, err := ParseFile("File=/tmp/in"); err != nil || c.File != "/tmp/in" || c.Output != "/tmp/in" {
		t.Fatalf("Parsed %v, %v", c, err)
	}
	if c, err := ParseFile("File=/tmp/in; Output=/tmp/out"); err != nil || c.Output != "/tmp/out" {
		t.Fatalf("Parsed %v, %v", c, err)
	}
	if _, err := ParseFile("Output=/tmp/out"); !errors.Is(err, ErrMissingKey) {
		t.Fatalf("Missing file resulted in %v", err)
	}
}
