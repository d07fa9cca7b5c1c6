// Copyright 2025 Coldfront Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"net"
	"time"
)

// floorBytesPerSecond is the slowest transfer rate a connection may
// sustain before its deadline expires (4KB/s).
const floorBytesPerSecond = 4000

// stallCapMultiplier caps the extra deadline granted to a connection
// that stalled waiting on a cold fetch from a cloud tier.
const stallCapMultiplier = 3

// Listener wraps a net.Listener so every accepted connection enforces
// the configured read/write deadlines through a Conn.
type Listener struct {
	net.Listener
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (l *Listener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return &Conn{
		Conn:         c,
		ReadTimeout:  l.ReadTimeout,
		WriteTimeout: l.WriteTimeout,
	}, nil
}

// Conn resets its deadline on every read and write, scaled by how much
// data has already moved. A client streaming a large object earns a
// proportionally longer deadline as long as it keeps the floor rate;
// a write that stalled behind a cold fetch gets a bounded grace period
// instead of an immediate timeout.
type Conn struct {
	net.Conn
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	bytesRead    int64
	bytesWritten int64
	lastWrite    time.Time
}

func bytesPerDeadline(timeout time.Duration) int64 {
	n := int64(floorBytesPerSecond * timeout.Seconds())
	if n <= 0 {
		return 1
	}
	return n
}

func (c *Conn) Read(b []byte) (int, error) {
	if c.ReadTimeout != 0 {
		scale := time.Duration(c.bytesRead/bytesPerDeadline(c.ReadTimeout) + 1)
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.ReadTimeout * scale)); err != nil {
			return 0, err
		}
	}
	n, err := c.Conn.Read(b)
	if err == nil {
		c.bytesRead += int64(n)
	}
	return n, err
}

func (c *Conn) Write(b []byte) (int, error) {
	if c.WriteTimeout != 0 {
		now := time.Now()
		scale := time.Duration(c.bytesWritten/bytesPerDeadline(c.WriteTimeout) + 1)
		deadline := c.WriteTimeout * scale

		// A gap since the previous write means the handler was blocked
		// upstream (cloud fetch, next-tier read), not the client. Grant
		// the stalled time back, capped so a dead client still times out.
		if !c.lastWrite.IsZero() {
			if stalled := now.Sub(c.lastWrite); stalled > c.WriteTimeout {
				if stalled > deadline*stallCapMultiplier {
					stalled = deadline * stallCapMultiplier
				}
				deadline += stalled
			}
		}
		if err := c.Conn.SetWriteDeadline(now.Add(deadline)); err != nil {
			return 0, err
		}
	}
	n, err := c.Conn.Write(b)
	if err == nil {
		c.bytesWritten += int64(n)
		c.lastWrite = time.Now()
	}
	return n, err
}

// NewListener listens on addr with the given deadline applied to both
// directions of every accepted connection. A zero timeout disables
// deadline management entirely.
func NewListener(addr string, timeout time.Duration) (net.Listener, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Listener{
		Listener:     listener,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}, nil
}
