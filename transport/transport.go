// Copyright 2017 David Lazar. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package transport implements the paced UDP socket: one inbound
// demultiplexing channel, and an outbound path that emits at most one
// packet per tick regardless of offered load.
package transport

import (
	"net"
	"time"

	"github.com/droundy/pmail/errors"
	"github.com/droundy/pmail/log"
	"github.com/droundy/pmail/onion"
)

// Packet is a datagram read off the wire together with the address it
// came from.
type Packet struct {
	Data [onion.PACKET_LENGTH]byte
	From *net.UDPAddr
}

// Socket owns one UDP connection, binding preferring IPv6 [::]:port,
// falling back to 0.0.0.0:port, then any port.
type Socket struct {
	conn *net.UDPConn

	Inbound chan Packet

	closed chan struct{}
}

// Listen binds the socket and starts the receiver task. The sender
// side has no task of its own: the tick driver calls SendTo directly,
// at most once per tick, which is what keeps the receiver's read loop
// (and thus the network I/O path) from ever blocking behind crypto or
// scheduling work done under the DHT lock.
func Listen(port int) (*Socket, error) {
	conn, err := bind(port)
	if err != nil {
		return nil, err
	}
	s := &Socket{
		conn:    conn,
		Inbound: make(chan Packet, 64),
		closed:  make(chan struct{}),
	}
	go s.receiveLoop()
	return s, nil
}

func bind(port int) (*net.UDPConn, error) {
	attempts := []*net.UDPAddr{
		{IP: net.IPv6zero, Port: port},
		{IP: net.IPv4zero, Port: port},
		{IP: net.IPv4zero, Port: 0},
	}
	var lastErr error
	for _, addr := range attempts {
		conn, err := net.ListenUDP("udp", addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, errors.Wrap(lastErr, "transport: failed to bind a UDP socket")
}

// LocalAddr reports the address the socket actually bound to.
func (s *Socket) LocalAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// receiveLoop is the socket receiver task (§5, thread 1). A receive
// error is treated as socket death and terminates the task; any
// datagram not exactly PACKET_LENGTH bytes is discarded with a log
// note rather than forwarded.
func (s *Socket) receiveLoop() {
	defer close(s.Inbound)
	buf := make([]byte, onion.PACKET_LENGTH+1)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			log.Errorf("transport: socket read failed, terminating receiver: %s", err)
			return
		}
		if n != onion.PACKET_LENGTH {
			log.WithFields(log.Fields{"from": addr, "size": n}).Debugf("transport: discarding wrong-size packet")
			continue
		}
		var pkt Packet
		copy(pkt.Data[:], buf[:n])
		pkt.From = addr
		select {
		case s.Inbound <- pkt:
		case <-s.closed:
			return
		}
	}
}

// SendTo transmits packet to addr. The tick driver calls this at most
// once per tick; Socket itself does not enforce pacing, since pacing
// requires coordination with the scheduler (dht.Node), not just the
// socket.
func (s *Socket) SendTo(packet [onion.PACKET_LENGTH]byte, addr *net.UDPAddr) error {
	_, err := s.conn.WriteToUDP(packet[:], addr)
	if err != nil {
		return errors.Wrap(err, "transport: write failed")
	}
	return nil
}

func (s *Socket) Close() error {
	close(s.closed)
	return s.conn.Close()
}

// Ticker drives the fixed-period T cover-traffic clock. It aligns to
// wall-clock boundaries of period and, on skew (the wall clock having
// already advanced past the intended tick), catches up by exactly one
// step rather than firing a backlog of ticks.
type Ticker struct {
	period time.Duration
	C      chan time.Time
	stop   chan struct{}
}

func NewTicker(period time.Duration) *Ticker {
	t := &Ticker{
		period: period,
		C:      make(chan time.Time, 1),
		stop:   make(chan struct{}),
	}
	go t.run()
	return t
}

func (t *Ticker) run() {
	next := time.Now().Truncate(t.period).Add(t.period)
	for {
		d := time.Until(next)
		if d < 0 {
			// Wall clock skewed past the target; catch up by one
			// step only, don't flush a backlog of missed ticks.
			next = next.Add(t.period)
			continue
		}
		timer := time.NewTimer(d)
		select {
		case now := <-timer.C:
			select {
			case t.C <- now:
			default:
			}
			next = next.Add(t.period)
		case <-t.stop:
			timer.Stop()
			return
		}
	}
}

func (t *Ticker) Stop() {
	close(t.stop)
}
