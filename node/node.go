// Copyright 2017 David Lazar. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package node wires the lower layers (transport, onion, dht,
// rendezvous, appmsg, addressbook) into the six concurrently running
// tasks a running pmail node actually is: a socket receiver, a
// tick-paced sender, a protocol worker that peels and dispatches
// inbound onion layers, a rendezvous-lookup responder, an inbound
// delivery path that opens double-boxed messages for the host
// application, and an outbound pump that injects application sends
// into the DHT. The dht.Node mutex is the only synchronization point
// these tasks share; everything else is plain channel traffic.
package node

import (
	"path/filepath"
	"sync"

	"github.com/droundy/pmail/addressbook"
	"github.com/droundy/pmail/appmsg"
	"github.com/droundy/pmail/dht"
	"github.com/droundy/pmail/errors"
	"github.com/droundy/pmail/identity"
	"github.com/droundy/pmail/log"
	"github.com/droundy/pmail/pconfig"
	"github.com/droundy/pmail/rendezvous"
	"github.com/droundy/pmail/transport"
	"github.com/droundy/pmail/wire"
)

// Node owns every piece of long-lived state a running pmail process
// needs: the paced socket, the routing table and scheduler, the
// store-and-forward and acknowledgement layers, the address book, and
// the channel surface the host application uses to send and receive.
type Node struct {
	self *identity.KeyPair
	cfg  *pconfig.Config

	sock   *transport.Socket
	ticker *transport.Ticker
	dht    *dht.Node

	rendezvousStore *rendezvous.Store
	acks            *appmsg.AckMap
	Book            *addressbook.Book
	Surface         *addressbook.Surface

	tickIdx  uint64
	shutdown chan struct{}
	wg       sync.WaitGroup
}

// Open assembles a Node from cfg and self, opening every on-disk store
// under cfg.DataDir and binding the UDP socket at cfg.Port. Run must be
// called to actually start processing.
func Open(cfg *pconfig.Config, self *identity.KeyPair) (*Node, error) {
	sock, err := transport.Listen(cfg.Port)
	if err != nil {
		return nil, errors.Wrap(err, "node: binding socket")
	}

	bootstrap, err := cfg.Peers()
	if err != nil {
		sock.Close()
		return nil, errors.Wrap(err, "node: resolving bootstrap peers")
	}

	rendezvousStore, err := rendezvous.Open(filepath.Join(cfg.DataDir, "rendezvous.db"))
	if err != nil {
		sock.Close()
		return nil, err
	}
	acks, err := appmsg.OpenAckMap(filepath.Join(cfg.DataDir, "acks.db"))
	if err != nil {
		rendezvousStore.Close()
		sock.Close()
		return nil, err
	}
	book, err := addressbook.Open(filepath.Join(cfg.DataDir, "addressbook.db"))
	if err != nil {
		acks.Close()
		rendezvousStore.Close()
		sock.Close()
		return nil, err
	}

	dhtNode := dht.New(self, bootstrap, cfg.TickPeriod)
	dhtNode.SetRendezvousHandler(newRendezvousAdapter(rendezvousStore))

	n := &Node{
		self:            self,
		cfg:             cfg,
		sock:            sock,
		ticker:          transport.NewTicker(cfg.TickPeriod),
		dht:             dhtNode,
		rendezvousStore: rendezvousStore,
		acks:            acks,
		Book:            book,
		Surface:         addressbook.NewSurface(),
		shutdown:        make(chan struct{}),
	}
	return n, nil
}

// LocalAddr reports the address the node's socket actually bound to.
func (n *Node) LocalAddr() string {
	return n.sock.LocalAddr().String()
}

// KnownPeers reports every peer in the routing table, live or not.
func (n *Node) KnownPeers() []identity.PublicKey {
	return n.dht.KnownPeers()
}

// Run starts five of the node's six concurrent tasks (the socket
// receiver is already running, started by transport.Listen in Open)
// and blocks until Close is called.
func (n *Node) Run() {
	n.wg.Add(5)
	go n.tickLoop()
	go n.protocolLoop()
	go n.inboundDeliveryLoop()
	go n.rendezvousResponderLoop()
	go n.outboundPumpLoop()

	n.wg.Wait()
}

// Close stops every task and releases the node's on-disk stores. Safe
// to call once.
func (n *Node) Close() error {
	close(n.shutdown)
	n.ticker.Stop()
	n.sock.Close()
	n.wg.Wait()

	var firstErr error
	for _, closer := range []func() error{n.acks.Close, n.rendezvousStore.Close, n.Book.Close} {
		if err := closer(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// tickLoop is threads 2+3 merged (§5): the tick driver computes the
// per-period decision and sends it itself, since dht.Node.Msg already
// releases its own lock before returning and SendTo is a direct,
// un-queued socket write — there is no separable "sender" task with
// its own goroutine in this design.
func (n *Node) tickLoop() {
	defer n.wg.Done()
	for {
		select {
		case now := <-n.ticker.C:
			// Slot indices count tick periods since dht.Epoch, the same
			// numbering scheduleInternalLocked uses to pick a slot.
			n.tickIdx = uint64(now.Sub(dht.Epoch) / n.cfg.TickPeriod)
			sp, ok := n.dht.Msg(n.tickIdx)
			if !ok {
				continue
			}
			if sp.Addr == nil {
				continue
			}
			if err := n.sock.SendTo(sp.Packet, sp.Addr); err != nil {
				log.Debugf("node: tick send failed: %s", err)
			}
		case <-n.shutdown:
			return
		}
	}
}

// protocolLoop is thread 4: it drains the socket's receiver channel
// and hands each packet to the DHT for onion peeling and dispatch.
func (n *Node) protocolLoop() {
	defer n.wg.Done()
	for pkt := range n.sock.Inbound {
		n.dht.HandleInbound(pkt.Data, pkt.From)
	}
}

// inboundDeliveryLoop drains the DHT's Inbound channel (ciphertext
// that a matched reply delivered to this node as the final leg of a
// pickup), opens it with the double-box, applies acknowledgements to
// the ack map, auto-replies to variants that need one, and surfaces
// everything else to the host application.
func (n *Node) inboundDeliveryLoop() {
	defer n.wg.Done()
	for {
		var ciphertext [wire.USER_MESSAGE_LENGTH]byte
		select {
		case ciphertext = <-n.dht.Inbound:
		case <-n.shutdown:
			return
		}

		ev, err := appmsg.Receive(ciphertext, n.self, n.acks)
		if err != nil {
			log.Debugf("node: dropping an inbound message that failed to open: %s", err)
			continue
		}
		if ev.Ack != nil {
			if err := n.sendApplicationMessage(*ev.Ack, ev.From); err != nil {
				log.Debugf("node: failed to send an acknowledgement: %s", err)
			}
		}
		if ev.Message.Tag == appmsg.TagAcknowledge {
			continue
		}
		select {
		case n.Surface.InboundUser <- addressbook.UserMessage{From: ev.From, Message: ev.Message}:
		case <-n.shutdown:
			return
		}
	}
}

// rendezvousResponderLoop is thread 5: it answers "which known peer is
// the rendezvous for this key" lookups, the same selection rule a
// remote node uses to decide who it expects to be acting as a given
// peer's rendezvous.
func (n *Node) rendezvousResponderLoop() {
	defer n.wg.Done()
	for {
		select {
		case query, ok := <-n.Surface.RendezvousQuery:
			if !ok {
				return
			}
			peer, _ := rendezvous.Select(n.dht.KnownPeers(), query)
			select {
			case n.Surface.RendezvousResult <- peer:
			case <-n.shutdown:
				return
			}
		case <-n.shutdown:
			return
		}
	}
}

// outboundPumpLoop is thread 6: it consumes already-addressed,
// already-encrypted sends and injects each into the DHT as a fresh
// onion route ending at the named rendezvous peer.
func (n *Node) outboundPumpLoop() {
	defer n.wg.Done()
	for {
		select {
		case em, ok := <-n.Surface.OutboundEncrypted:
			if !ok {
				return
			}
			if !n.dht.SendPayloadTo(em.Rendezvous, em.Payload) {
				log.Warnf("node: dropped an outbound send, no route or timer slot available")
			}
		case <-n.shutdown:
			return
		}
	}
}

// sendApplicationMessage double-boxes msg for recipient, records it in
// the ack map if it needs acknowledgement, and queues it on the
// outbound pump addressed to recipient's current rendezvous peer.
func (n *Node) sendApplicationMessage(msg appmsg.Message, recipient identity.PublicKey) error {
	_, ciphertext, err := n.acks.Send(msg, recipient, n.self)
	if err != nil {
		return err
	}
	rendezvousPeer, ok := rendezvous.Select(n.dht.KnownPeers(), recipient)
	if !ok {
		return errors.New("node: no known peers to select a rendezvous for %x", recipient[:4])
	}
	select {
	case n.Surface.OutboundEncrypted <- addressbook.EncryptedMessage{
		Rendezvous: rendezvousPeer,
		Payload:    wire.ForwardPlease(recipient, ciphertext),
	}:
	case <-n.shutdown:
	}
	return nil
}

// SendMessage is the application-facing entry point for sending a
// pmail message: it's sendApplicationMessage exported for the host
// application to call directly rather than
// building an addressbook.EncryptedMessage by hand.
func (n *Node) SendMessage(msg appmsg.Message, recipient identity.PublicKey) error {
	return n.sendApplicationMessage(msg, recipient)
}

// RetransmitPending resends one unacknowledged message, chosen at
// random from the ack map; a no-op when nothing is pending. It is not
// triggered by the node's self-pickup polls: cmd/pmail-node calls it
// from its own timer, once every ten tick periods.
func (n *Node) RetransmitPending() {
	_, recipient, ciphertext, ok := n.acks.RetransmitOne()
	if !ok {
		return
	}
	rendezvousPeer, ok := rendezvous.Select(n.dht.KnownPeers(), recipient)
	if !ok {
		return
	}
	if !n.dht.SendPayloadTo(rendezvousPeer, wire.ForwardPlease(recipient, ciphertext)) {
		log.Debugf("node: retransmit attempt found no route or timer slot")
	}
}
