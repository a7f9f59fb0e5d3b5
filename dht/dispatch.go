// Copyright 2017 David Lazar. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dht

import (
	"net"

	"github.com/droundy/pmail/identity"
	"github.com/droundy/pmail/log"
	"github.com/droundy/pmail/onion"
	"github.com/droundy/pmail/wire"
)

// HandleInbound is the protocol worker's entry point (§5, thread 4):
// it takes one packet off the receiver channel and either forwards it
// toward its next hop, matches it as a reply to a packet this node
// sent or relayed, or (if addressed to this node) dispatches its
// payload.
func (n *Node) HandleInbound(packet [onion.PACKET_LENGTH]byte, from *net.UDPAddr) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.replayCur.Test(packet[:]) || n.replayPrev.Test(packet[:]) {
		log.Debugf("dht: discarding a repeated packet")
		return
	}
	n.replayCur.Set(packet[:])

	var magic [32]byte
	copy(magic[:], packet[0:32])

	if entry, ok := n.onionboxen[magic]; ok {
		n.handleMatchedReplyLocked(entry, magic, packet)
		return
	}

	oob, err := onion.OnionboxOpen(packet, n.self)
	if err != nil {
		log.Debugf("dht: discarding packet not addressed to this key: %s", err)
		return
	}

	if !oob.Routing().IsForMe {
		n.relayLocked(oob, from)
		return
	}

	// A greeting loop's recipientIndex is always a non-last hop
	// (buildGreetingLocked), so forwarding genuinely stops here: hops
	// after the recipient never relay the request onward, and the
	// loopback address buildHopsLocked set as the last hop's Address is
	// never dialed on the forward path. The route is "out to the
	// recipient and back the same way via Response", not a closed A
	// -> B -> C -> A ring traversed hop by hop in one direction.
	// Liveness still credits every hop on entry.route once the reply
	// completes, regardless of which of them actually forwarded
	// anything.
	n.dispatchForMeLocked(oob, from)
}

// handleMatchedReplyLocked is called when the leading 32 bytes of an
// inbound packet match an outstanding onionboxen entry: either we
// originated the original packet (decrypt and dispatch its payload)
// or we merely relayed it forward earlier (forward this reply
// verbatim to wherever it came from, without re-decrypting).
func (n *Node) handleMatchedReplyLocked(entry onionboxEntry, magic [32]byte, packet [onion.PACKET_LENGTH]byte) {
	delete(n.onionboxen, magic)

	if entry.returnTo != nil {
		n.scheduleInternalLocked(ScheduledPacket{Packet: packet, Addr: entry.returnTo}, nowEpochSeconds(), true)
		return
	}

	payload, err := entry.own.ReadReturn(packet)
	if err != nil {
		log.Debugf("dht: reply failed to decrypt: %s", err)
		return
	}

	switch payload.Tag {
	case wire.TagResponse:
		n.handleResponseLocked(entry.route, payload.Gifts)
	case wire.TagForward:
		select {
		case n.Inbound <- payload.UserMessage:
		default:
			log.Warnf("dht: inbound channel full, dropping a delivered message")
		}
	default:
		log.Debugf("dht: reply carried an unexpected payload tag %q", payload.Tag)
	}
}

// handleResponseLocked accepts the gifts from a Response. Every peer
// that relayed this particular loop is marked fully live, since a
// successful round trip confirms all of them (§4.4 "for each peer
// known to have relayed this loop, set its liveness to MAX_LIVENESS").
// Separately, if the first gift's key is our own, this was a whoami
// probe and we now know our externally observed address.
func (n *Node) handleResponseLocked(route []identity.PublicKey, gifts wire.GiftList) {
	for _, key := range route {
		n.reviveLocked(key)
	}
	if !isZeroKey(gifts[0].Key) && gifts[0].Key == n.self.Public {
		n.knownSelf = true
		n.selfAddr = gifts[0].Address
	}
	for _, g := range gifts {
		if isZeroKey(g.Key) || g.Key == n.self.Public {
			continue
		}
		n.acceptGiftLocked(g)
	}
}

// relayLocked handles a layer that isn't addressed to this node: it
// remembers how to route a matching reply back to from, then
// schedules the peeled packet toward its next hop.
func (n *Node) relayLocked(oob *onion.OpenedOnionBox, from *net.UDPAddr) {
	var magic [32]byte
	// The ephemeral public key is unchanged across every hop of a
	// packet's forward journey, so it's a stable key for the return
	// path regardless of how many layers have already been peeled.
	packet, err := oob.Packet()
	if err != nil {
		log.Errorf("dht: failed to re-pad a relayed packet: %s", err)
		return
	}
	copy(magic[:], packet[0:32])
	n.onionboxen[magic] = onionboxEntry{returnTo: from}

	routing := oob.Routing()
	sp := ScheduledPacket{Packet: packet, Addr: routing.Address.UDPAddr()}
	if nowEpochSeconds() >= routing.ETA {
		n.scheduleInternalLocked(sp, nowEpochSeconds(), true)
	} else {
		n.scheduleInternalLocked(sp, routing.ETA, true)
	}
}

// dispatchForMeLocked handles a layer addressed to this node:
// Greetings/whoami get an immediate Response; PickUp/ForwardPlease are
// handed to the rendezvous layer.
func (n *Node) dispatchForMeLocked(oob *onion.OpenedOnionBox, from *net.UDPAddr) {
	payload, err := oob.Payload(n.self)
	if err != nil {
		log.Debugf("dht: payload failed to authenticate: %s", err)
		return
	}

	switch payload.Tag {
	case wire.TagGreetings:
		n.handleGreetingsLocked(oob, payload.Gifts, from)
	case wire.TagPickUp:
		n.acceptGiftListLocked(payload.PickUpGifts)
		n.handlePickUpLocked(oob, payload.Dest, from)
	case wire.TagForward:
		n.handleForwardPleaseLocked(payload.Dest, payload.UserMessage, from)
	default:
		log.Debugf("dht: unexpected payload tag %q addressed to this node", payload.Tag)
	}
}

func (n *Node) handleGreetingsLocked(oob *onion.OpenedOnionBox, offered wire.GiftList, from *net.UDPAddr) {
	n.acceptGiftListLocked(offered)

	gifts := n.randomLiveGiftLocked()
	if oob.Routing().WhoAmI {
		gifts[0] = wire.Gift{Address: wire.SocketAddressFromUDP(from), Key: oob.Key()}
	}
	reply, err := oob.Respond(n.self, wire.Response(gifts))
	if err != nil {
		log.Errorf("dht: failed to build a greeting response: %s", err)
		return
	}
	sp := ScheduledPacket{Packet: reply, Addr: from}
	if oob.Routing().WhoAmI {
		n.scheduleInternalLocked(sp, nowEpochSeconds(), false)
	} else {
		n.scheduleInternalLocked(sp, nowEpochSeconds(), true)
	}
}

func (n *Node) acceptGiftListLocked(gl wire.GiftList) {
	for _, g := range gl {
		n.acceptGiftLocked(g)
	}
}

// handlePickUpLocked is reached when this node is acting as dest's
// rendezvous and dest itself is polling for a buffered message. The
// rendezvous layer decides whether a reply can be sent immediately
// (a message was already waiting) or whether the request itself must
// be remembered until one arrives.
func (n *Node) handlePickUpLocked(oob *onion.OpenedOnionBox, dest identity.PublicKey, from *net.UDPAddr) {
	if n.rendezvous == nil {
		log.Debugf("dht: received a PickUp with no rendezvous layer wired in")
		return
	}
	if dest != oob.Key() {
		log.Debugf("dht: PickUp destination doesn't match the authenticated requester")
		return
	}
	packet, addr, err := n.rendezvous.HandlePickUp(dest, oob, from, n.self)
	if err != nil {
		log.Errorf("dht: rendezvous failed to handle a PickUp: %s", err)
		return
	}
	if packet != nil {
		n.scheduleInternalLocked(ScheduledPacket{Packet: *packet, Addr: addr}, nowEpochSeconds(), true)
	}
}

// handleForwardPleaseLocked is reached when this node is acting as
// dest's rendezvous and a sender is depositing a message for dest.
func (n *Node) handleForwardPleaseLocked(dest identity.PublicKey, msg [wire.USER_MESSAGE_LENGTH]byte, from *net.UDPAddr) {
	if n.rendezvous == nil {
		log.Debugf("dht: received a ForwardPlease with no rendezvous layer wired in")
		return
	}
	packet, addr, err := n.rendezvous.HandleForwardPlease(dest, msg, n.self)
	if err != nil {
		log.Errorf("dht: rendezvous failed to handle a ForwardPlease: %s", err)
		return
	}
	if packet != nil {
		n.scheduleInternalLocked(ScheduledPacket{Packet: *packet, Addr: addr}, nowEpochSeconds(), true)
	}
}
