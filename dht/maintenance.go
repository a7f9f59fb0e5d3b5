// Copyright 2017 David Lazar. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dht

import (
	"math/rand"

	"github.com/droundy/pmail/identity"
	"github.com/droundy/pmail/onion"
	"github.com/droundy/pmail/rendezvous"
	"github.com/droundy/pmail/wire"
)

// synthesizeMaintenanceLocked builds a cover-traffic packet when the
// current tick's ring slot is empty: mostly a greeting loop, but a
// whoami probe whenever self isn't known to be reachable yet, or
// fewer than three peers are known, or (unconditionally) with
// probability 1/ROUTE_COUNT otherwise; and, the rest of the time,
// occasionally a self-pickup poll of our own rendezvous peer (spec.md
// doesn't pin a cadence for when a node checks its own mailbox, so
// this ties it to the same maintenance slot at a 1-in-2 rate whenever
// a whoami probe wasn't already chosen).
func (n *Node) synthesizeMaintenanceLocked() (ScheduledPacket, bool) {
	wantWhoami := !n.knownSelf || len(n.addresses) < 3 || rand.Intn(wire.ROUTE_COUNT) == 0
	if wantWhoami {
		if sp, ok := n.buildWhoamiLocked(); ok {
			return sp, true
		}
		return n.buildGreetingLocked()
	}
	if rand.Intn(2) == 0 {
		if sp, ok := n.buildSelfPickupLocked(); ok {
			return sp, true
		}
	}
	return n.buildGreetingLocked()
}

// buildSelfPickupLocked polls our own rendezvous peer for any message
// buffered for us, offering our own current gift list in exchange.
// synthesizeMaintenanceLocked's caller (Msg) already holds this tick's
// ring slot and wants the packet back immediately, so this builds the
// onion packet via buildPayloadPacketLocked directly rather than going
// through sendPayloadLocked/the ring: popping an arbitrary occupied
// slot back out would risk emitting some unrelated, earlier-scheduled
// packet ahead of its intended ETA while this PickUp sat waiting.
func (n *Node) buildSelfPickupLocked() (ScheduledPacket, bool) {
	if !n.knownSelf {
		return ScheduledPacket{}, false
	}
	candidates := make([]identity.PublicKey, 0, len(n.addresses))
	for k := range n.addresses {
		candidates = append(candidates, k)
	}
	rendezvousPeer, ok := rendezvous.Select(candidates, n.self.Public)
	if !ok {
		return ScheduledPacket{}, false
	}
	payload := wire.PickUpPayload(n.self.Public, n.randomLiveGiftLocked())
	return n.buildPayloadPacketLocked(rendezvousPeer, payload)
}

// buildWhoamiLocked sends a single-hop probe to a random known peer,
// asking it to report the address it saw the probe arrive from.
func (n *Node) buildWhoamiLocked() (ScheduledPacket, bool) {
	peer, ok := n.randomPeerLocked()
	if !ok {
		return ScheduledPacket{}, false
	}
	hop := onion.Hop{
		Key: peer,
		Routing: wire.RoutingHeader{
			IsForMe: true,
			WhoAmI:  true,
			Address: n.addresses[peer],
			ETA:     nowEpochSeconds(),
		},
	}
	gifts := n.randomLiveGiftLocked()
	ob, err := onion.Onionbox([]onion.Hop{hop}, 0, n.self, wire.Greetings(gifts))
	if err != nil {
		return ScheduledPacket{}, false
	}
	n.onionboxen[ob.ReturnMagic()] = onionboxEntry{own: ob, route: []identity.PublicKey{peer}}
	n.demoteLocked(peer)
	return ScheduledPacket{Packet: ob.Packet(), Addr: n.addresses[peer].UDPAddr()}, true
}

// buildGreetingLocked sends a circular greeting loop: a random route
// of length [3,6] starting and ending at self, with a random
// non-self, non-last hop designated as the recipient of the gift
// exchange payload.
func (n *Node) buildGreetingLocked() (ScheduledPacket, bool) {
	length := randomRouteLength()
	route := n.pickRouteLocked(length)
	if len(route) < 2 {
		return ScheduledPacket{}, false
	}
	recipientIndex := rand.Intn(len(route) - 1)

	var selfAddr wire.SocketAddress
	if n.knownSelf {
		selfAddr = n.selfAddr
	}
	hops := n.buildHopsLocked(route, selfAddr, recipientIndex, nowEpochSeconds())

	gifts := n.randomLiveGiftLocked()
	ob, err := onion.Onionbox(hops, recipientIndex, n.self, wire.Greetings(gifts))
	if err != nil {
		return ScheduledPacket{}, false
	}
	n.onionboxen[ob.ReturnMagic()] = onionboxEntry{own: ob, route: append([]identity.PublicKey(nil), route...)}
	for _, key := range route {
		n.demoteLocked(key)
	}
	first := route[0]
	return ScheduledPacket{Packet: ob.Packet(), Addr: n.addresses[first].UDPAddr()}, true
}

func (n *Node) randomPeerLocked() (identity.PublicKey, bool) {
	if len(n.addresses) == 0 {
		return identity.PublicKey{}, false
	}
	i := rand.Intn(len(n.addresses))
	for k := range n.addresses {
		if i == 0 {
			return k, true
		}
		i--
	}
	return identity.PublicKey{}, false
}
