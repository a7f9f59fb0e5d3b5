// Copyright 2017 David Lazar. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dht

import (
	"math/rand"

	"github.com/droundy/pmail/identity"
	"github.com/droundy/pmail/onion"
	"github.com/droundy/pmail/wire"
)

// buildPayloadPacketLocked builds an onion packet addressed so that
// final is the recipient hop, authenticates payload to final using
// n.self as sender, and records the outstanding onionbox entry so a
// later reply can be matched and the route's liveness revived. It does
// not schedule or send anything; that's left to the caller, since the
// two calling contexts want the resulting packet handled differently
// (sendPayloadLocked schedules it into the timer ring for some future
// tick; buildSelfPickupLocked hands it straight back to emit this
// tick, since it's only ever called from within that tick's own
// decision).
func (n *Node) buildPayloadPacketLocked(final identity.PublicKey, payload wire.Payload) (ScheduledPacket, bool) {
	if _, known := n.addresses[final]; !known {
		return ScheduledPacket{}, false
	}

	length := randomRouteLength()
	route := n.routeThroughLocked(final, length)
	recipientIndex := len(route) - 1

	hops := n.buildHopsLocked(route, wire.SocketAddress{}, recipientIndex, nowEpochSeconds())
	ob, err := onion.Onionbox(hops, recipientIndex, n.self, payload)
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

// sendPayloadLocked is buildPayloadPacketLocked plus scheduling the
// result into the timer ring for some future tick. It is the shared
// mechanism behind application sends (outbound application pump, via
// SendPayloadTo): "reach this one peer, carrying this one payload,
// over an onion route, at some point soon".
func (n *Node) sendPayloadLocked(final identity.PublicKey, payload wire.Payload) bool {
	sp, ok := n.buildPayloadPacketLocked(final, payload)
	if !ok {
		return false
	}
	return n.scheduleInternalLocked(sp, nowEpochSeconds(), true)
}

// routeThroughLocked picks up to length-1 random relays (excluding
// final) and appends final as the last hop, so the route always ends
// at the intended recipient regardless of who else it passes through.
func (n *Node) routeThroughLocked(final identity.PublicKey, length int) []identity.PublicKey {
	if length < 1 {
		length = 1
	}
	candidates := make([]identity.PublicKey, 0, len(n.addresses))
	for k := range n.addresses {
		if k == final {
			continue
		}
		candidates = append(candidates, k)
	}
	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	relays := length - 1
	if relays > len(candidates) {
		relays = len(candidates)
	}
	route := make([]identity.PublicKey, 0, relays+1)
	route = append(route, candidates[:relays]...)
	route = append(route, final)
	return route
}

// SendPayloadTo delivers payload to final over a fresh onion route,
// for use by the outbound application pump (§5, thread 6): final is
// typically a rendezvous peer, and payload is a ForwardPlease or
// PickUp. Reports whether a route and a free timer slot were both
// found; false means the send was dropped (unknown peer, or the
// timer ring is saturated).
func (n *Node) SendPayloadTo(final identity.PublicKey, payload wire.Payload) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sendPayloadLocked(final, payload)
}
