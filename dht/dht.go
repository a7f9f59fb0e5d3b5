// Copyright 2017 David Lazar. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dht implements the routing table and cover-traffic scheduler
// that is the heart of a pmail node: the peer set and its liveness
// scores, greeting loops and whoami probes that discover and verify
// peers, random route selection, and the fixed-period timer wheel
// that guarantees exactly one packet leaves per tick.
package dht

import (
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/droundy/pmail/bloom"
	"github.com/droundy/pmail/identity"
	"github.com/droundy/pmail/log"
	"github.com/droundy/pmail/onion"
	"github.com/droundy/pmail/wire"
)

// replayFilterBits/replayFilterHashes size the per-window Bloom filter
// used to drop exact-duplicate packets. Optimal(2000, 0.001) is
// generous for TIMER_WINDOW=360 ticks worth of traffic at one packet a
// tick, with headroom for relayed traffic this node isn't the origin
// of.
var replayFilterBits, replayFilterHashes = bloom.Optimal(2000, 0.001)

// TIMER_WINDOW is the number of future ticks the scheduler may hold
// pending packets; packets due further out than this are dropped.
const TIMER_WINDOW = 360

// Epoch is the protocol's time origin; ETA fields are seconds since
// this instant.
var Epoch = time.Date(2015, time.January, 1, 0, 0, 0, 0, time.UTC)

func nowEpochSeconds() uint32 {
	return uint32(time.Since(Epoch) / time.Second)
}

// RendezvousHandler lets the rendezvous layer (C6) answer PickUp and
// ForwardPlease payloads addressed to this node, without the dht
// package needing to know anything about store-and-forward slots.
type RendezvousHandler interface {
	HandleForwardPlease(dest identity.PublicKey, msg [wire.USER_MESSAGE_LENGTH]byte, self *identity.KeyPair) (packet *[onion.PACKET_LENGTH]byte, addr *net.UDPAddr, err error)
	HandlePickUp(dest identity.PublicKey, oob *onion.OpenedOnionBox, addr *net.UDPAddr, self *identity.KeyPair) (packet *[onion.PACKET_LENGTH]byte, replyAddr *net.UDPAddr, err error)
}

// addrKey is a hashable encoding of a wire.SocketAddress, since
// net.IP (a slice) can't be a map key itself.
type addrKey [wire.SocketAddressLength]byte

func encodeAddrKey(a wire.SocketAddress) addrKey {
	var k addrKey
	a.Encode((*[wire.SocketAddressLength]byte)(&k))
	return k
}

// onionboxEntry is what's kept per outstanding return-magic: either
// this node originated the packet (own != nil, so a matching reply is
// decrypted and dispatched here), or this node merely relayed it
// (returnTo != nil, so a matching reply is forwarded there verbatim).
type onionboxEntry struct {
	own      *onion.OnionBox
	returnTo *net.UDPAddr
	// route is every hop this packet traveled outbound, recorded so a
	// successful round trip can revive each of them to MAX_LIVENESS
	// (§4.4), independent of whatever gifts the Response carries.
	route []identity.PublicKey
}

// ScheduledPacket is one slot of the timer ring: a packet and the
// address it's destined for, waiting for its tick to fire.
type ScheduledPacket struct {
	Packet [onion.PACKET_LENGTH]byte
	Addr   *net.UDPAddr
}

// Node is the DHT: peer table, liveness scores, and scheduler, all
// guarded by a single coarse-grained lock (§5 "the DHT struct is the
// only cross-thread mutable state").
type Node struct {
	mu sync.Mutex

	self       *identity.KeyPair
	tickPeriod time.Duration

	addresses map[identity.PublicKey]wire.SocketAddress
	pubkeys   map[addrKey]identity.PublicKey
	newbies   map[identity.PublicKey]bool
	liveness  map[identity.PublicKey]int

	onionboxen map[[32]byte]onionboxEntry

	timer    [TIMER_WINDOW]*ScheduledPacket
	tickIdx  uint64

	knownSelf bool
	selfAddr  wire.SocketAddress

	rendezvous RendezvousHandler

	// replayCur/replayPrev are a rotating pair of Bloom filters over
	// raw inbound packet bytes: a packet seen in either is a repeat
	// (of a relayed packet, or of an attacker's captured one) and is
	// dropped before it costs an onion-open or a timer slot. Rotated
	// once per TIMER_WINDOW ticks (see Msg), so the false-positive
	// rate stays bounded instead of growing without end.
	replayCur, replayPrev *bloom.Filter

	// Inbound is where decoded, non-relay, non-maintenance payloads
	// addressed to this node are reported for a higher layer (the
	// rendezvous/appmsg wiring in package node) to consume:
	// ForwardPlease payloads this node's own onionboxen matched as a
	// reply (i.e. the final leg of a pickup), surfaced as raw
	// USER_MESSAGE_LENGTH ciphertext ready for appmsg.Receive.
	Inbound chan [wire.USER_MESSAGE_LENGTH]byte
}

// New creates a routing table seeded with bootstrap and ready to run.
func New(self *identity.KeyPair, bootstrap []wire.Gift, tickPeriod time.Duration) *Node {
	n := &Node{
		self:       self,
		tickPeriod: tickPeriod,
		addresses:  make(map[identity.PublicKey]wire.SocketAddress),
		pubkeys:    make(map[addrKey]identity.PublicKey),
		newbies:    make(map[identity.PublicKey]bool),
		liveness:   make(map[identity.PublicKey]int),
		onionboxen: make(map[[32]byte]onionboxEntry),
		replayCur:  bloom.New(replayFilterBits, replayFilterHashes),
		replayPrev: bloom.New(replayFilterBits, replayFilterHashes),
		Inbound:    make(chan [wire.USER_MESSAGE_LENGTH]byte, 32),
	}
	for _, g := range bootstrap {
		n.acceptGiftLocked(g)
	}
	return n
}

// SetRendezvousHandler wires in the store-and-forward layer. Must be
// called before the node starts processing inbound packets.
func (n *Node) SetRendezvousHandler(h RendezvousHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rendezvous = h
}

func isZeroKey(k identity.PublicKey) bool {
	return k == identity.PublicKey{}
}

func (n *Node) acceptGiftLocked(g wire.Gift) {
	if isZeroKey(g.Key) || g.Key == n.self.Public {
		return
	}
	if _, known := n.addresses[g.Key]; known {
		// No address refresh once known; address changes require
		// expiry, which this design doesn't implement (§9).
		return
	}
	n.addresses[g.Key] = g.Address
	n.pubkeys[encodeAddrKey(g.Address)] = g.Key
	n.newbies[g.Key] = true
}

// AcceptGift inserts each new peer from a gift list into the routing
// table. Already-known keys are left untouched.
func (n *Node) AcceptGift(gifts wire.GiftList) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, g := range gifts {
		n.acceptGiftLocked(g)
	}
}

// Liveness reports a peer's current liveness score, and whether it
// currently has a liveness entry (a known peer that is not live has
// none).
func (n *Node) Liveness(key identity.PublicKey) (int, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	v, ok := n.liveness[key]
	return v, ok
}

// KnownPeers returns every public key currently known, live or not;
// used by the rendezvous layer to pick a rendezvous peer.
func (n *Node) KnownPeers() []identity.PublicKey {
	n.mu.Lock()
	defer n.mu.Unlock()
	peers := make([]identity.PublicKey, 0, len(n.addresses))
	for k := range n.addresses {
		peers = append(peers, k)
	}
	return peers
}

func (n *Node) demoteLocked(key identity.PublicKey) {
	score, ok := n.liveness[key]
	if !ok {
		return
	}
	score--
	if score <= 0 {
		delete(n.liveness, key)
		n.newbies[key] = true
		return
	}
	n.liveness[key] = score
}

func (n *Node) reviveLocked(key identity.PublicKey) {
	n.liveness[key] = wire.MAX_LIVENESS
	delete(n.newbies, key)
}

// pickRouteLocked chooses a route of the given length by sampling
// distinct peers (other than self) from addresses without
// replacement. If fewer than length peers are known, the route is
// truncated rather than padded with duplicates (the original's "pick
// route" short-circuit, §9 Supplemented features).
func (n *Node) pickRouteLocked(length int) []identity.PublicKey {
	candidates := make([]identity.PublicKey, 0, len(n.addresses))
	for k := range n.addresses {
		candidates = append(candidates, k)
	}
	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	if length > len(candidates) {
		length = len(candidates)
	}
	return candidates[:length]
}

func randomRouteLength() int {
	return wire.MinRouteLength + rand.Intn(wire.MaxRouteLength-wire.MinRouteLength+1)
}

// buildHopsLocked turns a chosen peer-key route into onion.Hop values, with
// routing[i].Address set to the next hop's address (the last hop's
// Address set by the caller, typically a loopback to self).
func (n *Node) buildHopsLocked(route []identity.PublicKey, finalAddr wire.SocketAddress, recipientIndex int, baseETA uint32) []onion.Hop {
	hops := make([]onion.Hop, len(route))
	eta := baseETA
	for i, key := range route {
		var nextAddr wire.SocketAddress
		if i+1 < len(route) {
			nextAddr = n.addresses[route[i+1]]
		} else {
			nextAddr = finalAddr
		}
		// Per-hop delay uniformly sampled from [T, 7T], rounded up
		// to whole seconds, accumulated as the cumulative ETA.
		delay := n.tickPeriod + time.Duration(rand.Int63n(int64(6*n.tickPeriod)))
		secs := uint32((delay + time.Second - 1) / time.Second)
		eta += secs
		hops[i] = onion.Hop{
			Key: key,
			Routing: wire.RoutingHeader{
				IsForMe: i == recipientIndex,
				WhoAmI:  false,
				Address: nextAddr,
				ETA:     eta,
			},
		}
	}
	return hops
}

func (n *Node) randomLiveGiftLocked() wire.GiftList {
	live := make([]identity.PublicKey, 0, len(n.liveness))
	for k := range n.liveness {
		live = append(live, k)
	}
	rand.Shuffle(len(live), func(i, j int) { live[i], live[j] = live[j], live[i] })

	var gl wire.GiftList
	for i := 0; i < wire.NUM_IN_RESPONSE && i < len(live); i++ {
		gl[i] = wire.Gift{Address: n.addresses[live[i]], Key: live[i]}
	}
	return gl
}
