package dht

import (
	"net"
	"testing"
	"time"

	"github.com/droundy/pmail/identity"
	"github.com/droundy/pmail/internal/debug"
	"github.com/droundy/pmail/onion"
	"github.com/droundy/pmail/wire"
)

func mustKeyPair(t *testing.T) *identity.KeyPair {
	t.Helper()
	kp, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate: %s", err)
	}
	return kp
}

func loopbackAddr(t *testing.T, port int) wire.SocketAddress {
	t.Helper()
	return wire.SocketAddressFromUDP(&net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: port})
}

func TestAcceptGiftSkipsZeroKeyAndSelf(t *testing.T) {
	self := mustKeyPair(t)
	n := New(self, nil, 10*time.Second)

	n.AcceptGift(wire.GiftList{
		{Address: loopbackAddr(t, 1), Key: identity.PublicKey{}},
		{Address: loopbackAddr(t, 2), Key: self.Public},
	})
	if len(n.KnownPeers()) != 0 {
		t.Fatalf("expected no peers accepted, got %v", n.KnownPeers())
	}
}

func TestAcceptGiftDoesNotRefreshKnownAddress(t *testing.T) {
	self := mustKeyPair(t)
	peer := mustKeyPair(t)
	n := New(self, nil, 10*time.Second)

	n.AcceptGift(wire.GiftList{{Address: loopbackAddr(t, 100), Key: peer.Public}})
	n.AcceptGift(wire.GiftList{{Address: loopbackAddr(t, 200), Key: peer.Public}})

	n.mu.Lock()
	got := n.addresses[peer.Public]
	n.mu.Unlock()
	if got.Port != 100 {
		t.Fatalf("expected original address to be kept, got port %d", got.Port)
	}
}

func TestLivenessDemoteToZeroMakesNewbie(t *testing.T) {
	self := mustKeyPair(t)
	peer := mustKeyPair(t)
	n := New(self, nil, 10*time.Second)

	n.mu.Lock()
	n.addresses[peer.Public] = loopbackAddr(t, 300)
	n.reviveLocked(peer.Public)
	n.mu.Unlock()

	score, ok := n.Liveness(peer.Public)
	if !ok || score != wire.MAX_LIVENESS {
		t.Fatalf("expected revived peer at MAX_LIVENESS, got %d, %v", score, ok)
	}

	n.mu.Lock()
	for i := 0; i < wire.MAX_LIVENESS; i++ {
		n.demoteLocked(peer.Public)
	}
	_, stillKnown := n.newbies[peer.Public]
	n.mu.Unlock()

	if _, ok := n.Liveness(peer.Public); ok {
		t.Fatal("expected liveness entry to be removed after demoting to zero")
	}
	if !stillKnown {
		t.Fatal("expected peer to become a newbie again after losing all liveness")
	}
}

func TestPickRouteLockedTruncatesWhenFewPeersKnown(t *testing.T) {
	self := mustKeyPair(t)
	n := New(self, nil, 10*time.Second)

	for i := 0; i < 2; i++ {
		p := mustKeyPair(t)
		n.mu.Lock()
		n.addresses[p.Public] = loopbackAddr(t, 400+i)
		n.mu.Unlock()
	}

	n.mu.Lock()
	route := n.pickRouteLocked(6)
	n.mu.Unlock()
	if len(route) != 2 {
		t.Fatalf("expected route truncated to 2 known peers, got %d", len(route))
	}
}

func TestMsgSynthesizesMaintenanceWhenRingEmpty(t *testing.T) {
	self := mustKeyPair(t)
	peer := mustKeyPair(t)
	n := New(self, nil, 10*time.Second)
	n.AcceptGift(wire.GiftList{{Address: loopbackAddr(t, 500), Key: peer.Public}})

	sp, ok := n.Msg(0)
	if !ok {
		t.Fatal("expected a synthesized maintenance packet")
	}
	if sp.Addr == nil {
		t.Fatal("expected the synthesized packet to have a destination")
	}
}

func TestMsgReturnsScheduledPacketBeforeSynthesizing(t *testing.T) {
	self := mustKeyPair(t)
	n := New(self, nil, 10*time.Second)

	want := ScheduledPacket{Addr: &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 600}}
	want.Packet[0] = 42

	n.mu.Lock()
	n.timer[7] = &want
	n.mu.Unlock()

	got, ok := n.Msg(7)
	if !ok {
		t.Fatal("expected the previously scheduled packet")
	}
	if got.Packet[0] != 42 {
		t.Fatalf("expected the scheduled packet back, got %s", debug.Pretty(got))
	}

	n.mu.Lock()
	stillThere := n.timer[7]
	n.mu.Unlock()
	if stillThere != nil {
		t.Fatal("expected the slot to be cleared after Msg popped it")
	}
}

func TestScheduleIfConvenientFailsWhenSlotTaken(t *testing.T) {
	self := mustKeyPair(t)
	n := New(self, nil, time.Second)

	eta := nowEpochSeconds()
	var first, second bool
	// ScheduleIfConvenient tries exactly one slot; hammer the same eta
	// until we observe at least one success and, once the ring is
	// saturated at that index, a failure.
	for i := 0; i < TIMER_WINDOW*2; i++ {
		ok := n.ScheduleIfConvenient(ScheduledPacket{}, eta)
		if ok {
			first = true
		} else {
			second = true
		}
		if first && second {
			break
		}
	}
	if !first {
		t.Fatal("expected at least one ScheduleIfConvenient to succeed")
	}
	if !second {
		t.Fatal("expected ScheduleIfConvenient to fail once its slot was taken")
	}
}

func TestScheduleFillsRingUpToWindow(t *testing.T) {
	self := mustKeyPair(t)
	n := New(self, nil, time.Second)

	eta := nowEpochSeconds()
	count := 0
	for i := 0; i < TIMER_WINDOW; i++ {
		if n.Schedule(ScheduledPacket{}, eta) {
			count++
		}
	}
	if count != TIMER_WINDOW {
		t.Fatalf("expected to fill the whole ring (%d slots), got %d", TIMER_WINDOW, count)
	}
	if n.Schedule(ScheduledPacket{}, eta) {
		t.Fatal("expected scheduling to fail once every slot is taken")
	}
}

// TestTwoNodeWhoamiRoundTrip mirrors the spec's bootstrap/whoami
// end-to-end scenario: A knows only B, sends a whoami probe, B answers
// with A's observed address, and A ends up both knowing its own
// external address and having revived B's liveness.
func TestTwoNodeWhoamiRoundTrip(t *testing.T) {
	a := mustKeyPair(t)
	b := mustKeyPair(t)

	addrA := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 41000}
	addrB := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 42000}

	nodeA := New(a, []wire.Gift{{Address: wire.SocketAddressFromUDP(addrB), Key: b.Public}}, 10*time.Second)
	nodeB := New(b, []wire.Gift{{Address: wire.SocketAddressFromUDP(addrA), Key: a.Public}}, 10*time.Second)

	// A has fewer than three known peers, so its next tick always
	// wants a whoami probe.
	sp, ok := nodeA.Msg(0)
	if !ok {
		t.Fatal("expected A to synthesize a whoami probe")
	}
	if sp.Addr.Port != addrB.Port {
		t.Fatalf("expected the probe addressed to B, got %v", sp.Addr)
	}

	// Deliver it to B, claiming it arrived from addrA.
	nodeB.HandleInbound(sp.Packet, addrA)

	reply, ok := nodeB.PopAnyScheduled()
	if !ok {
		t.Fatal("expected B to have scheduled a reply")
	}
	if reply.Addr.Port != addrA.Port {
		t.Fatalf("expected B's reply addressed back to A, got %v", reply.Addr)
	}

	// Deliver B's reply back to A, claiming it arrived from addrB.
	nodeA.HandleInbound(reply.Packet, addrB)

	nodeA.mu.Lock()
	knownSelf := nodeA.knownSelf
	selfPort := nodeA.selfAddr.Port
	nodeA.mu.Unlock()

	if !knownSelf {
		t.Fatal("expected A to learn it is reachable after the whoami round trip")
	}
	if selfPort != uint16(addrA.Port) {
		t.Fatalf("expected A's observed address to be %d, got %d", addrA.Port, selfPort)
	}

	score, ok := nodeA.Liveness(b.Public)
	if !ok || score != wire.MAX_LIVENESS {
		t.Fatalf("expected B revived to MAX_LIVENESS after a successful round trip, got %d, %v", score, ok)
	}
}

// TestGreetingLoopRevivesEveryHop covers the three-node greeting
// scenario: a route through a single relay, where a successful round
// trip should revive every hop on the route, not just the final
// responder.
func TestGreetingLoopRevivesEveryHop(t *testing.T) {
	a := mustKeyPair(t)
	relay := mustKeyPair(t)
	dest := mustKeyPair(t)

	addrA := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 43000}
	addrRelay := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 44000}
	addrDest := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 45000}

	nodeA := New(a, nil, 10*time.Second)
	nodeA.AcceptGift(wire.GiftList{
		{Address: wire.SocketAddressFromUDP(addrRelay), Key: relay.Public},
		{Address: wire.SocketAddressFromUDP(addrDest), Key: dest.Public},
	})
	nodeA.mu.Lock()
	nodeA.knownSelf = true
	nodeA.selfAddr = wire.SocketAddressFromUDP(addrA)
	nodeA.mu.Unlock()

	route := []identity.PublicKey{relay.Public, dest.Public}
	nodeA.mu.Lock()
	hops := nodeA.buildHopsLocked(route, nodeA.selfAddr, 1, nowEpochSeconds())
	gifts := nodeA.randomLiveGiftLocked()
	ob, err := onion.Onionbox(hops, 1, a, wire.Greetings(gifts))
	if err != nil {
		nodeA.mu.Unlock()
		t.Fatalf("building the greeting loop: %s", err)
	}
	nodeA.onionboxen[ob.ReturnMagic()] = onionboxEntry{own: ob, route: route}
	nodeA.mu.Unlock()

	nodeRelay := New(relay, nil, 10*time.Second)
	nodeDest := New(dest, nil, 10*time.Second)

	packet := ob.Packet()
	nodeRelay.HandleInbound(packet, addrA)

	forwarded, ok := nodeRelay.PopAnyScheduled()
	if !ok {
		t.Fatal("expected the relay to forward the greeting onward")
	}
	if forwarded.Addr.Port != addrDest.Port {
		t.Fatalf("expected the relay to forward to dest, got %v", forwarded.Addr)
	}

	nodeDest.HandleInbound(forwarded.Packet, addrRelay)
	destReply, ok := nodeDest.PopAnyScheduled()
	if !ok {
		t.Fatal("expected dest to schedule a response")
	}

	nodeRelay.HandleInbound(destReply.Packet, addrDest)
	relayReply, ok := nodeRelay.PopAnyScheduled()
	if !ok {
		t.Fatal("expected the relay to forward the response back verbatim")
	}

	nodeA.HandleInbound(relayReply.Packet, addrRelay)

	for _, key := range route {
		score, ok := nodeA.Liveness(key)
		if !ok || score != wire.MAX_LIVENESS {
			t.Fatalf("expected hop %x revived to MAX_LIVENESS, got %d, %v", key[:4], score, ok)
		}
	}
}

// TestHandleInboundDropsRepeatedPacket confirms an exact-duplicate
// packet (an attacker's captured copy, or an ordinary network-level
// retransmission) is discarded the second time, instead of being
// processed twice.
func TestHandleInboundDropsRepeatedPacket(t *testing.T) {
	a := mustKeyPair(t)
	b := mustKeyPair(t)

	addrA := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 46000}
	addrB := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 47000}

	nodeA := New(a, []wire.Gift{{Address: wire.SocketAddressFromUDP(addrB), Key: b.Public}}, 10*time.Second)
	nodeB := New(b, nil, 10*time.Second)

	sp, ok := nodeA.Msg(0)
	if !ok {
		t.Fatal("expected A to synthesize a probe")
	}

	nodeB.HandleInbound(sp.Packet, addrA)
	if _, ok := nodeB.PopAnyScheduled(); !ok {
		t.Fatal("expected B to schedule a reply the first time")
	}

	nodeB.HandleInbound(sp.Packet, addrA)
	if _, ok := nodeB.PopAnyScheduled(); ok {
		t.Fatal("expected the repeated packet to be dropped, not reprocessed")
	}
}
