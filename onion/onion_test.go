package onion

import (
	"net"
	"testing"

	"github.com/droundy/pmail/identity"
	"github.com/droundy/pmail/wire"
)

func mustKeyPair(t *testing.T) *identity.KeyPair {
	t.Helper()
	kp, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	return kp
}

func routingTo(addr string, port uint16) wire.RoutingHeader {
	return wire.RoutingHeader{
		Address: wire.SocketAddress{IP: net.ParseIP(addr).To16(), Port: port},
	}
}

func TestOnionSingleHopWhoAmI(t *testing.T) {
	sender := mustKeyPair(t)
	who := mustKeyPair(t)

	hops := []Hop{
		{Key: who.Public, Routing: wire.RoutingHeader{IsForMe: true, WhoAmI: true, Address: routingTo("1.2.3.4", 1).Address}},
	}
	var dest identity.PublicKey
	payload := wire.ForwardPlease(dest, [wire.USER_MESSAGE_LENGTH]byte{})

	ob, err := Onionbox(hops, 0, sender, payload)
	if err != nil {
		t.Fatal(err)
	}
	packet := ob.Packet()
	if len(packet) != PACKET_LENGTH {
		t.Fatalf("packet length %d, want %d", len(packet), PACKET_LENGTH)
	}

	oob, err := OnionboxOpen(packet, who)
	if err != nil {
		t.Fatal(err)
	}
	if !oob.Routing().IsForMe || !oob.Routing().WhoAmI {
		t.Fatal("recipient's routing header lost its flags")
	}
	if oob.Key() != sender.Public {
		t.Fatal("recipient didn't recover the true sender's key")
	}
	got, err := oob.Payload(who)
	if err != nil {
		t.Fatal(err)
	}
	if got.Tag != wire.TagForward {
		t.Fatalf("got tag %q, want %q", got.Tag, wire.TagForward)
	}
}

func TestOnionMultiHopRelayPreservesPacketSize(t *testing.T) {
	sender := mustKeyPair(t)
	a := mustKeyPair(t)
	b := mustKeyPair(t)
	c := mustKeyPair(t)

	hops := []Hop{
		{Key: a.Public, Routing: routingTo("10.0.0.2", 2)},
		{Key: b.Public, Routing: routingTo("10.0.0.3", 3)},
		{Key: c.Public, Routing: wire.RoutingHeader{IsForMe: true, Address: routingTo("10.0.0.1", 1).Address}},
	}
	var dest identity.PublicKey
	payload := wire.ForwardPlease(dest, [wire.USER_MESSAGE_LENGTH]byte{7, 7, 7})

	ob, err := Onionbox(hops, 2, sender, payload)
	if err != nil {
		t.Fatal(err)
	}
	packet := ob.Packet()

	oobA, err := OnionboxOpen(packet, a)
	if err != nil {
		t.Fatal(err)
	}
	if oobA.Routing().IsForMe {
		t.Fatal("first hop should not be the recipient")
	}
	forwardedToB, err := oobA.Packet()
	if err != nil {
		t.Fatal(err)
	}
	if len(forwardedToB) != PACKET_LENGTH {
		t.Fatalf("forwarded packet length %d, want %d", len(forwardedToB), PACKET_LENGTH)
	}

	oobB, err := OnionboxOpen(forwardedToB, b)
	if err != nil {
		t.Fatal(err)
	}
	forwardedToC, err := oobB.Packet()
	if err != nil {
		t.Fatal(err)
	}

	oobC, err := OnionboxOpen(forwardedToC, c)
	if err != nil {
		t.Fatal(err)
	}
	if !oobC.Routing().IsForMe {
		t.Fatal("third hop should be the recipient")
	}
	got, err := oobC.Payload(c)
	if err != nil {
		t.Fatal(err)
	}
	if got.UserMessage[0] != 7 {
		t.Fatal("payload didn't survive three hops of relaying")
	}
}

func TestOnionReplyRoundTrip(t *testing.T) {
	sender := mustKeyPair(t)
	who := mustKeyPair(t)

	hops := []Hop{
		{Key: who.Public, Routing: wire.RoutingHeader{IsForMe: true, WhoAmI: true}},
	}
	var dest identity.PublicKey
	ob, err := Onionbox(hops, 0, sender, wire.ForwardPlease(dest, [wire.USER_MESSAGE_LENGTH]byte{}))
	if err != nil {
		t.Fatal(err)
	}
	packet := ob.Packet()

	oob, err := OnionboxOpen(packet, who)
	if err != nil {
		t.Fatal(err)
	}

	var gifts wire.GiftList
	gifts[0].Key = who.Public
	reply, err := oob.Respond(who, wire.Response(gifts))
	if err != nil {
		t.Fatal(err)
	}
	if len(reply) != PACKET_LENGTH {
		t.Fatalf("reply packet length %d, want %d", len(reply), PACKET_LENGTH)
	}

	got, err := ob.ReadReturn(reply)
	if err != nil {
		t.Fatal(err)
	}
	if got.Tag != wire.TagResponse {
		t.Fatalf("got tag %q, want %q", got.Tag, wire.TagResponse)
	}
	if got.Gifts[0].Key != who.Public {
		t.Fatal("reply payload didn't round trip")
	}
}

func TestOnionRejectsWrongKey(t *testing.T) {
	sender := mustKeyPair(t)
	who := mustKeyPair(t)
	stranger := mustKeyPair(t)

	hops := []Hop{{Key: who.Public, Routing: wire.RoutingHeader{IsForMe: true}}}
	var dest identity.PublicKey
	ob, err := Onionbox(hops, 0, sender, wire.ForwardPlease(dest, [wire.USER_MESSAGE_LENGTH]byte{}))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := OnionboxOpen(ob.Packet(), stranger); err == nil {
		t.Fatal("expected a stranger to fail to open the layer")
	}
}
