package node

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/droundy/pmail/identity"
	"github.com/droundy/pmail/onion"
	"github.com/droundy/pmail/rendezvous"
	"github.com/droundy/pmail/wire"
)

func TestRendezvousAdapterHandleForwardPleaseBuffersWithNilReply(t *testing.T) {
	dir := t.TempDir()
	store, err := rendezvous.Open(filepath.Join(dir, "rendezvous.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	self, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	adapter := newRendezvousAdapter(store)

	dest := identity.PublicKey{9}
	var msg [wire.USER_MESSAGE_LENGTH]byte
	msg[0] = 3

	packet, addr, err := adapter.HandleForwardPlease(dest, msg, self)
	if err != nil {
		t.Fatal(err)
	}
	if packet != nil || addr != nil {
		t.Fatal("expected no immediate reply when nothing is waiting to pick up")
	}
}

// TestRendezvousAdapterDeliversBufferedMessageOnPickup exercises the
// path that matters most: a message already buffered for dest gets
// handed straight back as a reply the first time dest polls for it.
func TestRendezvousAdapterDeliversBufferedMessageOnPickup(t *testing.T) {
	dir := t.TempDir()
	store, err := rendezvous.Open(filepath.Join(dir, "rendezvous.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	rendezvousKey, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	dest, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}

	var buffered [wire.USER_MESSAGE_LENGTH]byte
	buffered[0] = 42
	if _, err := store.HandleForwardPlease(dest.Public, buffered, rendezvousKey); err != nil {
		t.Fatal(err)
	}

	hop := onion.Hop{Key: rendezvousKey.Public, Routing: wire.RoutingHeader{IsForMe: true}}
	ob, err := onion.Onionbox([]onion.Hop{hop}, 0, dest, wire.PickUpPayload(dest.Public, wire.GiftList{}))
	if err != nil {
		t.Fatal(err)
	}
	oob, err := onion.OnionboxOpen(ob.Packet(), rendezvousKey)
	if err != nil {
		t.Fatal(err)
	}

	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9000}
	adapter := newRendezvousAdapter(store)
	packet, gotAddr, err := adapter.HandlePickUp(dest.Public, oob, addr, rendezvousKey)
	if err != nil {
		t.Fatal(err)
	}
	if packet == nil {
		t.Fatal("expected a reply carrying the already-buffered message")
	}
	if gotAddr != addr {
		t.Fatalf("expected the reply addressed back to %v, got %v", addr, gotAddr)
	}

	payload, err := ob.ReadReturn(*packet)
	if err != nil {
		t.Fatalf("reply did not decrypt against the original request: %s", err)
	}
	if payload.Tag != wire.TagForward || payload.UserMessage != buffered {
		t.Fatalf("unexpected reply payload: %+v", payload)
	}
}
