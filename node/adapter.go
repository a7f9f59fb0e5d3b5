// Copyright 2017 David Lazar. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package node

import (
	"net"

	"github.com/droundy/pmail/dht"
	"github.com/droundy/pmail/identity"
	"github.com/droundy/pmail/onion"
	"github.com/droundy/pmail/rendezvous"
	"github.com/droundy/pmail/wire"
)

// rendezvousAdapter makes a *rendezvous.Store satisfy dht.RendezvousHandler.
// The two packages disagree on shape for a reason: rendezvous returns a
// single *PendingReply-or-nil because that's the natural result of a
// store lookup, while dht's handler interface takes the packet and
// address as two separate return values, so that it does not depend on
// rendezvous.Store's result type (dht imports rendezvous only for
// Select).
type rendezvousAdapter struct {
	store *rendezvous.Store
}

func newRendezvousAdapter(store *rendezvous.Store) dht.RendezvousHandler {
	return rendezvousAdapter{store: store}
}

func (a rendezvousAdapter) HandleForwardPlease(dest identity.PublicKey, msg [wire.USER_MESSAGE_LENGTH]byte, self *identity.KeyPair) (*[onion.PACKET_LENGTH]byte, *net.UDPAddr, error) {
	reply, err := a.store.HandleForwardPlease(dest, msg, self)
	if err != nil || reply == nil {
		return nil, nil, err
	}
	return &reply.Packet, reply.Addr, nil
}

func (a rendezvousAdapter) HandlePickUp(dest identity.PublicKey, oob *onion.OpenedOnionBox, addr *net.UDPAddr, self *identity.KeyPair) (*[onion.PACKET_LENGTH]byte, *net.UDPAddr, error) {
	reply, err := a.store.HandlePickUp(dest, oob, addr, self)
	if err != nil || reply == nil {
		return nil, nil, err
	}
	return &reply.Packet, reply.Addr, nil
}
