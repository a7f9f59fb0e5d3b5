// Copyright 2017 David Lazar. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package addressbook

import (
	"github.com/droundy/pmail/appmsg"
	"github.com/droundy/pmail/identity"
	"github.com/droundy/pmail/wire"
)

// EncryptedMessage is an already double-boxed, onion-ready send
// request: deliver payload to rendezvous's store-and-forward buffer.
type EncryptedMessage struct {
	Rendezvous identity.PublicKey
	Payload    wire.Payload
}

// UserMessage is a fully opened, authenticated inbound application
// message, handed to the host application. Acknowledge variants never
// reach this channel (the node consumes them itself); only
// the message kinds an application cares about do.
type UserMessage struct {
	From    identity.PublicKey
	Message appmsg.Message
}

// Surface is the channel boundary the core exposes to the host
// application on node startup (§6.3). The node owns the sending ends
// of RendezvousResult and InboundUser and the receiving ends of
// RendezvousQuery and OutboundEncrypted; the application holds it the
// other way around.
type Surface struct {
	RendezvousQuery  chan identity.PublicKey
	RendezvousResult chan identity.PublicKey

	OutboundEncrypted chan EncryptedMessage

	InboundUser chan UserMessage
}

// NewSurface allocates a Surface with reasonably small buffering; the
// node drains/feeds these channels from its own goroutines, so an
// application that stalls only backs up its own queues, never the
// node's tick-paced sender.
func NewSurface() *Surface {
	return &Surface{
		RendezvousQuery:   make(chan identity.PublicKey, 8),
		RendezvousResult:  make(chan identity.PublicKey, 8),
		OutboundEncrypted: make(chan EncryptedMessage, 32),
		InboundUser:       make(chan UserMessage, 32),
	}
}
