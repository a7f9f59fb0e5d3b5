// Copyright 2017 David Lazar. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package onion implements the fixed-size layered packet format that
// the rest of pmail treats as an external primitive (see the onion
// contract in the design notes): build a packet that carries a
// distinct routing header to each of up to ROUTE_COUNT hops plus one
// authenticated payload for a single recipient hop, peel it one layer
// at a time, and route a reply back to the sender without any hop
// other than the sender learning who the sender was.
//
// Every packet on the wire, at every hop, is exactly PACKET_LENGTH
// bytes. A layer's authenticated content shrinks by a fixed amount
// each time a hop peels it; the forwarding Packet method and Respond
// re-pad the unused tail with fresh random bytes so that
// packet size never varies, matching the onion contract's "constant
// PACKET_LENGTH" invariant. Unused trailing route slots (when the
// real route is shorter than ROUTE_COUNT) are padded with
// self-addressed loopback layers so the real path length doesn't
// leak either.
package onion

import (
	"crypto/rand"
	"crypto/sha256"

	"golang.org/x/crypto/nacl/box"

	"github.com/droundy/pmail/errors"
	"github.com/droundy/pmail/identity"
	"github.com/droundy/pmail/wire"
)

const (
	// payloadSlotLength is the authenticated-to-the-true-sender
	// payload carried at the recipient's hop: sender's real public
	// key, the box's authentication tag, and the DHT payload itself.
	payloadSlotLength = 32 + box.Overhead + wire.PAYLOAD_LENGTH

	// layerPlaintextLength is what one hop recovers by opening its
	// layer: its own routing header plus the (opaque to it unless
	// it's the recipient) payload slot.
	layerPlaintextLength = wire.ROUTING_LENGTH + payloadSlotLength

	// layerStep is how many fewer bytes of authenticated content
	// remain after each hop peels its layer: the layer's own
	// plaintext, plus the authentication tag that layer consumed.
	layerStep = layerPlaintextLength + box.Overhead

	// PACKET_LENGTH is the onion ephemeral public key followed by
	// ROUTE_COUNT nested layers' worth of content. Every packet on
	// the wire is exactly this size, at every hop.
	PACKET_LENGTH = 32 + wire.ROUTE_COUNT*layerStep
)

// contentLength is how many bytes after the leading ephemeral public
// key are real (authenticated) ciphertext when a packet has depth
// hops left to peel; the rest of PACKET_LENGTH is random padding.
func contentLength(depthRemaining int) int {
	return depthRemaining * layerStep
}

// zeroNonce is safe to reuse because the ephemeral key used with it
// is generated fresh for every OnionBox and never reused.
var zeroNonce [24]byte

// Hop describes one hop of a route: the peer who will peel that
// layer, and the routing header meant for them.
type Hop struct {
	Key     identity.PublicKey
	Routing wire.RoutingHeader
}

// OnionBox is a constructed, not-yet-sent onion packet, retained by
// the sender so that a later reply can be matched and decrypted.
type OnionBox struct {
	ephemeralPub identity.PublicKey
	ephemeralSec identity.SecretKey
	recipientKey identity.PublicKey
	packet       [PACKET_LENGTH]byte
}

// innerNonce derives the nonce used to authenticate the payload to
// the true sender. Deriving it from the packet's one-time ephemeral
// key and the recipient's key (rather than transmitting a random
// nonce) is safe precisely because the ephemeral key is fresh for
// every packet, and it buys back the bytes PAYLOAD_LENGTH needs to
// fit within USER_MESSAGE_LENGTH at the end-to-end layer above this
// one.
func innerNonce(ephemeralPub identity.PublicKey, recipient identity.PublicKey) *[24]byte {
	h := sha256.Sum256(append(append([]byte{}, ephemeralPub[:]...), recipient[:]...))
	var n [24]byte
	copy(n[:], h[:24])
	return &n
}

// Onionbox builds a layered packet over hops (1 to ROUTE_COUNT of
// them, outermost first), with the payload addressed and
// authenticated to hops[recipientIndex] using senderKey as the true
// sender identity. Hops after recipientIndex continue the route as
// ordinary relays; hops beyond len(hops) up to ROUTE_COUNT are padded
// with loopback layers addressed to the last real hop, so the wire
// never reveals the real route length.
func Onionbox(hops []Hop, recipientIndex int, senderKey *identity.KeyPair, payload wire.Payload) (*OnionBox, error) {
	if len(hops) < 1 || len(hops) > wire.ROUTE_COUNT {
		return nil, errors.New("onion: route length out of range")
	}
	if recipientIndex < 0 || recipientIndex >= len(hops) {
		return nil, errors.New("onion: recipient index out of range")
	}

	padded := make([]Hop, wire.ROUTE_COUNT)
	copy(padded, hops)
	last := hops[len(hops)-1]
	for i := len(hops); i < wire.ROUTE_COUNT; i++ {
		padded[i] = Hop{Key: last.Key, Routing: last.Routing}
	}

	ephemeralPub, ephemeralSec, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "onion: generating ephemeral key")
	}

	var payloadBuf [wire.PAYLOAD_LENGTH]byte
	payload.Encode(&payloadBuf)

	var payloadSlot [payloadSlotLength]byte
	copy(payloadSlot[0:32], senderKey.Public[:])
	recipientPub := (*[32]byte)(&padded[recipientIndex].Key)
	senderSec := (*[32]byte)(&senderKey.Secret)
	sealedPayload := box.Seal(nil, payloadBuf[:], innerNonce(identity.PublicKey(*ephemeralPub), padded[recipientIndex].Key), recipientPub, senderSec)
	copy(payloadSlot[32:], sealedPayload)

	// Build from the innermost layer (the hop after the last real
	// one, which is always the padding/self-loop target) outward.
	var inner []byte
	for i := wire.ROUTE_COUNT - 1; i >= 0; i-- {
		var routingBuf [wire.ROUTING_LENGTH]byte
		padded[i].Routing.Encode(&routingBuf)

		var slot [payloadSlotLength]byte
		if i == recipientIndex {
			slot = payloadSlot
		} else {
			// Opaque filler; only the recipient's slot is
			// ever actually read.
			if _, err := rand.Read(slot[:]); err != nil {
				return nil, errors.Wrap(err, "onion: filling padding slot")
			}
		}

		plain := make([]byte, 0, layerPlaintextLength+len(inner))
		plain = append(plain, routingBuf[:]...)
		plain = append(plain, slot[:]...)
		plain = append(plain, inner...)

		hopPub := (*[32]byte)(&padded[i].Key)
		inner = box.Seal(nil, plain, &zeroNonce, hopPub, ephemeralSec)
	}

	ob := &OnionBox{
		ephemeralPub: identity.PublicKey(*ephemeralPub),
		ephemeralSec: identity.SecretKey(*ephemeralSec),
		recipientKey: padded[recipientIndex].Key,
	}
	copy(ob.packet[0:32], ephemeralPub[:])
	copy(ob.packet[32:], inner)
	return ob, nil
}

// Packet returns the fixed-size wire representation of the box.
func (ob *OnionBox) Packet() [PACKET_LENGTH]byte {
	return ob.packet
}

// ReturnMagic is the identifier a reply to this packet will carry as
// its own leading 32 bytes: the packet's own ephemeral public key.
func (ob *OnionBox) ReturnMagic() [32]byte {
	return [32]byte(ob.ephemeralPub)
}

// ReadReturn decrypts a reply packet previously produced by
// OpenedOnionBox.Respond somewhere along this box's route.
func (ob *OnionBox) ReadReturn(packet [PACKET_LENGTH]byte) (wire.Payload, error) {
	var gotMagic [32]byte
	copy(gotMagic[:], packet[0:32])
	if gotMagic != ob.ReturnMagic() {
		return wire.Payload{}, errors.New("onion: reply does not match this box")
	}
	var replyPub [32]byte
	copy(replyPub[:], packet[32:64])
	ephemeralSec := (*[32]byte)(&ob.ephemeralSec)
	sealedLen := wire.PAYLOAD_LENGTH + box.Overhead
	plain, ok := box.Open(nil, packet[64:64+sealedLen], &zeroNonce, &replyPub, ephemeralSec)
	if !ok {
		return wire.Payload{}, errors.New("onion: reply failed to decrypt")
	}
	if len(plain) != wire.PAYLOAD_LENGTH {
		return wire.Payload{}, errors.New("onion: reply payload has the wrong length")
	}
	var buf [wire.PAYLOAD_LENGTH]byte
	copy(buf[:], plain)
	return wire.DecodePayload(buf), nil
}

// OpenedOnionBox is the result of peeling one layer of a received
// packet: this hop's own routing instructions, plus (if it's the
// recipient) the authenticated payload.
type OpenedOnionBox struct {
	ephemeralPub  identity.PublicKey
	routing       wire.RoutingHeader
	payloadSlot   [payloadSlotLength]byte
	rest          []byte // real ciphertext to forward, before re-padding
}

// OnionboxOpen peels exactly one layer of packet using myKey, the
// receiving node's secret key. It tries each possible remaining
// layer count in turn, since the wire format deliberately doesn't
// reveal how many layers have already been peeled.
func OnionboxOpen(packet [PACKET_LENGTH]byte, myKey *identity.KeyPair) (*OpenedOnionBox, error) {
	var ephemeralPub [32]byte
	copy(ephemeralPub[:], packet[0:32])
	mySec := (*[32]byte)(&myKey.Secret)

	for depth := wire.ROUTE_COUNT; depth >= 1; depth-- {
		n := contentLength(depth)
		plain, ok := box.Open(nil, packet[32:32+n], &zeroNonce, &ephemeralPub, mySec)
		if !ok {
			continue
		}
		if len(plain) < layerPlaintextLength {
			return nil, errors.New("onion: truncated onion layer")
		}
		var routingBuf [wire.ROUTING_LENGTH]byte
		copy(routingBuf[:], plain[0:wire.ROUTING_LENGTH])

		oob := &OpenedOnionBox{
			ephemeralPub: identity.PublicKey(ephemeralPub),
			routing:      wire.DecodeRoutingHeader(routingBuf),
			rest:         plain[layerPlaintextLength:],
		}
		copy(oob.payloadSlot[:], plain[wire.ROUTING_LENGTH:layerPlaintextLength])
		return oob, nil
	}
	return nil, errors.New("onion: not a layer addressed to this key")
}

// Routing returns this hop's own (now decrypted) routing header.
func (oob *OpenedOnionBox) Routing() wire.RoutingHeader {
	return oob.routing
}

// Key returns the true sender's long-term public key, as embedded in
// the authenticated payload slot. Only meaningful once Payload has
// verified the slot; callers that haven't called Payload yet get the
// claimed (unauthenticated) key.
func (oob *OpenedOnionBox) Key() identity.PublicKey {
	var k identity.PublicKey
	copy(k[:], oob.payloadSlot[0:32])
	return k
}

// Payload decrypts and authenticates the payload embedded at this
// hop's layer, proving it was sealed by the holder of the secret key
// matching Key() for myKey specifically.
func (oob *OpenedOnionBox) Payload(myKey *identity.KeyPair) (wire.Payload, error) {
	senderPub := oob.Key()
	mySec := (*[32]byte)(&myKey.Secret)
	senderPubArr := (*[32]byte)(&senderPub)
	plain, ok := box.Open(nil, oob.payloadSlot[32:], innerNonce(oob.ephemeralPub, myKey.Public), senderPubArr, mySec)
	if !ok {
		return wire.Payload{}, errors.New("onion: payload not addressed to this key")
	}
	if len(plain) != wire.PAYLOAD_LENGTH {
		return wire.Payload{}, errors.New("onion: payload has the wrong length")
	}
	var buf [wire.PAYLOAD_LENGTH]byte
	copy(buf[:], plain)
	return wire.DecodePayload(buf), nil
}

// Packet reconstructs the packet to forward onward: the same
// ephemeral public key, whatever ciphertext remains after this hop's
// layer was peeled, and fresh random padding out to PACKET_LENGTH so
// the forwarded packet is exactly as large as the one that arrived.
func (oob *OpenedOnionBox) Packet() ([PACKET_LENGTH]byte, error) {
	var buf [PACKET_LENGTH]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return buf, errors.Wrap(err, "onion: padding forwarded packet")
	}
	copy(buf[0:32], oob.ephemeralPub[:])
	copy(buf[32:32+len(oob.rest)], oob.rest)
	return buf, nil
}

// Respond encrypts payload so that only the original sender (the
// holder of the ephemeral secret key matching this packet's return
// magic) can read it, and returns a reply packet ready to travel
// back, hop by hop, the way the forward packet arrived. Relays that
// forward a reply do so verbatim (they never re-peel it), so unlike
// a forward packet it carries a single fixed amount of real content;
// the rest is random padding out to PACKET_LENGTH.
func (oob *OpenedOnionBox) Respond(myKey *identity.KeyPair, payload wire.Payload) ([PACKET_LENGTH]byte, error) {
	var out [PACKET_LENGTH]byte
	if _, err := rand.Read(out[:]); err != nil {
		return out, errors.Wrap(err, "onion: padding reply packet")
	}
	replyPub, replySec, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return out, errors.Wrap(err, "onion: generating reply ephemeral key")
	}
	var payloadBuf [wire.PAYLOAD_LENGTH]byte
	payload.Encode(&payloadBuf)
	sealed := box.Seal(nil, payloadBuf[:], &zeroNonce, (*[32]byte)(&oob.ephemeralPub), replySec)

	copy(out[0:32], oob.ephemeralPub[:])
	copy(out[32:64], replyPub[:])
	copy(out[64:64+len(sealed)], sealed)
	return out, nil
}
