// Copyright 2017 David Lazar. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package wire implements the fixed-layout wire codec shared by every
// pmail component: socket addresses, routing headers, gift lists, and
// the DHT-level payload variants. Every encoding here is a fixed-size
// byte array; there is no framing or length prefix, matching the
// onion library's contract that ROUTING_LENGTH, PAYLOAD_LENGTH, and
// PACKET_LENGTH are constants, not wire-negotiated.
package wire

import (
	"encoding/binary"
	"net"

	"github.com/droundy/pmail/errors"
	"github.com/droundy/pmail/identity"
)

const (
	// ROUTE_COUNT is the maximum onion path length, and per the
	// node's liveness model, also MAX_LIVENESS.
	ROUTE_COUNT   = 6
	MAX_LIVENESS  = ROUTE_COUNT
	MinRouteLength = 3
	MaxRouteLength = ROUTE_COUNT

	// SocketAddressLength is an IPv6 address (or IPv4-mapped IPv6
	// address) plus a port.
	SocketAddressLength = 18

	// ROUTING_LENGTH is flags(1) + address(18) + eta(4) + padding(9).
	ROUTING_LENGTH = 32

	// NUM_IN_RESPONSE is how many live peers a Greetings/Response
	// gift list carries.
	NUM_IN_RESPONSE = 10

	// GiftLength is address(18) + key(32).
	GiftLength = SocketAddressLength + 32
	// GiftListLength is NUM_IN_RESPONSE gifts.
	GiftListLength = NUM_IN_RESPONSE * GiftLength

	// USER_MESSAGE_LENGTH is the size of the double-boxed
	// application message embedded in a ForwardPlease payload.
	USER_MESSAGE_LENGTH = 511

	// PAYLOAD_LENGTH is the size of the DHT-level payload: the
	// largest variant, ForwardPlease, is tag(1)+dest(32)+
	// user_message(511) = 544 bytes; every variant is padded to
	// this size.
	PAYLOAD_LENGTH = 1 + 32 + USER_MESSAGE_LENGTH

	// Str255Length is a length-prefixed string field used by
	// UserQuery/UserResponse usernames.
	Str255Length = 256

	// DECRYPTED_USER_MESSAGE_LENGTH is the size of the application
	// message once both layers of the double box have been opened:
	// tag(1) + the largest variant body. Comment is the largest
	// variant (thread(8)+time(4)+msg_length(4)+msg_start(4)+
	// content(394) = 414 bytes), so DECRYPTED_USER_MESSAGE_LENGTH is
	// 415. USER_MESSAGE_LENGTH is derived from this and the
	// double-box's fixed overhead (see endtoend.DoubleBox).
	DECRYPTED_USER_MESSAGE_LENGTH = 415
)

// Flag bits within a routing header.
const (
	FlagIsForMe byte = 1 << 0
	FlagWhoAmI  byte = 1 << 1
)

// SocketAddress is an IP address and port, stored as an IPv4-mapped
// or native IPv6 16-byte address followed by a 2-byte little-endian
// port.
type SocketAddress struct {
	IP   net.IP // always 16 bytes (To16 form)
	Port uint16
}

// Encode writes the fixed 18-byte representation of a into buf.
func (a SocketAddress) Encode(buf *[SocketAddressLength]byte) {
	ip16 := a.IP.To16()
	if ip16 == nil {
		ip16 = make(net.IP, 16)
	}
	copy(buf[0:16], ip16)
	binary.LittleEndian.PutUint16(buf[16:18], a.Port)
}

// DecodeSocketAddress parses the fixed 18-byte representation written
// by Encode.
func DecodeSocketAddress(buf [SocketAddressLength]byte) SocketAddress {
	ip := make(net.IP, 16)
	copy(ip, buf[0:16])
	port := binary.LittleEndian.Uint16(buf[16:18])
	return SocketAddress{IP: ip, Port: port}
}

func (a SocketAddress) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: a.IP, Port: int(a.Port)}
}

func SocketAddressFromUDP(addr *net.UDPAddr) SocketAddress {
	return SocketAddress{IP: addr.IP.To16(), Port: uint16(addr.Port)}
}

// RoutingHeader is the per-hop instruction embedded in an onion
// layer: where to forward next, whether this hop is the intended
// recipient, and the cumulative expected arrival time.
type RoutingHeader struct {
	IsForMe bool
	WhoAmI  bool
	Address SocketAddress
	ETA     uint32 // seconds since epoch
}

// Encode writes the fixed ROUTING_LENGTH-byte representation of h
// into buf.
func (h RoutingHeader) Encode(buf *[ROUTING_LENGTH]byte) {
	var flags byte
	if h.IsForMe {
		flags |= FlagIsForMe
	}
	if h.WhoAmI {
		flags |= FlagWhoAmI
	}
	buf[0] = flags
	var addrBuf [SocketAddressLength]byte
	h.Address.Encode(&addrBuf)
	copy(buf[1:19], addrBuf[:])
	binary.LittleEndian.PutUint32(buf[19:23], h.ETA)
	// buf[23:32] padding, left zero.
}

// DecodeRoutingHeader parses the fixed ROUTING_LENGTH-byte
// representation written by Encode.
func DecodeRoutingHeader(buf [ROUTING_LENGTH]byte) RoutingHeader {
	var addrBuf [SocketAddressLength]byte
	copy(addrBuf[:], buf[1:19])
	return RoutingHeader{
		IsForMe: buf[0]&FlagIsForMe != 0,
		WhoAmI:  buf[0]&FlagWhoAmI != 0,
		Address: DecodeSocketAddress(addrBuf),
		ETA:     binary.LittleEndian.Uint32(buf[19:23]),
	}
}

// Gift is one entry in a gift list: a peer's address and public key,
// as learned via a greeting loop or a whoami response.
type Gift struct {
	Address SocketAddress
	Key     identity.PublicKey
}

func (g Gift) Encode(buf *[GiftLength]byte) {
	var addrBuf [SocketAddressLength]byte
	g.Address.Encode(&addrBuf)
	copy(buf[0:18], addrBuf[:])
	copy(buf[18:50], g.Key[:])
}

func DecodeGift(buf [GiftLength]byte) Gift {
	var addrBuf [SocketAddressLength]byte
	copy(addrBuf[:], buf[0:18])
	var key identity.PublicKey
	copy(key[:], buf[18:50])
	return Gift{Address: DecodeSocketAddress(addrBuf), Key: key}
}

// GiftList is exactly NUM_IN_RESPONSE gifts; a slice shorter than
// that is padded with zero gifts (zero key, never a valid peer).
type GiftList [NUM_IN_RESPONSE]Gift

func (gl GiftList) Encode(buf *[GiftListLength]byte) {
	for i, g := range gl {
		var gb [GiftLength]byte
		g.Encode(&gb)
		copy(buf[i*GiftLength:(i+1)*GiftLength], gb[:])
	}
}

func DecodeGiftList(buf [GiftListLength]byte) GiftList {
	var gl GiftList
	for i := range gl {
		var gb [GiftLength]byte
		copy(gb[:], buf[i*GiftLength:(i+1)*GiftLength])
		gl[i] = DecodeGift(gb)
	}
	return gl
}

// Str255 is a length-prefixed string, bounded to 255 bytes of
// content, used for UserQuery/UserResponse usernames.
type Str255 string

func (s Str255) Encode(buf *[Str255Length]byte) error {
	if len(s) > 255 {
		return errors.New("wire: Str255 too long")
	}
	buf[0] = byte(len(s))
	copy(buf[1:], []byte(s))
	return nil
}

func DecodeStr255(buf [Str255Length]byte) (Str255, error) {
	n := int(buf[0])
	if n > 255 {
		return "", errors.New("wire: corrupt Str255 length byte")
	}
	return Str255(buf[1 : 1+n]), nil
}
