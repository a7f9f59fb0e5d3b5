package wire

import "github.com/droundy/pmail/identity"

// Payload tags, matching the original implementation's byte-tagged
// variants exactly.
const (
	TagGreetings byte = 'g'
	TagResponse  byte = 'r'
	TagPickUp    byte = 'p'
	TagForward   byte = 'f'
	TagInvalid   byte = 0
)

// Payload is the decoded form of a PAYLOAD_LENGTH-byte DHT message.
// Exactly one of the typed fields is meaningful, selected by Tag.
type Payload struct {
	Tag byte

	// Greetings, Response
	Gifts GiftList

	// PickUp, ForwardPlease
	Dest identity.PublicKey

	// PickUp
	PickUpGifts GiftList

	// ForwardPlease
	UserMessage [USER_MESSAGE_LENGTH]byte
}

// Greetings constructs a Greetings-tagged payload.
func Greetings(gifts GiftList) Payload {
	return Payload{Tag: TagGreetings, Gifts: gifts}
}

// Response constructs a Response-tagged payload.
func Response(gifts GiftList) Payload {
	return Payload{Tag: TagResponse, Gifts: gifts}
}

// PickUpPayload constructs a PickUp-tagged payload: a rendezvous
// request for messages addressed to dest, accompanied by gifts the
// sender offers in exchange.
func PickUpPayload(dest identity.PublicKey, gifts GiftList) Payload {
	return Payload{Tag: TagPickUp, Dest: dest, PickUpGifts: gifts}
}

// ForwardPlease constructs a ForwardPlease-tagged payload: a request
// that the rendezvous store userMessage for dest.
func ForwardPlease(dest identity.PublicKey, userMessage [USER_MESSAGE_LENGTH]byte) Payload {
	return Payload{Tag: TagForward, Dest: dest, UserMessage: userMessage}
}

// Encode writes the fixed PAYLOAD_LENGTH-byte representation of p
// into buf. Unrecognized tags encode as an all-zero PAYLOAD_LENGTH
// buffer with TagInvalid.
func (p Payload) Encode(buf *[PAYLOAD_LENGTH]byte) {
	for i := range buf {
		buf[i] = 0
	}
	buf[0] = p.Tag
	switch p.Tag {
	case TagGreetings, TagResponse:
		var gl [GiftListLength]byte
		p.Gifts.Encode(&gl)
		copy(buf[1:1+GiftListLength], gl[:])
	case TagPickUp:
		copy(buf[1:33], p.Dest[:])
		var gl [GiftListLength]byte
		p.PickUpGifts.Encode(&gl)
		copy(buf[33:33+GiftListLength], gl[:])
	case TagForward:
		copy(buf[1:33], p.Dest[:])
		copy(buf[33:33+USER_MESSAGE_LENGTH], p.UserMessage[:])
	default:
		buf[0] = TagInvalid
	}
}

// DecodePayload parses a PAYLOAD_LENGTH-byte buffer. Decoding is
// total: an unrecognized tag decodes to {Tag: TagInvalid}, never an
// error, matching the onion contract that payload decoding never
// aborts on well-sized input.
func DecodePayload(buf [PAYLOAD_LENGTH]byte) Payload {
	switch buf[0] {
	case TagGreetings, TagResponse:
		var gl [GiftListLength]byte
		copy(gl[:], buf[1:1+GiftListLength])
		return Payload{Tag: buf[0], Gifts: DecodeGiftList(gl)}
	case TagPickUp:
		var dest identity.PublicKey
		copy(dest[:], buf[1:33])
		var gl [GiftListLength]byte
		copy(gl[:], buf[33:33+GiftListLength])
		return Payload{Tag: TagPickUp, Dest: dest, PickUpGifts: DecodeGiftList(gl)}
	case TagForward:
		var dest identity.PublicKey
		copy(dest[:], buf[1:33])
		var um [USER_MESSAGE_LENGTH]byte
		copy(um[:], buf[33:33+USER_MESSAGE_LENGTH])
		return Payload{Tag: TagForward, Dest: dest, UserMessage: um}
	default:
		return Payload{Tag: TagInvalid}
	}
}
