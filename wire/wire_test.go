package wire

import (
	"net"
	"testing"

	"github.com/kylelemons/godebug/pretty"

	"github.com/droundy/pmail/identity"
)

func TestSocketAddressRoundTrip(t *testing.T) {
	cases := []SocketAddress{
		{IP: net.ParseIP("192.168.1.7").To16(), Port: 54321},
		{IP: net.ParseIP("::1").To16(), Port: 1},
		{IP: net.ParseIP("2001:db8::1").To16(), Port: 65535},
	}
	for _, want := range cases {
		var buf [SocketAddressLength]byte
		want.Encode(&buf)
		got := DecodeSocketAddress(buf)
		if !got.IP.Equal(want.IP) || got.Port != want.Port {
			t.Errorf("round trip mismatch: want %v, got %v", want, got)
		}
	}
}

func TestRoutingHeaderRoundTrip(t *testing.T) {
	want := RoutingHeader{
		IsForMe: true,
		WhoAmI:  false,
		Address: SocketAddress{IP: net.ParseIP("10.0.0.1").To16(), Port: 9000},
		ETA:     1234567890,
	}
	var buf [ROUTING_LENGTH]byte
	want.Encode(&buf)
	got := DecodeRoutingHeader(buf)
	if diff := pretty.Compare(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestGiftListRoundTrip(t *testing.T) {
	var want GiftList
	for i := range want {
		var key identity.PublicKey
		key[0] = byte(i)
		want[i] = Gift{
			Address: SocketAddress{IP: net.ParseIP("127.0.0.1").To16(), Port: uint16(1000 + i)},
			Key:     key,
		}
	}
	var buf [GiftListLength]byte
	want.Encode(&buf)
	got := DecodeGiftList(buf)
	if diff := pretty.Compare(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestStr255RoundTrip(t *testing.T) {
	want := Str255("hello pmail")
	var buf [Str255Length]byte
	if err := want.Encode(&buf); err != nil {
		t.Fatal(err)
	}
	got, err := DecodeStr255(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestStr255TooLong(t *testing.T) {
	long := make([]byte, 300)
	var buf [Str255Length]byte
	if err := Str255(long).Encode(&buf); err == nil {
		t.Fatal("expected an error for an oversized Str255")
	}
}

func TestPayloadRoundTripVariants(t *testing.T) {
	var dest identity.PublicKey
	dest[0] = 0xaa

	var gifts GiftList
	for i := range gifts {
		gifts[i].Address.IP = net.ParseIP("1.2.3.4").To16()
		gifts[i].Address.Port = uint16(i)
	}

	cases := []Payload{
		Greetings(gifts),
		Response(gifts),
		PickUpPayload(dest, gifts),
		ForwardPlease(dest, [USER_MESSAGE_LENGTH]byte{1, 2, 3}),
	}
	for _, want := range cases {
		var buf [PAYLOAD_LENGTH]byte
		want.Encode(&buf)
		got := DecodePayload(buf)
		if diff := pretty.Compare(want, got); diff != "" {
			t.Errorf("round trip mismatch for tag %q (-want +got):\n%s", want.Tag, diff)
		}
	}
}

func TestPayloadUnknownTagIsInertNotError(t *testing.T) {
	var buf [PAYLOAD_LENGTH]byte
	buf[0] = 'z'
	got := DecodePayload(buf)
	if got.Tag != TagInvalid {
		t.Fatalf("expected TagInvalid for an unrecognized tag, got %q", got.Tag)
	}
}
