package appmsg

import (
	"path/filepath"
	"testing"

	"github.com/droundy/pmail/identity"
	"github.com/droundy/pmail/wire"
)

func TestMessageEncodeDecodeRoundTrip(t *testing.T) {
	var content [CommentContentLength]byte
	copy(content[:], "hello world")
	cases := []Message{
		UserQuery("alice"),
		UserResponse("bob", identity.PublicKey{1, 2, 3}),
		Comment(5, 1000, 11, 0, content),
		Acknowledge([32]byte{9, 9, 9}),
	}
	for _, want := range cases {
		var buf [wire.DECRYPTED_USER_MESSAGE_LENGTH]byte
		want.Encode(&buf)
		got := Decode(buf)
		if got.Tag != want.Tag {
			t.Fatalf("tag mismatch: got %q, want %q", got.Tag, want.Tag)
		}
		switch want.Tag {
		case TagUserQuery:
			if got.QueryName != want.QueryName {
				t.Errorf("query name mismatch: got %q, want %q", got.QueryName, want.QueryName)
			}
		case TagUserResponse:
			if got.ResponseName != want.ResponseName || got.ResponseKey != want.ResponseKey {
				t.Errorf("response mismatch: got %+v, want %+v", got, want)
			}
		case TagComment:
			if got.Thread != want.Thread || got.Time != want.Time || got.MsgLength != want.MsgLength || got.MsgStart != want.MsgStart || got.Content != want.Content {
				t.Errorf("comment mismatch: got %+v, want %+v", got, want)
			}
		case TagAcknowledge:
			if got.AckID != want.AckID {
				t.Errorf("ack mismatch: got %x, want %x", got.AckID, want.AckID)
			}
		}
	}
}

func TestDecodeUnknownTagIsInertAcknowledge(t *testing.T) {
	var buf [wire.DECRYPTED_USER_MESSAGE_LENGTH]byte
	buf[0] = 'z'
	got := Decode(buf)
	if got.Tag != TagAcknowledge {
		t.Fatalf("got tag %q, want %q", got.Tag, TagAcknowledge)
	}
}

func TestNeedsAcknowledgement(t *testing.T) {
	var content [CommentContentLength]byte
	if !Comment(0, 0, 0, 0, content).NeedsAcknowledgement() {
		t.Error("Comment should need an acknowledgement")
	}
	if UserQuery("x").NeedsAcknowledgement() {
		t.Error("UserQuery should not need an acknowledgement")
	}
	if Acknowledge([32]byte{}).NeedsAcknowledgement() {
		t.Error("Acknowledge should not need an acknowledgement")
	}
}

func TestSendThenReceiveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	senderAcks, err := OpenAckMap(filepath.Join(dir, "sender.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer senderAcks.Close()

	sender, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	recipient, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}

	var content [CommentContentLength]byte
	copy(content[:], "hi")
	msg := Comment(1, 2, 2, 0, content)

	id, ciphertext, err := senderAcks.Send(msg, recipient.Public, sender)
	if err != nil {
		t.Fatal(err)
	}
	if senderAcks.Len() != 1 {
		t.Fatalf("expected 1 unacknowledged entry, got %d", senderAcks.Len())
	}

	ev, err := Receive(ciphertext, recipient, nil)
	if err != nil {
		t.Fatal(err)
	}
	if ev.From != sender.Public {
		t.Fatal("recipient didn't authenticate the true sender")
	}
	if ev.Message.Content != content {
		t.Fatal("comment content didn't survive the round trip")
	}
	if ev.Ack == nil {
		t.Fatal("expected an acknowledgement to be generated for a Comment")
	}
	if [32]byte(id) != ev.Ack.AckID {
		t.Fatal("acknowledgement id doesn't match the message id")
	}

	if err := senderAcks.Ack(ev.Ack.AckID); err != nil {
		t.Fatal(err)
	}
	if senderAcks.Len() != 0 {
		t.Fatal("expected the acknowledgement to clear the unacknowledged entry")
	}
}

func TestRetransmitOneOnEmptyMap(t *testing.T) {
	dir := t.TempDir()
	acks, err := OpenAckMap(filepath.Join(dir, "acks.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer acks.Close()
	if _, _, _, ok := acks.RetransmitOne(); ok {
		t.Fatal("expected no entry to retransmit from an empty map")
	}
}
