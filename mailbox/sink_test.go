package mailbox

import (
	"testing"

	"github.com/droundy/pmail/appmsg"
	"github.com/droundy/pmail/identity"
)

func TestSingleChunkComment(t *testing.T) {
	s := NewSink()
	from := identity.PublicKey{1, 2, 3}

	var content [appmsg.CommentContentLength]byte
	copy(content[:], "hello world")
	s.acceptChunk(from, appmsg.Comment(5, 1000, 11, 0, content))

	comments := s.Thread(5)
	if len(comments) != 1 {
		t.Fatalf("expected 1 comment, got %d", len(comments))
	}
	if comments[0].Text != "hello world" {
		t.Fatalf("got %q", comments[0].Text)
	}
	if comments[0].From != from || comments[0].Time != 1000 {
		t.Fatalf("unexpected metadata: %+v", comments[0])
	}
}

func TestChunkedCommentReassembles(t *testing.T) {
	s := NewSink()
	from := identity.PublicKey{4, 5, 6}

	full := make([]byte, appmsg.CommentContentLength+100)
	for i := range full {
		full[i] = byte('a' + i%26)
	}

	var first [appmsg.CommentContentLength]byte
	copy(first[:], full[:appmsg.CommentContentLength])
	s.acceptChunk(from, appmsg.Comment(7, 42, uint32(len(full)), 0, first))

	if len(s.Thread(7)) != 0 {
		t.Fatal("expected the comment to still be incomplete")
	}

	var second [appmsg.CommentContentLength]byte
	copy(second[:], full[appmsg.CommentContentLength:])
	s.acceptChunk(from, appmsg.Comment(7, 42, uint32(len(full)), uint32(appmsg.CommentContentLength), second))

	comments := s.Thread(7)
	if len(comments) != 1 {
		t.Fatalf("expected 1 completed comment, got %d", len(comments))
	}
	if comments[0].Text != string(full) {
		t.Fatalf("reassembled text mismatch: got %d bytes, want %d", len(comments[0].Text), len(full))
	}
}

func TestNonCommentMessagesAreIgnored(t *testing.T) {
	s := NewSink()
	from := identity.PublicKey{7}
	s.acceptChunk(from, appmsg.UserQuery("alice"))
	if len(s.Threads()) != 0 {
		t.Fatal("expected UserQuery to be ignored by the sink")
	}
}
