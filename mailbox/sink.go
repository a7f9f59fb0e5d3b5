// Copyright 2017 David Lazar. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mailbox is a minimal in-memory sink for the Comment messages
// an application receives over a node's InboundUser channel. Thread
// and comment storage layout is explicitly non-core; this package only
// demonstrates the boundary a real mail-reader UI would sit behind —
// reassembling a chunked Comment into a complete string and grouping
// comments by thread — without persisting anything to disk.
package mailbox

import (
	"sync"

	"github.com/droundy/pmail/addressbook"
	"github.com/droundy/pmail/appmsg"
	"github.com/droundy/pmail/identity"
)

// Comment is one fully reassembled message in a thread.
type Comment struct {
	From identity.PublicKey
	Time uint32
	Text string
}

// partialKey identifies one in-progress chunked comment. A comment is
// only ever chunked by a single sender into a single thread at a time
// in this implementation; a second comment from the same sender in the
// same thread before the first finishes reassembling replaces it,
// mirroring the store-and-forward layer's own "newest wins" policy.
type partialKey struct {
	from   identity.PublicKey
	thread uint64
}

type partial struct {
	time     uint32
	total    uint32
	buf      []byte
	received uint32
}

// Sink accumulates Comment messages into completed threads. It does
// not persist anything; a process restart loses all state, which is
// fine for a boundary demonstration (a real application would persist
// Comments as they complete, on the far side of this interface).
type Sink struct {
	mu      sync.Mutex
	threads map[uint64][]Comment
	partial map[partialKey]*partial
}

func NewSink() *Sink {
	return &Sink{
		threads: make(map[uint64][]Comment),
		partial: make(map[partialKey]*partial),
	}
}

// Listen drains surface.InboundUser, reassembling Comment chunks and
// ignoring every other message variant (UserQuery/UserResponse belong
// to the address book; Acknowledge never reaches this channel). It
// returns when the channel is closed.
func (s *Sink) Listen(surface *addressbook.Surface) {
	for um := range surface.InboundUser {
		if um.Message.Tag != appmsg.TagComment {
			continue
		}
		s.acceptChunk(um.From, um.Message)
	}
}

func (s *Sink) acceptChunk(from identity.PublicKey, msg appmsg.Message) {
	if msg.Tag != appmsg.TagComment {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := partialKey{from: from, thread: msg.Thread}
	p, ok := s.partial[key]
	if !ok || msg.MsgStart == 0 {
		p = &partial{time: msg.Time, total: msg.MsgLength, buf: make([]byte, msg.MsgLength)}
		s.partial[key] = p
	}

	end := msg.MsgStart + appmsg.CommentContentLength
	if end > p.total {
		end = p.total
	}
	if msg.MsgStart > p.total {
		return
	}
	n := end - msg.MsgStart
	copy(p.buf[msg.MsgStart:end], msg.Content[:n])
	p.received += n

	if p.received >= p.total {
		delete(s.partial, key)
		s.threads[msg.Thread] = append(s.threads[msg.Thread], Comment{
			From: from,
			Time: p.time,
			Text: string(p.buf),
		})
	}
}

// Thread returns the comments received so far for id, oldest first.
func (s *Sink) Thread(id uint64) []Comment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Comment, len(s.threads[id]))
	copy(out, s.threads[id])
	return out
}

// Threads returns every thread ID that has at least one complete
// comment.
func (s *Sink) Threads() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uint64, 0, len(s.threads))
	for id := range s.threads {
		ids = append(ids, id)
	}
	return ids
}
