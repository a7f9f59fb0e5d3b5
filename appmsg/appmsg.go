// Copyright 2017 David Lazar. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package appmsg implements the tagged application-message variants
// carried inside a double-boxed user message, the acknowledgement
// map that drives their retransmission, and the send/dispatch paths
// that glue the message layer to the double-box (endtoend) and
// rendezvous layers below it.
package appmsg

import (
	"encoding/binary"
	"sync"

	"github.com/boltdb/bolt"

	"github.com/droundy/pmail/endtoend"
	"github.com/droundy/pmail/errors"
	"github.com/droundy/pmail/identity"
	"github.com/droundy/pmail/wire"
)

const (
	TagUserQuery        byte = 'q'
	TagUserResponse     byte = 'r'
	TagComment          byte = 'c'
	TagAcknowledge      byte = 'a'
	TagThreadRecipients byte = 't'
	TagThreadSubject    byte = 's'

	CommentContentLength = 394
)

// Message is the decoded form of a DECRYPTED_USER_MESSAGE_LENGTH
// buffer: a tag and the fields of whichever variant it names. Only
// the fields relevant to Tag are meaningful.
type Message struct {
	Tag byte

	QueryName wire.Str255 // UserQuery

	ResponseName wire.Str255        // UserResponse
	ResponseKey  identity.PublicKey // UserResponse

	Thread   uint64                         // Comment
	Time     uint32                         // Comment
	MsgLength uint32                        // Comment
	MsgStart uint32                         // Comment
	Content  [CommentContentLength]byte     // Comment

	AckID [32]byte // Acknowledge
}

func UserQuery(name wire.Str255) Message { return Message{Tag: TagUserQuery, QueryName: name} }

func UserResponse(name wire.Str255, key identity.PublicKey) Message {
	return Message{Tag: TagUserResponse, ResponseName: name, ResponseKey: key}
}

func Comment(thread uint64, t uint32, msgLength, msgStart uint32, content [CommentContentLength]byte) Message {
	return Message{Tag: TagComment, Thread: thread, Time: t, MsgLength: msgLength, MsgStart: msgStart, Content: content}
}

func Acknowledge(id [32]byte) Message { return Message{Tag: TagAcknowledge, AckID: id} }

// NeedsAcknowledgement reports whether an Acknowledge carrying the
// message's ID is owed back to the sender before the send is considered
// delivered.
func (m Message) NeedsAcknowledgement() bool {
	switch m.Tag {
	case TagComment, TagThreadRecipients, TagThreadSubject:
		return true
	default:
		return false
	}
}

// Encode writes m's fixed DECRYPTED_USER_MESSAGE_LENGTH representation
// into buf. The reserved ThreadRecipients and ThreadSubject tags encode
// as the tag byte with an all-zero body. Unrecognized tags encode as an
// inert Acknowledge{0}.
func (m Message) Encode(buf *[wire.DECRYPTED_USER_MESSAGE_LENGTH]byte) {
	for i := range buf {
		buf[i] = 0
	}
	buf[0] = m.Tag
	body := buf[1:]
	switch m.Tag {
	case TagUserQuery:
		var sbuf [wire.Str255Length]byte
		m.QueryName.Encode(&sbuf)
		copy(body, sbuf[:])
	case TagUserResponse:
		var sbuf [wire.Str255Length]byte
		m.ResponseName.Encode(&sbuf)
		copy(body, sbuf[:])
		copy(body[wire.Str255Length:], m.ResponseKey[:])
	case TagComment:
		binary.LittleEndian.PutUint64(body[0:8], m.Thread)
		binary.LittleEndian.PutUint32(body[8:12], m.Time)
		binary.LittleEndian.PutUint32(body[12:16], m.MsgLength)
		binary.LittleEndian.PutUint32(body[16:20], m.MsgStart)
		copy(body[20:20+CommentContentLength], m.Content[:])
	case TagAcknowledge:
		copy(body, m.AckID[:])
	case TagThreadRecipients, TagThreadSubject:
	default:
		buf[0] = TagAcknowledge
		for i := 1; i < len(buf); i++ {
			buf[i] = 0
		}
	}
}

// Decode is total: an unrecognized tag decodes as an inert
// Acknowledge{0} rather than failing, per §9's "invalid, inert"
// dispatch rule.
func Decode(buf [wire.DECRYPTED_USER_MESSAGE_LENGTH]byte) Message {
	tag := buf[0]
	body := buf[1:]
	switch tag {
	case TagUserQuery:
		var sbuf [wire.Str255Length]byte
		copy(sbuf[:], body[:wire.Str255Length])
		name, err := wire.DecodeStr255(sbuf)
		if err != nil {
			return Acknowledge([32]byte{})
		}
		return UserQuery(name)
	case TagUserResponse:
		var sbuf [wire.Str255Length]byte
		copy(sbuf[:], body[:wire.Str255Length])
		name, err := wire.DecodeStr255(sbuf)
		if err != nil {
			return Acknowledge([32]byte{})
		}
		var key identity.PublicKey
		copy(key[:], body[wire.Str255Length:wire.Str255Length+32])
		return UserResponse(name, key)
	case TagComment:
		thread := binary.LittleEndian.Uint64(body[0:8])
		tm := binary.LittleEndian.Uint32(body[8:12])
		msgLength := binary.LittleEndian.Uint32(body[12:16])
		msgStart := binary.LittleEndian.Uint32(body[16:20])
		var content [CommentContentLength]byte
		copy(content[:], body[20:20+CommentContentLength])
		return Comment(thread, tm, msgLength, msgStart, content)
	case TagAcknowledge:
		var id [32]byte
		copy(id[:], body[:32])
		return Acknowledge(id)
	case TagThreadRecipients, TagThreadSubject:
		return Message{Tag: tag}
	default:
		return Acknowledge([32]byte{})
	}
}

// pendingSend is what's kept around per unacknowledged outbound
// message so it can be retransmitted verbatim.
type pendingSend struct {
	Recipient  identity.PublicKey
	Ciphertext [wire.USER_MESSAGE_LENGTH]byte
}

var bucketUnacked = []byte("unacknowledged")

// AckMap is the boltdb-backed map from message ID to a pending send
// awaiting acknowledgement, shared by the send path (which populates
// it) and the retransmission path (which drains it one entry at a
// time per pickup opportunity, per §4.7).
type AckMap struct {
	mu   sync.Mutex
	db   *bolt.DB
	rows map[[32]byte]pendingSend
}

func OpenAckMap(path string) (*AckMap, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, errors.Wrap(err, "appmsg: opening ack map")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketUnacked)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "appmsg: initializing ack map")
	}
	m := &AckMap{db: db, rows: make(map[[32]byte]pendingSend)}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *AckMap) load() error {
	return m.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUnacked)
		return b.ForEach(func(k, v []byte) error {
			if len(k) != 32 || len(v) != 32+wire.USER_MESSAGE_LENGTH {
				return nil
			}
			var id [32]byte
			copy(id[:], k)
			var p pendingSend
			copy(p.Recipient[:], v[0:32])
			copy(p.Ciphertext[:], v[32:])
			m.rows[id] = p
			return nil
		})
	})
}

func (m *AckMap) persist(id [32]byte, p pendingSend) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		row := make([]byte, 32+wire.USER_MESSAGE_LENGTH)
		copy(row[0:32], p.Recipient[:])
		copy(row[32:], p.Ciphertext[:])
		return tx.Bucket(bucketUnacked).Put(id[:], row)
	})
}

func (m *AckMap) erase(id [32]byte) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUnacked).Delete(id[:])
	})
}

func (m *AckMap) Close() error { return m.db.Close() }

// Add records a send awaiting acknowledgement.
func (m *AckMap) Add(id [32]byte, recipient identity.PublicKey, ciphertext [wire.USER_MESSAGE_LENGTH]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := pendingSend{Recipient: recipient, Ciphertext: ciphertext}
	m.rows[id] = p
	return m.persist(id, p)
}

// Ack removes id from the map, if present. Acknowledging an id that
// isn't present (a duplicate ack) is a no-op, per §4.7.
func (m *AckMap) Ack(id [32]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return nil
	}
	delete(m.rows, id)
	return m.erase(id)
}

// RetransmitOne picks one entry from the unacknowledged map at
// random (Go's map iteration order, which is randomized per
// iteration, stands in for the "pick a random pending entry" rule)
// and returns it for resending. Returns ok=false if the map is empty.
func (m *AckMap) RetransmitOne() (id [32]byte, recipient identity.PublicKey, ciphertext [wire.USER_MESSAGE_LENGTH]byte, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, p := range m.rows {
		return k, p.Recipient, p.Ciphertext, true
	}
	return id, recipient, ciphertext, false
}

func (m *AckMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// Send double-boxes msg for recipient and, if msg needs an
// acknowledgement, records it in the ack map so a later pickup
// opportunity can retransmit it. The returned ciphertext is ready to
// be wrapped as a ForwardPlease payload and delivered to recipient's
// rendezvous.
func (m *AckMap) Send(msg Message, recipient identity.PublicKey, senderKey *identity.KeyPair) (endtoend.ID, [wire.USER_MESSAGE_LENGTH]byte, error) {
	var plain [wire.DECRYPTED_USER_MESSAGE_LENGTH]byte
	msg.Encode(&plain)

	id, ciphertext, err := endtoend.DoubleBox(plain, recipient, senderKey)
	if err != nil {
		return id, ciphertext, errors.Wrap(err, "appmsg: double-boxing message")
	}
	if msg.NeedsAcknowledgement() {
		if err := m.Add([32]byte(id), recipient, ciphertext); err != nil {
			return id, ciphertext, err
		}
	}
	return id, ciphertext, nil
}

// InboundEvent is what Receive hands back for a decoded, authenticated
// inbound message.
type InboundEvent struct {
	From    identity.PublicKey
	Message Message
	// Ack, when non-nil, is the Acknowledge reply the caller should
	// send back to From (auto-generated for variants that need one).
	Ack *Message
}

// Receive opens a double-boxed message addressed to recipientKey,
// decodes it, and (if it's an Acknowledge) applies it to the ack map;
// otherwise it reports the decoded message and, for variants that
// need acknowledgement, an Acknowledge the caller should send back.
func Receive(ciphertext [wire.USER_MESSAGE_LENGTH]byte, recipientKey *identity.KeyPair, acks *AckMap) (*InboundEvent, error) {
	id, sender, plain, err := endtoend.DoubleUnbox(ciphertext, recipientKey)
	if err != nil {
		return nil, errors.Wrap(err, "appmsg: opening inbound message")
	}
	msg := Decode(plain)
	if msg.Tag == TagAcknowledge {
		if acks != nil {
			if err := acks.Ack(msg.AckID); err != nil {
				return nil, err
			}
		}
		return &InboundEvent{From: sender, Message: msg}, nil
	}
	ev := &InboundEvent{From: sender, Message: msg}
	if msg.NeedsAcknowledgement() {
		ack := Acknowledge([32]byte(id))
		ev.Ack = &ack
	}
	return ev, nil
}
