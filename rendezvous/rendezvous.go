// Copyright 2017 David Lazar. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rendezvous implements the store-and-forward indirection that
// lets a sender deliver to a recipient without ever learning the
// recipient's address: selection of the rendezvous peer by minimum
// XOR distance, and the single-slot forward/pickup buffers held by
// whichever node is acting as a given recipient's rendezvous.
package rendezvous

import (
	"net"
	"sort"
	"sync"

	"github.com/boltdb/bolt"
	"github.com/dchest/siphash"

	"github.com/droundy/pmail/errors"
	"github.com/droundy/pmail/identity"
	"github.com/droundy/pmail/onion"
	"github.com/droundy/pmail/wire"
)

// Select returns the known peer at minimum XOR distance (restricted
// to the first 8 key bytes, per §9's open question) from recipient,
// breaking ties deterministically.
//
// The spec breaks ties by "first encountered in iteration order", but
// Go map iteration order is intentionally randomized, so there is no
// such order to reproduce faithfully; candidates is instead sorted by
// key bytes before scanning; this gives the same deterministic answer
// on every node that holds the same peer set, which is the property
// the testable "rendezvous stability" property actually needs.
func Select(candidates []identity.PublicKey, recipient identity.PublicKey) (identity.PublicKey, bool) {
	if len(candidates) == 0 {
		return identity.PublicKey{}, false
	}
	sorted := append([]identity.PublicKey(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool {
		for k := 0; k < 32; k++ {
			if sorted[i][k] != sorted[j][k] {
				return sorted[i][k] < sorted[j][k]
			}
		}
		return false
	})

	best := sorted[0]
	bestDist := xorDistance8(sorted[0], recipient)
	for _, cand := range sorted[1:] {
		d := xorDistance8(cand, recipient)
		if d < bestDist {
			best, bestDist = cand, d
		}
	}
	return best, true
}

func xorDistance8(a, b identity.PublicKey) uint64 {
	var d uint64
	for i := 0; i < 8; i++ {
		d = d<<8 | uint64(a[i]^b[i])
	}
	return d
}

// PendingReply is a reply packet ready to be scheduled back toward
// whoever sent the request the Store just answered.
type PendingReply struct {
	Packet [onion.PACKET_LENGTH]byte
	Addr   *net.UDPAddr
}

type pendingPickup struct {
	oob  *onion.OpenedOnionBox
	addr *net.UDPAddr
}

var bucketForward = []byte("to_forward")
var bucketForwardHash = []byte("to_forward_hash")

// Store is the store-and-forward buffer a node offers while acting as
// someone's rendezvous. Each destination has at most one slot in each
// direction; a new arrival overwrites the old one.
type Store struct {
	mu sync.Mutex
	db *bolt.DB

	toForward     map[identity.PublicKey][wire.USER_MESSAGE_LENGTH]byte
	toForwardHash map[identity.PublicKey]uint64
	toPickup      map[identity.PublicKey]pendingPickup
}

// siphashKey is fixed because the hash here is only a same-slot
// duplicate filter, not a security boundary (§ DOMAIN STACK).
var siphashKey0, siphashKey1 uint64 = 0x726f75746564, 0x70656e64756c

func dedupeHash(msg [wire.USER_MESSAGE_LENGTH]byte) uint64 {
	return siphash.Hash(siphashKey0, siphashKey1, msg[:])
}

// Open opens (creating if necessary) a bolt-backed store at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, errors.Wrap(err, "rendezvous: opening store")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketForward)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "rendezvous: initializing store")
	}
	s := &Store{
		db:            db,
		toForward:     make(map[identity.PublicKey][wire.USER_MESSAGE_LENGTH]byte),
		toForwardHash: make(map[identity.PublicKey]uint64),
		toPickup:      make(map[identity.PublicKey]pendingPickup),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketForward)
		return b.ForEach(func(k, v []byte) error {
			if len(k) != 32 || len(v) != wire.USER_MESSAGE_LENGTH {
				return nil
			}
			var dest identity.PublicKey
			copy(dest[:], k)
			var msg [wire.USER_MESSAGE_LENGTH]byte
			copy(msg[:], v)
			s.toForward[dest] = msg
			s.toForwardHash[dest] = dedupeHash(msg)
			return nil
		})
	})
}

func (s *Store) persistForward(dest identity.PublicKey, msg [wire.USER_MESSAGE_LENGTH]byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketForward).Put(dest[:], msg[:])
	})
}

func (s *Store) clearForward(dest identity.PublicKey) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketForward).Delete(dest[:])
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}

// HandleForwardPlease is called when this node, acting as dest's
// rendezvous, receives a ForwardPlease carrying msg for dest. If a
// pickup is already waiting, the message is handed straight back as a
// reply; otherwise it's buffered in to_forward[dest], replacing
// whatever was there (store-and-forward is lossy by design).
func (s *Store) HandleForwardPlease(dest identity.PublicKey, msg [wire.USER_MESSAGE_LENGTH]byte, self *identity.KeyPair) (*PendingReply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.toPickup[dest]; ok {
		delete(s.toPickup, dest)
		reply := wire.ForwardPlease(dest, msg)
		packet, err := p.oob.Respond(self, reply)
		if err != nil {
			return nil, errors.Wrap(err, "rendezvous: responding to pending pickup")
		}
		return &PendingReply{Packet: packet, Addr: p.addr}, nil
	}

	h := dedupeHash(msg)
	if old, ok := s.toForwardHash[dest]; ok && old == h {
		// Same message already buffered for this destination;
		// nothing new to store.
		return nil, nil
	}
	s.toForward[dest] = msg
	s.toForwardHash[dest] = h
	if err := s.persistForward(dest, msg); err != nil {
		return nil, err
	}
	return nil, nil
}

// HandlePickUp is called when this node, acting as dest's rendezvous,
// receives a PickUp request from dest itself. gifts are peers dest is
// offering in exchange (accepted by the caller, not here). oob and
// addr identify the request so a reply can be routed back if one is
// ready immediately.
func (s *Store) HandlePickUp(dest identity.PublicKey, oob *onion.OpenedOnionBox, addr *net.UDPAddr, self *identity.KeyPair) (*PendingReply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg, ok := s.toForward[dest]; ok {
		delete(s.toForward, dest)
		delete(s.toForwardHash, dest)
		if err := s.clearForward(dest); err != nil {
			return nil, err
		}
		reply := wire.ForwardPlease(dest, msg)
		packet, err := oob.Respond(self, reply)
		if err != nil {
			return nil, errors.Wrap(err, "rendezvous: responding to pickup with buffered message")
		}
		return &PendingReply{Packet: packet, Addr: addr}, nil
	}

	s.toPickup[dest] = pendingPickup{oob: oob, addr: addr}
	return nil, nil
}
