// Copyright 2017 David Lazar. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package addressbook is the application-facing facade: it maintains
// public and secret name-to-key bindings and exposes the channel
// surface (§6.3) applications use to send and receive pmail messages,
// without needing to know anything about onion routing, rendezvous
// selection, or the double-box.
package addressbook

import (
	"sync"

	"github.com/boltdb/bolt"

	"github.com/droundy/pmail/errors"
	"github.com/droundy/pmail/identity"
)

var (
	bucketPublic = []byte("public_ids")
	bucketSecret = []byte("secret_ids")
)

// Book maintains two disjoint name→key maps: publicIDs (freely
// advertised in answer to UserQuery) and secretIDs (never advertised;
// a UserQuery for a secret name gets "not found"). Asserting a name in
// one map removes it from the other, enforcing disjointness.
type Book struct {
	mu sync.Mutex
	db *bolt.DB

	publicIDs map[string]identity.PublicKey
	secretIDs map[string]identity.PublicKey
}

func Open(path string) (*Book, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, errors.Wrap(err, "addressbook: opening store")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketPublic); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketSecret)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "addressbook: initializing store")
	}
	b := &Book{
		db:        db,
		publicIDs: make(map[string]identity.PublicKey),
		secretIDs: make(map[string]identity.PublicKey),
	}
	if err := b.load(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Book) load() error {
	return b.db.View(func(tx *bolt.Tx) error {
		if err := loadBucket(tx.Bucket(bucketPublic), b.publicIDs); err != nil {
			return err
		}
		return loadBucket(tx.Bucket(bucketSecret), b.secretIDs)
	})
}

func loadBucket(bk *bolt.Bucket, into map[string]identity.PublicKey) error {
	return bk.ForEach(func(k, v []byte) error {
		if len(v) != 32 {
			return nil
		}
		var key identity.PublicKey
		copy(key[:], v)
		into[string(k)] = key
		return nil
	})
}

func (b *Book) Close() error { return b.db.Close() }

func (b *Book) persist(bucket []byte, name string, key identity.PublicKey) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(name), key[:])
	})
}

func (b *Book) erase(bucket []byte, name string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(name))
	})
}

// AssertPublic binds name to key in the public map, removing any
// binding of name in the secret map.
func (b *Book) AssertPublic(name string, key identity.PublicKey) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.secretIDs, name)
	if err := b.erase(bucketSecret, name); err != nil {
		return err
	}
	b.publicIDs[name] = key
	return b.persist(bucketPublic, name, key)
}

// AssertSecret binds name to key in the secret map, removing any
// binding of name in the public map.
func (b *Book) AssertSecret(name string, key identity.PublicKey) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.publicIDs, name)
	if err := b.erase(bucketPublic, name); err != nil {
		return err
	}
	b.secretIDs[name] = key
	return b.persist(bucketSecret, name, key)
}

// AssertPublicEquivalence binds alias to whatever key existing is
// currently bound to (in either map), publicly. It's an error if
// existing isn't bound to anything.
func (b *Book) AssertPublicEquivalence(existing, alias string) error {
	b.mu.Lock()
	key, ok := b.lookupLocked(existing)
	b.mu.Unlock()
	if !ok {
		return errors.New("addressbook: %q is not a known name", existing)
	}
	return b.AssertPublic(alias, key)
}

// RemoveID removes name from whichever map it's bound in.
func (b *Book) RemoveID(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.publicIDs[name]; ok {
		delete(b.publicIDs, name)
		return b.erase(bucketPublic, name)
	}
	if _, ok := b.secretIDs[name]; ok {
		delete(b.secretIDs, name)
		return b.erase(bucketSecret, name)
	}
	return nil
}

func (b *Book) lookupLocked(name string) (identity.PublicKey, bool) {
	if key, ok := b.publicIDs[name]; ok {
		return key, true
	}
	if key, ok := b.secretIDs[name]; ok {
		return key, true
	}
	return identity.PublicKey{}, false
}

// Lookup consults the public map, then the secret map.
func (b *Book) Lookup(name string) (identity.PublicKey, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lookupLocked(name)
}

// LookupPublic consults only the public map — the answer a UserQuery
// from a stranger should get, since secret bindings are never
// advertised.
func (b *Book) LookupPublic(name string) (identity.PublicKey, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key, ok := b.publicIDs[name]
	return key, ok
}

// ReverseLookup returns every name bound to key, with secret names
// quoted to mark them as such.
func (b *Book) ReverseLookup(key identity.PublicKey) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var names []string
	for name, k := range b.publicIDs {
		if k == key {
			names = append(names, name)
		}
	}
	for name, k := range b.secretIDs {
		if k == key {
			names = append(names, `"`+name+`"`)
		}
	}
	return names
}
