// Copyright 2017 David Lazar. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package identity manages a node's long-term box key pair: the single
// public/secret key pair that names a pmail node on the network and
// authenticates it to its correspondents.
package identity

import (
	"crypto/rand"
	"io/ioutil"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"

	"github.com/droundy/pmail/errors"
)

// PublicKey identifies a node on the network. It doubles as the
// recipient address for every box operation in this module.
type PublicKey [32]byte

// SecretKey is never transmitted and never logged.
type SecretKey [32]byte

// KeyPair is a node's long-term identity.
type KeyPair struct {
	Public PublicKey
	Secret SecretKey
}

// keyFileSize is the size of an unencrypted key file on disk: the
// public half followed by the secret half.
const keyFileSize = 64

// Generate creates a fresh random key pair.
func Generate() (*KeyPair, error) {
	pub, sec, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "box.GenerateKey")
	}
	kp := &KeyPair{Public: PublicKey(*pub), Secret: SecretKey(*sec)}
	return kp, nil
}

// DefaultPath returns the hostname-derived key file path for this
// machine: "routing-<hostname>.key" in the user's home directory, or
// ".pmail.key" if the hostname can't be determined.
func DefaultPath() string {
	u, err := user.Current()
	home := "."
	if err == nil {
		home = u.HomeDir
	}
	name, err := hostname()
	if err != nil || name == "" {
		return filepath.Join(home, ".pmail.key")
	}
	return filepath.Join(home, "routing-"+name+".key")
}

func hostname() (string, error) {
	data, err := ioutil.ReadFile("/etc/hostname")
	if err != nil {
		return os.Hostname()
	}
	return strings.TrimSpace(string(data)), nil
}

// ReadOrGenerate loads the key pair at path, generating and persisting
// a fresh one if the file doesn't exist yet. passphrase is nil for an
// unencrypted key file.
func ReadOrGenerate(path string, passphrase []byte) (*KeyPair, error) {
	data, err := ioutil.ReadFile(path)
	if os.IsNotExist(err) {
		kp, err := Generate()
		if err != nil {
			return nil, err
		}
		if err := write(path, kp, passphrase); err != nil {
			return nil, err
		}
		return kp, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading key file")
	}
	return decode(data, passphrase)
}

func write(path string, kp *KeyPair, passphrase []byte) error {
	var plain [keyFileSize]byte
	copy(plain[0:32], kp.Public[:])
	copy(plain[32:64], kp.Secret[:])

	var data []byte
	if passphrase == nil {
		data = plain[:]
	} else {
		data = seal(plain[:], passphrase)
	}
	return ioutil.WriteFile(path, data, 0600)
}

func decode(data []byte, passphrase []byte) (*KeyPair, error) {
	var plain []byte
	if passphrase == nil {
		if len(data) != keyFileSize {
			return nil, errors.New("identity: corrupt key file")
		}
		plain = data
	} else {
		opened, err := open(data, passphrase)
		if err != nil {
			return nil, err
		}
		plain = opened
	}
	kp := &KeyPair{}
	copy(kp.Public[:], plain[0:32])
	copy(kp.Secret[:], plain[32:64])
	return kp, nil
}

// scryptSalt is fixed; the passphrase itself carries all the entropy
// this derivation needs, same as the teacher's guardian key.
var scryptSalt = []byte("pmail-identity-key")

func deriveKey(passphrase []byte) *[32]byte {
	dk, err := scrypt.Key(passphrase, scryptSalt, 2<<15, 8, 1, 32)
	if err != nil {
		panic(err)
	}
	var k [32]byte
	copy(k[:], dk)
	return &k
}

func seal(plain []byte, passphrase []byte) []byte {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		panic(err)
	}
	key := deriveKey(passphrase)
	ctxt := secretbox.Seal(nonce[:], plain, &nonce, key)
	return ctxt
}

func open(data []byte, passphrase []byte) ([]byte, error) {
	if len(data) < 24 {
		return nil, errors.New("identity: corrupt encrypted key file")
	}
	var nonce [24]byte
	copy(nonce[:], data[:24])
	key := deriveKey(passphrase)
	plain, ok := secretbox.Open(nil, data[24:], &nonce, key)
	if !ok {
		return nil, errors.New("identity: wrong passphrase")
	}
	return plain, nil
}
