// Copyright 2017 David Lazar. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package endtoend implements the double-boxed end-to-end message
// layer: an outer, ephemeral-keyed box that hides the true sender
// from the rendezvous node holding the message, wrapped around an
// inner box that authenticates the true sender to the recipient.
package endtoend

import (
	"crypto/rand"
	"crypto/sha256"

	"golang.org/x/crypto/nacl/box"

	"github.com/droundy/pmail/errors"
	"github.com/droundy/pmail/identity"
	"github.com/droundy/pmail/wire"
)

// zeroNonce is safe to reuse because the outer box always uses a
// freshly generated, one-time ephemeral key.
var zeroNonce [24]byte

func innerNonce(outerEphemeralPub identity.PublicKey, recipient identity.PublicKey) *[24]byte {
	h := sha256.Sum256(append(append([]byte{}, outerEphemeralPub[:]...), recipient[:]...))
	var n [24]byte
	copy(n[:], h[:24])
	return &n
}

// ID is a message's identifier: the outer ephemeral public key used
// to box it. It doubles as the key other components (acks,
// retransmission bookkeeping) use to refer to a pending message.
type ID [32]byte

// DoubleBox seals plaintext (a DECRYPTED_USER_MESSAGE_LENGTH-byte
// application message) so that the rendezvous node can forward it
// without learning who sent it, while the recipient alone can both
// read it and verify it truly came from senderKey.
func DoubleBox(plaintext [wire.DECRYPTED_USER_MESSAGE_LENGTH]byte, recipient identity.PublicKey, senderKey *identity.KeyPair) (ID, [wire.USER_MESSAGE_LENGTH]byte, error) {
	var out [wire.USER_MESSAGE_LENGTH]byte

	ephemeralPub, ephemeralSec, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return ID{}, out, errors.Wrap(err, "endtoend: generating ephemeral key")
	}
	id := ID(*ephemeralPub)

	recipientPub := (*[32]byte)(&recipient)
	senderSec := (*[32]byte)(&senderKey.Secret)
	innerCipher := box.Seal(nil, plaintext[:], innerNonce(identity.PublicKey(id), recipient), recipientPub, senderSec)

	outerPlain := make([]byte, 0, 32+len(innerCipher))
	outerPlain = append(outerPlain, senderKey.Public[:]...)
	outerPlain = append(outerPlain, innerCipher...)

	outerCipher := box.Seal(nil, outerPlain, &zeroNonce, recipientPub, ephemeralSec)

	if 32+len(outerCipher) != wire.USER_MESSAGE_LENGTH {
		return ID{}, out, errors.New("endtoend: internal size mismatch building double box")
	}
	copy(out[0:32], ephemeralPub[:])
	copy(out[32:], outerCipher)
	return id, out, nil
}

// DoubleUnbox opens a message double-boxed by DoubleBox. It returns
// the plaintext and the true sender's public key, authenticated: the
// message could not have been produced by anyone other than the
// holder of that key's secret half.
func DoubleUnbox(message [wire.USER_MESSAGE_LENGTH]byte, recipientKey *identity.KeyPair) (ID, identity.PublicKey, [wire.DECRYPTED_USER_MESSAGE_LENGTH]byte, error) {
	var plain [wire.DECRYPTED_USER_MESSAGE_LENGTH]byte
	var sender identity.PublicKey

	var ephemeralPub [32]byte
	copy(ephemeralPub[:], message[0:32])
	id := ID(ephemeralPub)

	mySec := (*[32]byte)(&recipientKey.Secret)
	outerPlain, ok := box.Open(nil, message[32:], &zeroNonce, &ephemeralPub, mySec)
	if !ok {
		return id, sender, plain, errors.New("endtoend: outer box failed to open")
	}
	if len(outerPlain) < 32 {
		return id, sender, plain, errors.New("endtoend: truncated outer box")
	}
	copy(sender[:], outerPlain[0:32])
	innerCipher := outerPlain[32:]

	senderPub := (*[32]byte)(&sender)
	inner, ok := box.Open(nil, innerCipher, innerNonce(identity.PublicKey(id), recipientKey.Public), senderPub, mySec)
	if !ok {
		return id, sender, plain, errors.New("endtoend: inner box failed to open; sender not authenticated")
	}
	if len(inner) != wire.DECRYPTED_USER_MESSAGE_LENGTH {
		return id, sender, plain, errors.New("endtoend: decrypted message has the wrong length")
	}
	copy(plain[:], inner)
	return id, sender, plain, nil
}
